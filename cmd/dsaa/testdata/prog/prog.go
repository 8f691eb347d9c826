package main

type point struct{ x, y int }

var origin point

func local() int {
	p, q := new(point), new(point)
	p.x, q.x = 1, 2
	return p.x + q.x
}

func move(p *point, dx int) {
	p.x += dx
	p.y += dx
}

func main() {
	p := &point{}
	move(p, 1)
	move(&origin, local())
	println(p.x, origin.y)
}
