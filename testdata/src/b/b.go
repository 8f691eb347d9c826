package b

type buffer struct {
	data []byte
	n    int
	next *buffer
}

var pool *buffer

func fill(b *buffer, c byte) {
	for i := range b.data {
		b.data[i] = c
	}
	b.n = len(b.data)
}

func get() *buffer {
	if pool != nil {
		b := pool
		pool = b.next
		return b
	}
	return &buffer{data: make([]byte, 16)}
}

func local() int {
	x, y := new(buffer), new(buffer)
	x.n, y.n = 1, 2
	return x.n + y.n
}

func recycle() {
	b := get()
	fill(b, 'x')
	b.next = pool
	pool = b
}
