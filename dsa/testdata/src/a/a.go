package a

type pair struct {
	first, second *int
}

func newPair() *pair {
	return &pair{first: new(int), second: new(int)}
}

func swap(p *pair) {
	p.first, p.second = p.second, p.first
}

func use() int {
	p := newPair()
	swap(p)
	return *p.first + *p.second
}
