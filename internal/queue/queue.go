package queue

import "errors"

// Queue is a FIFO worklist.
type Queue[E any] struct {
	elements []E
}

func (q *Queue[E]) Push(es ...E) {
	q.elements = append(q.elements, es...)
}

func (q *Queue[E]) Empty() bool {
	return len(q.elements) == 0
}

func (q *Queue[E]) Len() int {
	return len(q.elements)
}

var ErrEmpty = errors.New("queue is empty")

func (q *Queue[E]) Pop() E {
	if q.Empty() {
		panic(ErrEmpty)
	}

	var zero E
	e := q.elements[0]
	q.elements[0] = zero
	q.elements = q.elements[1:]
	return e
}
