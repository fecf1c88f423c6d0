package network

// queue is a bounded hand-off between goroutines. Pushing never blocks.
type queue[T any] struct {
	ch chan T
}

func newQueue[T any](size int) *queue[T] {
	if size < 1 {
		size = 1
	}
	return &queue[T]{ch: make(chan T, size)}
}

// push enqueues v and reports false when the queue is full.
func (q *queue[T]) push(v T) bool {
	select {
	case q.ch <- v:
		return true
	default:
		return false
	}
}

// drain appends what is queued right now to buf. Items pushed while
// draining wait for the next call.
func (q *queue[T]) drain(buf []T) []T {
	n := len(q.ch)
	for i := 0; i < n; i++ {
		select {
		case v := <-q.ch:
			buf = append(buf, v)
		default:
			return buf
		}
	}
	return buf
}

func (q *queue[T]) len() int { return len(q.ch) }
