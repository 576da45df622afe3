package session

import "sync"

// eventLoop runs posted closures one at a time, in post order, on a single
// goroutine. Posting never blocks.
type eventLoop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newEventLoop() *eventLoop {
	return &eventLoop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// post schedules fn. It returns false once the loop was closed.
func (l *eventLoop) post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
	return true
}

// closeAfter schedules fn as the final closure. Later posts are dropped and
// run returns once fn has executed.
func (l *eventLoop) closeAfter(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.closed = true
	l.mu.Unlock()
	l.signal()
	return true
}

func (l *eventLoop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *eventLoop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			closed := l.closed
			l.mu.Unlock()
			if closed {
				return
			}
			<-l.wake
			continue
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()
		for _, fn := range batch {
			fn()
		}
	}
}
