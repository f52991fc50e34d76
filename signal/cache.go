package signal

import (
	"context"
	"sync"
)

// monitorCache holds one backend subscription shared by all observers of
// a signal, fanning readings out per listener under the backend's
// declared backpressure policy and caching the latest reading for Get.
type monitorCache[T any] struct {
	policy  BackpressurePolicy
	stop    func()
	onEmpty func(*monitorCache[T])

	mu        sync.Mutex
	last      *Reading[T]
	firstOnce sync.Once
	first     chan struct{}
	listeners map[int]*listener[T]
	nextID    int
	stopped   bool
}

func newMonitorCache[T any](backend Backend[T], onEmpty func(*monitorCache[T])) (*monitorCache[T], error) {
	ch, stop, err := backend.Subscribe(context.Background())
	if err != nil {
		return nil, err
	}
	c := &monitorCache[T]{
		policy:    backend.Backpressure(),
		stop:      stop,
		onEmpty:   onEmpty,
		first:     make(chan struct{}),
		listeners: make(map[int]*listener[T]),
	}
	go func() {
		for r := range ch {
			c.publish(r)
		}
	}()
	return c, nil
}

func (c *monitorCache[T]) publish(r Reading[T]) {
	c.mu.Lock()
	c.last = &r
	c.firstOnce.Do(func() { close(c.first) })
	active := make([]*listener[T], 0, len(c.listeners))
	for _, l := range c.listeners {
		active = append(active, l)
	}
	c.mu.Unlock()

	for _, l := range active {
		l.deliver(r)
	}
}

// reading waits for the first monitored update, then returns the latest.
func (c *monitorCache[T]) reading(ctx context.Context) (Reading[T], error) {
	select {
	case <-c.first:
	case <-ctx.Done():
		return Reading[T]{}, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.last, nil
}

// addListener registers a new observer torn down when ctx is cancelled.
// The current reading, if any, is preloaded so observers start from the
// present state rather than the next change.
func (c *monitorCache[T]) addListener(ctx context.Context) <-chan Reading[T] {
	l := newListener[T](c.policy)

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	last := c.last
	c.mu.Unlock()

	if last != nil {
		l.deliver(*last)
	}
	go func() {
		<-ctx.Done()
		c.removeListener(id)
	}()
	return l.out
}

func (c *monitorCache[T]) removeListener(id int) {
	c.mu.Lock()
	l, ok := c.listeners[id]
	if ok {
		delete(c.listeners, id)
	}
	emptied := ok && len(c.listeners) == 0 && !c.stopped
	if emptied {
		c.stopped = true
	}
	c.mu.Unlock()

	if l != nil {
		l.close()
	}
	if emptied {
		c.stop()
		if c.onEmpty != nil {
			c.onEmpty(c)
		}
	}
}

// listener delivers readings to one observer channel. Under
// PolicyDropLatest the channel conflates to the newest reading; under
// PolicyBufferAll an internal queue preserves every update and a pump
// goroutine feeds the (unbuffered) channel.
type listener[T any] struct {
	policy BackpressurePolicy
	out    chan Reading[T]
	done   chan struct{}

	mu     sync.Mutex
	queue  []Reading[T]
	notify chan struct{}
	closed bool
}

func newListener[T any](policy BackpressurePolicy) *listener[T] {
	l := &listener[T]{
		policy: policy,
		done:   make(chan struct{}),
		notify: make(chan struct{}, 1),
	}
	if policy == PolicyDropLatest {
		l.out = make(chan Reading[T], 1)
	} else {
		l.out = make(chan Reading[T])
		go l.pump()
	}
	return l
}

func (l *listener[T]) deliver(r Reading[T]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if l.policy == PolicyDropLatest {
		select {
		case l.out <- r:
		default:
			// Full: replace the stale reading with the newest.
			select {
			case <-l.out:
			default:
			}
			select {
			case l.out <- r:
			default:
			}
		}
		return
	}
	l.queue = append(l.queue, r)
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *listener[T]) pump() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			select {
			case <-l.notify:
				continue
			case <-l.done:
				close(l.out)
				return
			}
		}
		r := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		select {
		case l.out <- r:
		case <-l.done:
			close(l.out)
			return
		}
	}
}

func (l *listener[T]) close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	close(l.done)
	if l.policy == PolicyDropLatest {
		close(l.out)
	}
}
