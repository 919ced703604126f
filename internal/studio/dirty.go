package studio

import "sync"

// DirtyTracker is the process-wide change notifier: any partition mutation
// reports through NotifyChanged and every registered listener hears about
// it. Listeners are a proper subscription list, so the coordinator and
// other interested parties can coexist without clobbering one another.
type DirtyTracker struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func()
}

// NewDirtyTracker returns an empty tracker.
func NewDirtyTracker() *DirtyTracker {
	return &DirtyTracker{subs: make(map[int]func())}
}

// OnChange registers fn to be invoked on every change notification and
// returns an unsubscribe func.
func (d *DirtyTracker) OnChange(fn func()) (unsubscribe func()) {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.subs[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

// NotifyChanged invokes every registered listener.
func (d *DirtyTracker) NotifyChanged() {
	d.mu.Lock()
	fns := make([]func(), 0, len(d.subs))
	for _, fn := range d.subs {
		fns = append(fns, fn)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
