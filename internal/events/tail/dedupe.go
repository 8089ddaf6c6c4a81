package tail

import (
	"container/list"
	"sync"
)

// Window remembers the most recent event ids up to a fixed capacity.
type Window struct {
	mu    sync.Mutex
	size  int
	order *list.List
	seen  map[string]*list.Element
}

func NewWindow(size int) *Window {
	if size <= 0 {
		size = 10_000
	}
	return &Window{
		size:  size,
		order: list.New(),
		seen:  make(map[string]*list.Element, size),
	}
}

// Observe records id and reports whether it was already in the window.
func (w *Window) Observe(id string) (duplicate bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if el, ok := w.seen[id]; ok {
		w.order.MoveToFront(el)
		return true
	}
	w.seen[id] = w.order.PushFront(id)
	if w.order.Len() > w.size {
		oldest := w.order.Back()
		w.order.Remove(oldest)
		delete(w.seen, oldest.Value.(string))
	}
	return false
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.order.Len()
}
