package cache

import (
	"container/list"

	"github.com/CreativeUnicorns/tiercache"
)

// evictor keeps the policy bookkeeping of a MemoryBackend. Callers hold the
// backend lock; evictors are not safe for concurrent use on their own.
// Every key tracked by the backend has exactly one record in its evictor.
type evictor interface {
	// touch records a read of key.
	touch(key string)
	// insert records a write of key, resetting any previous bookkeeping.
	insert(key string)
	remove(key string)
	// victim returns the key to evict next without removing it.
	victim() (string, bool)
	reset()
	len() int
}

func newEvictor(policy tiercache.CachePolicy) evictor {
	switch policy {
	case tiercache.PolicyLFU:
		return newLFU()
	case tiercache.PolicyFIFO:
		return newFIFO()
	default:
		return newLRU()
	}
}

// lru orders keys by access; the front is the least recently used.
type lru struct {
	order *list.List
	nodes map[string]*list.Element
}

func newLRU() *lru {
	return &lru{order: list.New(), nodes: make(map[string]*list.Element)}
}

func (l *lru) touch(key string) {
	if e, ok := l.nodes[key]; ok {
		l.order.MoveToBack(e)
	}
}

func (l *lru) insert(key string) {
	if e, ok := l.nodes[key]; ok {
		l.order.MoveToBack(e)
		return
	}
	l.nodes[key] = l.order.PushBack(key)
}

func (l *lru) remove(key string) {
	if e, ok := l.nodes[key]; ok {
		l.order.Remove(e)
		delete(l.nodes, key)
	}
}

func (l *lru) victim() (string, bool) {
	front := l.order.Front()
	if front == nil {
		return "", false
	}
	return front.Value.(string), true
}

func (l *lru) reset() {
	l.order.Init()
	clear(l.nodes)
}

func (l *lru) len() int { return len(l.nodes) }

// lfuItem is one key tracked by lfu.
type lfuItem struct {
	key  string
	freq int
}

// lfu groups keys into buckets by read count. Within a bucket keys are kept in
// the order they entered it, which is the tie-break among equal counts.
type lfu struct {
	buckets map[int]*list.List
	nodes   map[string]*list.Element
}

func newLFU() *lfu {
	return &lfu{buckets: make(map[int]*list.List), nodes: make(map[string]*list.Element)}
}

func (l *lfu) push(item *lfuItem) {
	b, ok := l.buckets[item.freq]
	if !ok {
		b = list.New()
		l.buckets[item.freq] = b
	}
	l.nodes[item.key] = b.PushBack(item)
}

func (l *lfu) unlink(e *list.Element) *lfuItem {
	item := e.Value.(*lfuItem)
	b := l.buckets[item.freq]
	b.Remove(e)
	if b.Len() == 0 {
		delete(l.buckets, item.freq)
	}
	delete(l.nodes, item.key)
	return item
}

func (l *lfu) touch(key string) {
	e, ok := l.nodes[key]
	if !ok {
		return
	}
	item := l.unlink(e)
	item.freq++
	l.push(item)
}

func (l *lfu) insert(key string) {
	if e, ok := l.nodes[key]; ok {
		l.unlink(e)
	}
	l.push(&lfuItem{key: key})
}

func (l *lfu) remove(key string) {
	if e, ok := l.nodes[key]; ok {
		l.unlink(e)
	}
}

func (l *lfu) victim() (string, bool) {
	minFreq, found := 0, false
	for freq := range l.buckets {
		if !found || freq < minFreq {
			minFreq, found = freq, true
		}
	}
	if !found {
		return "", false
	}
	return l.buckets[minFreq].Front().Value.(*lfuItem).key, true
}

func (l *lfu) reset() {
	clear(l.buckets)
	clear(l.nodes)
}

func (l *lfu) len() int { return len(l.nodes) }

// fifo orders keys by creation time. Reads never reorder; rewriting a key
// gives it a new creation time and moves it to the back.
type fifo struct {
	order *list.List
	nodes map[string]*list.Element
}

func newFIFO() *fifo {
	return &fifo{order: list.New(), nodes: make(map[string]*list.Element)}
}

func (f *fifo) touch(string) {}

func (f *fifo) insert(key string) {
	if e, ok := f.nodes[key]; ok {
		f.order.MoveToBack(e)
		return
	}
	f.nodes[key] = f.order.PushBack(key)
}

func (f *fifo) remove(key string) {
	if e, ok := f.nodes[key]; ok {
		f.order.Remove(e)
		delete(f.nodes, key)
	}
}

func (f *fifo) victim() (string, bool) {
	front := f.order.Front()
	if front == nil {
		return "", false
	}
	return front.Value.(string), true
}

func (f *fifo) reset() {
	f.order.Init()
	clear(f.nodes)
}

func (f *fifo) len() int { return len(f.nodes) }
