package chainbuilder

import (
	"container/heap"
	"sync"

	"github.com/labchain-go/node/internal/chain"
	"github.com/labchain-go/node/internal/cryptoprim"
)

// Event priority bands, lowest value served first (spec.md §5). Locally
// generated events (our own mined blocks, our own submitted transactions)
// win ties against remote network events at the same instant.
//
// PriorityCacheRestore is reserved for events replayed from on-disk
// persistence at startup; persistence is out of scope (spec.md §1), so
// nothing in this package emits it today, but the band is kept so a future
// persistence layer slots in without renumbering the others.
const (
	PriorityLocal        = 0
	PriorityRemote       = 1
	PriorityCacheRestore = 2
)

type event interface{}

type blockEvent struct {
	block *chain.Block
}

type transactionEvent struct {
	tx *chain.Transaction
}

// getBlockEvent is a peer's request for a block we may have cached.
// respond is called with the block if found; it is nil otherwise.
type getBlockEvent struct {
	hash    cryptoprim.Hash
	respond func(*chain.Block)
}

// retryTick drives periodic retry/timeout handling of pending block
// requests; emitted by a background ticker, not by a peer.
type retryTick struct{}

type queueItem struct {
	priority int
	seq      uint64
	ev       event
}

type itemHeap []*queueItem

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x interface{}) { *h = append(*h, x.(*queueItem)) }
func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// eventQueue is the single priority queue every event destined for the
// chain builder's event thread passes through, keyed by (priority,
// monotonic sequence) per spec.md §5.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  itemHeap
	seq    uint64
	closed bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *eventQueue) push(priority int, ev event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.seq++
	heap.Push(&q.items, &queueItem{priority: priority, seq: q.seq, ev: ev})
	q.cond.Signal()
}

// pop blocks until an event is available or the queue is closed.
func (q *eventQueue) pop() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	item := heap.Pop(&q.items).(*queueItem)
	return item.ev, true
}

func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
