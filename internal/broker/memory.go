package broker

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/smi-gateway/smi/internal/protocol"
)

// memItem is one queued message in a priority-ordered min-heap. Lower
// rank dequeues first; rank combines priority (descending) and
// sequence (ascending) so same-priority messages stay FIFO while a
// higher-priority message can overtake lower-priority ones already
// queued, per the "priority overtake" testable property.
type memItem struct {
	msg      protocol.BrokerMessage
	priority int
	seq      uint64
	index    int
}

type memHeap []*memItem

func (h memHeap) Len() int { return len(h) }
func (h memHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h memHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *memHeap) Push(x any) {
	item := x.(*memItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *memHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// memQueue is one routing key's queue: a heap plus a wakeup channel
// for blocked consumers.
type memQueue struct {
	mu   sync.Mutex
	heap memHeap
	wake chan struct{}
	seq  uint64
}

func newMemQueue() *memQueue {
	return &memQueue{wake: make(chan struct{}, 1)}
}

func (q *memQueue) push(item *memItem) {
	q.mu.Lock()
	item.seq = q.seq
	q.seq++
	heap.Push(&q.heap, item)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *memQueue) pop() (*memItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return nil, false
	}
	return heap.Pop(&q.heap).(*memItem), true
}

// MemoryBroker is an in-process Broker backed by container/heap: a
// priority-aware dispatch queue used for tests and single-process
// deployments without Redis.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]*memQueue
}

// NewMemoryBroker creates an empty MemoryBroker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{queues: make(map[string]*memQueue)}
}

func (b *MemoryBroker) queueFor(routingKey string) *memQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[routingKey]
	if !ok {
		q = newMemQueue()
		b.queues[routingKey] = q
	}
	return q
}

func (b *MemoryBroker) Declare(ctx context.Context, routingKey string) error {
	b.queueFor(routingKey)
	return nil
}

func (b *MemoryBroker) Publish(ctx context.Context, routingKey string, msg protocol.BrokerMessage, priority int) error {
	b.queueFor(routingKey).push(&memItem{msg: msg, priority: priority})
	return nil
}

func (b *MemoryBroker) Consume(ctx context.Context, routingKey string) (<-chan Delivery, error) {
	q := b.queueFor(routingKey)
	out := make(chan Delivery)

	go func() {
		defer close(out)
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			if item, ok := q.pop(); ok {
				d := Delivery{
					Message:  item.msg,
					Priority: item.priority,
					ack:      func(ctx context.Context) error { return nil },
					reject: func(ctx context.Context) error {
						go func(it *memItem) {
							time.Sleep(5 * time.Second)
							q.push(it)
						}(item)
						return nil
					},
				}
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
			case <-ticker.C:
			}
		}
	}()

	return out, nil
}

func (b *MemoryBroker) Close() error { return nil }
