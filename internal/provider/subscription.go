package provider

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finkor/brokergate/pkg/models"
)

// EventType tags one real-time stream event.
type EventType string

const (
	EventTick        EventType = "tick"
	EventOrderBook   EventType = "orderbook"
	EventOrderUpdate EventType = "order_update"
	EventError       EventType = "error"
)

// Event is one message from the broker's real-time transport.
type Event struct {
	Type   EventType
	Symbol string
	Tick   *models.Quote
	Book   *models.OrderBook
	Order  *models.Order
	Err    error
}

// Callbacks is the subscription callback contract. Nil members are skipped.
type Callbacks struct {
	OnTick        func(*models.Quote)
	OnOrderBook   func(*models.OrderBook)
	OnOrderUpdate func(*models.Order)
	OnError       func(error)
}

// subscription is one live handle: a dedicated delivery goroutine drains its
// queue so callback order always matches arrival order for that handle.
// Ordering across handles is not guaranteed.
type subscription struct {
	id      uuid.UUID
	symbols map[string]struct{}
	cb      Callbacks
	queue   chan Event
	done    chan struct{}
}

func (s *subscription) run() {
	defer close(s.done)
	for ev := range s.queue {
		switch ev.Type {
		case EventTick:
			if s.cb.OnTick != nil {
				s.cb.OnTick(ev.Tick)
			}
		case EventOrderBook:
			if s.cb.OnOrderBook != nil {
				s.cb.OnOrderBook(ev.Book)
			}
		case EventOrderUpdate:
			if s.cb.OnOrderUpdate != nil {
				s.cb.OnOrderUpdate(ev.Order)
			}
		case EventError:
			if s.cb.OnError != nil {
				s.cb.OnError(ev.Err)
			}
		}
	}
}

const subscriptionQueueSize = 256

// SubscriptionTable tracks the live handles of one provider. Owned
// exclusively by that provider's BaseProvider.
type SubscriptionTable struct {
	logger *zap.Logger

	mu   sync.RWMutex
	subs map[uuid.UUID]*subscription
}

func NewSubscriptionTable(logger *zap.Logger) *SubscriptionTable {
	return &SubscriptionTable{
		logger: logger,
		subs:   make(map[uuid.UUID]*subscription),
	}
}

// Add registers a handle for the given symbols and starts its delivery
// goroutine.
func (t *SubscriptionTable) Add(symbols []string, cb Callbacks) uuid.UUID {
	sub := &subscription{
		id:      uuid.New(),
		symbols: make(map[string]struct{}, len(symbols)),
		cb:      cb,
		queue:   make(chan Event, subscriptionQueueSize),
		done:    make(chan struct{}),
	}
	for _, s := range symbols {
		sub.symbols[s] = struct{}{}
	}

	t.mu.Lock()
	t.subs[sub.id] = sub
	t.mu.Unlock()

	go sub.run()
	return sub.id
}

// Remove drops a handle, closes its queue, and waits for its delivery
// goroutine to drain. Returns the handle's symbols, or false if unknown.
func (t *SubscriptionTable) Remove(id uuid.UUID) ([]string, bool) {
	t.mu.Lock()
	sub, ok := t.subs[id]
	if ok {
		delete(t.subs, id)
	}
	t.mu.Unlock()
	if !ok {
		return nil, false
	}

	close(sub.queue)
	<-sub.done

	symbols := make([]string, 0, len(sub.symbols))
	for s := range sub.symbols {
		symbols = append(symbols, s)
	}
	return symbols, true
}

// RemoveAll drains every handle and returns the union of their symbols.
func (t *SubscriptionTable) RemoveAll() []string {
	t.mu.Lock()
	subs := t.subs
	t.subs = make(map[uuid.UUID]*subscription)
	t.mu.Unlock()

	seen := make(map[string]struct{})
	for _, sub := range subs {
		close(sub.queue)
		<-sub.done
		for s := range sub.symbols {
			seen[s] = struct{}{}
		}
	}
	symbols := make([]string, 0, len(seen))
	for s := range seen {
		symbols = append(symbols, s)
	}
	return symbols
}

// Dispatch routes an event to every handle subscribed to its symbol.
// Order-update and error events without a symbol fan out to all handles.
// A handle whose queue is full drops the event; the drop is logged, never
// delivered, so a slow consumer cannot stall the dispatcher.
func (t *SubscriptionTable) Dispatch(ev Event) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, sub := range t.subs {
		if ev.Symbol != "" {
			if _, ok := sub.symbols[ev.Symbol]; !ok {
				continue
			}
		}
		select {
		case sub.queue <- ev:
		default:
			t.logger.Warn("subscription queue full, dropping event",
				zap.String("subscription", sub.id.String()),
				zap.String("type", string(ev.Type)),
				zap.String("symbol", ev.Symbol))
		}
	}
}

// Unreferenced filters symbols down to those no remaining subscription wants.
func (t *SubscriptionTable) Unreferenced(symbols []string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var orphaned []string
	for _, symbol := range symbols {
		wanted := false
		for _, sub := range t.subs {
			if _, ok := sub.symbols[symbol]; ok {
				wanted = true
				break
			}
		}
		if !wanted {
			orphaned = append(orphaned, symbol)
		}
	}
	return orphaned
}

// Len returns the number of live handles.
func (t *SubscriptionTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}
