package order

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"gozon/checkout-service/pkg/contracts"
)

// MemoryRepository keeps orders in process. Each order has its own mutex, so
// updates to different orders never wait on each other. Orders are stored
// JSON-encoded so callers can never alias stored state.
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]*memoryEntry
	sink   func(contracts.OrderStatusChangedEvent)
}

type memoryEntry struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryRepository returns an empty repository. sink, when non-nil,
// receives an event after each committed status change.
func NewMemoryRepository(sink func(contracts.OrderStatusChangedEvent)) *MemoryRepository {
	return &MemoryRepository{
		orders: make(map[uuid.UUID]*memoryEntry),
		sink:   sink,
	}
}

func (r *MemoryRepository) Create(_ context.Context, o *Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[o.ID]; exists {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	r.orders[o.ID] = &memoryEntry{data: data}
	return nil
}

func (r *MemoryRepository) entry(id uuid.UUID) (*memoryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.orders[id]
	return e, ok
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Order, error) {
	e, ok := r.entry(id)
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return decodeOrder(e.data)
}

// Snapshot returns the stored encoding of an order.
func (r *MemoryRepository) Snapshot(id uuid.UUID) ([]byte, bool) {
	e, ok := r.entry(id)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]byte(nil), e.data...), true
}

func (r *MemoryRepository) List(_ context.Context, filter ListFilter) ([]Order, error) {
	r.mu.RLock()
	entries := make([]*memoryEntry, 0, len(r.orders))
	for _, e := range r.orders {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var result []Order
	for _, e := range entries {
		e.mu.Lock()
		o, err := decodeOrder(e.data)
		e.mu.Unlock()
		if err != nil {
			return nil, err
		}
		if filter.CustomerID != nil && (o.CustomerID == nil || *o.CustomerID != *filter.CustomerID) {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		result = append(result, *o)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (r *MemoryRepository) Update(ctx context.Context, id uuid.UUID, fn func(o *Order) (bool, error)) (*Order, error) {
	e, ok := r.entry(id)
	if !ok {
		return nil, ErrNotFound
	}

	e.mu.Lock()
	o, err := decodeOrder(e.data)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	before := o.Status
	changed, err := fn(o)
	if err != nil || !changed {
		e.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return o, nil
	}
	if err := ctx.Err(); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	o.Version++
	data, err := json.Marshal(o)
	if err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("encode order: %w", err)
	}
	e.data = data
	e.mu.Unlock()

	if before != o.Status && r.sink != nil {
		r.sink(StatusChangedEvent(before, o))
	}
	return o, nil
}

func decodeOrder(data []byte) (*Order, error) {
	var o Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return &o, nil
}
