package paymentmethod

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type MemoryRepository struct {
	mu      sync.Mutex
	methods map[uuid.UUID]Method
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{methods: make(map[uuid.UUID]Method)}
}

func (r *MemoryRepository) Create(_ context.Context, m *Method) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.methods {
		if existing.GatewayMethodID == m.GatewayMethodID {
			return ErrDuplicate
		}
	}
	if m.IsDefault {
		r.clearDefault(m.UserID, m.ID)
	}
	r.methods[m.ID] = *m
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, userID, id uuid.UUID) (*Method, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.methods[id]
	if !ok || m.UserID != userID {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (r *MemoryRepository) List(_ context.Context, userID uuid.UUID) ([]Method, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []Method
	for _, m := range r.methods {
		if m.UserID == userID {
			result = append(result, m)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].IsDefault != result[j].IsDefault {
			return result[i].IsDefault
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (r *MemoryRepository) Update(_ context.Context, userID, id uuid.UUID, fn func(m *Method) error) (*Method, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.methods[id]
	if !ok || m.UserID != userID {
		return nil, ErrNotFound
	}
	if err := fn(&m); err != nil {
		return nil, err
	}
	if m.IsDefault {
		r.clearDefault(userID, id)
	}
	r.methods[id] = m
	return &m, nil
}

func (r *MemoryRepository) Delete(_ context.Context, userID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.methods[id]
	if !ok || m.UserID != userID {
		return ErrNotFound
	}
	delete(r.methods, id)
	return nil
}

func (r *MemoryRepository) clearDefault(userID, keep uuid.UUID) {
	for id, m := range r.methods {
		if m.UserID == userID && id != keep && m.IsDefault {
			m.IsDefault = false
			r.methods[id] = m
		}
	}
}
