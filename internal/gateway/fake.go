package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake is an in-process gateway used for local runs and tests. It honours
// idempotency keys the same way the real gateway does.
type Fake struct {
	mu       sync.Mutex
	seq      int
	intents  map[string]*Intent
	byKey    map[string]string
	refunded map[string]int64
	calls    map[string]int

	// Err, when set, is returned by every call.
	Err error
	// Delay is slept inside CreateIntent.
	Delay time.Duration
}

func NewFake() *Fake {
	return &Fake{
		intents:  make(map[string]*Intent),
		byKey:    make(map[string]string),
		refunded: make(map[string]int64),
		calls:    make(map[string]int),
	}
}

func (f *Fake) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	f.mu.Lock()
	f.calls["create"]++
	delay, failure := f.Delay, f.Err
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		case <-time.After(delay):
		}
	}
	if failure != nil {
		return nil, failure
	}
	amount := MinorUnits(req.Total, req.Currency)
	if amount <= 0 {
		return nil, fmt.Errorf("%w: total must be positive", ErrInvalidAmount)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.byKey[req.IdempotencyKey()]; ok {
		intent := *f.intents[id]
		return &intent, nil
	}
	f.seq++
	id := fmt.Sprintf("pi_fake_%d", f.seq)
	intent := &Intent{
		ID:           id,
		ClientSecret: id + "_secret",
		Amount:       amount,
		Currency:     req.Currency,
		Status:       IntentRequiresPaymentMethod,
		OrderID:      req.OrderID.String(),
		Created:      time.Now().UTC(),
	}
	f.intents[id] = intent
	f.byKey[req.IdempotencyKey()] = id
	out := *intent
	return &out, nil
}

func (f *Fake) RetrieveIntent(_ context.Context, intentID string) (*Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["retrieve"]++
	if f.Err != nil {
		return nil, f.Err
	}
	intent, ok := f.intents[intentID]
	if !ok {
		return nil, fmt.Errorf("%w: intent %s", ErrNotFound, intentID)
	}
	out := *intent
	return &out, nil
}

func (f *Fake) Refund(_ context.Context, intentID string, amount *int64) (*Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["refund"]++
	if f.Err != nil {
		return nil, f.Err
	}
	intent, ok := f.intents[intentID]
	if !ok {
		return nil, fmt.Errorf("%w: intent %s", ErrNotFound, intentID)
	}
	if intent.Status != IntentSucceeded {
		return nil, fmt.Errorf("%w: intent %s has not been captured", ErrInvalidRequest, intentID)
	}
	remaining := intent.Amount - f.refunded[intentID]
	value := remaining
	if amount != nil {
		value = *amount
	}
	if value <= 0 || value > remaining {
		return nil, fmt.Errorf("%w: refund of %d exceeds remaining %d", ErrInvalidAmount, value, remaining)
	}
	f.refunded[intentID] += value
	f.seq++
	return &Refund{
		ID:       fmt.Sprintf("re_fake_%d", f.seq),
		IntentID: intentID,
		Amount:   value,
		Currency: intent.Currency,
		Status:   "succeeded",
	}, nil
}

// SetStatus moves an intent to a new status, as a customer confirming or
// abandoning payment would.
func (f *Fake) SetStatus(intentID string, status IntentStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if intent, ok := f.intents[intentID]; ok {
		intent.Status = status
	}
}

// Calls reports how many times the named operation was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}
