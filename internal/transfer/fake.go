package transfer

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Call records one movement executed by the fake adapter.
type Call struct {
	Asset  string
	From   *uuid.UUID
	To     uuid.UUID
	Amount int64
}

// FakeAdapter records transfers in memory for tests. Set NextErr to make the
// following call fail without moving anything.
type FakeAdapter struct {
	mu      sync.Mutex
	calls   []Call
	nextErr error
}

func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{}
}

func (f *FakeAdapter) Transfer(_ context.Context, asset string, to uuid.UUID, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextErr; err != nil {
		f.nextErr = nil
		return err
	}
	f.calls = append(f.calls, Call{Asset: asset, To: to, Amount: amount})
	return nil
}

func (f *FakeAdapter) TransferFrom(_ context.Context, asset string, from, to uuid.UUID, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextErr; err != nil {
		f.nextErr = nil
		return err
	}
	fromCopy := from
	f.calls = append(f.calls, Call{Asset: asset, From: &fromCopy, To: to, Amount: amount})
	return nil
}

// FailNext makes the next call return err and move nothing.
func (f *FakeAdapter) FailNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextErr = err
}

// Calls returns a copy of the recorded movements.
func (f *FakeAdapter) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// TotalTo sums everything transferred to the given identity.
func (f *FakeAdapter) TotalTo(id uuid.UUID) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int64
	for _, c := range f.calls {
		if c.To == id {
			sum += c.Amount
		}
	}
	return sum
}
