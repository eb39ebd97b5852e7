package transfers

import (
	"context"
	"sort"
	"sync"
	"time"

	"mercato/internal/transfers/saga"
)

// NewInMemoryStore constructs an in-memory saga store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]saga.Record),
		steps:   make(map[string][]saga.Step),
	}
}

// InMemoryStore keeps saga records in a map guarded by a mutex. Update is a
// compare-and-swap on Version, matching the Postgres store.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]saga.Record
	steps   map[string][]saga.Step
}

func (s *InMemoryStore) Create(ctx context.Context, record saga.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.SagaID]; ok {
		return saga.ErrAlreadyExists
	}
	s.records[record.SagaID] = record
	s.steps[record.SagaID] = append(s.steps[record.SagaID], saga.Step{
		SagaID: record.SagaID,
		To:     record.State,
		Detail: "created",
		At:     record.CreatedAt,
	})
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, sagaID string) (saga.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sagaID]
	if !ok {
		return saga.Record{}, saga.ErrNotFound
	}
	return rec, nil
}

func (s *InMemoryStore) Update(ctx context.Context, record saga.Record, expectedVersion int64, steps ...saga.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[record.SagaID]
	if !ok {
		return saga.ErrNotFound
	}
	if current.Version != expectedVersion {
		return saga.ErrVersionConflict
	}
	s.records[record.SagaID] = record
	s.steps[record.SagaID] = append(s.steps[record.SagaID], steps...)
	return nil
}

func (s *InMemoryStore) ListStalled(ctx context.Context, before time.Time, limit int) ([]saga.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []saga.Record
	for _, rec := range s.records {
		if rec.State.Terminal() || !rec.UpdatedAt.Before(before) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Steps returns the audit trail recorded for a saga (for testing/inspection).
func (s *InMemoryStore) Steps(sagaID string) []saga.Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]saga.Step(nil), s.steps[sagaID]...)
}
