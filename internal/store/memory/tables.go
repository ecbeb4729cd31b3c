package memory

import (
	"context"
	"time"

	"github.com/namandisafari-sketch/tech-biz-flow/internal/domain"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/saga"
)

// Tables exposes the store as independent single-row writes for use behind
// saga.Ledger. Each call commits on its own.
type Tables struct {
	*Store
}

func (s *Store) Tables() Tables {
	return Tables{Store: s}
}

func (s *Store) apply(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	staged := s.state.clone()
	if err := fn(staged); err != nil {
		return err
	}
	s.state = staged
	return nil
}

func (t Tables) SaveIntent(_ context.Context, intent saga.Intent) error {
	return t.apply(func(st *state) error {
		st.intents[intent.ID] = intent
		return nil
	})
}

// Intent returns a recorded saga intent.
func (s *Store) Intent(id string) (saga.Intent, bool) {
	intent, ok := s.read().intents[id]
	return intent, ok
}

func (s *Store) Intents() []saga.Intent {
	st := s.read()
	out := make([]saga.Intent, 0, len(st.intents))
	for _, intent := range st.intents {
		out = append(out, intent)
	}
	return out
}

func (t Tables) InsertJob(_ context.Context, job domain.Job) error {
	return t.apply(func(st *state) error { return st.insertJob(job) })
}

func (t Tables) DeleteJob(_ context.Context, accountID string, id string) error {
	return t.apply(func(st *state) error {
		st.deleteJob(accountID, id)
		return nil
	})
}

func (t Tables) InsertLineItems(_ context.Context, items []domain.JobLineItem) error {
	return t.apply(func(st *state) error { return st.insertLineItems(items) })
}

func (t Tables) DeleteLineItems(_ context.Context, accountID string, jobID string, ids []string) error {
	return t.apply(func(st *state) error {
		st.deleteLineItems(accountID, jobID, ids)
		return nil
	})
}

func (t Tables) InsertPayment(_ context.Context, payment domain.Payment) error {
	return t.apply(func(st *state) error { return st.insertPayment(payment) })
}

func (t Tables) DeletePayment(_ context.Context, accountID string, jobID string, id string) error {
	return t.apply(func(st *state) error {
		st.deletePayment(accountID, jobID, id)
		return nil
	})
}

func (t Tables) UpdateInventory(_ context.Context, accountID string, changes []domain.StockChange) error {
	return t.apply(func(st *state) error { return st.updateInventory(accountID, changes) })
}

func (t Tables) UpdateJobBalance(_ context.Context, job domain.Job) error {
	return t.apply(func(st *state) error { return st.updateJobBalance(job, time.Now().UTC()) })
}
