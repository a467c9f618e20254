// internal/repository/recipient_store.go
package repository

import (
	"fmt"
	"sync"
	"time"

	appErrors "github.com/mezamarco14/resu-sistem/internal/errors"
	"github.com/mezamarco14/resu-sistem/internal/model"
)

type entry struct {
	state   model.RecipientState
	claimed bool
}

// RecipientStore holds the per-recipient state of the current campaign. It is
// the only state shared between dispatch workers.
type RecipientStore struct {
	mu          sync.RWMutex
	order       []string
	entries     map[string]*entry
	initialized bool
	dispatching bool
}

func NewRecipientStore() *RecipientStore {
	return &RecipientStore{entries: make(map[string]*entry)}
}

// Initialize replaces the state with the given recipients, all Pending.
func (s *RecipientStore) Initialize(recipients []model.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dispatching {
		return appErrors.NewConflict("initialize recipients", "a dispatch is running")
	}

	order := make([]string, 0, len(recipients))
	entries := make(map[string]*entry, len(recipients))
	for _, r := range recipients {
		key := r.Key()
		if key == "" {
			return appErrors.NewValidation("email", fmt.Sprintf("recipient %d has no email", r.Ordinal))
		}
		if _, dup := entries[key]; dup {
			return appErrors.NewValidation("email", fmt.Sprintf("duplicate recipient %s", r.Email))
		}
		order = append(order, key)
		entries[key] = &entry{state: model.RecipientState{
			Recipient: r,
			Outcome:   model.SendOutcome{Status: model.StatusPending},
		}}
	}

	s.order = order
	s.entries = entries
	s.initialized = true
	return nil
}

// ClaimNext hands out the next recipient that is Pending or whose retry time
// has come. When nothing is ready but retries are scheduled, wait is the time
// until the earliest one. ok=false with wait=0 means nothing is left to claim.
func (s *RecipientStore) ClaimNext(now time.Time) (state model.RecipientState, wait time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var retry *entry
	for _, key := range s.order {
		e := s.entries[key]
		if e.claimed {
			continue
		}
		out := e.state.Outcome
		if out.Status == model.StatusPending {
			e.claimed = true
			return e.state, 0, true
		}
		if !out.Retrying() {
			continue
		}
		if !out.RetryAt.After(now) {
			if retry == nil || out.RetryAt.Before(retry.state.Outcome.RetryAt) {
				retry = e
			}
			continue
		}
		if d := out.RetryAt.Sub(now); wait == 0 || d < wait {
			wait = d
		}
	}

	if retry != nil {
		retry.claimed = true
		return retry.state, 0, true
	}
	return model.RecipientState{}, wait, false
}

// RecordOutcome stores the outcome of an attempt and releases the claim.
// Outcomes older than the stored one (fewer attempts) are ignored.
func (s *RecipientStore) RecordOutcome(key string, outcome model.SendOutcome) error {
	if outcome.Status == model.StatusPending {
		return fmt.Errorf("record outcome for %s: cannot revert to pending", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[model.NormalizeEmail(key)]
	if !ok {
		return fmt.Errorf("record outcome: unknown recipient %s", key)
	}
	if outcome.Attempts < e.state.Outcome.Attempts {
		return nil
	}
	e.state.Outcome = outcome
	e.claimed = false
	return nil
}

// Release gives a claimed recipient back without recording anything.
func (s *RecipientStore) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[model.NormalizeEmail(key)]; ok {
		e.claimed = false
	}
}

// Snapshot returns the current report in recipient order.
func (s *RecipientStore) Snapshot() model.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := make(model.Report, 0, len(s.order))
	for _, key := range s.order {
		report = append(report, s.entries[key].state)
	}
	return report
}

// Get returns the state of one recipient.
func (s *RecipientStore) Get(key string) (model.RecipientState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[model.NormalizeEmail(key)]
	if !ok {
		return model.RecipientState{}, false
	}
	return e.state, true
}

func (s *RecipientStore) Counts() model.Counts {
	return s.Snapshot().Counts()
}

func (s *RecipientStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Initialized reports whether a recipient list is loaded. An initialized store
// with zero recipients still has a (empty) report.
func (s *RecipientStore) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// BeginDispatch marks a dispatch as running.
func (s *RecipientStore) BeginDispatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return fmt.Errorf("begin dispatch: no recipients loaded")
	}
	if s.dispatching {
		return appErrors.NewConflict("begin dispatch", "a dispatch is already running")
	}
	s.dispatching = true
	return nil
}

func (s *RecipientStore) EndDispatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatching = false
}

func (s *RecipientStore) Dispatching() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dispatching
}

// AbortPending turns every unclaimed recipient that is waiting for a retry
// into a terminal failure. Recipients never attempted stay Pending. It returns
// the finalized states.
func (s *RecipientStore) AbortPending(reason string) []model.RecipientState {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finalized []model.RecipientState
	for _, key := range s.order {
		e := s.entries[key]
		if e.claimed || !e.state.Outcome.Retrying() {
			continue
		}
		out := e.state.Outcome
		out.RetryAt = time.Time{}
		out.Kind = model.KindAborted
		if out.Reason != "" {
			out.Reason = fmt.Sprintf("%s (last error: %s)", reason, out.Reason)
		} else {
			out.Reason = reason
		}
		e.state.Outcome = out
		finalized = append(finalized, e.state)
	}
	return finalized
}

// Clear drops all state. While a dispatch runs this fails with a
// ConflictError unless force is set.
func (s *RecipientStore) Clear(force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dispatching && !force {
		return appErrors.NewConflict("clear campaign", "a dispatch is running")
	}
	s.order = nil
	s.entries = make(map[string]*entry)
	s.initialized = false
	return nil
}
