package engine

import (
	"encoding/json"
	"errors"
	"os"
	"sync"

	"pixverse/internal/domain"
)

// CreditLedger persists the first-generation counter the submit and refund
// paths account against. The counter is owned by the engine; nothing else
// writes it.
type CreditLedger struct {
	mu    sync.Mutex
	path  string
	count int
}

type ledgerState struct {
	GenerationCount int `json:"generationCount"`
}

// NewCreditLedger loads the counter from path, starting at zero when the
// file does not exist yet or cannot be decoded.
func NewCreditLedger(path string) (*CreditLedger, error) {
	l := &CreditLedger{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, &domain.StorageError{Op: "open ledger", Err: err}
	}

	var st ledgerState
	if err := json.Unmarshal(data, &st); err == nil && st.GenerationCount > 0 {
		l.count = st.GenerationCount
	}
	return l, nil
}

// Reserve records a submission attempt and reports whether it was the user's
// very first generation. Only a first-generation reservation is refunded on
// failure.
func (l *CreditLedger) Reserve() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	first := l.count == 0
	l.count++
	return first, l.saveLocked()
}

// Refund undoes one reservation. The counter never goes below zero.
func (l *CreditLedger) Refund() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count == 0 {
		return nil
	}
	l.count--
	return l.saveLocked()
}

// Count returns the current counter value.
func (l *CreditLedger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

func (l *CreditLedger) saveLocked() error {
	data, err := json.Marshal(ledgerState{GenerationCount: l.count})
	if err != nil {
		return &domain.StorageError{Op: "save ledger", Err: err}
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &domain.StorageError{Op: "save ledger", Err: err}
	}
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return &domain.StorageError{Op: "save ledger", Err: err}
	}
	return nil
}
