package engine

import (
	"path/filepath"
	"testing"
)

func TestCreditLedgerFirstReservation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l, err := NewCreditLedger(path)
	if err != nil {
		t.Fatalf("NewCreditLedger error: %v", err)
	}

	first, err := l.Reserve()
	if err != nil {
		t.Fatalf("Reserve error: %v", err)
	}
	if !first {
		t.Fatal("expected first reservation")
	}

	second, err := l.Reserve()
	if err != nil {
		t.Fatalf("Reserve error: %v", err)
	}
	if second {
		t.Fatal("second reservation must not be first")
	}
	if l.Count() != 2 {
		t.Fatalf("count mismatch: %d", l.Count())
	}
}

func TestCreditLedgerRefundNeverNegative(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l, err := NewCreditLedger(path)
	if err != nil {
		t.Fatalf("NewCreditLedger error: %v", err)
	}

	if err := l.Refund(); err != nil {
		t.Fatalf("Refund on empty ledger error: %v", err)
	}
	if l.Count() != 0 {
		t.Fatalf("counter went negative: %d", l.Count())
	}

	if _, err := l.Reserve(); err != nil {
		t.Fatalf("Reserve error: %v", err)
	}
	if err := l.Refund(); err != nil {
		t.Fatalf("Refund error: %v", err)
	}
	if err := l.Refund(); err != nil {
		t.Fatalf("second Refund error: %v", err)
	}
	if l.Count() != 0 {
		t.Fatalf("count mismatch after refunds: %d", l.Count())
	}
}

func TestCreditLedgerPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l, err := NewCreditLedger(path)
	if err != nil {
		t.Fatalf("NewCreditLedger error: %v", err)
	}
	if _, err := l.Reserve(); err != nil {
		t.Fatalf("Reserve error: %v", err)
	}
	if _, err := l.Reserve(); err != nil {
		t.Fatalf("Reserve error: %v", err)
	}

	reopened, err := NewCreditLedger(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	if reopened.Count() != 2 {
		t.Fatalf("count not persisted: %d", reopened.Count())
	}
}
