package service

import (
	"context"

	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/store"
)

// Ledger is the append-only usage log. Records are never updated or
// dropped.
type Ledger struct {
	store *store.Store
}

// NewLedger creates a Ledger over st.
func NewLedger(st *store.Store) *Ledger {
	return &Ledger{store: st}
}

// Record appends rec and updates the owning credential's counters in the
// same transaction.
func (l *Ledger) Record(ctx context.Context, rec *model.UsageRecord) error {
	return l.store.AppendUsage(ctx, rec)
}

// List returns a credential's records, newest first.
func (l *Ledger) List(ctx context.Context, credentialID int64, limit int) ([]model.UsageRecord, error) {
	return l.store.ListUsage(ctx, credentialID, limit)
}
