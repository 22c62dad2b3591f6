// Package audit provides the config-audit write contract: every factor or
// SLA config mutation appends one immutable row. Audit writes are
// best-effort; a failed append never rolls back the mutation it records.
package audit

import (
	"context"
	"log"

	"github.com/coi-platform/sla-engine/internal/models"
	"github.com/coi-platform/sla-engine/internal/store"
)

// Recorder receives config change records.
type Recorder interface {
	Append(ctx context.Context, entry *models.ConfigAuditEntry) error
}

// StoreRecorder appends audit rows to the store and optionally mirrors
// each row to an archiver.
type StoreRecorder struct {
	store    store.Store
	archiver Archiver
}

func NewStoreRecorder(st store.Store, archiver Archiver) *StoreRecorder {
	return &StoreRecorder{store: st, archiver: archiver}
}

func (r *StoreRecorder) Append(ctx context.Context, entry *models.ConfigAuditEntry) error {
	if err := r.store.AppendConfigAudit(ctx, entry); err != nil {
		return err
	}
	if r.archiver != nil {
		if err := r.archiver.ArchiveEntry(ctx, entry); err != nil {
			// Archive is a mirror of the durable row, not its source
			// of truth.
			log.Printf("[audit] archive failed for entry %s: %v", entry.ID, err)
		}
	}
	return nil
}
