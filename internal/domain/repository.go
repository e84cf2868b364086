package domain

import (
	"context"
	"time"
)

// LedgerStore owns donation records and the project aggregates derived from them.
type LedgerStore interface {
	// InsertIfAbsent stores rec unless its key already exists. It returns the
	// stored record and whether this call created it.
	InsertIfAbsent(ctx context.Context, rec *DonationRecord) (*DonationRecord, bool, error)
	// Transition moves the record from expected to next and applies delta to
	// the project total in a single atomic unit. It fails with
	// ErrStaleTransition when the record is not in the expected status.
	Transition(ctx context.Context, key DonationKey, expected, next DonationStatus, delta AggregateDelta, reason string) (*DonationRecord, error)
	FindByKey(ctx context.Context, key DonationKey) (*DonationRecord, error)
	ListPendingOlderThan(ctx context.Context, age time.Duration, limit int) ([]DonationRecord, error)
	ListByDonor(ctx context.Context, donorID string, limit int) ([]DonationRecord, error)
}

// ProjectRepository handles project persistence. Totals are read-only here.
type ProjectRepository interface {
	Create(ctx context.Context, project *Project) error
	Get(ctx context.Context, id string) (*Project, error)
	List(ctx context.Context, limit int) ([]Project, error)
	ListByCreator(ctx context.Context, creatorID string) ([]Project, error)
	AddUpdate(ctx context.Context, update *ProjectUpdate) error
	ListUpdates(ctx context.Context, projectID string) ([]ProjectUpdate, error)
}
