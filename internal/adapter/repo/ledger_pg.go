package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"crowdfund/internal/domain"
	"crowdfund/internal/infra"
	"crowdfund/internal/sqlinline"
)

// LedgerPG implements domain.LedgerStore on PostgreSQL. Every mutation is a
// single statement, so atomicity comes from the statement itself.
type LedgerPG struct {
	sql infra.SQLExecutor
	now func() time.Time
}

// NewLedgerPG creates a Postgres-backed ledger.
func NewLedgerPG(sql infra.SQLExecutor) *LedgerPG {
	return &LedgerPG{sql: sql, now: time.Now}
}

// InsertIfAbsent inserts rec unless (rail, external_ref) already exists.
func (l *LedgerPG) InsertIfAbsent(ctx context.Context, rec *domain.DonationRecord) (*domain.DonationRecord, bool, error) {
	meta, err := json.Marshal(nonNilMeta(rec.Metadata))
	if err != nil {
		return nil, false, fmt.Errorf("encode metadata: %w", err)
	}
	var id string
	err = l.sql.QueryRow(ctx, sqlinline.QInsertDonationIfAbsent,
		rec.ID,
		rec.ProjectID,
		rec.DonorID,
		rec.Amount.String(),
		rec.Currency,
		string(rec.Rail),
		rec.ExternalRef,
		string(rec.Status),
		meta,
		rec.CreatedAt,
	).Scan(&id)
	if err == nil {
		stored := *rec
		stored.ID = id
		return &stored, true, nil
	}
	if !infra.IsNoRows(err) {
		return nil, false, fmt.Errorf("insert donation: %w", err)
	}
	existing, err := l.FindByKey(ctx, rec.Key())
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Transition applies a conditional status change and its aggregate delta.
func (l *LedgerPG) Transition(ctx context.Context, key domain.DonationKey, expected, next domain.DonationStatus, delta domain.AggregateDelta, reason string) (*domain.DonationRecord, error) {
	row := l.sql.QueryRow(ctx, sqlinline.QTransitionDonation,
		string(key.Rail),
		key.ExternalRef,
		string(expected),
		string(next),
		int(delta),
		reason,
		l.now().UTC(),
	)
	rec, err := scanDonation(row)
	if err == nil {
		return rec, nil
	}
	if !infra.IsNoRows(err) {
		return nil, fmt.Errorf("transition donation %s: %w", key, err)
	}
	if _, findErr := l.FindByKey(ctx, key); findErr != nil {
		return nil, findErr
	}
	return nil, fmt.Errorf("%w: %s is not %s", domain.ErrStaleTransition, key, expected)
}

// FindByKey returns the record for key or domain.ErrNotFound.
func (l *LedgerPG) FindByKey(ctx context.Context, key domain.DonationKey) (*domain.DonationRecord, error) {
	rec, err := scanDonation(l.sql.QueryRow(ctx, sqlinline.QSelectDonationByKey, string(key.Rail), key.ExternalRef))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, fmt.Errorf("donation %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("find donation %s: %w", key, err)
	}
	return rec, nil
}

// ListPendingOlderThan returns PENDING records created at least age ago, oldest first.
func (l *LedgerPG) ListPendingOlderThan(ctx context.Context, age time.Duration, limit int) ([]domain.DonationRecord, error) {
	rows, err := l.sql.Query(ctx, sqlinline.QListPendingDonations, l.now().Add(-age).UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending donations: %w", err)
	}
	return collectDonations(rows)
}

// ListByDonor returns the donor's records, newest first.
func (l *LedgerPG) ListByDonor(ctx context.Context, donorID string, limit int) ([]domain.DonationRecord, error) {
	rows, err := l.sql.Query(ctx, sqlinline.QListDonationsByDonor, donorID, limit)
	if err != nil {
		return nil, fmt.Errorf("list donor donations: %w", err)
	}
	return collectDonations(rows)
}

func collectDonations(rows pgx.Rows) ([]domain.DonationRecord, error) {
	defer rows.Close()
	var items []domain.DonationRecord
	for rows.Next() {
		rec, err := scanDonation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanDonation(row pgx.Row) (*domain.DonationRecord, error) {
	var (
		rec         domain.DonationRecord
		amount      string
		rail        string
		status      string
		meta        []byte
		finalizedAt *time.Time
	)
	if err := row.Scan(
		&rec.ID,
		&rec.ProjectID,
		&rec.DonorID,
		&amount,
		&rec.Currency,
		&rail,
		&rec.ExternalRef,
		&status,
		&rec.Reason,
		&meta,
		&rec.CreatedAt,
		&finalizedAt,
	); err != nil {
		return nil, err
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("decode amount %q: %w", amount, err)
	}
	rec.Amount = parsed
	rec.Rail = domain.Rail(rail)
	rec.Status = domain.DonationStatus(status)
	rec.FinalizedAt = finalizedAt
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &rec, nil
}

func nonNilMeta(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

var _ domain.LedgerStore = (*LedgerPG)(nil)
