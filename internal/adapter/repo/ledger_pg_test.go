package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"crowdfund/internal/domain"
	"crowdfund/internal/sqlinline"
)

type stubRow struct {
	scan func(dest ...any) error
}

func (r stubRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

// stubSQL answers QueryRow by query constant and records the queries it saw.
type stubSQL struct {
	rows map[string]stubRow
	seen []string
	args map[string][]any
}

func (s *stubSQL) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (s *stubSQL) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	s.seen = append(s.seen, query)
	if s.args == nil {
		s.args = map[string][]any{}
	}
	s.args[query] = args
	return s.rows[query]
}

func (s *stubSQL) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func donationScanner(status string, amount string) func(dest ...any) error {
	return func(dest ...any) error {
		if len(dest) != 12 {
			return errors.New("unexpected column count")
		}
		*dest[0].(*string) = "7c2d7c4e-0000-4000-8000-000000000001"
		*dest[1].(*string) = "p1"
		*dest[2].(*string) = "u1"
		*dest[3].(*string) = amount
		*dest[4].(*string) = "USD"
		*dest[5].(*string) = "CARD"
		*dest[6].(*string) = "cs_1"
		*dest[7].(*string) = status
		*dest[8].(*string) = ""
		*dest[9].(*[]byte) = []byte(`{"country":"ID"}`)
		*dest[10].(*time.Time) = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		return nil
	}
}

func TestLedgerPGInsertDuplicateReturnsExisting(t *testing.T) {
	sql := &stubSQL{rows: map[string]stubRow{
		sqlinline.QInsertDonationIfAbsent: {},
		sqlinline.QSelectDonationByKey:    {scan: donationScanner("CONFIRMED", "50.00")},
	}}
	ledger := NewLedgerPG(sql)

	rec, created, err := ledger.InsertIfAbsent(context.Background(), &domain.DonationRecord{
		ID:          "new-id",
		ProjectID:   "p1",
		DonorID:     "u1",
		Amount:      decimal.NewFromInt(50),
		Currency:    "USD",
		Rail:        domain.RailCard,
		ExternalRef: "cs_1",
		Status:      domain.DonationPending,
	})
	if err != nil {
		t.Fatalf("InsertIfAbsent() error: %v", err)
	}
	if created {
		t.Fatalf("InsertIfAbsent() reported created for a duplicate")
	}
	if rec.Status != domain.DonationConfirmed || !rec.Amount.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("InsertIfAbsent() returned %+v", rec)
	}
	if rec.Metadata["country"] != "ID" {
		t.Fatalf("metadata not decoded: %#v", rec.Metadata)
	}
}

func TestLedgerPGTransitionStale(t *testing.T) {
	sql := &stubSQL{rows: map[string]stubRow{
		sqlinline.QTransitionDonation:  {},
		sqlinline.QSelectDonationByKey: {scan: donationScanner("VOIDED", "50")},
	}}
	ledger := NewLedgerPG(sql)
	key := domain.DonationKey{Rail: domain.RailCard, ExternalRef: "cs_1"}

	_, err := ledger.Transition(context.Background(), key, domain.DonationPending, domain.DonationConfirmed, domain.DeltaCredit, "")
	if !errors.Is(err, domain.ErrStaleTransition) {
		t.Fatalf("Transition() error = %v, want ErrStaleTransition", err)
	}
	args := sql.args[sqlinline.QTransitionDonation]
	if len(args) != 7 || args[4] != 1 {
		t.Fatalf("Transition() args = %#v, want delta 1 at position 5", args)
	}
}

func TestLedgerPGTransitionMissing(t *testing.T) {
	sql := &stubSQL{rows: map[string]stubRow{}}
	ledger := NewLedgerPG(sql)
	_, err := ledger.Transition(context.Background(), domain.DonationKey{Rail: domain.RailCard, ExternalRef: "nope"}, domain.DonationPending, domain.DonationConfirmed, domain.DeltaCredit, "")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Transition() error = %v, want ErrNotFound", err)
	}
}

func TestProjectRepositoryPGGetRejectsMalformedID(t *testing.T) {
	sql := &stubSQL{rows: map[string]stubRow{}}
	repo := NewProjectRepositoryPG(sql)
	if _, err := repo.Get(context.Background(), "not-a-uuid"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	if len(sql.seen) != 0 {
		t.Fatalf("malformed id reached the database")
	}
}

func TestDecodeTotals(t *testing.T) {
	totals, err := decodeTotals([]byte(`{"USD":"125.50","SOL":"0.25"}`))
	if err != nil {
		t.Fatalf("decodeTotals() error: %v", err)
	}
	if !totals["USD"].Equal(decimal.RequireFromString("125.5")) || !totals["SOL"].Equal(decimal.RequireFromString("0.25")) {
		t.Fatalf("decodeTotals() = %v", totals)
	}
}
