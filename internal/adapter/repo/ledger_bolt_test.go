package repo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"crowdfund/internal/domain"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newBoltStore(t *testing.T, clock *fakeClock) *BoltStore {
	t.Helper()
	s, err := OpenBolt(filepath.Join(t.TempDir(), "ledger.db"), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("OpenBolt() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedProject(t *testing.T, s *BoltStore, id string) {
	t.Helper()
	err := s.Create(context.Background(), &domain.Project{
		ID:          id,
		Title:       "Protein folding sweep",
		Author:      "A. Researcher",
		Description: "GPU time for folding runs",
		HPCProvider: "lambda",
		GPUHours:    decimal.NewFromInt(100),
		GoalAmount:  decimal.NewFromInt(1000),
		Currency:    "USD",
		CreatorID:   "creator-1",
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
}

func pendingRecord(ref string, amount int64, created time.Time) *domain.DonationRecord {
	return &domain.DonationRecord{
		ID:          "id-" + ref,
		ProjectID:   "p1",
		DonorID:     "u1",
		Amount:      decimal.NewFromInt(amount),
		Currency:    "USD",
		Rail:        domain.RailCard,
		ExternalRef: ref,
		Status:      domain.DonationPending,
		CreatedAt:   created,
	}
}

func TestBoltInsertIfAbsentIsIdempotent(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)}
	s := newBoltStore(t, clock)
	seedProject(t, s, "p1")
	ctx := context.Background()

	first, created, err := s.InsertIfAbsent(ctx, pendingRecord("cs_1", 50, clock.t))
	if err != nil || !created {
		t.Fatalf("first InsertIfAbsent() = created %v, err %v", created, err)
	}

	retry := pendingRecord("cs_1", 75, clock.t.Add(time.Minute))
	retry.ID = "other-id"
	second, created, err := s.InsertIfAbsent(ctx, retry)
	if err != nil {
		t.Fatalf("retry InsertIfAbsent() error: %v", err)
	}
	if created {
		t.Fatalf("retry InsertIfAbsent() created a second record")
	}
	if second.ID != first.ID || !second.Amount.Equal(first.Amount) {
		t.Fatalf("retry returned %+v, want stored %+v", second, first)
	}
}

func TestBoltInsertRequiresProject(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := newBoltStore(t, clock)
	_, _, err := s.InsertIfAbsent(context.Background(), pendingRecord("cs_x", 5, clock.t))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("InsertIfAbsent() error = %v, want ErrNotFound", err)
	}
}

func TestBoltTransitionAppliesDelta(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)}
	s := newBoltStore(t, clock)
	seedProject(t, s, "p1")
	ctx := context.Background()
	key := domain.DonationKey{Rail: domain.RailCard, ExternalRef: "cs_2"}

	if _, _, err := s.InsertIfAbsent(ctx, pendingRecord("cs_2", 50, clock.t)); err != nil {
		t.Fatalf("InsertIfAbsent() error: %v", err)
	}
	rec, err := s.Transition(ctx, key, domain.DonationPending, domain.DonationConfirmed, domain.DeltaCredit, "")
	if err != nil {
		t.Fatalf("Transition() error: %v", err)
	}
	if rec.Status != domain.DonationConfirmed || rec.FinalizedAt == nil {
		t.Fatalf("Transition() returned %+v", rec)
	}
	p, _ := s.Get(ctx, "p1")
	if !p.RaisedAmount().Equal(decimal.NewFromInt(50)) {
		t.Fatalf("RaisedAmount() = %s, want 50", p.RaisedAmount())
	}

	if _, err := s.Transition(ctx, key, domain.DonationPending, domain.DonationConfirmed, domain.DeltaCredit, ""); !errors.Is(err, domain.ErrStaleTransition) {
		t.Fatalf("repeat Transition() error = %v, want ErrStaleTransition", err)
	}
	p, _ = s.Get(ctx, "p1")
	if !p.RaisedAmount().Equal(decimal.NewFromInt(50)) {
		t.Fatalf("stale transition moved total to %s", p.RaisedAmount())
	}

	if _, err := s.Transition(ctx, key, domain.DonationConfirmed, domain.DonationVoided, domain.DeltaDebit, domain.ReasonRefunded); err != nil {
		t.Fatalf("void Transition() error: %v", err)
	}
	p, _ = s.Get(ctx, "p1")
	if !p.RaisedAmount().IsZero() {
		t.Fatalf("RaisedAmount() after void = %s, want 0", p.RaisedAmount())
	}
}

func TestBoltTransitionRefusesNegativeTotal(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := newBoltStore(t, clock)
	seedProject(t, s, "p1")
	ctx := context.Background()
	key := domain.DonationKey{Rail: domain.RailCard, ExternalRef: "cs_3"}
	if _, _, err := s.InsertIfAbsent(ctx, pendingRecord("cs_3", 10, clock.t)); err != nil {
		t.Fatalf("InsertIfAbsent() error: %v", err)
	}
	if _, err := s.Transition(ctx, key, domain.DonationPending, domain.DonationVoided, domain.DeltaDebit, ""); err == nil {
		t.Fatalf("Transition() debiting an uncredited record should fail")
	}
	rec, _ := s.FindByKey(ctx, key)
	if rec.Status != domain.DonationPending {
		t.Fatalf("failed transition left status %s", rec.Status)
	}
}

func TestBoltListPendingOlderThan(t *testing.T) {
	now := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{t: now}
	s := newBoltStore(t, clock)
	seedProject(t, s, "p1")
	ctx := context.Background()

	for ref, created := range map[string]time.Time{
		"old-2": now.Add(-10 * time.Minute),
		"old-1": now.Add(-20 * time.Minute),
		"fresh": now.Add(-10 * time.Second),
	} {
		if _, _, err := s.InsertIfAbsent(ctx, pendingRecord(ref, 1, created)); err != nil {
			t.Fatalf("InsertIfAbsent(%s) error: %v", ref, err)
		}
	}
	if _, err := s.Transition(ctx, domain.DonationKey{Rail: domain.RailCard, ExternalRef: "old-2"}, domain.DonationPending, domain.DonationConfirmed, domain.DeltaCredit, ""); err != nil {
		t.Fatalf("Transition() error: %v", err)
	}
	if _, _, err := s.InsertIfAbsent(ctx, pendingRecord("old-3", 1, now.Add(-5*time.Minute))); err != nil {
		t.Fatalf("InsertIfAbsent() error: %v", err)
	}

	items, err := s.ListPendingOlderThan(ctx, time.Minute, 10)
	if err != nil {
		t.Fatalf("ListPendingOlderThan() error: %v", err)
	}
	if len(items) != 2 || items[0].ExternalRef != "old-1" || items[1].ExternalRef != "old-3" {
		t.Fatalf("ListPendingOlderThan() = %+v", items)
	}

	limited, _ := s.ListPendingOlderThan(ctx, time.Minute, 1)
	if len(limited) != 1 {
		t.Fatalf("limit ignored: %d items", len(limited))
	}
}

func TestBoltProjectUpdates(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := newBoltStore(t, clock)
	seedProject(t, s, "p1")
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, body := range []string{"first run queued", "first results"} {
		err := s.AddUpdate(ctx, &domain.ProjectUpdate{ID: body, ProjectID: "p1", Body: body, CreatedAt: base.Add(time.Duration(i) * time.Hour)})
		if err != nil {
			t.Fatalf("AddUpdate() error: %v", err)
		}
	}
	if err := s.AddUpdate(ctx, &domain.ProjectUpdate{ID: "x", ProjectID: "missing", Body: "x", CreatedAt: base}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("AddUpdate() on missing project error = %v", err)
	}

	updates, err := s.ListUpdates(ctx, "p1")
	if err != nil {
		t.Fatalf("ListUpdates() error: %v", err)
	}
	if len(updates) != 2 || updates[0].Body != "first results" {
		t.Fatalf("ListUpdates() = %+v", updates)
	}
}
