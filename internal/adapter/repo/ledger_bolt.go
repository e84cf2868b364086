package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/shopspring/decimal"

	"crowdfund/internal/domain"
)

var (
	donationsBucket = []byte("donations")
	projectsBucket  = []byte("projects")
	updatesBucket   = []byte("project_updates")
)

// BoltStore is an embedded ledger and project store for single-node
// deployments and tests. Each call runs in one bolt transaction; bolt allows a
// single writer at a time, which serializes transitions on the same key.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// BoltOption customizes a BoltStore.
type BoltOption func(*BoltStore)

// WithClock overrides the clock used for finalization stamps and age cutoffs.
func WithClock(now func() time.Time) BoltOption {
	return func(s *BoltStore) { s.now = now }
}

// OpenBolt opens (or creates) the bolt file at path and ensures all buckets exist.
func OpenBolt(path string, opts ...BoltOption) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{donationsBucket, projectsBucket, updatesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init bolt buckets: %w", err)
	}
	s := &BoltStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the database file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

type boltDonation struct {
	ID          string            `json:"id"`
	ProjectID   string            `json:"project_id"`
	DonorID     string            `json:"donor_id"`
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency"`
	Rail        string            `json:"rail"`
	ExternalRef string            `json:"external_ref"`
	Status      string            `json:"status"`
	Reason      string            `json:"reason,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	FinalizedAt *time.Time        `json:"finalized_at,omitempty"`
}

func toBoltDonation(r *domain.DonationRecord) boltDonation {
	return boltDonation{
		ID:          r.ID,
		ProjectID:   r.ProjectID,
		DonorID:     r.DonorID,
		Amount:      r.Amount,
		Currency:    r.Currency,
		Rail:        string(r.Rail),
		ExternalRef: r.ExternalRef,
		Status:      string(r.Status),
		Reason:      r.Reason,
		Metadata:    r.Metadata,
		CreatedAt:   r.CreatedAt,
		FinalizedAt: r.FinalizedAt,
	}
}

func (b boltDonation) record() domain.DonationRecord {
	return domain.DonationRecord{
		ID:          b.ID,
		ProjectID:   b.ProjectID,
		DonorID:     b.DonorID,
		Amount:      b.Amount,
		Currency:    b.Currency,
		Rail:        domain.Rail(b.Rail),
		ExternalRef: b.ExternalRef,
		Status:      domain.DonationStatus(b.Status),
		Reason:      b.Reason,
		Metadata:    b.Metadata,
		CreatedAt:   b.CreatedAt,
		FinalizedAt: b.FinalizedAt,
	}
}

type boltProject struct {
	ID            string                     `json:"id"`
	Title         string                     `json:"title"`
	Author        string                     `json:"author"`
	ORCID         string                     `json:"orcid,omitempty"`
	Description   string                     `json:"description"`
	MediaURL      string                     `json:"media_url,omitempty"`
	HPCProvider   string                     `json:"hpc_provider"`
	GPUHours      decimal.Decimal            `json:"gpu_hours"`
	GoalAmount    decimal.Decimal            `json:"goal_amount"`
	Currency      string                     `json:"currency"`
	WalletAddress string                     `json:"wallet_address,omitempty"`
	CreatorID     string                     `json:"creator_id"`
	CreatedAt     time.Time                  `json:"created_at"`
	Totals        map[string]decimal.Decimal `json:"totals"`
}

func (b boltProject) project() domain.Project {
	totals := make(map[string]decimal.Decimal, len(b.Totals))
	for k, v := range b.Totals {
		totals[k] = v
	}
	return domain.Project{
		ID:            b.ID,
		Title:         b.Title,
		Author:        b.Author,
		ORCID:         b.ORCID,
		Description:   b.Description,
		MediaURL:      b.MediaURL,
		HPCProvider:   b.HPCProvider,
		GPUHours:      b.GPUHours,
		GoalAmount:    b.GoalAmount,
		Currency:      b.Currency,
		WalletAddress: b.WalletAddress,
		CreatorID:     b.CreatorID,
		CreatedAt:     b.CreatedAt,
		Totals:        totals,
	}
}

func donationKey(key domain.DonationKey) []byte {
	return []byte(key.String())
}

func getDonation(b *bolt.Bucket, key domain.DonationKey) (*boltDonation, error) {
	raw := b.Get(donationKey(key))
	if raw == nil {
		return nil, fmt.Errorf("donation %s: %w", key, domain.ErrNotFound)
	}
	var d boltDonation
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode donation %s: %w", key, err)
	}
	return &d, nil
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

// InsertIfAbsent stores rec unless its key exists; the existing record is
// returned unchanged on a repeat.
func (s *BoltStore) InsertIfAbsent(_ context.Context, rec *domain.DonationRecord) (*domain.DonationRecord, bool, error) {
	var (
		result  domain.DonationRecord
		created bool
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(donationsBucket)
		if existing, err := getDonation(b, rec.Key()); err == nil {
			result = existing.record()
			return nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if tx.Bucket(projectsBucket).Get([]byte(rec.ProjectID)) == nil {
			return fmt.Errorf("project %q: %w", rec.ProjectID, domain.ErrNotFound)
		}
		created = true
		result = *rec
		return putJSON(b, donationKey(rec.Key()), toBoltDonation(rec))
	})
	if err != nil {
		return nil, false, err
	}
	return &result, created, nil
}

// Transition moves a record from expected to next and applies delta to the
// project total inside one write transaction.
func (s *BoltStore) Transition(_ context.Context, key domain.DonationKey, expected, next domain.DonationStatus, delta domain.AggregateDelta, reason string) (*domain.DonationRecord, error) {
	var result domain.DonationRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(donationsBucket)
		d, err := getDonation(b, key)
		if err != nil {
			return err
		}
		if domain.DonationStatus(d.Status) != expected {
			return fmt.Errorf("%w: %s is %s, not %s", domain.ErrStaleTransition, key, d.Status, expected)
		}
		if delta != domain.DeltaNone {
			if err := s.applyDelta(tx, d, delta); err != nil {
				return err
			}
		}
		now := s.now().UTC()
		d.Status = string(next)
		d.Reason = reason
		d.FinalizedAt = &now
		if err := putJSON(b, donationKey(key), d); err != nil {
			return err
		}
		result = d.record()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *BoltStore) applyDelta(tx *bolt.Tx, d *boltDonation, delta domain.AggregateDelta) error {
	pb := tx.Bucket(projectsBucket)
	raw := pb.Get([]byte(d.ProjectID))
	if raw == nil {
		return fmt.Errorf("project %q: %w", d.ProjectID, domain.ErrNotFound)
	}
	var p boltProject
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decode project %q: %w", d.ProjectID, err)
	}
	if p.Totals == nil {
		p.Totals = map[string]decimal.Decimal{}
	}
	total := p.Totals[d.Currency].Add(delta.Apply(d.Amount))
	if total.IsNegative() {
		return fmt.Errorf("project %q total in %s would go negative", d.ProjectID, d.Currency)
	}
	p.Totals[d.Currency] = total
	return putJSON(pb, []byte(p.ID), p)
}

// FindByKey returns the record for key or domain.ErrNotFound.
func (s *BoltStore) FindByKey(_ context.Context, key domain.DonationKey) (*domain.DonationRecord, error) {
	var result domain.DonationRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		d, err := getDonation(tx.Bucket(donationsBucket), key)
		if err != nil {
			return err
		}
		result = d.record()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ListPendingOlderThan scans for PENDING records created at least age ago, oldest first.
func (s *BoltStore) ListPendingOlderThan(_ context.Context, age time.Duration, limit int) ([]domain.DonationRecord, error) {
	cutoff := s.now().Add(-age)
	items, err := s.scanDonations(func(d boltDonation) bool {
		return d.Status == string(domain.DonationPending) && !d.CreatedAt.After(cutoff)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return truncate(items, limit), nil
}

// ListByDonor returns the donor's records, newest first.
func (s *BoltStore) ListByDonor(_ context.Context, donorID string, limit int) ([]domain.DonationRecord, error) {
	items, err := s.scanDonations(func(d boltDonation) bool { return d.DonorID == donorID })
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return truncate(items, limit), nil
}

func (s *BoltStore) scanDonations(keep func(boltDonation) bool) ([]domain.DonationRecord, error) {
	var items []domain.DonationRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(donationsBucket).ForEach(func(_, v []byte) error {
			var d boltDonation
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if keep(d) {
				items = append(items, d.record())
			}
			return nil
		})
	})
	return items, err
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

// Create stores a new project with empty totals.
func (s *BoltStore) Create(_ context.Context, p *domain.Project) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(projectsBucket)
		if b.Get([]byte(p.ID)) != nil {
			return fmt.Errorf("project %q already exists", p.ID)
		}
		return putJSON(b, []byte(p.ID), boltProject{
			ID:            p.ID,
			Title:         p.Title,
			Author:        p.Author,
			ORCID:         p.ORCID,
			Description:   p.Description,
			MediaURL:      p.MediaURL,
			HPCProvider:   p.HPCProvider,
			GPUHours:      p.GPUHours,
			GoalAmount:    p.GoalAmount,
			Currency:      p.Currency,
			WalletAddress: p.WalletAddress,
			CreatorID:     p.CreatorID,
			CreatedAt:     p.CreatedAt,
			Totals:        map[string]decimal.Decimal{},
		})
	})
}

// Get returns a project with its totals.
func (s *BoltStore) Get(_ context.Context, id string) (*domain.Project, error) {
	var result domain.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(projectsBucket).Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("project %q: %w", id, domain.ErrNotFound)
		}
		var p boltProject
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		result = p.project()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// List returns the most recent projects.
func (s *BoltStore) List(_ context.Context, limit int) ([]domain.Project, error) {
	items, err := s.scanProjects(func(domain.Project) bool { return true })
	if err != nil {
		return nil, err
	}
	return truncate(items, limit), nil
}

// ListByCreator returns the projects created by the given user.
func (s *BoltStore) ListByCreator(_ context.Context, creatorID string) ([]domain.Project, error) {
	return s.scanProjects(func(p domain.Project) bool { return p.CreatorID == creatorID })
}

func (s *BoltStore) scanProjects(keep func(domain.Project) bool) ([]domain.Project, error) {
	var items []domain.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(projectsBucket).ForEach(func(_, v []byte) error {
			var p boltProject
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if project := p.project(); keep(project) {
				items = append(items, project)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

// AddUpdate stores a progress note keyed by project and creation time.
func (s *BoltStore) AddUpdate(_ context.Context, u *domain.ProjectUpdate) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(projectsBucket).Get([]byte(u.ProjectID)) == nil {
			return fmt.Errorf("project %q: %w", u.ProjectID, domain.ErrNotFound)
		}
		key := []byte(u.ProjectID + "/" + u.CreatedAt.UTC().Format(time.RFC3339Nano) + "/" + u.ID)
		return putJSON(tx.Bucket(updatesBucket), key, u)
	})
}

// ListUpdates returns a project's updates, newest first.
func (s *BoltStore) ListUpdates(_ context.Context, projectID string) ([]domain.ProjectUpdate, error) {
	var items []domain.ProjectUpdate
	prefix := []byte(projectID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(updatesBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var u domain.ProjectUpdate
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			items = append(items, u)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

var (
	_ domain.LedgerStore       = (*BoltStore)(nil)
	_ domain.ProjectRepository = (*BoltStore)(nil)
)
