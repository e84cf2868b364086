package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"crowdfund/internal/domain"
	"crowdfund/internal/infra"
)

// PendingSource lists donations still waiting for a rail verdict.
type PendingSource interface {
	ListPendingOlderThan(ctx context.Context, age time.Duration, limit int) ([]domain.DonationRecord, error)
}

// Verifier re-checks a payment reference at the rail.
type Verifier interface {
	VerifyReference(ctx context.Context, rail domain.Rail, ref string) (*domain.VerifiedEvent, error)
}

// Settler applies the final transitions. donation.Recorder satisfies it.
// Settle confirms a record only when the verified transfer matches it and
// voids it otherwise.
type Settler interface {
	Settle(ctx context.Context, key domain.DonationKey, ev domain.VerifiedEvent) (*domain.DonationRecord, error)
	Void(ctx context.Context, key domain.DonationKey, reason string) (*domain.DonationRecord, error)
}

// Options tunes the poller. Zero values fall back to defaults.
type Options struct {
	Interval time.Duration
	// MinAge keeps the poller away from records the push path is still settling.
	MinAge time.Duration
	// Timeout voids records still unresolved this long after creation.
	Timeout time.Duration
	// RailTimeouts overrides Timeout per rail.
	RailTimeouts map[domain.Rail]time.Duration
	Concurrency  int
	BatchSize    int
	Lease        Lease
	Logger       *infra.Logger
	Now          func() time.Time
}

// SweepReport summarizes one pass over the pending records.
type SweepReport struct {
	Scanned   int
	Confirmed int
	Voided    int
	TimedOut  int
	Pending   int
	Errors    int
	// Skipped is set when another replica held the lease.
	Skipped bool
}

type outcome int

const (
	outcomePending outcome = iota
	outcomeConfirmed
	outcomeVoided
	outcomeTimedOut
	outcomeError
	outcomeRaced
)

// Poller resolves donations stuck in PENDING.
type Poller struct {
	source   PendingSource
	verifier Verifier
	settler  Settler
	opts     Options
	logger   *infra.Logger
}

func NewPoller(source PendingSource, verifier Verifier, settler Settler, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.MinAge <= 0 {
		opts.MinAge = time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Hour
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	if opts.Lease == nil {
		opts.Lease = LocalLease{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	return &Poller{source: source, verifier: verifier, settler: settler, opts: opts, logger: logger}
}

// Run sweeps immediately and then on every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info().Dur("interval", p.opts.Interval).Msg("reconcile: started")
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()
	for {
		if _, err := p.Sweep(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error().Err(err).Msg("reconcile: sweep failed")
		}
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("reconcile: stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep makes one pass over pending records. Verifier failures leave a
// record PENDING for the next pass and are counted, not returned.
func (p *Poller) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	release, ok, err := p.opts.Lease.Acquire(ctx, p.leaseTTL())
	if err != nil {
		return report, err
	}
	if !ok {
		report.Skipped = true
		p.logger.Debug().Msg("reconcile: lease held elsewhere, skipping sweep")
		return report, nil
	}
	defer func() {
		// The sweep context may already be cancelled; release on a fresh one.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := release(rctx); err != nil {
			p.logger.Warn().Err(err).Msg("reconcile: lease release failed")
		}
	}()

	records, err := p.source.ListPendingOlderThan(ctx, p.opts.MinAge, p.opts.BatchSize)
	if err != nil {
		return report, err
	}
	report.Scanned = len(records)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for _, rec := range records {
		g.Go(func() error {
			o := p.reconcile(gctx, rec)
			mu.Lock()
			report.add(o)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if report.Scanned > 0 {
		p.logger.Info().
			Int("scanned", report.Scanned).
			Int("confirmed", report.Confirmed).
			Int("voided", report.Voided).
			Int("timed_out", report.TimedOut).
			Int("pending", report.Pending).
			Int("errors", report.Errors).
			Msg("reconcile: sweep finished")
	}
	return report, ctx.Err()
}

func (p *Poller) leaseTTL() time.Duration {
	ttl := 2 * p.opts.Interval
	if ttl < 30*time.Second {
		ttl = 30 * time.Second
	}
	return ttl
}

func (r *SweepReport) add(o outcome) {
	switch o {
	case outcomeConfirmed:
		r.Confirmed++
	case outcomeVoided:
		r.Voided++
	case outcomeTimedOut:
		r.TimedOut++
	case outcomeError:
		r.Errors++
	case outcomePending:
		r.Pending++
	}
}

func (p *Poller) reconcile(ctx context.Context, rec domain.DonationRecord) outcome {
	key := rec.Key()
	log := p.logger.With().Str("donation", key.String()).Logger()

	ev, err := p.verifier.VerifyReference(ctx, rec.Rail, rec.ExternalRef)
	switch {
	case err == nil:
		var settled *domain.DonationRecord
		o := p.settle(log, outcomeConfirmed, func() error {
			var err error
			settled, err = p.settler.Settle(ctx, key, *ev)
			return err
		})
		if o == outcomeConfirmed && settled.Status == domain.DonationVoided {
			return outcomeVoided
		}
		return o
	case errors.Is(err, domain.ErrPaymentFailed):
		reason := domain.ReasonRailFailure
		if ev != nil && ev.Reason != "" {
			reason = ev.Reason
		}
		return p.settle(log, outcomeVoided, func() error {
			_, err := p.settler.Void(ctx, key, reason)
			return err
		})
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNotYetFinal):
		age := p.opts.Now().Sub(rec.CreatedAt)
		if age < p.timeout(rec.Rail) {
			return outcomePending
		}
		log.Info().
			Err(fmt.Errorf("%w after %s: %v", domain.ErrTimeout, age.Round(time.Second), err)).
			Msg("reconcile: voiding unresolved donation")
		return p.settle(log, outcomeTimedOut, func() error {
			_, err := p.settler.Void(ctx, key, domain.ReasonTimeout)
			return err
		})
	default:
		log.Warn().Err(err).Msg("reconcile: verification failed, will retry")
		return outcomeError
	}
}

func (p *Poller) settle(log zerolog.Logger, want outcome, apply func() error) outcome {
	err := apply()
	if err == nil {
		return want
	}
	if errors.Is(err, domain.ErrStaleTransition) {
		log.Debug().Err(err).Msg("reconcile: record settled concurrently")
		return outcomeRaced
	}
	log.Error().Err(err).Msg("reconcile: transition failed")
	return outcomeError
}

func (p *Poller) timeout(rail domain.Rail) time.Duration {
	if d, ok := p.opts.RailTimeouts[rail]; ok && d > 0 {
		return d
	}
	return p.opts.Timeout
}
