package auctions

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultScanInterval is how often the lifecycle scanner runs
const DefaultScanInterval = 10 * time.Second

// Transition describes a lifecycle change committed by the scanner or inline expiry
type Transition struct {
	Auction *Auction
	From    Status
	To      Status
}

// TransitionHandler is notified after every committed transition
type TransitionHandler interface {
	HandleTransition(ctx context.Context, t Transition)
}

// ScanReport summarizes one scanner pass
type ScanReport struct {
	Started int
	Ended   int
	// Skipped counts auctions another writer transitioned first
	Skipped int
	Failed  int
}

// LifecycleScanner drives time-based transitions: pending to active once the
// start time is reached and active to sold/ended once the end time is reached.
type LifecycleScanner struct {
	store   Store
	handler TransitionHandler
	now     Clock
	logger  *slog.Logger
}

// ScannerOption configures a LifecycleScanner
type ScannerOption func(*LifecycleScanner)

// WithScannerClock overrides the time source
func WithScannerClock(c Clock) ScannerOption {
	return func(s *LifecycleScanner) { s.now = c }
}

// NewLifecycleScanner creates a new scanner
func NewLifecycleScanner(store Store, handler TransitionHandler, logger *slog.Logger, opts ...ScannerOption) *LifecycleScanner {
	s := &LifecycleScanner{
		store:   store,
		handler: handler,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes a pass immediately and then once per trigger until ctx is done
func (s *LifecycleScanner) Run(ctx context.Context, trigger <-chan time.Time) error {
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-trigger:
			if !ok {
				return nil
			}
			s.Tick(ctx)
		}
	}
}

// RunEvery runs the scanner on a fixed interval
func (s *LifecycleScanner) RunEvery(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	return s.Run(ctx, ticker.C)
}

// Tick performs one start pass followed by one end pass. Failures on one
// auction are logged and do not stop the rest of the batch.
func (s *LifecycleScanner) Tick(ctx context.Context) ScanReport {
	var report ScanReport
	now := s.now()

	s.pass(ctx, &report, Filter{Statuses: []Status{StatusPending}, StartDue: now}, StatusPending, startAuction, startedFrom, EventAuctionStarted)
	s.pass(ctx, &report, Filter{Statuses: []Status{StatusActive}, EndDue: now}, StatusActive, closeAuction, closedFrom, EventAuctionEnded)

	if report.Started+report.Ended+report.Failed > 0 {
		s.logger.Info("Lifecycle scan completed",
			"started", report.Started,
			"ended", report.Ended,
			"skipped", report.Skipped,
			"failed", report.Failed,
		)
	}
	return report
}

// landedCheck builds Update.Landed from the version the scanner read
type landedCheck func(version int64) func(a *Auction) bool

func (s *LifecycleScanner) pass(ctx context.Context, report *ScanReport, filter Filter, from Status, apply Mutation, landed landedCheck, event EventType) {
	due, err := s.store.Find(ctx, filter)
	if err != nil {
		s.logger.Error("Failed to find due auctions", "status", from, "error", err)
		report.Failed++
		return
	}

	for _, candidate := range due {
		if ctx.Err() != nil {
			return
		}
		s.transition(ctx, report, candidate, from, apply, landed, event)
	}
}

func (s *LifecycleScanner) transition(ctx context.Context, report *ScanReport, candidate *Auction, from Status, apply Mutation, landed landedCheck, event EventType) {
	id := candidate.ID
	updated, err := s.store.ConditionalUpdate(ctx, id, Update{
		Expect: Precondition{Status: from},
		Apply:  apply,
		Event:  event,
		Landed: landed(candidate.Version),
	})
	switch {
	case errors.Is(err, ErrConflict), errors.Is(err, ErrNotFound):
		s.logger.Debug("Auction already transitioned", "auction_id", id, "from", from)
		report.Skipped++
		return
	case err != nil:
		s.logger.Error("Failed to transition auction", "auction_id", id, "from", from, "error", err)
		report.Failed++
		return
	}

	if updated.Status == StatusActive {
		report.Started++
	} else {
		report.Ended++
	}

	if s.handler != nil {
		s.handler.HandleTransition(ctx, Transition{Auction: updated, From: from, To: updated.Status})
	}
}
