package scheduler

import (
	"context"
	"sync"
	"time"

	"govledger/federation"
	"govledger/governance"
	"govledger/logger"
)

// Scheduler drives the periodic work of the node on tickers: federation
// consistency checks and proposal deadline sweeps. Both loops stop when
// the context is cancelled; there are no bare sleeps.
type Scheduler struct {
	checker *federation.Checker
	gov     *governance.Engine
	peers   []federation.PeerEndpoint

	checkInterval time.Duration
	sweepInterval time.Duration

	mu         sync.RWMutex
	lastReport *federation.Report
}

// New creates a scheduler.
func New(checker *federation.Checker, gov *governance.Engine, peers []federation.PeerEndpoint, checkInterval, sweepInterval time.Duration) *Scheduler {
	return &Scheduler{
		checker:       checker,
		gov:           gov,
		peers:         peers,
		checkInterval: checkInterval,
		sweepInterval: sweepInterval,
	}
}

// Run blocks until ctx is cancelled, running both loops. An immediate
// first federation check runs before the ticker cadence starts.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.runChecks(ctx)
	}()
	go func() {
		defer wg.Done()
		s.runSweeps(ctx)
	}()
	wg.Wait()
	logger.Logger.Info("Scheduler stopped")
}

func (s *Scheduler) runChecks(ctx context.Context) {
	if len(s.peers) == 0 {
		logger.Logger.Info("No federation peers configured, check loop idle")
		return
	}

	s.storeReport(s.checker.Check(ctx, s.peers))

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.storeReport(s.checker.Check(ctx, s.peers))
		}
	}
}

func (s *Scheduler) runSweeps(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.gov.SweepDeadlines(time.Now())
		}
	}
}

func (s *Scheduler) storeReport(r *federation.Report) {
	s.mu.Lock()
	s.lastReport = r
	s.mu.Unlock()
}

// LatestReport returns the most recent federation report, or nil before
// the first check completes.
func (s *Scheduler) LatestReport() *federation.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReport
}
