/*
scheduler.go - Periodic integrity sweep

PURPOSE:
  Recomputes every item's current level on an interval and logs each
  negative level. A negative level means usage was recorded against a count
  that was set too low; somebody has to recount or fix the log. The sweep
  only reports: it never writes to either log.

DESIGN:
  - Background goroutine with a configurable interval
  - Runs once immediately on Start
  - One batch read per sweep (Engine.CurrentLevels with no item filter)
  - The latest report is kept for inspection

USAGE:
  scheduler := NewIntegrityScheduler(engine, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - inventory/ledger.go: NegativeLevels, CurrentLevels
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/stock-ledger/inventory"
)

// IntegrityReport is the outcome of one sweep.
type IntegrityReport struct {
	CheckedAt time.Time
	Items     int
	Negative  []inventory.NegativeLevelWarning
	Err       error
}

// IntegrityScheduler periodically checks for negative levels.
type IntegrityScheduler struct {
	Engine        *inventory.Engine
	CheckInterval time.Duration
	Enabled       bool
	// Timeout bounds a single sweep.
	Timeout time.Duration

	logger zerolog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	reportMu sync.RWMutex
	last     *IntegrityReport
}

func NewIntegrityScheduler(engine *inventory.Engine, logger zerolog.Logger) *IntegrityScheduler {
	return &IntegrityScheduler{
		Engine:        engine,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Timeout:       time.Minute,
		logger:        logger.With().Str("component", "integrity").Logger(),
	}
}

// Start begins the scheduler.
func (s *IntegrityScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.logger.Info().Msg("integrity sweep disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.stop = make(chan struct{})
	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run()

	s.logger.Info().Dur("interval", s.CheckInterval).Msg("integrity sweep started")
}

// Stop stops the scheduler and waits for an in-flight sweep.
func (s *IntegrityScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.logger.Info().Msg("integrity sweep stopped")
	}
}

func (s *IntegrityScheduler) run() {
	defer s.wg.Done()

	s.RunOnce(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.RunOnce(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunOnce performs one sweep and records its report.
func (s *IntegrityScheduler) RunOnce(ctx context.Context) IntegrityReport {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	report := IntegrityReport{CheckedAt: s.Engine.Now().UTC()}

	levels, err := s.Engine.CurrentLevels(ctx, nil)
	if err != nil {
		report.Err = err
		s.logger.Error().Err(err).Msg("integrity sweep failed")
		s.setLast(report)
		return report
	}

	report.Items = len(levels)
	report.Negative = inventory.NegativeLevels(levels)
	for _, w := range report.Negative {
		s.logger.Warn().
			Str("item_id", string(w.ItemID)).
			Str("level", w.Level.String()).
			Msg("item needs recount: negative level")
	}
	s.logger.Info().
		Int("items", report.Items).
		Int("negative", len(report.Negative)).
		Msg("integrity sweep complete")

	s.setLast(report)
	return report
}

// LastReport returns the most recent sweep, or nil before the first one.
func (s *IntegrityScheduler) LastReport() *IntegrityReport {
	s.reportMu.RLock()
	defer s.reportMu.RUnlock()
	return s.last
}

func (s *IntegrityScheduler) setLast(r IntegrityReport) {
	s.reportMu.Lock()
	defer s.reportMu.Unlock()
	s.last = &r
}
