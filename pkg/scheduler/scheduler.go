package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/owasp/nest/pkg/importer"
	"github.com/owasp/nest/pkg/log"
)

var logger = log.ForService("scheduler")

type Config struct {
	// SyncInterval of 0 disables periodic imports.
	SyncInterval time.Duration
	// OptimizeInterval of 0 disables periodic optimization.
	OptimizeInterval time.Duration
	// SyncOnStart runs an import right after Start.
	SyncOnStart bool
}

type Syncer interface {
	Sync(ctx context.Context) (importer.Result, error)
}

type Optimizer interface {
	OptimizeAll(ctx context.Context) error
}

// Scheduler runs imports and index optimization on their own tickers.
// Imports never overlap: a tick arriving while one runs is skipped.
type Scheduler struct {
	config    Config
	syncer    Syncer
	optimizer Optimizer

	mu        sync.Mutex
	running   bool
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup

	syncMu     sync.Mutex
	lastSync   time.Time
	lastResult importer.Result
	lastErr    error
}

// New returns a stopped scheduler. syncer may be nil when imports are disabled.
func New(config Config, syncer Syncer, optimizer Optimizer) *Scheduler {
	return &Scheduler{
		config:    config,
		syncer:    syncer,
		optimizer: optimizer,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	ctx, s.ctxCancel = context.WithCancel(ctx)
	s.running = true

	if s.syncer != nil && s.config.SyncInterval > 0 {
		s.wg.Add(1)
		go s.loop(ctx, "sync", s.config.SyncInterval, s.syncTick)
		logger.Infof("import scheduled every %v", s.config.SyncInterval)
	} else {
		logger.Infof("periodic import disabled")
	}

	if s.optimizer != nil && s.config.OptimizeInterval > 0 {
		s.wg.Add(1)
		go s.loop(ctx, "optimize", s.config.OptimizeInterval, s.optimize)
		logger.Infof("optimization scheduled every %v", s.config.OptimizeInterval)
	}

	if s.syncer != nil && s.config.SyncOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.syncTick(ctx)
		}()
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debugf("%s loop stopped", name)
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (s *Scheduler) syncTick(ctx context.Context) {
	if !s.syncMu.TryLock() {
		logger.Debugf("import already running, skipping tick")
		return
	}
	defer s.syncMu.Unlock()
	s.syncLocked(ctx)
}

// SyncNow runs an import and waits for it, queueing behind one in progress.
func (s *Scheduler) SyncNow(ctx context.Context) (importer.Result, error) {
	if s.syncer == nil {
		return importer.Result{}, errors.New("scheduler: no importer configured")
	}
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	return s.syncLocked(ctx)
}

func (s *Scheduler) syncLocked(ctx context.Context) (importer.Result, error) {
	result, err := s.syncer.Sync(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorf("import failed: %v", err)
	}
	s.lastSync = time.Now()
	s.lastResult = result
	s.lastErr = err
	return result, err
}

// LastSync returns the outcome of the most recent import, zero time when
// none ran yet.
func (s *Scheduler) LastSync() (time.Time, importer.Result, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	return s.lastSync, s.lastResult, s.lastErr
}

func (s *Scheduler) optimize(ctx context.Context) {
	logger.Infof("optimizing indexes")
	if err := s.optimizer.OptimizeAll(ctx); err != nil {
		logger.Errorf("optimization failed: %v", err)
	}
}

// Stop cancels the loops and waits for a running import to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.ctxCancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	logger.Infof("scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
