package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Prober runs one round of active probes against every provider.
type Prober interface {
	PerformHealthCheck(ctx context.Context)
}

// HealthChecker runs a Prober on a fixed schedule.
type HealthChecker struct {
	prober        Prober
	checkInterval time.Duration
	timeout       time.Duration
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	logger        *zap.Logger

	mu     sync.Mutex
	rounds int64
	last   time.Time
}

// NewHealthChecker creates a new health checker instance.
func NewHealthChecker(prober Prober, checkInterval, timeout time.Duration, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthChecker{
		prober:        prober,
		checkInterval: checkInterval,
		timeout:       timeout,
		stopChan:      make(chan struct{}),
		logger:        logger,
	}
}

// Start begins the health checking process.
func (hc *HealthChecker) Start() {
	if hc.checkInterval <= 0 {
		hc.logger.Info("Health checker disabled")
		return
	}
	hc.wg.Add(1)
	go hc.run()
	hc.logger.Info("Health checker started", zap.Duration("interval", hc.checkInterval))
}

// Stop stops the health checking process. It is safe to call more than once.
func (hc *HealthChecker) Stop() {
	hc.stopOnce.Do(func() {
		close(hc.stopChan)
	})
	hc.wg.Wait()
	hc.logger.Info("Health checker stopped")
}

// run is the main health checking loop.
func (hc *HealthChecker) run() {
	defer hc.wg.Done()

	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hc.ForceHealthCheck()
		case <-hc.stopChan:
			return
		}
	}
}

// ForceHealthCheck triggers an immediate probe round.
func (hc *HealthChecker) ForceHealthCheck() {
	ctx := context.Background()
	if hc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hc.timeout)
		defer cancel()
	}

	start := time.Now()
	hc.prober.PerformHealthCheck(ctx)

	hc.mu.Lock()
	hc.rounds++
	hc.last = time.Now()
	hc.mu.Unlock()

	hc.logger.Debug("Health check round finished", zap.Duration("duration", time.Since(start)))
}

// Rounds returns how many probe rounds have run and when the last finished.
func (hc *HealthChecker) Rounds() (int64, time.Time) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.rounds, hc.last
}

// GetCheckInterval returns the current health check interval.
func (hc *HealthChecker) GetCheckInterval() time.Duration {
	return hc.checkInterval
}
