package enhance

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stratahq/strata/config"
)

// memoryPressureThreshold is the used-memory percentage above which the
// processor logs a warning before each pass.
const memoryPressureThreshold = 85.0

// cleanupInterval is how often a running processor prunes terminal queue
// items past retention.
const cleanupInterval = time.Hour

// Processor drains the enhancement queue: a small pool of workers polls for
// pending items, rate-limits enhancement application, and records each
// item's outcome back on the queue.
type Processor struct {
	queue   *Queue
	service *Service
	logger  *zap.SugaredLogger

	mu      sync.RWMutex
	cfg     config.EnhanceConfig
	limiter *rate.Limiter

	cancel      context.CancelFunc
	wg          sync.WaitGroup
	lastCleanup time.Time
	cleanupMu   sync.Mutex
}

// NewProcessor creates a queue processor.
func NewProcessor(queue *Queue, service *Service, cfg config.EnhanceConfig, logger *zap.SugaredLogger) *Processor {
	return &Processor{
		queue:   queue,
		service: service,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		logger:  logger,
	}
}

// SetConfig applies new thresholds to a running processor, typically from a
// config reload callback. Worker count changes take effect on next Start.
func (p *Processor) SetConfig(cfg config.EnhanceConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cfg.RatePerSecond != p.cfg.RatePerSecond {
		p.limiter.SetLimit(rate.Limit(cfg.RatePerSecond))
	}
	p.cfg = cfg
	p.service.checker.SetConfig(cfg)
}

func (p *Processor) config() config.EnhanceConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Start launches the worker pool. Stop (or cancelling the parent context)
// shuts it down; in-flight items finish first.
func (p *Processor) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	cfg := p.config()

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.logger.Infow("Enhancement processor started",
		"workers", workers,
		"poll_interval_seconds", cfg.PollIntervalSeconds,
		"rate_per_second", cfg.RatePerSecond,
	)
}

// Stop shuts the worker pool down and waits for in-flight items.
func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Infow("Enhancement processor stopped")
}

func (p *Processor) run(ctx context.Context, worker int) {
	defer p.wg.Done()

	for {
		interval := time.Duration(p.config().PollIntervalSeconds) * time.Second
		if interval <= 0 {
			interval = 5 * time.Second
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		p.checkMemoryPressure()
		if _, err := p.DrainQueue(ctx, 0); err != nil && ctx.Err() == nil {
			p.logger.Errorw("Queue pass failed", "worker", worker, "error", err)
		}
		p.maybeCleanup(ctx)
	}
}

// DrainQueue processes pending items in one pass: claim, rate-limit, apply,
// record outcome. maxItems <= 0 means keep going until the queue is empty.
// Returns the number of items processed.
func (p *Processor) DrainQueue(ctx context.Context, maxItems int) (int, error) {
	processed := 0
	for maxItems <= 0 || processed < maxItems {
		item, err := p.queue.Claim(ctx)
		if err != nil {
			return processed, err
		}
		if item == nil {
			return processed, nil
		}

		if err := p.processItem(ctx, item); err != nil {
			return processed, err
		}
		processed++
	}
	return processed, nil
}

func (p *Processor) processItem(ctx context.Context, item *Item) error {
	if err := p.limiter.Wait(ctx); err != nil {
		// Shutdown mid-wait: put the claim back so the item is not stranded
		// in processing. The write must outlive the cancelled context.
		return p.queue.transition(context.WithoutCancel(ctx), item.ID, StatusPending, "")
	}

	outcome, err := p.service.AutoEnhance(ctx, item.EntityType, item.FragmentKey, item.OwnerScope)
	if err != nil {
		p.logger.Warnw("Enhancement attempt failed",
			"entity_type", item.EntityType,
			"fragment_key", item.FragmentKey,
			"retry_count", item.RetryCount,
			"error", err,
		)
		return p.queue.MarkFailed(ctx, item.ID, err, p.config().MaxRetries)
	}

	if outcome.Applied {
		return p.queue.MarkCompleted(ctx, item.ID)
	}
	return p.queue.MarkSkipped(ctx, item.ID, outcome.Reason)
}

func (p *Processor) maybeCleanup(ctx context.Context) {
	p.cleanupMu.Lock()
	due := time.Since(p.lastCleanup) >= cleanupInterval
	if due {
		p.lastCleanup = time.Now()
	}
	p.cleanupMu.Unlock()
	if !due {
		return
	}

	retention := time.Duration(p.config().RetentionDays) * 24 * time.Hour
	if _, err := p.queue.CleanupOld(ctx, retention); err != nil && ctx.Err() == nil {
		p.logger.Errorw("Queue cleanup failed", "error", err)
	}
}

// checkMemoryPressure warns when system memory is running hot so operators
// can correlate slow passes with host pressure.
func (p *Processor) checkMemoryPressure() {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return
	}
	if vm.UsedPercent > memoryPressureThreshold {
		p.logger.Warnw("High memory pressure during queue processing",
			"used_percent", vm.UsedPercent,
			"available_mb", vm.Available/1024/1024,
		)
	}
}
