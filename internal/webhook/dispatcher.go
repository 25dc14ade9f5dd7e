// Package webhook delivers queued payment events to tenant endpoints.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"swiftpay/internal/domain"
	"swiftpay/internal/metrics"
	"swiftpay/internal/repository"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	baseBackoff = 10 * time.Second
	maxBackoff  = time.Hour
)

type Config struct {
	Workers      int
	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int
	Timeout      time.Duration
}

// Dispatcher claims due outbox rows and posts them through a bounded worker pool.
type Dispatcher struct {
	repo   repository.WebhookDeliveryRepository
	client *http.Client
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	jobs     chan *domain.WebhookDelivery
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	loopDone chan struct{}
}

func NewDispatcher(repo repository.WebhookDeliveryRepository, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Dispatcher{
		repo:   repo,
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		jobs:   make(chan *domain.WebhookDelivery, cfg.BatchSize),
	}
}

// Start launches the workers and the claim loop. Stop must be called to release them.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	workerCtx := context.WithoutCancel(ctx)

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(workerCtx)
	}

	d.loopDone = make(chan struct{})
	go d.loop(ctx)

	d.logger.Info("webhook dispatcher started",
		zap.Int("workers", d.cfg.Workers),
		zap.Duration("poll_interval", d.cfg.PollInterval))
}

// Stop ends the claim loop and waits for in-flight deliveries.
func (d *Dispatcher) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.loopDone
	close(d.jobs)
	d.wg.Wait()
	d.logger.Info("webhook dispatcher stopped")
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.loopDone)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.dispatchDue(ctx)
		}
	}
}

// dispatchDue claims a batch and hands it to the pool. Rows the pool cannot
// take right now stay leased and are claimed again once the lease runs out.
func (d *Dispatcher) dispatchDue(ctx context.Context) int {
	deliveries, err := d.repo.ClaimDue(ctx, d.cfg.BatchSize, d.lease())
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Error("failed to claim webhook deliveries", zap.Error(err))
		}
		return 0
	}

	submitted := 0
	for _, delivery := range deliveries {
		if !d.submit(delivery) {
			d.logger.Warn("webhook pool full, delivery deferred",
				zap.Int64("delivery_id", delivery.ID),
				zap.String("webhook_id", delivery.WebhookID))
			continue
		}
		submitted++
	}
	return submitted
}

func (d *Dispatcher) submit(delivery *domain.WebhookDelivery) bool {
	select {
	case d.jobs <- delivery:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) lease() time.Duration {
	lease := 3 * d.cfg.Timeout
	if lease < time.Minute {
		lease = time.Minute
	}
	return lease
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()

	for delivery := range d.jobs {
		if err := d.deliver(ctx, delivery); err != nil {
			d.logger.Error("failed to record webhook delivery result",
				zap.Int64("delivery_id", delivery.ID),
				zap.Error(err))
		}
	}
}

// deliver posts one delivery and records the outcome on its outbox row.
func (d *Dispatcher) deliver(ctx context.Context, delivery *domain.WebhookDelivery) error {
	attempt := delivery.Attempts + 1
	log := d.logger.With(
		zap.Int64("delivery_id", delivery.ID),
		zap.String("event_id", delivery.EventID),
		zap.String("webhook_id", delivery.WebhookID),
		zap.Int("attempt", attempt))

	status, sendErr := d.send(ctx, delivery)
	if sendErr == nil && status >= 200 && status < 300 {
		metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
		log.Info("webhook delivered", zap.Int("status", status))
		return d.repo.MarkDelivered(ctx, delivery.ID, attempt)
	}

	reason := fmt.Sprintf("endpoint returned status %d", status)
	if sendErr != nil {
		reason = sendErr.Error()
	}

	if attempt >= d.cfg.MaxAttempts {
		metrics.WebhookDeliveriesTotal.WithLabelValues("dead").Inc()
		log.Warn("webhook delivery abandoned", zap.String("reason", reason))
		return d.repo.MarkDead(ctx, delivery.ID, attempt, reason)
	}

	next := d.now().Add(Backoff(attempt))
	metrics.WebhookDeliveriesTotal.WithLabelValues("retry").Inc()
	log.Warn("webhook delivery failed, will retry",
		zap.String("reason", reason),
		zap.Time("next_attempt_at", next))
	return d.repo.MarkRetry(ctx, delivery.ID, attempt, next, reason)
}

func (d *Dispatcher) send(ctx context.Context, delivery *domain.WebhookDelivery) (int, error) {
	timer := prometheus.NewTimer(metrics.WebhookDeliveryDuration)
	defer timer.ObserveDuration()

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, delivery.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	timestamp := d.now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "SwiftPay-Webhooks/1.0")
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set(HeaderEvent, string(delivery.EventType))
	req.Header.Set(HeaderDelivery, delivery.EventID)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(timestamp, 10))
	req.Header.Set(HeaderSignature, Sign(delivery.Payload, timestamp, delivery.Secret))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return resp.StatusCode, nil
}

// Backoff is the wait before retry number attempt+1: 10s doubling per attempt, capped at 1h.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		return maxBackoff
	}
	wait := baseBackoff << (attempt - 1)
	if wait > maxBackoff {
		return maxBackoff
	}
	return wait
}
