// internal/worker/delivery.go
package worker

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"notification-outbox/internal/common/database"
	"notification-outbox/internal/common/errors"
	"notification-outbox/internal/common/logger"
	"notification-outbox/internal/common/metrics"
	"notification-outbox/internal/common/observability"
	"notification-outbox/internal/models"
	"notification-outbox/internal/outbox"
	"notification-outbox/internal/preference"
	"notification-outbox/internal/template"
	"notification-outbox/internal/transport"

	"github.com/google/uuid"
)

// backoffSchedule maps the post-increment attempt count to the delay before
// the next try. Attempts past the table length cancel the entry.
var backoffSchedule = map[int]time.Duration{
	1: 1 * time.Minute,
	2: 5 * time.Minute,
	3: 30 * time.Minute,
}

const maxAttempts = 4

// Config holds the delivery worker tunables.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	StaleAfter   time.Duration
	LeaseKey     string
	LeaseTTL     time.Duration
}

// Worker polls the outbox on a timer and delivers due entries one at a time.
// A tick claims up to BatchSize due PENDING entries by flipping them to
// SENDING, then works through them sequentially.
type Worker struct {
	store    *outbox.Store
	registry *template.Registry
	gate     *preference.Gate
	sender   transport.EmailSender
	redis    *database.RedisClient
	obs      *observability.Observability
	logger   logger.Logger
	cfg      Config

	// ticking guards against overlapping ticks in-process; the Redis lease
	// extends the same guarantee across processes sharing a database.
	ticking atomic.Bool
	holder  string

	stopCh chan struct{}
	doneCh chan struct{}

	now func() time.Time
}

// New builds a delivery worker. redisClient and obs may be nil; the worker
// then runs with the in-process guard only and without OTel metrics.
func New(store *outbox.Store, registry *template.Registry, gate *preference.Gate, sender transport.EmailSender, redisClient *database.RedisClient, obs *observability.Observability, log logger.Logger, cfg Config) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	if cfg.LeaseKey == "" {
		cfg.LeaseKey = "outbox:worker:lease"
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Second
	}

	return &Worker{
		store:    store,
		registry: registry,
		gate:     gate,
		sender:   sender,
		redis:    redisClient,
		obs:      obs,
		logger:   log.WithFields(map[string]interface{}{"component": "delivery-worker"}),
		cfg:      cfg,
		holder:   uuid.New().String(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ReconcileStale returns entries stuck in SENDING since before the grace
// window to PENDING. Call once at startup, before Start: entries claimed by
// a crashed process would otherwise never be retried.
func (w *Worker) ReconcileStale(ctx context.Context) error {
	cutoff := w.now().Add(-w.cfg.StaleAfter)
	n, err := w.store.ResetStaleSending(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		w.logger.Warn("reset stale SENDING entries to PENDING", map[string]interface{}{
			"count":  n,
			"cutoff": cutoff,
		})
	}
	return nil
}

// Start launches the polling loop. Returns immediately; Stop shuts it down.
func (w *Worker) Start(ctx context.Context) {
	go func() {
		defer close(w.doneCh)

		ticker := time.NewTicker(w.cfg.PollInterval)
		defer ticker.Stop()

		w.logger.Info("delivery worker started", map[string]interface{}{
			"pollInterval": w.cfg.PollInterval.String(),
			"batchSize":    w.cfg.BatchSize,
		})

		for {
			select {
			case <-ticker.C:
				w.RunTick(ctx)
			case <-w.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop signals the loop and waits for the in-flight tick to finish.
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.doneCh
	w.logger.Info("delivery worker stopped", nil)
}

// RunTick executes one poll cycle: claim due entries, process them in
// scheduled order. A tick that finds the previous one still running returns
// without doing anything, so a slow transport can never stack ticks.
func (w *Worker) RunTick(ctx context.Context) {
	if !w.ticking.CompareAndSwap(false, true) {
		w.logger.Debug("tick skipped, previous tick still running", nil)
		return
	}
	defer w.ticking.Store(false)

	if w.redis != nil {
		acquired, err := w.redis.AcquireLease(ctx, w.cfg.LeaseKey, w.holder, w.cfg.LeaseTTL)
		if err != nil {
			w.logger.Warn("lease acquire failed, proceeding with local guard only", map[string]interface{}{
				"error": err.Error(),
			})
		} else if !acquired {
			w.logger.Debug("tick skipped, lease held by another process", nil)
			return
		} else {
			defer func() {
				if err := w.redis.ReleaseLease(ctx, w.cfg.LeaseKey, w.holder); err != nil {
					w.logger.Warn("lease release failed", map[string]interface{}{"error": err.Error()})
				}
			}()
		}
	}

	started := w.now()
	claimed, err := w.store.ClaimDue(ctx, started, w.cfg.BatchSize)
	if err != nil {
		w.logger.Error("claim failed", map[string]interface{}{"error": err.Error()})
		return
	}

	for i := range claimed {
		w.processEntry(ctx, &claimed[i])
	}

	metrics.TickDuration.Observe(time.Since(started).Seconds())
	if pending, err := w.store.CountPending(ctx); err == nil {
		metrics.PendingEntries.Set(float64(pending))
	}

	if len(claimed) > 0 {
		w.logger.Info("tick completed", map[string]interface{}{
			"processed": len(claimed),
			"duration":  time.Since(started).String(),
		})
	}
}

// processEntry drives one claimed entry to SENT, SKIPPED, a rescheduled
// PENDING, or CANCELLED. Never returns an error: every outcome is recorded
// on the entry itself.
func (w *Worker) processEntry(ctx context.Context, entry *models.OutboxEntry) {
	started := w.now()

	allowed, err := w.allowedByPreferences(ctx, entry)
	if err != nil {
		w.handleFailure(ctx, entry, err)
		w.recordObs(ctx, started, "failed")
		return
	}
	if !allowed {
		w.skip(ctx, entry)
		w.recordObs(ctx, started, "skipped")
		return
	}

	tmpl, err := w.registry.GetActiveByKey(ctx, entry.TemplateKey)
	if err != nil {
		w.handleFailure(ctx, entry, err)
		w.recordObs(ctx, started, "failed")
		return
	}

	msg := transport.Message{
		ToEmail:  entry.ToEmail,
		ToName:   entry.ToName,
		Subject:  template.Render(tmpl.Subject, entry.Payload),
		HTMLBody: template.Render(tmpl.HTMLBody, entry.Payload),
		TextBody: template.Render(tmpl.TextBody, entry.Payload),
	}

	providerID, err := w.sender.Send(ctx, msg)
	if err != nil {
		w.handleFailure(ctx, entry, err)
		w.recordObs(ctx, started, "failed")
		return
	}

	sentAt := w.now()
	if err := w.store.MarkSent(ctx, entry.ID, providerID, sentAt); err != nil {
		w.logger.Error("mark sent failed", map[string]interface{}{
			"outboxId": entry.ID,
			"error":    err.Error(),
		})
		return
	}
	if err := w.store.AppendAudit(ctx, entry.ID, models.AuditSent, map[string]interface{}{
		"providerMessageId": providerID,
		"templateVersion":   tmpl.Version,
	}); err != nil {
		w.logger.Error("sent audit failed", map[string]interface{}{
			"outboxId": entry.ID,
			"error":    err.Error(),
		})
	}

	metrics.OutboxDelivered.WithLabelValues(entry.EventKey).Inc()
	w.recordObs(ctx, started, "sent")
	w.logger.Info("entry delivered", map[string]interface{}{
		"outboxId":          entry.ID,
		"eventKey":          entry.EventKey,
		"providerMessageId": providerID,
	})
}

// allowedByPreferences resolves the recipient by email and consults the
// preference gate. Entries addressed to emails with no recipient record are
// always allowed.
func (w *Worker) allowedByPreferences(ctx context.Context, entry *models.OutboxEntry) (bool, error) {
	rec, err := w.gate.ResolveRecipient(ctx, entry.ToEmail)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return true, nil
	}

	switch categoryOf(entry.EventKey) {
	case categoryReminder:
		return w.gate.CanSendReminder(ctx, rec.ID)
	case categoryDigest:
		return w.gate.CanSendDigest(ctx, rec.ID)
	default:
		return w.gate.CanSendGeneral(ctx, rec.ID)
	}
}

func (w *Worker) skip(ctx context.Context, entry *models.OutboxEntry) {
	if err := w.store.MarkSkipped(ctx, entry.ID); err != nil {
		w.logger.Error("mark skipped failed", map[string]interface{}{
			"outboxId": entry.ID,
			"error":    err.Error(),
		})
		return
	}
	if err := w.store.AppendAudit(ctx, entry.ID, models.AuditSkipped, map[string]interface{}{
		"reason": "preference disabled",
	}); err != nil {
		w.logger.Error("skip audit failed", map[string]interface{}{
			"outboxId": entry.ID,
			"error":    err.Error(),
		})
	}

	metrics.OutboxSkipped.WithLabelValues("preferences").Inc()
	w.logger.Info("entry skipped by preferences", map[string]interface{}{
		"outboxId": entry.ID,
		"eventKey": entry.EventKey,
	})
}

// handleFailure records a failed attempt. Retryable errors reschedule the
// entry per the backoff schedule; non-retryable errors and exhausted
// attempts cancel it. A FAILED audit is appended either way.
func (w *Worker) handleFailure(ctx context.Context, entry *models.OutboxEntry, sendErr error) {
	attempts := entry.Attempts + 1

	nextStatus := models.StatusCancelled
	scheduledAt := entry.ScheduledAt
	if errors.IsRetryable(sendErr) && attempts < maxAttempts {
		nextStatus = models.StatusPending
		scheduledAt = w.now().Add(backoffSchedule[attempts])
	}

	if err := w.store.RecordFailure(ctx, entry.ID, attempts, sendErr.Error(), nextStatus, scheduledAt); err != nil {
		w.logger.Error("record failure failed", map[string]interface{}{
			"outboxId": entry.ID,
			"error":    err.Error(),
		})
		return
	}

	auditMeta := map[string]interface{}{
		"attempts": attempts,
		"error":    sendErr.Error(),
	}
	if nextStatus == models.StatusPending {
		auditMeta["nextAttemptAt"] = scheduledAt
	} else {
		auditMeta["cancelled"] = true
	}
	if err := w.store.AppendAudit(ctx, entry.ID, models.AuditFailed, auditMeta); err != nil {
		w.logger.Error("failure audit failed", map[string]interface{}{
			"outboxId": entry.ID,
			"error":    err.Error(),
		})
	}

	errorCode := string(errors.CodeOf(sendErr))
	if errorCode == "" {
		errorCode = "UNKNOWN"
	}
	metrics.OutboxFailed.WithLabelValues(entry.EventKey, errorCode).Inc()

	fields := map[string]interface{}{
		"outboxId": entry.ID,
		"eventKey": entry.EventKey,
		"attempts": attempts,
		"error":    sendErr.Error(),
	}
	if nextStatus == models.StatusCancelled {
		w.logger.Error("entry cancelled after failure", fields)
	} else {
		fields["nextAttemptAt"] = scheduledAt
		w.logger.Warn(fmt.Sprintf("delivery attempt %d failed, rescheduled", attempts), fields)
	}
}

func (w *Worker) recordObs(ctx context.Context, started time.Time, status string) {
	if w.obs == nil {
		return
	}
	w.obs.RecordEntryProcessed(ctx, status)
	w.obs.RecordEntryDuration(ctx, w.now().Sub(started), status)
}

// ==========================
// Event categories
// ==========================

type category int

const (
	categoryGeneral category = iota
	categoryReminder
	categoryDigest
)

// categoryOf buckets event keys by their dotted prefix. "reminder.*" and
// "digest.*" keys are gated by their category flag in addition to the
// general flag; everything else only needs the general flag.
func categoryOf(eventKey string) category {
	switch {
	case strings.HasPrefix(eventKey, "reminder."):
		return categoryReminder
	case strings.HasPrefix(eventKey, "digest."):
		return categoryDigest
	default:
		return categoryGeneral
	}
}
