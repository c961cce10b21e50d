// internal/outbox/gateway.go
package outbox

import (
	"context"
	"fmt"
	"time"

	"notification-outbox/internal/common/errors"
	"notification-outbox/internal/common/logger"
	"notification-outbox/internal/common/metrics"
	"notification-outbox/internal/models"
	"notification-outbox/internal/template"

	"github.com/google/uuid"
)

// Gateway is the write path into the outbox. Enqueue is designed to run
// inside the caller's request handling: validation failures create no row,
// duplicates return the existing row.
type Gateway struct {
	store    *Store
	registry *template.Registry
	logger   logger.Logger
}

func NewGateway(store *Store, registry *template.Registry, log logger.Logger) *Gateway {
	return &Gateway{
		store:    store,
		registry: registry,
		logger:   log.WithFields(map[string]interface{}{"component": "outbox-gateway"}),
	}
}

// EnqueueRequest carries everything needed to queue one message.
type EnqueueRequest struct {
	InstituteID string                 `json:"instituteId"`
	EventKey    string                 `json:"eventKey"`
	ToEmail     string                 `json:"toEmail"`
	ToName      string                 `json:"toName,omitempty"`
	TemplateKey string                 `json:"templateKey"`
	Payload     map[string]interface{} `json:"payload"`
	DedupKey    string                 `json:"dedupKey"`
	ScheduledAt *time.Time             `json:"scheduledAt,omitempty"`
}

// Enqueue queues a message for delivery. Behavior by case:
//   - (instituteId, dedupKey) already exists: no new row, a SKIPPED audit is
//     appended to the existing entry, and its id is returned.
//   - template missing or required variables absent from payload: ERROR
//     result, no row created.
//   - otherwise: a PENDING row snapshotting the template version, plus an
//     ENQUEUED audit.
func (g *Gateway) Enqueue(ctx context.Context, req EnqueueRequest) (*models.EnqueueResult, error) {
	existing, err := g.store.FindByDedupKey(ctx, req.InstituteID, req.DedupKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return g.skipDuplicate(ctx, existing, req)
	}

	tmpl, err := g.registry.GetActiveByKey(ctx, req.TemplateKey)
	if err != nil {
		if errors.CodeOf(err) == errors.ErrCodeTemplateNotFound {
			metrics.OutboxEnqueued.WithLabelValues(req.EventKey, "error").Inc()
			return &models.EnqueueResult{
				Success: false,
				Status:  models.EnqueueError,
				Message: fmt.Sprintf("template not found: %s", req.TemplateKey),
			}, err
		}
		return nil, err
	}

	if missing := template.Validate(tmpl.VariablesSchema, req.Payload); len(missing) > 0 {
		metrics.OutboxEnqueued.WithLabelValues(req.EventKey, "error").Inc()
		validationErr := errors.NewTemplateValidationFailedError(missing)
		g.logger.Warn("enqueue rejected, missing required variables", map[string]interface{}{
			"templateKey": req.TemplateKey,
			"missing":     missing,
		})
		return &models.EnqueueResult{
			Success: false,
			Status:  models.EnqueueError,
			Message: validationErr.Error(),
		}, validationErr
	}

	now := time.Now().UTC()
	scheduledAt := now
	if req.ScheduledAt != nil {
		scheduledAt = req.ScheduledAt.UTC()
	}

	entry := &models.OutboxEntry{
		ID:              uuid.New().String(),
		InstituteID:     req.InstituteID,
		EventKey:        req.EventKey,
		ToEmail:         req.ToEmail,
		ToName:          req.ToName,
		TemplateKey:     req.TemplateKey,
		TemplateVersion: tmpl.Version,
		Payload:         req.Payload,
		DedupKey:        req.DedupKey,
		Status:          models.StatusPending,
		ScheduledAt:     scheduledAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := g.store.Insert(ctx, entry); err != nil {
		// A concurrent enqueue with the same key can commit between the
		// duplicate check above and this insert; the unique index decides
		// the winner and the loser takes the duplicate path.
		if err == ErrDuplicateEntry {
			winner, lookupErr := g.store.FindByDedupKey(ctx, req.InstituteID, req.DedupKey)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if winner != nil {
				return g.skipDuplicate(ctx, winner, req)
			}
		}
		return nil, err
	}
	if err := g.store.AppendAudit(ctx, entry.ID, models.AuditEnqueued, map[string]interface{}{
		"eventKey":        req.EventKey,
		"templateKey":     req.TemplateKey,
		"templateVersion": tmpl.Version,
	}); err != nil {
		return nil, err
	}

	metrics.OutboxEnqueued.WithLabelValues(req.EventKey, "enqueued").Inc()
	g.logger.Info("entry enqueued", map[string]interface{}{
		"outboxId":        entry.ID,
		"eventKey":        req.EventKey,
		"templateKey":     req.TemplateKey,
		"templateVersion": tmpl.Version,
		"scheduledAt":     scheduledAt,
	})

	return &models.EnqueueResult{
		Success:  true,
		Status:   models.EnqueueEnqueued,
		OutboxID: entry.ID,
	}, nil
}

// skipDuplicate records the SKIPPED audit on the surviving entry and returns
// its id to the caller.
func (g *Gateway) skipDuplicate(ctx context.Context, existing *models.OutboxEntry, req EnqueueRequest) (*models.EnqueueResult, error) {
	if err := g.store.AppendAudit(ctx, existing.ID, models.AuditSkipped, map[string]interface{}{
		"reason":   "duplicate",
		"dedupKey": req.DedupKey,
	}); err != nil {
		return nil, err
	}
	metrics.OutboxEnqueued.WithLabelValues(req.EventKey, "skipped").Inc()
	g.logger.Info("duplicate enqueue skipped", map[string]interface{}{
		"outboxId": existing.ID,
		"dedupKey": req.DedupKey,
	})
	return &models.EnqueueResult{
		Success:  true,
		Status:   models.EnqueueSkipped,
		OutboxID: existing.ID,
		Message:  "duplicate dedup key, existing entry returned",
	}, nil
}

// RetryFailed clones a CANCELLED entry back into the queue as a fresh
// PENDING row. The clone gets a derived dedup key so the unique index does
// not reject it; the original entry is left untouched.
func (g *Gateway) RetryFailed(ctx context.Context, outboxID string) (*models.OutboxEntry, error) {
	orig, err := g.store.GetByID(ctx, outboxID)
	if err != nil {
		return nil, err
	}
	if orig.Status != models.StatusCancelled {
		return nil, errors.NewInvalidStateError(outboxID, string(orig.Status))
	}

	now := time.Now().UTC()
	clone := &models.OutboxEntry{
		ID:              uuid.New().String(),
		InstituteID:     orig.InstituteID,
		EventKey:        orig.EventKey,
		ToEmail:         orig.ToEmail,
		ToName:          orig.ToName,
		TemplateKey:     orig.TemplateKey,
		TemplateVersion: orig.TemplateVersion,
		Payload:         orig.Payload,
		DedupKey:        fmt.Sprintf("%s:retry:%d", orig.DedupKey, now.Unix()),
		Status:          models.StatusPending,
		ScheduledAt:     now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := g.store.Insert(ctx, clone); err != nil {
		return nil, err
	}
	if err := g.store.AppendAudit(ctx, clone.ID, models.AuditEnqueued, map[string]interface{}{
		"retryOf": orig.ID,
	}); err != nil {
		return nil, err
	}

	metrics.OutboxEnqueued.WithLabelValues(clone.EventKey, "enqueued").Inc()
	g.logger.Info("cancelled entry requeued", map[string]interface{}{
		"outboxId": clone.ID,
		"retryOf":  orig.ID,
	})
	return clone, nil
}

// List exposes the admin read path.
func (g *Gateway) List(ctx context.Context, status models.OutboxStatus, eventKey string, limit, offset int) ([]models.OutboxEntry, error) {
	return g.store.List(ctx, status, eventKey, limit, offset)
}

// Stats exposes the admin stats path.
func (g *Gateway) Stats(ctx context.Context) (*models.QueueStats, error) {
	return g.store.Stats(ctx)
}
