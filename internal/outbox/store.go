// internal/outbox/store.go
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"notification-outbox/internal/common/errors"
	"notification-outbox/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ErrDuplicateEntry reports an insert that lost a race on the
// (institute_id, dedup_key) unique index: another enqueue committed the same
// key between the caller's duplicate check and this insert.
var ErrDuplicateEntry = stderrors.New("outbox: duplicate dedup key")

// Store owns the outbox_entries and outbox_audit tables. Entries are never
// deleted; audit rows are append-only.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const entryColumns = `id, institute_id, event_key, to_email, to_name, template_key, template_version,
	payload, dedup_key, status, attempts, last_error, scheduled_at, sent_at, provider_message_id,
	created_at, updated_at`

// Insert persists a new entry. The (institute_id, dedup_key) unique index is
// the idempotency boundary; callers check for duplicates first.
func (s *Store) Insert(ctx context.Context, entry *models.OutboxEntry) error {
	payloadJSON, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO outbox_entries
		(id, institute_id, event_key, to_email, to_name, template_key, template_version,
		 payload, dedup_key, status, attempts, last_error, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		entry.ID, entry.InstituteID, entry.EventKey, entry.ToEmail, entry.ToName,
		entry.TemplateKey, entry.TemplateVersion, payloadJSON, entry.DedupKey,
		entry.Status, entry.Attempts, entry.LastError, entry.ScheduledAt,
		entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateEntry
		}
		return errors.NewQueryExecutionFailedError("outbox insert", err)
	}
	return nil
}

// FindByDedupKey returns the entry for (instituteID, dedupKey), or nil if
// none exists.
func (s *Store) FindByDedupKey(ctx context.Context, instituteID, dedupKey string) (*models.OutboxEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM outbox_entries WHERE institute_id = $1 AND dedup_key = $2`,
		instituteID, dedupKey)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("outbox dedup lookup", err)
	}
	return entry, nil
}

// GetByID returns one entry or a not-found error.
func (s *Store) GetByID(ctx context.Context, id string) (*models.OutboxEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM outbox_entries WHERE id = $1`, id)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewOutboxNotFoundError(id)
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("outbox lookup", err)
	}
	return entry, nil
}

// ClaimDue atomically flips up to limit due PENDING entries to SENDING and
// returns them oldest-scheduled first. Only the caller that performed the
// flip holds the claimed rows, so concurrent claimants never share an entry.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE outbox_entries
		SET status = $1, updated_at = $2
		WHERE id IN (
			SELECT id FROM outbox_entries
			WHERE status = $3 AND scheduled_at <= $2
			ORDER BY scheduled_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+entryColumns,
		models.StatusSending, now, models.StatusPending, limit)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("outbox claim", err)
	}
	defer rows.Close()

	var claimed []models.OutboxEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, errors.NewQueryExecutionFailedError("outbox claim scan", err)
		}
		claimed = append(claimed, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("outbox claim rows", err)
	}

	// RETURNING does not guarantee order; restore FIFO fairness here.
	sort.Slice(claimed, func(i, j int) bool {
		return claimed[i].ScheduledAt.Before(claimed[j].ScheduledAt)
	})
	return claimed, nil
}

// MarkSent records a successful delivery.
func (s *Store) MarkSent(ctx context.Context, id, providerMessageID string, sentAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_entries
		SET status = $1, sent_at = $2, provider_message_id = $3, last_error = '', updated_at = $2
		WHERE id = $4`,
		models.StatusSent, sentAt, providerMessageID, id)
	if err != nil {
		return errors.NewQueryExecutionFailedError("outbox mark sent", err)
	}
	return nil
}

// MarkSkipped records a preference-gate suppression.
func (s *Store) MarkSkipped(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_entries SET status = $1, updated_at = NOW() WHERE id = $2`,
		models.StatusSkipped, id)
	if err != nil {
		return errors.NewQueryExecutionFailedError("outbox mark skipped", err)
	}
	return nil
}

// RecordFailure stores a failed attempt: incremented attempts, the error,
// and either a rescheduled PENDING or a terminal CANCELLED status.
func (s *Store) RecordFailure(ctx context.Context, id string, attempts int, lastError string, nextStatus models.OutboxStatus, scheduledAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_entries
		SET status = $1, attempts = $2, last_error = $3, scheduled_at = $4, updated_at = NOW()
		WHERE id = $5`,
		nextStatus, attempts, lastError, scheduledAt, id)
	if err != nil {
		return errors.NewQueryExecutionFailedError("outbox record failure", err)
	}
	return nil
}

// ResetStaleSending returns entries stuck in SENDING since before the grace
// window to PENDING. Run once at startup before the timer begins: a crash
// mid-tick leaves claimed rows behind.
func (s *Store) ResetStaleSending(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE outbox_entries
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND updated_at < $3`,
		models.StatusPending, models.StatusSending, olderThan)
	if err != nil {
		return 0, errors.NewQueryExecutionFailedError("outbox reset stale", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// AppendAudit writes one append-only lifecycle record.
func (s *Store) AppendAudit(ctx context.Context, outboxID string, action models.AuditAction, meta map[string]interface{}) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal audit meta: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO outbox_audit (id, outbox_id, action, meta, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), outboxID, action, metaJSON, time.Now().UTC())
	if err != nil {
		return errors.NewQueryExecutionFailedError("audit insert", err)
	}
	return nil
}

// List returns entries most-recent-first, optionally filtered by status and
// event key. The limit is capped at 200.
func (s *Store) List(ctx context.Context, status models.OutboxStatus, eventKey string, limit, offset int) ([]models.OutboxEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}

	query := `SELECT ` + entryColumns + ` FROM outbox_entries WHERE 1=1`
	args := []interface{}{}
	idx := 1

	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, status)
		idx++
	}
	if eventKey != "" {
		query += fmt.Sprintf(" AND event_key = $%d", idx)
		args = append(args, eventKey)
		idx++
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("outbox list", err)
	}
	defer rows.Close()

	var out []models.OutboxEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, errors.NewQueryExecutionFailedError("outbox list scan", err)
		}
		out = append(out, *entry)
	}
	return out, rows.Err()
}

// Stats aggregates counts by status, the rolling 24h sent count, and a
// per-event-key breakdown.
func (s *Store) Stats(ctx context.Context) (*models.QueueStats, error) {
	stats := &models.QueueStats{
		ByStatus:   map[models.OutboxStatus]int{},
		ByEventKey: map[string]int{},
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM outbox_entries GROUP BY status`)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("stats by status", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status models.OutboxStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.NewQueryExecutionFailedError("stats scan", err)
		}
		stats.ByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("stats rows", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM outbox_entries
		WHERE status = $1 AND sent_at > NOW() - INTERVAL '24 hours'`,
		models.StatusSent,
	).Scan(&stats.SentLast24)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("stats 24h sent", err)
	}

	keyRows, err := s.db.QueryContext(ctx,
		`SELECT event_key, COUNT(*) FROM outbox_entries GROUP BY event_key`)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("stats by event key", err)
	}
	defer keyRows.Close()
	for keyRows.Next() {
		var key string
		var count int
		if err := keyRows.Scan(&key, &count); err != nil {
			return nil, errors.NewQueryExecutionFailedError("stats scan", err)
		}
		stats.ByEventKey[key] = count
	}
	return stats, keyRows.Err()
}

// CountPending feeds the queue-depth gauge.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox_entries WHERE status = $1`, models.StatusPending,
	).Scan(&n)
	if err != nil {
		return 0, errors.NewQueryExecutionFailedError("count pending", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*models.OutboxEntry, error) {
	var entry models.OutboxEntry
	var payloadJSON []byte
	var toName, lastError, providerMessageID sql.NullString
	var sentAt sql.NullTime

	err := row.Scan(
		&entry.ID, &entry.InstituteID, &entry.EventKey, &entry.ToEmail, &toName,
		&entry.TemplateKey, &entry.TemplateVersion, &payloadJSON, &entry.DedupKey,
		&entry.Status, &entry.Attempts, &lastError, &entry.ScheduledAt, &sentAt,
		&providerMessageID, &entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.ToName = toName.String
	entry.LastError = lastError.String
	entry.ProviderMessageID = providerMessageID.String
	if sentAt.Valid {
		t := sentAt.Time
		entry.SentAt = &t
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &entry.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	return &entry, nil
}
