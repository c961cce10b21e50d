// internal/preference/gate.go
package preference

import (
	"context"
	"database/sql"

	"notification-outbox/internal/common/errors"
	"notification-outbox/internal/common/logger"
	"notification-outbox/internal/models"
)

// Gate answers "may we send this recipient a message of this category". Rows
// are lazily created with every flag enabled, so a recipient who never
// touched their settings receives everything.
type Gate struct {
	db     *sql.DB
	logger logger.Logger
}

func NewGate(db *sql.DB, log logger.Logger) *Gate {
	return &Gate{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "preference-gate"}),
	}
}

const preferenceColumns = `recipient_id, general_enabled, digest_enabled, reminders_enabled, created_at, updated_at`

// GetOrCreate returns the recipient's preference row, inserting the
// default-enabled row on first access. Idempotent.
func (g *Gate) GetOrCreate(ctx context.Context, recipientID string) (*models.Preference, error) {
	pref, err := g.get(ctx, recipientID)
	if err == nil {
		return pref, nil
	}
	if err != sql.ErrNoRows {
		return nil, errors.NewQueryExecutionFailedError("preference lookup", err)
	}

	// First access: persist the defaults. ON CONFLICT covers a concurrent
	// first access racing this insert.
	row := g.db.QueryRowContext(ctx, `
		INSERT INTO notification_preferences (recipient_id, general_enabled, digest_enabled, reminders_enabled)
		VALUES ($1, true, true, true)
		ON CONFLICT (recipient_id) DO UPDATE SET recipient_id = EXCLUDED.recipient_id
		RETURNING `+preferenceColumns,
		recipientID)

	pref = &models.Preference{}
	if err := scanPreference(row, pref); err != nil {
		return nil, errors.NewQueryExecutionFailedError("preference insert", err)
	}
	return pref, nil
}

// CanSendGeneral reports whether any mail at all may go to this recipient.
func (g *Gate) CanSendGeneral(ctx context.Context, recipientID string) (bool, error) {
	pref, err := g.GetOrCreate(ctx, recipientID)
	if err != nil {
		return false, err
	}
	return pref.GeneralEnabled, nil
}

// CanSendReminder gates reminder mail behind the general flag as well: a
// recipient who disabled all mail cannot still receive reminders.
func (g *Gate) CanSendReminder(ctx context.Context, recipientID string) (bool, error) {
	pref, err := g.GetOrCreate(ctx, recipientID)
	if err != nil {
		return false, err
	}
	return pref.GeneralEnabled && pref.RemindersEnabled, nil
}

// CanSendDigest gates digest mail behind the general flag as well.
func (g *Gate) CanSendDigest(ctx context.Context, recipientID string) (bool, error) {
	pref, err := g.GetOrCreate(ctx, recipientID)
	if err != nil {
		return false, err
	}
	return pref.GeneralEnabled && pref.DigestEnabled, nil
}

// Update ensures the row exists, then applies a partial flag update.
func (g *Gate) Update(ctx context.Context, recipientID string, update models.PreferenceUpdate) (*models.Preference, error) {
	pref, err := g.GetOrCreate(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	if update.GeneralEnabled != nil {
		pref.GeneralEnabled = *update.GeneralEnabled
	}
	if update.DigestEnabled != nil {
		pref.DigestEnabled = *update.DigestEnabled
	}
	if update.RemindersEnabled != nil {
		pref.RemindersEnabled = *update.RemindersEnabled
	}

	row := g.db.QueryRowContext(ctx, `
		UPDATE notification_preferences
		SET general_enabled = $1, digest_enabled = $2, reminders_enabled = $3, updated_at = NOW()
		WHERE recipient_id = $4
		RETURNING `+preferenceColumns,
		pref.GeneralEnabled, pref.DigestEnabled, pref.RemindersEnabled, recipientID)

	updated := &models.Preference{}
	if err := scanPreference(row, updated); err != nil {
		return nil, errors.NewQueryExecutionFailedError("preference update", err)
	}

	g.logger.Info("preferences updated", map[string]interface{}{
		"recipientId": recipientID,
		"general":     updated.GeneralEnabled,
		"digest":      updated.DigestEnabled,
		"reminders":   updated.RemindersEnabled,
	})
	return updated, nil
}

// ResolveRecipient looks up a recipient by email. A sql.ErrNoRows result is
// returned as (nil, nil): entries addressed to unregistered emails are still
// delivered.
func (g *Gate) ResolveRecipient(ctx context.Context, email string) (*models.Recipient, error) {
	var rec models.Recipient
	err := g.db.QueryRowContext(ctx,
		`SELECT id, email, name FROM recipients WHERE email = $1`, email,
	).Scan(&rec.ID, &rec.Email, &rec.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("recipient lookup", err)
	}
	return &rec, nil
}

func (g *Gate) get(ctx context.Context, recipientID string) (*models.Preference, error) {
	row := g.db.QueryRowContext(ctx,
		`SELECT `+preferenceColumns+` FROM notification_preferences WHERE recipient_id = $1`, recipientID)

	pref := &models.Preference{}
	if err := scanPreference(row, pref); err != nil {
		return nil, err
	}
	return pref, nil
}

func scanPreference(row *sql.Row, pref *models.Preference) error {
	return row.Scan(
		&pref.RecipientID, &pref.GeneralEnabled, &pref.DigestEnabled,
		&pref.RemindersEnabled, &pref.CreatedAt, &pref.UpdatedAt,
	)
}
