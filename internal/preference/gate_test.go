// internal/preference/gate_test.go
package preference

import (
	"context"
	"testing"
	"time"

	"notification-outbox/internal/common/logger"
	"notification-outbox/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func preferenceRows(general, digest, reminders bool) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"recipient_id", "general_enabled", "digest_enabled", "reminders_enabled", "created_at", "updated_at",
	}).AddRow("rec-001", general, digest, reminders, now, now)
}

// ==========================
// GetOrCreate Tests
// ==========================

func TestGate_GetOrCreate_ExistingRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM notification_preferences").
		WithArgs("rec-001").
		WillReturnRows(preferenceRows(true, false, true))

	gate := NewGate(db, logger.NewTestLogger(t))
	pref, err := gate.GetOrCreate(context.Background(), "rec-001")

	require.NoError(t, err)
	assert.True(t, pref.GeneralEnabled)
	assert.False(t, pref.DigestEnabled)
	assert.True(t, pref.RemindersEnabled)
}

func TestGate_GetOrCreate_LazyDefault(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM notification_preferences").
		WithArgs("rec-001").
		WillReturnRows(sqlmock.NewRows([]string{"recipient_id"}))
	mock.ExpectQuery("INSERT INTO notification_preferences").
		WithArgs("rec-001").
		WillReturnRows(preferenceRows(true, true, true))

	gate := NewGate(db, logger.NewTestLogger(t))
	pref, err := gate.GetOrCreate(context.Background(), "rec-001")

	require.NoError(t, err)
	assert.True(t, pref.GeneralEnabled)
	assert.True(t, pref.DigestEnabled)
	assert.True(t, pref.RemindersEnabled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Category Gating Tests
// ==========================

func TestGate_CategoryRequiresGeneralFlag(t *testing.T) {
	tests := []struct {
		name      string
		general   bool
		digest    bool
		reminders bool
		check     func(g *Gate) (bool, error)
		allowed   bool
	}{
		{
			name: "reminders on but general off blocks reminder",
			general: false, reminders: true,
			check:   func(g *Gate) (bool, error) { return g.CanSendReminder(context.Background(), "rec-001") },
			allowed: false,
		},
		{
			name: "reminder allowed when both on",
			general: true, reminders: true,
			check:   func(g *Gate) (bool, error) { return g.CanSendReminder(context.Background(), "rec-001") },
			allowed: true,
		},
		{
			name: "digest off blocks digest despite general on",
			general: true, digest: false,
			check:   func(g *Gate) (bool, error) { return g.CanSendDigest(context.Background(), "rec-001") },
			allowed: false,
		},
		{
			name: "general flag alone controls general mail",
			general: true,
			check:   func(g *Gate) (bool, error) { return g.CanSendGeneral(context.Background(), "rec-001") },
			allowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			mock.ExpectQuery("SELECT (.+) FROM notification_preferences").
				WithArgs("rec-001").
				WillReturnRows(preferenceRows(tt.general, tt.digest, tt.reminders))

			gate := NewGate(db, logger.NewTestLogger(t))
			allowed, err := tt.check(gate)

			require.NoError(t, err)
			assert.Equal(t, tt.allowed, allowed)
		})
	}
}

// ==========================
// Update Tests
// ==========================

func TestGate_Update_PartialFlags(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM notification_preferences").
		WithArgs("rec-001").
		WillReturnRows(preferenceRows(true, true, true))
	mock.ExpectQuery("UPDATE notification_preferences").
		WithArgs(true, true, false, "rec-001").
		WillReturnRows(preferenceRows(true, true, false))

	disabled := false
	gate := NewGate(db, logger.NewTestLogger(t))
	pref, err := gate.Update(context.Background(), "rec-001", models.PreferenceUpdate{
		RemindersEnabled: &disabled,
	})

	require.NoError(t, err)
	assert.True(t, pref.GeneralEnabled)
	assert.False(t, pref.RemindersEnabled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Recipient Resolution Tests
// ==========================

func TestGate_ResolveRecipient(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM recipients").
		WithArgs("priya@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name"}).
			AddRow("rec-001", "priya@example.com", "Priya"))

	gate := NewGate(db, logger.NewTestLogger(t))
	rec, err := gate.ResolveRecipient(context.Background(), "priya@example.com")

	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "rec-001", rec.ID)
}

func TestGate_ResolveRecipient_UnknownEmailIsNotAnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM recipients").
		WithArgs("stranger@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	gate := NewGate(db, logger.NewTestLogger(t))
	rec, err := gate.ResolveRecipient(context.Background(), "stranger@example.com")

	require.NoError(t, err)
	assert.Nil(t, rec)
}
