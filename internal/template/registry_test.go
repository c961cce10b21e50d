// internal/template/registry_test.go
package template

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"notification-outbox/internal/common/errors"
	"notification-outbox/internal/common/logger"
	"notification-outbox/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func templateRows(tmpl *models.Template) *sqlmock.Rows {
	schemaJSON, _ := json.Marshal(tmpl.VariablesSchema)
	return sqlmock.NewRows([]string{
		"id", "key", "version", "subject", "html_body", "text_body",
		"variables_schema", "is_active", "created_at", "updated_at",
	}).AddRow(
		tmpl.ID, tmpl.Key, tmpl.Version, tmpl.Subject, tmpl.HTMLBody,
		tmpl.TextBody, schemaJSON, tmpl.IsActive, tmpl.CreatedAt, tmpl.UpdatedAt,
	)
}

func testTemplate() *models.Template {
	now := time.Now().UTC()
	return &models.Template{
		ID:       "tmpl-001",
		Key:      "fee.reminder",
		Version:  2,
		Subject:  "Fee due for {{studentName}}",
		HTMLBody: "<p>Dear {{studentName}}, {{amount}} is due.</p>",
		TextBody: "Dear {{studentName}}, {{amount}} is due.",
		VariablesSchema: []models.TemplateVariable{
			{Name: "studentName", Required: true},
			{Name: "amount", Required: true},
		},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ==========================
// Create Tests
// ==========================

func TestRegistry_Create_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("fee.reminder").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("INSERT INTO templates").
		WillReturnResult(sqlmock.NewResult(0, 1))

	registry := NewRegistry(db, logger.NewTestLogger(t))
	tmpl, err := registry.Create(context.Background(), "fee.reminder", "Fee due", "<p>body</p>", "body",
		[]models.TemplateVariable{{Name: "amount", Required: true}})

	require.NoError(t, err)
	assert.Equal(t, 1, tmpl.Version)
	assert.True(t, tmpl.IsActive)
	assert.NotEmpty(t, tmpl.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistry_Create_KeyConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("fee.reminder").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	registry := NewRegistry(db, logger.NewTestLogger(t))
	_, err = registry.Create(context.Background(), "fee.reminder", "Fee due", "", "", nil)

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTemplateKeyConflict, errors.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Update Tests
// ==========================

func TestRegistry_Update_ContentChangeBumpsVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	existing := testTemplate()
	mock.ExpectQuery("SELECT (.+) FROM templates WHERE id").
		WithArgs(existing.ID).
		WillReturnRows(templateRows(existing))
	mock.ExpectExec("UPDATE templates").
		WillReturnResult(sqlmock.NewResult(0, 1))

	newSubject := "Updated fee reminder for {{studentName}}"
	registry := NewRegistry(db, logger.NewTestLogger(t))
	updated, err := registry.Update(context.Background(), existing.ID, models.TemplateUpdate{
		Subject: &newSubject,
	})

	require.NoError(t, err)
	assert.Equal(t, 3, updated.Version)
	assert.Equal(t, newSubject, updated.Subject)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistry_Update_ActivationChangeKeepsVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	existing := testTemplate()
	mock.ExpectQuery("SELECT (.+) FROM templates WHERE id").
		WithArgs(existing.ID).
		WillReturnRows(templateRows(existing))
	mock.ExpectExec("UPDATE templates").
		WillReturnResult(sqlmock.NewResult(0, 1))

	inactive := false
	registry := NewRegistry(db, logger.NewTestLogger(t))
	updated, err := registry.Update(context.Background(), existing.ID, models.TemplateUpdate{
		IsActive: &inactive,
	})

	require.NoError(t, err)
	assert.Equal(t, existing.Version, updated.Version)
	assert.False(t, updated.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistry_Update_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM templates WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	registry := NewRegistry(db, logger.NewTestLogger(t))
	_, err = registry.Update(context.Background(), "missing", models.TemplateUpdate{})

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTemplateNotFound, errors.CodeOf(err))
}

// ==========================
// Lookup Tests
// ==========================

func TestRegistry_GetActiveByKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	existing := testTemplate()
	mock.ExpectQuery("SELECT (.+) FROM templates WHERE key (.+) is_active").
		WithArgs("fee.reminder").
		WillReturnRows(templateRows(existing))

	registry := NewRegistry(db, logger.NewTestLogger(t))
	tmpl, err := registry.GetActiveByKey(context.Background(), "fee.reminder")

	require.NoError(t, err)
	assert.Equal(t, existing.ID, tmpl.ID)
	assert.Len(t, tmpl.VariablesSchema, 2)
}

func TestRegistry_GetActiveByKey_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM templates WHERE key").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	registry := NewRegistry(db, logger.NewTestLogger(t))
	_, err = registry.GetActiveByKey(context.Background(), "nope")

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTemplateNotFound, errors.CodeOf(err))
}
