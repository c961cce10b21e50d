// internal/template/registry.go
package template

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"notification-outbox/internal/common/errors"
	"notification-outbox/internal/common/logger"
	"notification-outbox/internal/models"

	"github.com/google/uuid"
)

// Registry owns versioned message templates. Templates are updated in place
// (version bump on content change) and soft-deactivated, never deleted.
type Registry struct {
	db     *sql.DB
	logger logger.Logger
}

func NewRegistry(db *sql.DB, log logger.Logger) *Registry {
	return &Registry{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "template-registry"}),
	}
}

const templateColumns = `id, key, version, subject, html_body, text_body, variables_schema, is_active, created_at, updated_at`

// Create inserts version 1 of a new template key, active. Fails with a
// conflict error if the key already exists.
func (r *Registry) Create(ctx context.Context, key, subject, htmlBody, textBody string, schema []models.TemplateVariable) (*models.Template, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM templates WHERE key = $1)`, key,
	).Scan(&exists)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("template exists check", err)
	}
	if exists {
		return nil, errors.NewTemplateKeyConflictError(key)
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal variables schema: %w", err)
	}

	now := time.Now().UTC()
	tmpl := &models.Template{
		ID:              uuid.New().String(),
		Key:             key,
		Version:         1,
		Subject:         subject,
		HTMLBody:        htmlBody,
		TextBody:        textBody,
		VariablesSchema: schema,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO templates (id, key, version, subject, html_body, text_body, variables_schema, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		tmpl.ID, tmpl.Key, tmpl.Version, tmpl.Subject, tmpl.HTMLBody, tmpl.TextBody,
		schemaJSON, tmpl.IsActive, tmpl.CreatedAt, tmpl.UpdatedAt,
	)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("template insert", err)
	}

	r.logger.Info("template created", map[string]interface{}{
		"templateKey": key,
		"templateId":  tmpl.ID,
	})
	return tmpl, nil
}

// Update applies a partial edit. Subject/body changes increment the version;
// schema and activation edits do not.
func (r *Registry) Update(ctx context.Context, id string, update models.TemplateUpdate) (*models.Template, error) {
	tmpl, err := r.getByID(ctx, id)
	if err != nil {
		return nil, err
	}

	contentChanged := false
	if update.Subject != nil && *update.Subject != tmpl.Subject {
		tmpl.Subject = *update.Subject
		contentChanged = true
	}
	if update.HTMLBody != nil && *update.HTMLBody != tmpl.HTMLBody {
		tmpl.HTMLBody = *update.HTMLBody
		contentChanged = true
	}
	if update.TextBody != nil && *update.TextBody != tmpl.TextBody {
		tmpl.TextBody = *update.TextBody
		contentChanged = true
	}
	if update.VariablesSchema != nil {
		tmpl.VariablesSchema = update.VariablesSchema
	}
	if update.IsActive != nil {
		tmpl.IsActive = *update.IsActive
	}

	if contentChanged {
		tmpl.Version++
	}
	tmpl.UpdatedAt = time.Now().UTC()

	schemaJSON, err := json.Marshal(tmpl.VariablesSchema)
	if err != nil {
		return nil, fmt.Errorf("marshal variables schema: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE templates
		SET version = $1, subject = $2, html_body = $3, text_body = $4,
		    variables_schema = $5, is_active = $6, updated_at = $7
		WHERE id = $8`,
		tmpl.Version, tmpl.Subject, tmpl.HTMLBody, tmpl.TextBody,
		schemaJSON, tmpl.IsActive, tmpl.UpdatedAt, tmpl.ID,
	)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("template update", err)
	}

	r.logger.Info("template updated", map[string]interface{}{
		"templateKey":    tmpl.Key,
		"templateId":     tmpl.ID,
		"version":        tmpl.Version,
		"contentChanged": contentChanged,
	})
	return tmpl, nil
}

// GetActiveByKey is the lookup path used by enqueue and by the delivery
// worker at render time.
func (r *Registry) GetActiveByKey(ctx context.Context, key string) (*models.Template, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM templates WHERE key = $1 AND is_active = true`, key)

	tmpl, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewTemplateNotFoundError(key)
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("template lookup", err)
	}
	return tmpl, nil
}

// List returns every template ordered by key.
func (r *Registry) List(ctx context.Context) ([]models.Template, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+templateColumns+` FROM templates ORDER BY key`)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("template list", err)
	}
	defer rows.Close()

	var out []models.Template
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, errors.NewQueryExecutionFailedError("template scan", err)
		}
		out = append(out, *tmpl)
	}
	return out, rows.Err()
}

func (r *Registry) getByID(ctx context.Context, id string) (*models.Template, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM templates WHERE id = $1`, id)

	tmpl, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewTemplateNotFoundError(id)
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("template lookup", err)
	}
	return tmpl, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTemplate(row rowScanner) (*models.Template, error) {
	var tmpl models.Template
	var schemaJSON []byte

	err := row.Scan(
		&tmpl.ID, &tmpl.Key, &tmpl.Version, &tmpl.Subject, &tmpl.HTMLBody,
		&tmpl.TextBody, &schemaJSON, &tmpl.IsActive, &tmpl.CreatedAt, &tmpl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(schemaJSON) > 0 {
		if err := json.Unmarshal(schemaJSON, &tmpl.VariablesSchema); err != nil {
			return nil, fmt.Errorf("unmarshal variables schema: %w", err)
		}
	}
	return &tmpl, nil
}
