// internal/models/template.go
package models

import "time"

// TemplateVariable describes one entry of a template's payload contract.
type TemplateVariable struct {
	Name        string `json:"name"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// Template is one versioned message template. Only one version per key may
// be active at a time; enqueue always resolves against the active version.
type Template struct {
	ID              string             `json:"id"`
	Key             string             `json:"key"`
	Version         int                `json:"version"`
	Subject         string             `json:"subject"`
	HTMLBody        string             `json:"htmlBody"`
	TextBody        string             `json:"textBody"`
	VariablesSchema []TemplateVariable `json:"variablesSchema"`
	IsActive        bool               `json:"isActive"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

// TemplateUpdate carries a partial template edit. Nil fields are untouched.
// Changing any of Subject/HTMLBody/TextBody bumps the version; schema and
// activation edits do not.
type TemplateUpdate struct {
	Subject         *string            `json:"subject,omitempty"`
	HTMLBody        *string            `json:"htmlBody,omitempty"`
	TextBody        *string            `json:"textBody,omitempty"`
	VariablesSchema []TemplateVariable `json:"variablesSchema,omitempty"`
	IsActive        *bool              `json:"isActive,omitempty"`
}
