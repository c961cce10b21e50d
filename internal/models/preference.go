// internal/models/preference.go
package models

import "time"

// Preference holds a recipient's opt-in flags. Rows are lazily created with
// every flag enabled on first access.
type Preference struct {
	RecipientID      string    `json:"recipientId"`
	GeneralEnabled   bool      `json:"generalEnabled"`
	DigestEnabled    bool      `json:"digestEnabled"`
	RemindersEnabled bool      `json:"remindersEnabled"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// PreferenceUpdate is a partial flag update. Nil fields are untouched.
type PreferenceUpdate struct {
	GeneralEnabled   *bool `json:"generalEnabled,omitempty"`
	DigestEnabled    *bool `json:"digestEnabled,omitempty"`
	RemindersEnabled *bool `json:"remindersEnabled,omitempty"`
}

// Recipient is the minimal identity the worker resolves by email before
// consulting the preference gate. Entries addressed to emails with no
// matching recipient are still delivered (invites to unregistered users).
type Recipient struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}
