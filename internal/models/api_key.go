package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey authenticates machine clients. A key with an empty ProjectID is
// valid for every project; otherwise it is scoped to exactly one.
type APIKey struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	KeyHash   string    `json:"-"`
	KeyPrefix string    `json:"key_prefix"`
	ProjectID string    `json:"project_id,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Authorized reports whether the key may act on the given project.
func (k *APIKey) Authorized(projectID string) bool {
	return k.ProjectID == "" || k.ProjectID == projectID
}

// ClaimantName derives the claimant identity recorded on pulled tasks:
// the key's name, else its prefix, else "unknown".
func (k *APIKey) ClaimantName() string {
	if k == nil {
		return "unknown"
	}
	if k.Name != "" {
		return k.Name
	}
	if k.KeyPrefix != "" {
		return k.KeyPrefix
	}
	return "unknown"
}
