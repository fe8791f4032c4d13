package models

import (
	"strings"
	"time"
)

// Module is a unit of progress tracking belonging to exactly one layer.
type Module struct {
	ID          string    `json:"id"`
	Layer       Layer     `json:"layer"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Progress    int       `json:"progress"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ClampProgress bounds a progress value to [0,100].
func ClampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// ValidateProgress rejects progress values outside [0,100].
func ValidateProgress(p int) error {
	if p < 0 || p > 100 {
		return invalidf("progress %d out of range [0,100]", p)
	}
	return nil
}

// Validate checks the module at the boundary before it is persisted.
func (m *Module) Validate() error {
	m.Name = strings.TrimSpace(m.Name)
	m.Description = strings.TrimSpace(m.Description)

	if err := checkLength("name", m.Name, 1, 100); err != nil {
		return err
	}
	if err := checkLength("description", m.Description, 0, 500); err != nil {
		return err
	}
	if !m.Layer.Valid() {
		return invalidf("unknown layer %q", m.Layer)
	}
	return ValidateProgress(m.Progress)
}
