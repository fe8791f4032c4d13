package models

import (
	"regexp"
	"strings"
	"time"
)

var versionPattern = regexp.MustCompile(`^v?\d+\.\d+\.\d+`)

// Deployment records one release of a repository to an environment.
type Deployment struct {
	ID             string           `json:"id"`
	RepositoryID   string           `json:"repository_id,omitempty"`
	RepositoryName string           `json:"repository_name,omitempty"` // joined on read
	Environment    Environment      `json:"environment"`
	Version        string           `json:"version"`
	Status         DeploymentStatus `json:"status"`
	Notes          string           `json:"notes,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Validate checks the deployment at the boundary before it is persisted.
func (d *Deployment) Validate() error {
	d.Version = strings.TrimSpace(d.Version)
	d.Notes = strings.TrimSpace(d.Notes)
	if d.Status == "" {
		d.Status = DeploymentStatusPending
	}

	if !d.Environment.Valid() {
		return invalidf("unknown environment %q", d.Environment)
	}
	if !d.Status.Valid() {
		return invalidf("unknown deployment status %q", d.Status)
	}
	if err := checkLength("version", d.Version, 1, 50); err != nil {
		return err
	}
	if !versionPattern.MatchString(d.Version) {
		return invalidf("version %q must look like v1.0.0", d.Version)
	}
	return checkLength("notes", d.Notes, 0, 500)
}
