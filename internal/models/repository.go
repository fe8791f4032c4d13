package models

import (
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// Repository is a tracked source repository belonging to one layer.
type Repository struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	Layer       Layer      `json:"layer"`
	Stack       []string   `json:"stack"`
	Status      RepoStatus `json:"status"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Validate checks the repository at the boundary before it is persisted.
func (r *Repository) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	r.URL = strings.TrimSpace(r.URL)
	r.Description = strings.TrimSpace(r.Description)
	if r.Status == "" {
		r.Status = RepoStatusPlanning
	}

	if err := checkLength("name", r.Name, 1, 100); err != nil {
		return err
	}
	if err := checkLength("url", r.URL, 1, 500); err != nil {
		return err
	}
	u, err := url.Parse(r.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalidf("url %q is not an absolute http(s) URL", r.URL)
	}
	if err := checkLength("description", r.Description, 0, 500); err != nil {
		return err
	}
	if !r.Layer.Valid() {
		return invalidf("unknown layer %q", r.Layer)
	}
	if !r.Status.Valid() {
		return invalidf("unknown repository status %q", r.Status)
	}
	r.Stack = dedupeStack(r.Stack)
	return nil
}

// dedupeStack drops blank and repeated entries while keeping first-seen order.
func dedupeStack(stack []string) []string {
	out := make([]string, 0, len(stack))
	seen := make(map[string]bool, len(stack))
	for _, s := range stack {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func checkLength(field, value string, minLen, maxLen int) error {
	n := utf8.RuneCountInString(value)
	if n < minLen {
		if minLen == 1 {
			return invalidf("%s is required", field)
		}
		return invalidf("%s must be at least %d characters", field, minLen)
	}
	if n > maxLen {
		return invalidf("%s must be at most %d characters", field, maxLen)
	}
	return nil
}
