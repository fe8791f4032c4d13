package models

import "time"

// ProgressSnapshot is an immutable point-in-time sample of a layer's progress.
type ProgressSnapshot struct {
	ID         string    `json:"id"`
	Layer      Layer     `json:"layer"`
	Progress   int       `json:"progress"`
	RecordedAt time.Time `json:"recorded_at"`
}

func (s *ProgressSnapshot) Validate() error {
	if !s.Layer.Valid() {
		return invalidf("unknown layer %q", s.Layer)
	}
	return ValidateProgress(s.Progress)
}
