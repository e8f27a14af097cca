package store

import "time"

// Sources recorded in the commit log.
const (
	SourceEditor   = "editor"
	SourceExternal = "external"
)

// FieldValue is the latest committed value of a field.
type FieldValue struct {
	FieldID   string    `json:"field_id"`
	Value     string    `json:"value"`
	Revision  int64     `json:"revision"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CommitEntry is one row of the commit log.
type CommitEntry struct {
	ID          string    `json:"id"`
	FieldID     string    `json:"field_id"`
	Value       string    `json:"value"`
	Revision    int64     `json:"revision"`
	Source      string    `json:"source"`
	CommittedAt time.Time `json:"committed_at"`
}
