// Package events carries document change signals between service instances.
package events

import (
	"context"
	"time"
)

// SubjectSuffix is appended to the configured subject prefix.
const SubjectSuffix = ".documents.changed"

// DocumentChanged is the cross-instance form of a document change signal.
type DocumentChanged struct {
	Key      string    `json:"key"`
	Origin   string    `json:"origin,omitempty"`
	Instance string    `json:"instance"`
	Deleted  bool      `json:"deleted,omitempty"`
	At       time.Time `json:"at"`
}

// Publisher announces local document changes to other instances.
type Publisher interface {
	PublishChange(ctx context.Context, ev DocumentChanged) error
}

// Feed delivers document changes announced by every instance, this one included.
// The channel closes once ctx is done.
type Feed interface {
	Changes(ctx context.Context) (<-chan DocumentChanged, error)
}
