// Package models defines the domain types shared by storage and transports.
package models

import "time"

// DocumentMeta is a lightweight description of a stored document, returned by list operations.
type DocumentMeta struct {
	Key       string    `json:"key"`
	Size      int       `json:"size"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BundleMeta is the metadata block embedded in every exported bundle.
type BundleMeta struct {
	ExportedAt time.Time `json:"exportedAt"`
	Version    int       `json:"version"`
	App        string    `json:"app,omitempty"`
}

// BackupStatus reports backup bookkeeping for UI messaging.
type BackupStatus struct {
	LastBackup *time.Time `json:"last_backup"`
	HasData    bool       `json:"has_data"`
}
