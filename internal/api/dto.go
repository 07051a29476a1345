package api

import "github.com/starford/agencydesk/internal/models"

// DocumentListResponse wraps the document listing.
type DocumentListResponse struct {
	Documents []models.DocumentMeta `json:"documents" validate:"required"`
	Total     int                   `json:"total" example:"7" validate:"required"`
}

// ImportResponse is returned after a successful bundle import.
type ImportResponse struct {
	Imported int `json:"imported" example:"7" validate:"required"`
}

// BackupStatusResponse is the backup bookkeeping response type (aliased from the domain layer).
type BackupStatusResponse = models.BackupStatus
