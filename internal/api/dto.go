package api

import (
	"github.com/starford/entbrowser/internal/models"
)

// RegisterDatabaseRequest is the request body for registering a database.
type RegisterDatabaseRequest struct {
	Location        string `json:"location" example:"/var/lib/entbrowser/users" validate:"required"`
	Key             string `json:"key,omitempty" example:"00112233445566778899aabbccddeeff" validate:"omitempty,hexadecimal"`
	IsReadonly      bool   `json:"isReadonly"`
	IsWatchReadonly bool   `json:"isWatchReadonly"`
	Open            bool   `json:"open"`
}

// UpdateDatabaseRequest changes the flags of a registered database. Absent
// fields are left unchanged.
type UpdateDatabaseRequest struct {
	Key             *string `json:"key,omitempty" validate:"omitempty,hexadecimal"`
	IsReadonly      *bool   `json:"isReadonly,omitempty"`
	IsWatchReadonly *bool   `json:"isWatchReadonly,omitempty"`
}

// StartJobRequest is the request body for starting a background job.
type StartJobRequest struct {
	Kind string `json:"kind" example:"export" validate:"required,oneof=export import delete"`
	File string `json:"file,omitempty" example:"3f0c...-20240301T100000.000Z.sqlite" validate:"required_if=Kind import"`
	Type string `json:"type,omitempty" example:"User" validate:"required_if=Kind delete"`
	Q    string `json:"q,omitempty" example:"login~bob"`
}

// DatabaseSummary is the database response type (aliased from the domain layer).
type DatabaseSummary = models.DatabaseSummary

// EntityView is the entity request/response type (aliased from the domain layer).
type EntityView = models.EntityView

// ChangeSummary is the entity update request type (aliased from the domain layer).
type ChangeSummary = models.ChangeSummary

// SearchPager is one page of entities (aliased from the domain layer).
type SearchPager = models.SearchPager

// Job is the job status response type (aliased from the domain layer).
type Job = models.Job

// ExportFile describes one export file in the data directory.
type ExportFile struct {
	Name string `json:"name" example:"3f0c...-20240301T100000.000Z.sqlite" validate:"required"`
	models.FileMetadata
}
