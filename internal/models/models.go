// Package models defines the domain types exchanged between the registry,
// the entity services and the API.
package models

import "time"

// DatabaseSummary describes one registered database location.
type DatabaseSummary struct {
	UUID            string `json:"uuid"`
	Location        string `json:"location"`
	Key             string `json:"key,omitempty"`
	IsOpened        bool   `json:"isOpened"`
	IsReadonly      bool   `json:"isReadonly"`
	IsWatchReadonly bool   `json:"isWatchReadonly"`
	IsEncrypted     bool   `json:"isEncrypted"`
}

// Public returns a copy safe to hand out over the API (no key material).
func (d DatabaseSummary) Public() DatabaseSummary {
	d.IsEncrypted = d.Key != ""
	d.Key = ""
	return d
}

// ReadOnly reports whether the store must be opened without write access.
func (d DatabaseSummary) ReadOnly() bool {
	return d.IsReadonly || d.IsWatchReadonly
}

// Property value types.
const (
	TypeString   = "string"
	TypeBoolean  = "boolean"
	TypeInteger  = "integer"
	TypeDouble   = "double"
	TypeDatetime = "datetime"
)

// PropertyView is one typed property of an entity.
type PropertyView struct {
	Name  string `json:"name" validate:"required"`
	Type  string `json:"type" validate:"required,oneof=string boolean integer double datetime"`
	Value any    `json:"value"`
}

// LinkTarget is a reference to another entity.
type LinkTarget struct {
	ID    string `json:"id" validate:"required"`
	Type  string `json:"type,omitempty"`
	Label string `json:"label,omitempty"`
}

// LinkView groups all targets of one link name.
type LinkView struct {
	Name       string       `json:"name" validate:"required"`
	Targets    []LinkTarget `json:"targets" validate:"dive"`
	TotalCount int          `json:"totalCount"`
}

// BlobView describes a binary payload; the bytes are served separately.
type BlobView struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum,omitempty"`
}

// EntityView is the read/write projection of one entity.
type EntityView struct {
	ID         string         `json:"id,omitempty"`
	Type       string         `json:"type" validate:"required"`
	TypeID     int            `json:"typeId"`
	Label      string         `json:"label,omitempty"`
	Properties []PropertyView `json:"properties" validate:"dive"`
	Links      []LinkView     `json:"links" validate:"dive"`
	Blobs      []BlobView     `json:"blobs"`
}

// EntityTypeView is an entity type with its current entity count.
type EntityTypeView struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// SearchPager is one page of query results plus the total number of matches.
type SearchPager struct {
	Items      []EntityView `json:"items"`
	TotalCount int          `json:"totalCount"`
}

// ChangeSummary describes an update applied to an existing entity.
type ChangeSummary struct {
	Properties       []PropertyView `json:"properties,omitempty" validate:"dive"`
	RemoveProperties []string       `json:"removeProperties,omitempty"`
	AddLinks         []LinkChange   `json:"addLinks,omitempty" validate:"dive"`
	RemoveLinks      []LinkChange   `json:"removeLinks,omitempty" validate:"dive"`
	RemoveBlobs      []string       `json:"removeBlobs,omitempty"`
}

// LinkChange adds or removes a single link.
type LinkChange struct {
	Name   string `json:"name" validate:"required"`
	Target string `json:"target" validate:"required"`
}

// Job states.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobDone      = "done"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// Job is the externally visible status of a background job.
type Job struct {
	ID         string     `json:"id"`
	Database   string     `json:"database"`
	Kind       string     `json:"kind"`
	State      string     `json:"state"`
	Processed  int64      `json:"processed"`
	Total      int64      `json:"total"`
	Error      string     `json:"error,omitempty"`
	Result     string     `json:"result,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Finished reports whether the job reached a terminal state.
func (j Job) Finished() bool {
	return j.State == JobDone || j.State == JobFailed || j.State == JobCancelled
}

// FileMetadata is a lightweight representation of a file under the data dir.
type FileMetadata struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updatedAt"`
}
