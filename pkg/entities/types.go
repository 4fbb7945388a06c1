package entities

import (
	"errors"
	"time"
)

// ErrNotFound is returned when an organization or program does not exist.
var ErrNotFound = errors.New("entity not found")

// Organization represents an institution that authors programs
type Organization struct {
	ID           int64     `json:"-"`
	Key          string    `json:"org_key"`
	Name         string    `json:"name"`
	DiscoveryUID string    `json:"discovery_uid,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Program represents a course of study offered by one or more organizations
type Program struct {
	ID           int64     `json:"-"`
	Key          string    `json:"program_key"`
	Title        string    `json:"program_title"`
	URL          string    `json:"program_url,omitempty"`
	ProgramType  string    `json:"program_type,omitempty"`
	DiscoveryUID string    `json:"discovery_uid,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ProgramOrganization is the link between a program and one of its
// authoring organizations. At most one authoring organization manages
// the program for reporting purposes.
type ProgramOrganization struct {
	ProgramID      int64
	OrganizationID int64
	IsManaging     bool
}
