// Package lead implements the pipeline that validates, resolves, enriches,
// scores and stores investigative leads.
package lead

import "time"

type Submitter struct {
	Name         string `mapstructure:"name" json:"name,omitempty"`
	Email        string `mapstructure:"email" json:"email,omitempty"`
	Phone        string `mapstructure:"phone" json:"phone,omitempty"`
	Relationship string `mapstructure:"relationship" json:"relationship,omitempty"`
}

type Location struct {
	Address     string   `mapstructure:"address" json:"address,omitempty"`
	City        string   `mapstructure:"city" json:"city,omitempty"`
	State       string   `mapstructure:"state" json:"state,omitempty"`
	Zip         string   `mapstructure:"zip" json:"zip,omitempty"`
	Description string   `mapstructure:"description" json:"description,omitempty"`
	Latitude    *float64 `mapstructure:"latitude" json:"latitude,omitempty"`
	Longitude   *float64 `mapstructure:"longitude" json:"longitude,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are set.
func (l Location) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}

type Sighting struct {
	Date               string `mapstructure:"date" json:"date,omitempty"`
	Time               string `mapstructure:"time" json:"time,omitempty"`
	PersonDescription  string `mapstructure:"personDescription" json:"personDescription,omitempty"`
	VehicleDescription string `mapstructure:"vehicleDescription" json:"vehicleDescription,omitempty"`
	Direction          string `mapstructure:"direction" json:"direction,omitempty"`
}

// Attachment is a declared file on an incoming lead: either inline base64
// data or a URL reference.
type Attachment struct {
	Filename    string `mapstructure:"filename" json:"filename"`
	ContentType string `mapstructure:"contentType" json:"contentType,omitempty"`
	URL         string `mapstructure:"url" json:"url,omitempty"`
	Data        string `mapstructure:"data" json:"data,omitempty"`
	Size        int64  `mapstructure:"size" json:"size,omitempty"`
}

// IncomingLead is the free-form shape submitted by webhooks, agents and
// uploaded files.
type IncomingLead struct {
	CaseID      string       `mapstructure:"caseId"`
	CaseNumber  string       `mapstructure:"caseNumber"`
	Description string       `mapstructure:"description"`
	Priority    string       `mapstructure:"priority"`
	IsAnonymous bool         `mapstructure:"isAnonymous"`
	Submitter   Submitter    `mapstructure:"submitter"`
	Location    Location     `mapstructure:"location"`
	Sighting    Sighting     `mapstructure:"sighting"`
	Attachments []Attachment `mapstructure:"attachments"`
	Source      string       `mapstructure:"source"`
	ExternalID  string       `mapstructure:"externalId"`
	SubmittedAt string       `mapstructure:"submittedAt"`
}

type Status string

const (
	StatusNew       Status = "new"
	StatusReviewing Status = "reviewing"
	StatusVerified  Status = "verified"
	StatusDismissed Status = "dismissed"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ParsePriority returns the known priority named s, defaulting to medium.
func ParsePriority(s string) Priority {
	switch p := Priority(s); p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return p
	}
	return PriorityMedium
}

// NormalizedSubmitter carries contact fields as pointers so anonymous
// submissions serialize as explicit nulls.
type NormalizedSubmitter struct {
	Name         *string `json:"name"`
	Email        *string `json:"email"`
	Phone        *string `json:"phone"`
	Relationship string  `json:"relationship,omitempty"`
}

// NormalizedLead is the canonical lead written downstream.
type NormalizedLead struct {
	ID              string              `json:"id"`
	CaseID          string              `json:"caseId"`
	CaseNumber      string              `json:"caseNumber,omitempty"`
	Status          Status              `json:"status"`
	Priority        Priority            `json:"priority"`
	Description     string              `json:"description"`
	IsAnonymous     bool                `json:"isAnonymous"`
	Submitter       NormalizedSubmitter `json:"submitter"`
	Location        *Location           `json:"location,omitempty"`
	Sighting        *Sighting           `json:"sighting,omitempty"`
	AttachmentIDs   []string            `json:"attachmentIds"`
	ConfidenceScore int                 `json:"confidenceScore"`
	DuplicateOf     *string             `json:"duplicateOf"`
	Source          string              `json:"source,omitempty"`
	ExternalID      string              `json:"externalId,omitempty"`
	SubmittedAt     string              `json:"submittedAt,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
}
