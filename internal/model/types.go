package model

import (
	"encoding/json"
	"fmt"
)

// StepType is the closed set of question kinds a form can contain
type StepType string

const (
	StepText        StepType = "text"
	StepEmail       StepType = "email"
	StepPhone       StepType = "phone"
	StepTextarea    StepType = "textarea"
	StepSelect      StepType = "select"
	StepMultiSelect StepType = "multi-select"
	StepYesNo       StepType = "yes-no"
	StepRating      StepType = "rating"
	StepNumber      StepType = "number"
	StepDate        StepType = "date"
	StepWebsite     StepType = "website"
	StepAddress     StepType = "address"
	StepContact     StepType = "contact"
	StepConsent     StepType = "consent"
	StepImageSelect StepType = "image-select"
	StepFileUpload  StepType = "file-upload"
)

// StepTypes lists every known step type in authoring-UI order.
var StepTypes = []StepType{
	StepText, StepEmail, StepPhone, StepTextarea, StepSelect, StepMultiSelect,
	StepYesNo, StepRating, StepNumber, StepDate, StepWebsite, StepAddress,
	StepContact, StepConsent, StepImageSelect, StepFileUpload,
}

// Known reports whether t is part of the closed step type set.
func (t StepType) Known() bool {
	for _, k := range StepTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Operator is a condition comparison operator
type Operator string

const (
	OpEquals    Operator = "equals"
	OpNotEquals Operator = "not_equals"
	OpContains  Operator = "contains"
	OpIsSet     Operator = "is_set"
	OpIsNotSet  Operator = "is_not_set"
)

// Condition hides a step unless the answer to Field satisfies Operator/Value
type Condition struct {
	Field    string      `json:"field"`
	Operator Operator    `json:"operator"`
	Value    interface{} `json:"value,omitempty"`
}

// Option is one selectable choice of a select-like step. Authors may store
// options either as plain strings or as objects.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
	Icon  string `json:"icon,omitempty"`
	Image string `json:"image,omitempty"`
}

func (o *Option) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		o.Value, o.Label = s, s
		return nil
	}

	type plain Option
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("option must be a string or an object: %w", err)
	}
	*o = Option(p)
	if o.Label == "" {
		o.Label = o.Value
	}
	return nil
}

// Step is one question of a multi-step form
type Step struct {
	ID          string     `json:"id"`
	Type        StepType   `json:"type"`
	Label       string     `json:"label,omitempty"`
	Question    string     `json:"question,omitempty"`
	Description string     `json:"description,omitempty"`
	Placeholder string     `json:"placeholder,omitempty"`
	Required    bool       `json:"required,omitempty"`
	Options     []Option   `json:"options,omitempty"`
	Condition   *Condition `json:"condition,omitempty"`

	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	Accept      string   `json:"accept,omitempty"`
	MaxSizeMB   float64  `json:"maxSizeMB,omitempty"`
	ShowCountry bool     `json:"showCountry,omitempty"`
	ConsentText string   `json:"consentText,omitempty"`
}

// DisplayLabel is the human readable column/row name of a step.
func (s Step) DisplayLabel() string {
	if s.Label != "" {
		return s.Label
	}
	if s.Question != "" {
		return s.Question
	}
	return s.ID
}

// EndScreen is shown after submission and carries the final consent gate
type EndScreen struct {
	Title          string `json:"title,omitempty"`
	Message        string `json:"message,omitempty"`
	RedirectURL    string `json:"redirectUrl,omitempty"`
	ConsentEnabled bool   `json:"consentEnabled,omitempty"`
	ConsentText    string `json:"consentText,omitempty"`
}

// DefaultEndScreen is stored for new forms that do not provide one.
var DefaultEndScreen = EndScreen{Title: "Danke!", Message: "Wir melden uns bei Ihnen."}

// RuntimeConfig is everything a respondent's client needs to render a form
type RuntimeConfig struct {
	Steps     []Step                 `json:"steps"`
	EndScreen EndScreen              `json:"end_screen"`
	Theme     map[string]interface{} `json:"theme,omitempty"`
}

// Form is an authored lead-generation form
type Form struct {
	ID              string                 `json:"id"`
	UserID          string                 `json:"userId,omitempty"`
	Title           string                 `json:"title"`
	Slug            string                 `json:"slug"`
	Steps           []Step                 `json:"steps"`
	EndScreen       EndScreen              `json:"end_screen"`
	Theme           map[string]interface{} `json:"theme"`
	GTMID           string                 `json:"gtm_id,omitempty"`
	Published       bool                   `json:"published"`
	SubmissionCount int                    `json:"submission_count,omitempty"`
	CreatedAt       string                 `json:"createdAt,omitempty"`
	UpdatedAt       string                 `json:"updatedAt,omitempty"`
}

// Runtime strips the owner-only fields off a form.
func (f Form) Runtime() RuntimeConfig {
	return RuntimeConfig{Steps: f.Steps, EndScreen: f.EndScreen, Theme: f.Theme}
}

// Submission is one completed fill-out
type Submission struct {
	ID        string                 `json:"id"`
	FormID    string                 `json:"formId"`
	Data      map[string]interface{} `json:"data"`
	Metadata  SubmissionMetadata     `json:"metadata"`
	CreatedAt string                 `json:"createdAt,omitempty"`
}

// SubmissionMetadata is captured from the submitting HTTP request
type SubmissionMetadata struct {
	IP          string `json:"ip,omitempty"`
	UserAgent   string `json:"userAgent,omitempty"`
	Referer     string `json:"referer,omitempty"`
	SubmittedAt string `json:"submittedAt,omitempty"`
}

// IntegrationType represents a delivery target kind
type IntegrationType string

const (
	IntegrationWebhook      IntegrationType = "webhook"
	IntegrationEmail        IntegrationType = "email"
	IntegrationGoogleSheets IntegrationType = "google_sheets"
)

// Valid reports whether t is a supported integration type.
func (t IntegrationType) Valid() bool {
	switch t {
	case IntegrationWebhook, IntegrationEmail, IntegrationGoogleSheets:
		return true
	}
	return false
}

// Integration is a configured delivery target of a form
type Integration struct {
	ID        string                 `json:"id"`
	FormID    string                 `json:"formId"`
	Type      IntegrationType        `json:"type"`
	Enabled   bool                   `json:"enabled"`
	Config    map[string]interface{} `json:"config"`
	CreatedAt string                 `json:"createdAt,omitempty"`
}

// EventKind represents an analytics event emitted by the form-taking client
type EventKind string

const (
	EventView     EventKind = "view"
	EventStart    EventKind = "start"
	EventStep     EventKind = "step"
	EventComplete EventKind = "complete"
	EventDrop     EventKind = "drop"
)

// Valid reports whether k is a trackable event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventView, EventStart, EventStep, EventComplete, EventDrop:
		return true
	}
	return false
}

// AnalyticsEvent is one funnel event of a respondent session
type AnalyticsEvent struct {
	FormID    string    `json:"formId"`
	Event     EventKind `json:"event"`
	SessionID string    `json:"sessionId,omitempty"`
	StepIndex *int      `json:"stepIndex,omitempty"`
	StepID    string    `json:"stepId,omitempty"`
}

// User is a dashboard account
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CreatedAt string `json:"createdAt,omitempty"`
}
