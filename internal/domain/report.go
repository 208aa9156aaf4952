package domain

import (
	"strings"
	"time"
)

// Report is a community hazard report. Reports are immutable once stored.
type Report struct {
	ID            string       `json:"id"`
	Location      Location     `json:"location"`
	Description   string       `json:"description"`
	HazardType    string       `json:"hazardType"`
	Severity      Severity     `json:"severity"`
	UrgentLevel   Severity     `json:"urgentLevel,omitempty"`
	ReporterName  string       `json:"reporterName,omitempty"`
	ReporterEmail string       `json:"reporterEmail,omitempty"`
	Images        []string     `json:"images,omitempty"`
	Partition     PartitionKey `json:"partitionKey"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// Urgent reports whether the report forces an immediate crisis evaluation.
func (r Report) Urgent() bool {
	return r.Severity == SeverityHigh || r.Severity == SeverityCritical || r.UrgentLevel == SeverityCritical
}

// Submission is the unvalidated body of a report submission.
// Location is a pointer so an absent location can be told apart from (0, 0).
type Submission struct {
	Location      *Location `json:"location"`
	Description   string    `json:"description"`
	HazardType    string    `json:"hazardType"`
	Severity      string    `json:"severity"`
	UrgentLevel   string    `json:"urgentLevel,omitempty"`
	ReporterName  string    `json:"reporterName,omitempty"`
	ReporterEmail string    `json:"reporterEmail,omitempty"`
	Images        []string  `json:"images,omitempty"`
}

const (
	maxDescriptionLen = 2000
	maxImages         = 10
)

// Normalize validates the submission and returns the report fields it carries.
// ID, Partition and CreatedAt are left for the caller to assign.
func (s Submission) Normalize() (Report, error) {
	if s.Location == nil {
		return Report{}, &ValidationError{Field: "location", Reason: "is required"}
	}
	if err := s.Location.Validate(); err != nil {
		return Report{}, err
	}
	desc := strings.TrimSpace(s.Description)
	if desc == "" {
		return Report{}, &ValidationError{Field: "description", Reason: "is required"}
	}
	if len(desc) > maxDescriptionLen {
		return Report{}, &ValidationError{Field: "description", Reason: "exceeds 2000 characters"}
	}
	hazard := strings.ToLower(strings.TrimSpace(s.HazardType))
	if hazard == "" {
		return Report{}, &ValidationError{Field: "hazardType", Reason: "is required"}
	}
	if strings.TrimSpace(s.Severity) == "" {
		return Report{}, &ValidationError{Field: "severity", Reason: "is required"}
	}
	sev, err := ParseSeverity(s.Severity)
	if err != nil {
		return Report{}, &ValidationError{Field: "severity", Reason: err.Error()}
	}
	var urgent Severity
	if strings.TrimSpace(s.UrgentLevel) != "" {
		urgent, err = ParseSeverity(s.UrgentLevel)
		if err != nil {
			return Report{}, &ValidationError{Field: "urgentLevel", Reason: err.Error()}
		}
	}
	if len(s.Images) > maxImages {
		return Report{}, &ValidationError{Field: "images", Reason: "at most 10 images are allowed"}
	}

	return Report{
		Location:      *s.Location,
		Description:   desc,
		HazardType:    hazard,
		Severity:      sev,
		UrgentLevel:   urgent,
		ReporterName:  strings.TrimSpace(s.ReporterName),
		ReporterEmail: strings.TrimSpace(s.ReporterEmail),
		Images:        s.Images,
	}, nil
}
