package resource

import (
	"errors"
	"fmt"
	"time"
)

// Header is the fixed column set of the tabular report.
var Header = []string{"Instance ID", "Instance Name", "Instance Type", "Region", "Notes"}

// Row is one report line. Built once per instance per scan.
type Row struct {
	InstanceID   string     `json:"instance_id"`
	Name         string     `json:"name"`
	InstanceType string     `json:"instance_type"`
	Region       string     `json:"region"`
	Annotation   Annotation `json:"annotation"`
}

// Notes renders the row's annotation.
func (r Row) Notes() string {
	return r.Annotation.String()
}

// Record returns the row as report columns, in Header order.
func (r Row) Record() []string {
	return []string{r.InstanceID, r.Name, r.InstanceType, r.Region, r.Notes()}
}

// RegionSummary records how a single region contributed to a report.
type RegionSummary struct {
	Region    string `json:"region"`
	Instances int    `json:"instances"`
	Error     string `json:"error,omitempty"`
}

// Report is the result of a full collection run.
type Report struct {
	Mode      Mode            `json:"mode"`
	Query     string          `json:"query"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
	Regions   []RegionSummary `json:"regions"`
	Rows      []Row           `json:"rows"`
}

// FailedRegions returns the regions whose scan failed.
func (r *Report) FailedRegions() []string {
	var failed []string
	for _, s := range r.Regions {
		if s.Error != "" {
			failed = append(failed, s.Region)
		}
	}
	return failed
}

// ErrorKind is the category of a provider failure.
type ErrorKind string

const (
	ErrorKindAuthorization ErrorKind = "authorization"
	ErrorKindThrottling    ErrorKind = "throttling"
	ErrorKindInvalidFilter ErrorKind = "invalid-filter"
	ErrorKindConnectivity  ErrorKind = "connectivity"
	ErrorKindUnknown       ErrorKind = "unknown"
)

// ProviderError is a failure reported by the cloud inventory provider.
type ProviderError struct {
	Region string
	Op     string
	Kind   ErrorKind
	Err    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Region, e.Op, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// KindOf returns the provider error kind carried by err, or ErrorKindUnknown.
func KindOf(err error) ErrorKind {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return ErrorKindUnknown
}
