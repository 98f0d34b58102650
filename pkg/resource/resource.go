// Package resource defines the instance and report model for ownerscan.
package resource

import (
	"time"
)

// Tag is a single key/value label attached to an instance.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Tags holds an instance's tags in the order the provider returned them.
type Tags []Tag

// Lookup returns the value of the first tag with the given key.
func (t Tags) Lookup(key string) (string, bool) {
	for _, tag := range t {
		if tag.Key == key {
			return tag.Value, true
		}
	}
	return "", false
}

// Instance is a virtual machine as seen by the inventory provider.
// Owned by the provider, read-only here.
type Instance struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	State      string    `json:"state,omitempty"`
	LaunchTime time.Time `json:"launch_time,omitempty"`
	Tags       Tags      `json:"tags,omitempty"`
}

// Predicate is a provider-side filter: an attribute name and the values it
// may take. Values are ORed, predicates are ANDed.
type Predicate struct {
	Name   string   `json:"name" yaml:"name"`
	Values []string `json:"values" yaml:"values"`
}

// Mode selects how instances are discovered.
type Mode string

const (
	// ModeFiltered retrieves instances matching provider-side predicates.
	ModeFiltered Mode = "filtered"
	// ModeMissingOwner retrieves instances without a recognized owner tag.
	ModeMissingOwner Mode = "missing-owner"
)

// Valid reports whether m is a known discovery mode.
func (m Mode) Valid() bool {
	return m == ModeFiltered || m == ModeMissingOwner
}

// ScanResult holds the outcome of scanning a single region.
type ScanResult struct {
	Region    string
	Mode      Mode
	Instances []Instance
	Duration  time.Duration
	Err       error
}
