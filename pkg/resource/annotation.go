package resource

import (
	"encoding/json"
	"fmt"
)

// AnnotationKind classifies an instance's ownership tagging.
type AnnotationKind int

const (
	NoTagsExist AnnotationKind = iota
	NoOwnerTag
	OwnerTagPresent
)

// String returns a short machine-friendly label, used in metrics and JSON.
func (k AnnotationKind) String() string {
	switch k {
	case NoTagsExist:
		return "no_tags"
	case NoOwnerTag:
		return "no_owner"
	case OwnerTagPresent:
		return "owner"
	default:
		return "unknown"
	}
}

// Annotation is the derived ownership classification of an instance.
type Annotation struct {
	Kind  AnnotationKind
	Owner string
}

// String renders the annotation the way it appears in the Notes column.
func (a Annotation) String() string {
	switch a.Kind {
	case NoTagsExist:
		return "No tags exist"
	case NoOwnerTag:
		return "No Owner tag"
	default:
		return "Owner tag is " + a.Owner
	}
}

// MarshalJSON encodes the annotation as its kind, owner and rendered text.
func (a Annotation) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind  string `json:"kind"`
		Owner string `json:"owner,omitempty"`
		Notes string `json:"notes"`
	}{a.Kind.String(), a.Owner, a.String()})
}

// UnmarshalJSON decodes the form written by MarshalJSON. The rendered
// notes are derived, so only kind and owner are read.
func (a *Annotation) UnmarshalJSON(data []byte) error {
	var v struct {
		Kind  string `json:"kind"`
		Owner string `json:"owner"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v.Kind {
	case "no_tags":
		a.Kind = NoTagsExist
	case "no_owner":
		a.Kind = NoOwnerTag
	case "owner":
		a.Kind = OwnerTagPresent
	default:
		return fmt.Errorf("unknown annotation kind %q", v.Kind)
	}
	a.Owner = v.Owner
	return nil
}
