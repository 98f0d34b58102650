// Package inventory discovers instances region by region and classifies them
// against the tag-based ownership policy.
package inventory

import (
	"github.com/yairfalse/ownerscan/internal/filter"
	"github.com/yairfalse/ownerscan/pkg/resource"
)

// NameTagKey is the tag whose value becomes the instance's display name.
const NameTagKey = "Name"

// Classifier derives a display name and an ownership annotation from tags.
type Classifier struct {
	owners *filter.Filter
}

// NewClassifier creates a Classifier recognizing the given owner keys.
func NewClassifier(owners *filter.Filter) *Classifier {
	if owners == nil {
		owners = filter.New(nil)
	}
	return &Classifier{owners: owners}
}

// Classify never fails. Duplicate keys resolve to their first occurrence,
// and owner keys are consulted in the filter's precedence order.
func (c *Classifier) Classify(tags resource.Tags) (string, resource.Annotation) {
	if len(tags) == 0 {
		return "", resource.Annotation{Kind: resource.NoTagsExist}
	}

	name, _ := tags.Lookup(NameTagKey)

	if owner, ok := c.owners.Owner(tags); ok {
		return name, resource.Annotation{Kind: resource.OwnerTagPresent, Owner: owner}
	}
	return name, resource.Annotation{Kind: resource.NoOwnerTag}
}

// Row builds the report row for an instance seen in region.
func (c *Classifier) Row(region string, inst resource.Instance) resource.Row {
	name, annotation := c.Classify(inst.Tags)
	return resource.Row{
		InstanceID:   inst.ID,
		Name:         name,
		InstanceType: inst.Type,
		Region:       region,
		Annotation:   annotation,
	}
}
