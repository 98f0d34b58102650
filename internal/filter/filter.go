// Package filter decides which instances count as lacking an owner, and
// parses the predicate syntax accepted on the command line.
package filter

import (
	"github.com/yairfalse/ownerscan/pkg/resource"
)

// DefaultOwnerKeys are the tag keys recognized as naming an owner.
var DefaultOwnerKeys = []string{"Owner", "owner"}

// Filter keeps instances that carry none of the configured owner keys.
type Filter struct {
	ownerKeys []string
	keySet    map[string]bool
}

// New creates a Filter for the given owner keys. Order is preserved; it is
// the precedence used when more than one owner key is present. Duplicate
// and empty keys are dropped. With no keys, DefaultOwnerKeys apply.
func New(ownerKeys []string) *Filter {
	if len(ownerKeys) == 0 {
		ownerKeys = DefaultOwnerKeys
	}

	f := &Filter{keySet: make(map[string]bool, len(ownerKeys))}
	for _, k := range ownerKeys {
		if k == "" || f.keySet[k] {
			continue
		}
		f.keySet[k] = true
		f.ownerKeys = append(f.ownerKeys, k)
	}
	return f
}

// OwnerKeys returns the recognized owner keys in precedence order.
func (f *Filter) OwnerKeys() []string {
	out := make([]string, len(f.ownerKeys))
	copy(out, f.ownerKeys)
	return out
}

// IsOwnerKey reports whether key is one of the recognized owner keys.
// Matching is case-sensitive.
func (f *Filter) IsOwnerKey(key string) bool {
	return f.keySet[key]
}

// Owner returns the owner named by the tags. Keys are consulted in
// precedence order and the first occurrence of a key wins.
func (f *Filter) Owner(tags resource.Tags) (string, bool) {
	for _, k := range f.ownerKeys {
		if v, ok := tags.Lookup(k); ok {
			return v, true
		}
	}
	return "", false
}

// MissingOwner returns true if the instance has no tags at all or none of
// its tag keys is an owner key.
func (f *Filter) MissingOwner(inst resource.Instance) bool {
	for _, tag := range inst.Tags {
		if f.IsOwnerKey(tag.Key) {
			return false
		}
	}
	return true
}

// FilterInstances returns only instances that lack an owner tag, in input order.
func (f *Filter) FilterInstances(instances []resource.Instance) []resource.Instance {
	filtered := make([]resource.Instance, 0, len(instances))
	for _, inst := range instances {
		if f.MissingOwner(inst) {
			filtered = append(filtered, inst)
		}
	}
	return filtered
}
