package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/ownerscan/pkg/resource"
)

func TestParsePredicate(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want resource.Predicate
	}{
		{
			name: "aws shorthand",
			expr: "Name=tag:Owner,Values=kguo",
			want: resource.Predicate{Name: "tag:Owner", Values: []string{"kguo"}},
		},
		{
			name: "aws shorthand multiple values",
			expr: "Name=instance-state-name,Values=running,stopped",
			want: resource.Predicate{Name: "instance-state-name", Values: []string{"running", "stopped"}},
		},
		{
			name: "short form",
			expr: "tag:env=prod, staging",
			want: resource.Predicate{Name: "tag:env", Values: []string{"prod", "staging"}},
		},
		{
			name: "value containing equals",
			expr: "tag:query=a=b",
			want: resource.Predicate{Name: "tag:query", Values: []string{"a=b"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePredicate(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePredicate_Invalid(t *testing.T) {
	for _, expr := range []string{
		"",
		"tag:Owner",
		"=alice",
		"tag:Owner=",
		"Name=tag:Owner",
		"Name=,Values=x",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := ParsePredicate(expr)
			assert.ErrorIs(t, err, ErrInvalidPredicate)
		})
	}
}

func TestParsePredicates(t *testing.T) {
	preds, err := ParsePredicates([]string{"tag:Owner=kguo", "Name=instance-state-name,Values=running"})
	require.NoError(t, err)
	require.Len(t, preds, 2)
	assert.Equal(t, "tag:Owner", preds[0].Name)
	assert.Equal(t, "instance-state-name", preds[1].Name)

	_, err = ParsePredicates([]string{"tag:Owner=kguo", "bogus"})
	assert.ErrorIs(t, err, ErrInvalidPredicate)
}
