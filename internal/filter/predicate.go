package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yairfalse/ownerscan/pkg/resource"
)

// ErrInvalidPredicate is returned for filter expressions that cannot be parsed.
var ErrInvalidPredicate = errors.New("invalid filter")

// ParsePredicate parses a filter expression. Two forms are accepted:
//
//	Name=tag:Owner,Values=alice,bob   (AWS CLI shorthand)
//	tag:Owner=alice,bob
func ParsePredicate(expr string) (resource.Predicate, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return resource.Predicate{}, fmt.Errorf("%w: empty expression", ErrInvalidPredicate)
	}

	if strings.HasPrefix(expr, "Name=") {
		return parseShorthand(expr)
	}

	name, values, ok := strings.Cut(expr, "=")
	if !ok {
		return resource.Predicate{}, fmt.Errorf("%w %q: expected name=value[,value]", ErrInvalidPredicate, expr)
	}
	return build(expr, name, values)
}

func parseShorthand(expr string) (resource.Predicate, error) {
	rest := strings.TrimPrefix(expr, "Name=")
	name, values, ok := strings.Cut(rest, ",Values=")
	if !ok {
		return resource.Predicate{}, fmt.Errorf("%w %q: missing Values=", ErrInvalidPredicate, expr)
	}
	return build(expr, name, values)
}

func build(expr, name, values string) (resource.Predicate, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return resource.Predicate{}, fmt.Errorf("%w %q: empty name", ErrInvalidPredicate, expr)
	}

	var vals []string
	for _, v := range strings.Split(values, ",") {
		if v = strings.TrimSpace(v); v != "" {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return resource.Predicate{}, fmt.Errorf("%w %q: no values", ErrInvalidPredicate, expr)
	}

	return resource.Predicate{Name: name, Values: vals}, nil
}

// ParsePredicates parses each expression in order.
func ParsePredicates(exprs []string) ([]resource.Predicate, error) {
	preds := make([]resource.Predicate, 0, len(exprs))
	for _, e := range exprs {
		p, err := ParsePredicate(e)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}
