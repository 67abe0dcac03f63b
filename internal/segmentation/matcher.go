// Package segmentation evaluates rule-based segment criteria against contacts
// in memory.
//
// Fields are addressed by dotted paths over the contact's JSON shape, so
// "status", "engagementScore" and "metadata.survey.q1" are all valid. A path
// that runs into a missing key or a non-map value resolves to absent; it is
// never an error.
package segmentation

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
)

// Matches reports whether c satisfies rule. Unknown operators never match.
func Matches(c *domain.Contact, rule domain.CriteriaRule) bool {
	val, ok := Resolve(c, rule.Field)
	return evaluate(rule.Operator, val, ok, rule.Value)
}

// MatchesAll applies criteria to c. With AND logic an empty rule list matches
// every contact; with OR logic it matches none.
func MatchesAll(c *domain.Contact, criteria domain.SegmentCriteria) bool {
	if criteria.Logic == domain.LogicOr {
		for _, r := range criteria.Rules {
			if Matches(c, r) {
				return true
			}
		}
		return false
	}
	for _, r := range criteria.Rules {
		if !Matches(c, r) {
			return false
		}
	}
	return true
}

// Filter returns the contacts that satisfy criteria, preserving order.
func Filter(contacts []domain.Contact, criteria domain.SegmentCriteria) []domain.Contact {
	out := make([]domain.Contact, 0, len(contacts))
	for i := range contacts {
		if MatchesAll(&contacts[i], criteria) {
			out = append(out, contacts[i])
		}
	}
	return out
}

// Resolve walks a dotted path through the contact. ok is false when any
// segment of the path is missing.
func Resolve(c *domain.Contact, path string) (any, bool) {
	if c == nil || path == "" {
		return nil, false
	}
	head, rest, nested := strings.Cut(path, ".")
	root, ok := topLevel(c, head)
	if !ok {
		return nil, false
	}
	if !nested {
		return root, true
	}
	return walk(root, strings.Split(rest, "."))
}

func topLevel(c *domain.Contact, name string) (any, bool) {
	switch name {
	case "id":
		return c.ID, true
	case "email":
		return c.Email, true
	case "status":
		return string(c.Status), true
	case "source":
		return c.Source, true
	case "segments":
		return c.Segments, true
	case "engagementScore":
		return c.EngagementScore, true
	case "lastSent":
		if c.LastSent == nil {
			return nil, true
		}
		return c.LastSent.UTC().Format(time.RFC3339), true
	case "createdAt":
		return c.CreatedAt.UTC().Format(time.RFC3339), true
	case "updatedAt":
		return c.UpdatedAt.UTC().Format(time.RFC3339), true
	case "metadata":
		if c.Metadata == nil {
			return nil, false
		}
		return c.Metadata, true
	}
	return nil, false
}

func walk(cur any, keys []string) (any, bool) {
	for _, k := range keys {
		switch m := cur.(type) {
		case map[string]any:
			v, ok := m[k]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]string:
			v, ok := m[k]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}

func evaluate(op domain.Operator, val any, present bool, want any) bool {
	switch op {
	case domain.OpEquals:
		return present && val != nil && toString(val) == toString(want)
	case domain.OpNotEquals:
		return !(present && val != nil && toString(val) == toString(want))
	case domain.OpContains:
		return present && val != nil && containsFold(val, toString(want))
	case domain.OpNotContains:
		return !(present && val != nil && containsFold(val, toString(want)))
	case domain.OpIn:
		list, ok := asList(want)
		if !ok {
			return false
		}
		return present && val != nil && member(val, list)
	case domain.OpNotIn:
		list, ok := asList(want)
		if !ok {
			return true
		}
		return !(present && val != nil && member(val, list))
	case domain.OpGreaterThan:
		a, okA := toNumber(val)
		b, okB := toNumber(want)
		return present && okA && okB && a > b
	case domain.OpLessThan:
		a, okA := toNumber(val)
		b, okB := toNumber(want)
		return present && okA && okB && a < b
	case domain.OpExists:
		return present && val != nil
	case domain.OpNotExists:
		return !present || val == nil
	}
	return false
}

func containsFold(val any, needle string) bool {
	needle = strings.ToLower(needle)
	if list, ok := asList(val); ok {
		for _, item := range list {
			if strings.Contains(strings.ToLower(toString(item)), needle) {
				return true
			}
		}
		return false
	}
	return strings.Contains(strings.ToLower(toString(val)), needle)
}

func member(val any, list []any) bool {
	s := toString(val)
	for _, item := range list {
		if toString(item) == s {
			return true
		}
	}
	return false
}

// asList accepts any slice or array value.
func asList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case domain.ContactStatus:
		return string(t)
	}
	if list, ok := asList(v); ok {
		parts := make([]string, len(list))
		for i := range list {
			parts[i] = toString(list[i])
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprint(v)
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t)
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
