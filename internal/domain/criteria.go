package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Criteria is an open matcher or approver specification. Values follow JSON
// decoding rules: lists arrive as []any, numbers as float64 or json.Number.
type Criteria map[string]any

// Matcher operators.
const (
	OpEquals      = "equals"
	OpIn          = "in"
	OpContainsAny = "contains_any"
	OpContainsAll = "contains_all"
)

// Approver criteria keys.
const (
	CriteriaUserIDs       = "user_ids"
	CriteriaRoles         = "roles"
	CriteriaDepartmentIDs = "department_ids"
	CriteriaMinApprovers  = "min_approvers"
)

// DocumentView is the read-only projection of a document used for workflow
// selection and approver resolution.
type DocumentView struct {
	ID         uuid.UUID
	CategoryID uuid.UUID
	Tags       []uuid.UUID
	CreatorID  uuid.UUID
}

// Clone returns a shallow copy; nil stays nil.
func (c Criteria) Clone() Criteria {
	if c == nil {
		return nil
	}
	out := make(Criteria, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// StringList returns the value under key as canonical strings.
func (c Criteria) StringList(key string) ([]string, bool) {
	raw, ok := c[key]
	if !ok {
		return nil, false
	}
	return toStringList(raw)
}

// UUIDList parses the value under key into identities.
func (c Criteria) UUIDList(key string) ([]uuid.UUID, error) {
	values, ok := c.StringList(key)
	if !ok {
		return nil, fmt.Errorf("%s must be a list", key)
	}
	ids := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s entry %q", key, v)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// PositiveInt returns the value under key when it is an integral number > 0.
func (c Criteria) PositiveInt(key string) (int, bool) {
	raw, ok := c[key]
	if !ok {
		return 0, false
	}
	return toPositiveInt(raw)
}

func toStringList(raw any) ([]string, bool) {
	switch v := raw.(type) {
	case []string:
		out := make([]string, len(v))
		for i, s := range v {
			out[i] = canonical(s)
		}
		return out, true
	case []uuid.UUID:
		out := make([]string, len(v))
		for i, id := range v {
			out[i] = id.String()
		}
		return out, true
	case []any:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = canonical(item)
		}
		return out, true
	default:
		return nil, false
	}
}

func toPositiveInt(raw any) (int, bool) {
	var n int
	switch v := raw.(type) {
	case int:
		n = v
	case int32:
		n = int(v)
	case int64:
		n = int(v)
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		n = int(v)
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, false
		}
		n = int(i)
	case string:
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		n = i
	default:
		return 0, false
	}
	return n, n > 0
}

// canonical renders a criteria value for comparison. Identities compare in
// their lowercase hyphenated form regardless of how they were written.
func canonical(v any) string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case uuid.UUID:
		return t.String()
	case fmt.Stringer:
		s = t.String()
	default:
		s = fmt.Sprint(t)
	}
	s = strings.TrimSpace(s)
	if id, err := uuid.Parse(s); err == nil {
		return id.String()
	}
	return s
}

// matchValue evaluates an equals/in matcher against value.
func matchValue(c Criteria, value string) bool {
	if len(c) == 0 {
		return true
	}
	if want, ok := c[OpEquals]; ok {
		return canonical(want) == value
	}
	if raw, ok := c[OpIn]; ok {
		candidates, ok := toStringList(raw)
		if !ok {
			return false
		}
		for _, cand := range candidates {
			if cand == value {
				return true
			}
		}
		return false
	}
	return false
}

// matchTags evaluates a contains_any/contains_all matcher against tags.
func matchTags(c Criteria, tags []uuid.UUID) bool {
	if len(c) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		have[t.String()] = struct{}{}
	}
	if raw, ok := c[OpContainsAny]; ok {
		required, ok := toStringList(raw)
		if !ok {
			return false
		}
		for _, r := range required {
			if _, found := have[r]; found {
				return true
			}
		}
		return false
	}
	if raw, ok := c[OpContainsAll]; ok {
		required, ok := toStringList(raw)
		if !ok {
			return false
		}
		for _, r := range required {
			if _, found := have[r]; !found {
				return false
			}
		}
		return true
	}
	return false
}

// validateValueMatcher checks the shape of a category or creator matcher.
func validateValueMatcher(field string, c Criteria) error {
	if len(c) == 0 {
		return nil
	}
	if _, ok := c[OpEquals]; ok {
		return nil
	}
	if raw, ok := c[OpIn]; ok {
		if _, ok := toStringList(raw); !ok {
			return newValidationError(EntityWorkflow, "%s.in must be a list", field)
		}
		return nil
	}
	return newValidationError(EntityWorkflow, "%s must use %q or %q", field, OpEquals, OpIn)
}

// validateTagMatcher checks the shape of a tag matcher.
func validateTagMatcher(c Criteria) error {
	if len(c) == 0 {
		return nil
	}
	for _, op := range []string{OpContainsAny, OpContainsAll} {
		raw, ok := c[op]
		if !ok {
			continue
		}
		values, ok := toStringList(raw)
		if !ok || len(values) == 0 {
			return newValidationError(EntityWorkflow, "tag_criteria.%s must be a non-empty list", op)
		}
		for _, v := range values {
			if _, err := uuid.Parse(v); err != nil {
				return newValidationError(EntityWorkflow, "invalid tag ID format: %s", v)
			}
		}
		return nil
	}
	return newValidationError(EntityWorkflow, "tag_criteria must use %q or %q", OpContainsAny, OpContainsAll)
}
