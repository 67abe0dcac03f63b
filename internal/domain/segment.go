package domain

// Operator is a CriteriaRule comparison.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpExists      Operator = "exists"
	OpNotExists   Operator = "not_exists"
)

// Logic combines the rules of a SegmentCriteria.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// CriteriaRule tests one contact field, addressed by a dotted path such as
// "metadata.q1" or "status".
type CriteriaRule struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
}

// SegmentCriteria is an ordered rule list. An empty Logic means AND.
type SegmentCriteria struct {
	Rules []CriteriaRule `json:"rules"`
	Logic Logic          `json:"logic,omitempty"`
}

// Segment is a named, reusable criteria set.
type Segment struct {
	ID       string          `json:"id" db:"id"`
	Name     string          `json:"name" db:"name"`
	Criteria SegmentCriteria `json:"criteria" db:"criteria"`
}
