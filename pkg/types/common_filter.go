package types

import (
	"fmt"

	"gorm.io/gorm/clause"
)

type CommonFilterOperator string

const (
	CommonFilterOperatorEq    CommonFilterOperator = "eq"
	CommonFilterOperatorNotEq CommonFilterOperator = "not_eq"
	CommonFilterOperatorLt    CommonFilterOperator = "lt"
	CommonFilterOperatorLte   CommonFilterOperator = "lte"
	CommonFilterOperatorGt    CommonFilterOperator = "gt"
	CommonFilterOperatorGte   CommonFilterOperator = "gte"
	CommonFilterOperatorRange CommonFilterOperator = "range"
	CommonFilterOperatorIn    CommonFilterOperator = "in"
)

// CommonFilter is a single admin-list predicate. Field names are raw column
// names, so callers must run Validate against a whitelist before Build.
type CommonFilter struct {
	Field    string               `json:"field"`
	Operator CommonFilterOperator `json:"operator"`
	Values   []any                `json:"values"`
}

// Validate checks the field against allowed columns and the operator arity.
func (f *CommonFilter) Validate(allowed map[string]bool) error {
	if f == nil {
		return fmt.Errorf("nil filter")
	}
	if !allowed[f.Field] {
		return fmt.Errorf("filter field not allowed: %s", f.Field)
	}
	switch f.Operator {
	case CommonFilterOperatorEq, CommonFilterOperatorNotEq, CommonFilterOperatorLt,
		CommonFilterOperatorLte, CommonFilterOperatorGt, CommonFilterOperatorGte:
		if len(f.Values) != 1 {
			return fmt.Errorf("operator %s expects 1 value, got %d", f.Operator, len(f.Values))
		}
	case CommonFilterOperatorRange:
		if len(f.Values) != 2 {
			return fmt.Errorf("operator range expects 2 values, got %d", len(f.Values))
		}
	case CommonFilterOperatorIn:
		if len(f.Values) == 0 {
			return fmt.Errorf("operator in expects at least 1 value")
		}
	default:
		return fmt.Errorf("unsupported filter operator: %s", f.Operator)
	}
	return nil
}

// Build constructs a GORM expression.
func (f *CommonFilter) Build(builder clause.Builder) {
	if len(f.Values) == 0 {
		return
	}

	value := f.Values[0]

	switch f.Operator {
	case CommonFilterOperatorEq:
		clause.Eq{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorNotEq:
		clause.Neq{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorLt:
		clause.Lt{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorLte:
		clause.Lte{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorGt:
		clause.Gt{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorGte:
		clause.Gte{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorRange:
		if len(f.Values) < 2 {
			return
		}
		clause.And(clause.Gte{Column: f.Field, Value: f.Values[0]}, clause.Lte{Column: f.Field, Value: f.Values[1]}).Build(builder)
	case CommonFilterOperatorIn:
		clause.IN{Column: f.Field, Values: f.Values}.Build(builder)
	default:
		return
	}
}
