package rules

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

// Evaluator evaluates rule trees against flat case snapshots.
// It never fails: unknown fields and type mismatches make a leaf false and are logged at debug level.
type Evaluator struct {
	logger *zap.Logger
}

// NewEvaluator creates an evaluator; a nil logger disables mismatch logging.
func NewEvaluator(logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{logger: logger}
}

// Evaluate reports whether node matches snapshot. A nil node never matches.
func (e *Evaluator) Evaluate(node Node, snapshot map[string]any) bool {
	switch n := node.(type) {
	case nil:
		return false
	case Group:
		return e.evaluateGroup(n, snapshot)
	case Leaf:
		return e.evaluateLeaf(n, snapshot)
	default:
		e.mismatch(fmt.Sprintf("%T", node), "", "unknown node type")
		return false
	}
}

func (e *Evaluator) evaluateGroup(g Group, snapshot map[string]any) bool {
	switch g.Combinator {
	case CombinatorOr:
		for _, child := range g.Children {
			if e.Evaluate(child, snapshot) {
				return true
			}
		}
		return false
	default:
		for _, child := range g.Children {
			if !e.Evaluate(child, snapshot) {
				return false
			}
		}
		return true
	}
}

func (e *Evaluator) evaluateLeaf(leaf Leaf, snapshot map[string]any) bool {
	actual, ok := lookup(snapshot, leaf.Field)
	if !ok {
		e.mismatch(leaf.Field, leaf.Operator, "field not present on snapshot")
		return false
	}

	switch leaf.Operator {
	case OpEquals, OpNotEquals:
		if !sameKind(actual, leaf.Value) {
			e.mismatch(leaf.Field, leaf.Operator, fmt.Sprintf("cannot compare %T with %T", actual, leaf.Value))
			return false
		}
		equal := valuesEqual(actual, leaf.Value)
		if leaf.Operator == OpNotEquals {
			return !equal
		}
		return equal
	case OpGreater, OpGreaterEq, OpLess, OpLessEq:
		cmp, ok := compare(actual, leaf.Value)
		if !ok {
			e.mismatch(leaf.Field, leaf.Operator, fmt.Sprintf("cannot order %T against %T", actual, leaf.Value))
			return false
		}
		switch leaf.Operator {
		case OpGreater:
			return cmp > 0
		case OpGreaterEq:
			return cmp >= 0
		case OpLess:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case OpContains, OpNotContains:
		found, ok := contains(actual, leaf.Value)
		if !ok {
			e.mismatch(leaf.Field, leaf.Operator, fmt.Sprintf("cannot search %T for %T", actual, leaf.Value))
			return false
		}
		if leaf.Operator == OpNotContains {
			return !found
		}
		return found
	case OpStartsWith, OpEndsWith:
		s, okActual := actual.(string)
		prefix, okValue := leaf.Value.(string)
		if !okActual || !okValue {
			e.mismatch(leaf.Field, leaf.Operator, "string operator on non-string operand")
			return false
		}
		s, prefix = strings.ToLower(s), strings.ToLower(prefix)
		if leaf.Operator == OpStartsWith {
			return strings.HasPrefix(s, prefix)
		}
		return strings.HasSuffix(s, prefix)
	case OpIsEmpty:
		return isEmpty(actual)
	case OpIsNotEmpty:
		return !isEmpty(actual)
	case OpIn, OpNotIn:
		candidates, ok := asList(leaf.Value)
		if !ok {
			e.mismatch(leaf.Field, leaf.Operator, "membership operator requires a list value")
			return false
		}
		if !comparableWithAny(actual, candidates) {
			e.mismatch(leaf.Field, leaf.Operator, fmt.Sprintf("no candidate comparable with %T", actual))
			return false
		}
		member := memberOf(actual, candidates)
		if leaf.Operator == OpNotIn {
			return !member
		}
		return member
	default:
		e.mismatch(leaf.Field, leaf.Operator, "unsupported operator")
		return false
	}
}

func (e *Evaluator) mismatch(field string, op Operator, reason string) {
	e.logger.Debug("condition evaluated to false",
		zap.String("field", field),
		zap.String("operator", string(op)),
		zap.String("reason", reason),
		zap.Error(apperrors.ErrConditionMismatch))
}

// lookup resolves a field by exact key first, then as a dotted path into nested maps.
func lookup(snapshot map[string]any, field string) (any, bool) {
	if v, ok := snapshot[field]; ok {
		return v, true
	}
	if !strings.Contains(field, ".") {
		return nil, false
	}
	var current any = snapshot
	for _, part := range strings.Split(field, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ab == bb
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := toTime(b)
		return ok && at.Equal(bt)
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.EqualFold(as, bs)
		}
		if bt, ok := b.(time.Time); ok {
			at, ok := toTime(as)
			return ok && at.Equal(bt)
		}
	}
	return false
}

// sameKind reports whether valuesEqual can decide a and b; nil compares with anything.
func sameKind(a, b any) bool {
	if a == nil || b == nil {
		return true
	}
	if _, ok := toFloat(a); ok {
		_, ok = toFloat(b)
		return ok
	}
	if _, ok := a.(bool); ok {
		_, ok = b.(bool)
		return ok
	}
	if _, ok := a.(time.Time); ok {
		_, ok = toTime(b)
		return ok
	}
	if as, ok := a.(string); ok {
		switch b.(type) {
		case string:
			return true
		case time.Time:
			_, ok := toTime(as)
			return ok
		}
	}
	return false
}

// comparableWithAny reports whether value (or one of its elements) shares a kind with some candidate.
// Empty lists are trivially comparable.
func comparableWithAny(value any, candidates []any) bool {
	if len(candidates) == 0 {
		return true
	}
	if values, ok := asList(value); ok {
		if len(values) == 0 {
			return true
		}
		for _, v := range values {
			if comparableWithAny(v, candidates) {
				return true
			}
		}
		return false
	}
	for _, c := range candidates {
		if sameKind(value, c) {
			return true
		}
	}
	return false
}

// compare orders numbers or instants; ok is false for any other combination.
func compare(a, b any) (int, bool) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	at, okA := toTime(a)
	bt, okB := toTime(b)
	if !okA || !okB {
		return 0, false
	}
	return at.Compare(bt), true
}

func contains(haystack, needle any) (bool, bool) {
	if list, ok := asList(haystack); ok {
		return memberOf(needle, list), true
	}
	s, okHay := haystack.(string)
	sub, okNeedle := needle.(string)
	if !okHay || !okNeedle {
		return false, false
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub)), true
}

// memberOf reports whether value (or, for list values, any of its elements) appears in candidates.
func memberOf(value any, candidates []any) bool {
	if values, ok := asList(value); ok {
		for _, v := range values {
			if memberOf(v, candidates) {
				return true
			}
		}
		return false
	}
	for _, c := range candidates {
		if valuesEqual(value, c) {
			return true
		}
	}
	return false
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case map[string]any:
		return len(t) == 0
	}
	if list, ok := asList(v); ok {
		return len(list) == 0
	}
	return false
}

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
	case []int:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, true
	case []int64:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, true
	case []float64:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, true
	}
	return nil, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(t))
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}
