package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func snapshot() map[string]any {
	return map[string]any{
		"status":     "waiting_on_customer",
		"priority":   float64(3),
		"category":   "Billing",
		"assignee":   "",
		"tags":       []any{"vip", "emea"},
		"created_at": "2024-03-01T09:00:00Z",
		"customer": map[string]any{
			"tier": "gold",
		},
	}
}

func TestEvaluateLeafOperators(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		node Node
		want bool
	}{
		{"equals is case-insensitive", Cond("status", OpEquals, "WAITING_ON_CUSTOMER"), true},
		{"not equals", Cond("status", OpNotEquals, "open"), true},
		{"numeric equals across types", Cond("priority", OpEquals, int64(3)), true},
		{"greater", Cond("priority", OpGreater, 2), true},
		{"greater or equal", Cond("priority", OpGreaterEq, 3), true},
		{"less", Cond("priority", OpLess, 3), false},
		{"less or equal", Cond("priority", OpLessEq, 3.0), true},
		{"ordering instants", Cond("created_at", OpLess, "2024-03-02T00:00:00Z"), true},
		{"string contains", Cond("category", OpContains, "bill"), true},
		{"string not contains", Cond("category", OpNotContains, "tech"), true},
		{"list contains", Cond("tags", OpContains, "vip"), true},
		{"list not contains", Cond("tags", OpNotContains, "apac"), true},
		{"starts with", Cond("category", OpStartsWith, "bil"), true},
		{"ends with", Cond("category", OpEndsWith, "LING"), true},
		{"is empty", Cond("assignee", OpIsEmpty, nil), true},
		{"is not empty", Cond("category", OpIsNotEmpty, nil), true},
		{"in", Cond("status", OpIn, []any{"open", "waiting_on_customer"}), true},
		{"not in", Cond("status", OpNotIn, []any{"open", "closed"}), true},
		{"list field in", Cond("tags", OpIn, []any{"emea"}), true},
		{"dotted path", Cond("customer.tier", OpEquals, "gold"), true},
	}

	e := NewEvaluator(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Evaluate(tt.node, snapshot()))
		})
	}
}

func TestEvaluateDegradesToFalse(t *testing.T) {
	t.Parallel()

	e := NewEvaluator(nil)
	snap := snapshot()

	assert.False(t, e.Evaluate(Cond("missing", OpEquals, "x"), snap), "unknown field")
	assert.False(t, e.Evaluate(Cond("missing", OpNotEquals, "x"), snap), "unknown field with negated operator")
	assert.False(t, e.Evaluate(Cond("missing", OpIsEmpty, nil), snap), "unknown field with emptiness check")
	assert.False(t, e.Evaluate(Cond("category", OpGreater, 1), snap), "ordering on string")
	assert.False(t, e.Evaluate(Cond("priority", OpStartsWith, "3"), snap), "prefix on number")
	assert.False(t, e.Evaluate(Cond("status", OpIn, "open"), snap), "membership without list")
	assert.False(t, e.Evaluate(nil, snap), "nil tree")
}

func TestNegatedOperatorsFailOnIncomparableOperands(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	e := NewEvaluator(zap.New(core))
	snap := snapshot()

	tests := []struct {
		name string
		node Node
	}{
		{"number not equals string", Cond("priority", OpNotEquals, "3")},
		{"number not in strings", Cond("priority", OpNotIn, []any{"3", "4"})},
		{"string not equals bool", Cond("status", OpNotEquals, true)},
		{"list field not in numbers", Cond("tags", OpNotIn, []any{1, 2})},
		{"number equals string", Cond("priority", OpEquals, "3")},
	}
	for _, tt := range tests {
		assert.False(t, e.Evaluate(tt.node, snap), tt.name)
	}

	mismatches := logs.FilterMessage("condition evaluated to false").All()
	require.Len(t, mismatches, len(tests))
	for i, entry := range mismatches {
		fields := entry.ContextMap()
		assert.Equal(t, string(tests[i].node.(Leaf).Operator), fields["operator"], tests[i].name)
	}

	assert.True(t, e.Evaluate(Cond("priority", OpNotEquals, 4), snap), "comparable operands still negate")
	assert.True(t, e.Evaluate(Cond("priority", OpNotIn, []any{1, "x"}), snap), "one comparable candidate is enough")
	assert.True(t, e.Evaluate(Cond("status", OpNotIn, []any{}), snap), "empty candidate list")
	assert.Len(t, logs.FilterMessage("condition evaluated to false").All(), len(tests))
}

func TestEvaluateGroupsShortCircuit(t *testing.T) {
	t.Parallel()

	e := NewEvaluator(nil)
	snap := snapshot()

	tree := Or(
		And(Cond("status", OpEquals, "open"), Cond("priority", OpGreater, 1)),
		And(Cond("status", OpEquals, "waiting_on_customer"), Cond("tags", OpContains, "vip")),
	)
	assert.True(t, e.Evaluate(tree, snap))
	assert.False(t, e.Evaluate(And(Cond("status", OpEquals, "open"), Cond("missing", OpEquals, 1)), snap))
	assert.True(t, e.Evaluate(And(), snap), "empty AND is vacuously true")
	assert.False(t, e.Evaluate(Or(), snap), "empty OR matches nothing")
}

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"combinator": "or",
		"children": [
			{"field": "status", "operator": "==", "value": "pending"},
			{"combinator": "AND", "children": [
				{"field": "priority", "operator": "gte", "value": 2},
				{"field": "tags", "operator": "contains", "value": "vip"}
			]}
		]
	}`)
	node, err := Parse(raw)
	require.NoError(t, err)

	group, ok := node.(Group)
	require.True(t, ok)
	assert.Equal(t, CombinatorOr, group.Combinator)
	require.Len(t, group.Children, 2)
	assert.Equal(t, Leaf{Field: "status", Operator: OpEquals, Value: "pending"}, group.Children[0])

	encoded, err := Marshal(node)
	require.NoError(t, err)
	again, err := Parse(encoded)
	require.NoError(t, err)
	assert.Equal(t, node, again)
}

func TestParseRejectsMalformedTrees(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"unknown operator":   `{"field":"status","operator":"like","value":"x"}`,
		"missing field":      `{"operator":"equals","value":"x"}`,
		"bad combinator":     `{"combinator":"XOR","children":[]}`,
		"in without list":    `{"field":"status","operator":"in","value":"x"}`,
		"non-object node":    `["status"]`,
		"children not slice": `{"combinator":"AND","children":{}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			assert.Error(t, err)
		})
	}

	node, err := Parse([]byte("null"))
	require.NoError(t, err)
	assert.Nil(t, node)
}

func TestEvaluateTimeValues(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	e := NewEvaluator(nil)
	snap := map[string]any{"last_customer_activity_at": at}

	assert.True(t, e.Evaluate(Cond("last_customer_activity_at", OpLess, "2024-03-01T11:00:00Z"), snap))
	assert.True(t, e.Evaluate(Cond("last_customer_activity_at", OpEquals, "2024-03-01T10:00:00Z"), snap))
}
