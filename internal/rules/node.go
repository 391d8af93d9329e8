package rules

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Combinator joins the children of a Group.
type Combinator string

const (
	CombinatorAnd Combinator = "AND"
	CombinatorOr  Combinator = "OR"
)

// Operator compares a snapshot field against a leaf value.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreater     Operator = "gt"
	OpGreaterEq   Operator = "gte"
	OpLess        Operator = "lt"
	OpLessEq      Operator = "lte"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpIsEmpty     Operator = "is_empty"
	OpIsNotEmpty  Operator = "is_not_empty"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
)

var supportedOperators = map[Operator]struct{}{
	OpEquals: {}, OpNotEquals: {}, OpGreater: {}, OpGreaterEq: {}, OpLess: {}, OpLessEq: {},
	OpContains: {}, OpNotContains: {}, OpStartsWith: {}, OpEndsWith: {},
	OpIsEmpty: {}, OpIsNotEmpty: {}, OpIn: {}, OpNotIn: {},
}

// operator aliases accepted from stored policies
var operatorAliases = map[string]Operator{
	"==": OpEquals, "eq": OpEquals,
	"!=": OpNotEquals, "ne": OpNotEquals,
	">": OpGreater, ">=": OpGreaterEq,
	"<": OpLess, "<=": OpLessEq,
}

// Node is a rule tree element: either a Leaf or a Group.
type Node interface {
	isNode()
}

// Leaf compares one snapshot field.
type Leaf struct {
	Field    string
	Operator Operator
	Value    any
}

// Group combines child nodes with AND/OR.
type Group struct {
	Combinator Combinator
	Children   []Node
}

func (Leaf) isNode()  {}
func (Group) isNode() {}

// And builds an AND group.
func And(children ...Node) Group {
	return Group{Combinator: CombinatorAnd, Children: children}
}

// Or builds an OR group.
func Or(children ...Node) Group {
	return Group{Combinator: CombinatorOr, Children: children}
}

// Cond builds a leaf.
func Cond(field string, op Operator, value any) Leaf {
	return Leaf{Field: field, Operator: op, Value: value}
}

// Parse decodes a JSON rule tree. Empty input and JSON null yield a nil Node.
func Parse(data []byte) (Node, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode rule tree: %w", err)
	}
	return FromValue(raw)
}

// FromValue builds a rule tree from generically decoded data (JSON or TOML).
//
// Leaves look like {"field": "status", "operator": "equals", "value": "open"};
// groups look like {"combinator": "AND", "children": [...]}.
func FromValue(raw any) (Node, error) {
	if raw == nil {
		return nil, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("rule node must be an object, got %T", raw)
	}
	if _, isGroup := obj["combinator"]; isGroup {
		return groupFromValue(obj)
	}
	if _, isGroup := obj["children"]; isGroup {
		return groupFromValue(obj)
	}
	return leafFromValue(obj)
}

func groupFromValue(obj map[string]any) (Node, error) {
	comb, _ := obj["combinator"].(string)
	combinator := Combinator(strings.ToUpper(strings.TrimSpace(comb)))
	if combinator == "" {
		combinator = CombinatorAnd
	}
	if combinator != CombinatorAnd && combinator != CombinatorOr {
		return nil, fmt.Errorf("unsupported combinator %q", comb)
	}
	rawChildren, ok := obj["children"].([]any)
	if !ok && obj["children"] != nil {
		return nil, fmt.Errorf("children must be a list, got %T", obj["children"])
	}
	group := Group{Combinator: combinator, Children: make([]Node, 0, len(rawChildren))}
	for i, rawChild := range rawChildren {
		child, err := FromValue(rawChild)
		if err != nil {
			return nil, fmt.Errorf("child %d: %w", i, err)
		}
		if child != nil {
			group.Children = append(group.Children, child)
		}
	}
	return group, nil
}

func leafFromValue(obj map[string]any) (Node, error) {
	field, _ := obj["field"].(string)
	field = strings.TrimSpace(field)
	if field == "" {
		return nil, fmt.Errorf("rule leaf requires a field")
	}
	rawOp, _ := obj["operator"].(string)
	op, err := normalizeOperator(rawOp)
	if err != nil {
		return nil, err
	}
	value := obj["value"]
	if (op == OpIn || op == OpNotIn) && value != nil {
		if _, ok := asList(value); !ok {
			return nil, fmt.Errorf("operator %s requires a list value for field %q", op, field)
		}
	}
	return Leaf{Field: field, Operator: op, Value: value}, nil
}

func normalizeOperator(raw string) (Operator, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if alias, ok := operatorAliases[key]; ok {
		return alias, nil
	}
	op := Operator(key)
	if _, ok := supportedOperators[op]; !ok {
		return "", fmt.Errorf("unsupported operator %q", raw)
	}
	return op, nil
}

// ToValue converts a rule tree into plain maps and slices suitable for JSON encoding.
func ToValue(node Node) any {
	switch n := node.(type) {
	case nil:
		return nil
	case Leaf:
		return map[string]any{"field": n.Field, "operator": string(n.Operator), "value": n.Value}
	case Group:
		children := make([]any, 0, len(n.Children))
		for _, child := range n.Children {
			children = append(children, ToValue(child))
		}
		return map[string]any{"combinator": string(n.Combinator), "children": children}
	default:
		return nil
	}
}

// Marshal encodes a rule tree as JSON; a nil tree encodes as null.
func Marshal(node Node) ([]byte, error) {
	return json.Marshal(ToValue(node))
}
