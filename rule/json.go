package rule

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// envelope is the persisted JSON shape of a rule node. The admin layer
// stores this verbatim; only the fields relevant to the operation are set.
type envelope struct {
	Operation     Operation         `json:"operation"`
	Value         json.RawMessage   `json:"value,omitempty"`
	ComponentType string            `json:"component_type,omitempty"`
	Attribute     string            `json:"attribute,omitempty"`
	Name          string            `json:"name,omitempty"`
	Factor        json.RawMessage   `json:"factor,omitempty"`
	Operand       json.RawMessage   `json:"operand,omitempty"`
	Terms         []json.RawMessage `json:"terms,omitempty"`
	Left          json.RawMessage   `json:"left,omitempty"`
	Right         json.RawMessage   `json:"right,omitempty"`
	Condition     json.RawMessage   `json:"condition,omitempty"`
	Then          json.RawMessage   `json:"then,omitempty"`
	Else          json.RawMessage   `json:"else,omitempty"`
	Operands      []json.RawMessage `json:"operands,omitempty"`
}

// Unmarshal decodes a rule tree from its persisted JSON form. Operations
// outside the closed vocabulary are rejected, never interpreted.
func Unmarshal(data []byte) (Expression, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ValidationError{Detail: fmt.Sprintf("malformed rule node: %v", err)}
	}
	return env.decode()
}

func decodeChild(field string, op Operation, raw json.RawMessage) (Expression, error) {
	if len(raw) == 0 {
		return nil, &ValidationError{Operation: op, Detail: fmt.Sprintf("missing %q", field)}
	}
	return Unmarshal(raw)
}

func (env envelope) decode() (Expression, error) {
	switch env.Operation {
	case OpFixed:
		if len(env.Value) == 0 || string(env.Value) == "null" {
			return nil, &ValidationError{Operation: OpFixed, Detail: "missing \"value\""}
		}
		var v decimal.Decimal
		if err := v.UnmarshalJSON(env.Value); err != nil {
			return nil, &TypeMismatchError{Operation: OpFixed, Detail: fmt.Sprintf("value %s cannot be read as a number", env.Value)}
		}
		return Fixed{Value: v}, nil

	case OpAttributeRef:
		if env.ComponentType == "" || env.Attribute == "" {
			return nil, &ValidationError{Operation: OpAttributeRef, Detail: "missing \"component_type\" or \"attribute\""}
		}
		return AttributeRef{ComponentType: env.ComponentType, Attribute: env.Attribute}, nil

	case OpContextRef:
		if env.Name == "" {
			return nil, &ValidationError{Operation: OpContextRef, Detail: "missing \"name\""}
		}
		return ContextRef{Name: env.Name}, nil

	case OpMultiply:
		factor, err := decodeChild("factor", OpMultiply, env.Factor)
		if err != nil {
			return nil, err
		}
		operand, err := decodeChild("operand", OpMultiply, env.Operand)
		if err != nil {
			return nil, err
		}
		return Multiply{Factor: factor, Operand: operand}, nil

	case OpAdd:
		if len(env.Terms) == 0 {
			return nil, &ValidationError{Operation: OpAdd, Detail: "requires at least one term"}
		}
		terms := make([]Expression, 0, len(env.Terms))
		for _, raw := range env.Terms {
			term, err := Unmarshal(raw)
			if err != nil {
				return nil, err
			}
			terms = append(terms, term)
		}
		return Add{Terms: terms}, nil

	case OpSubtract:
		left, err := decodeChild("left", OpSubtract, env.Left)
		if err != nil {
			return nil, err
		}
		right, err := decodeChild("right", OpSubtract, env.Right)
		if err != nil {
			return nil, err
		}
		return Subtract{Left: left, Right: right}, nil

	case OpIfThenElse:
		cond, err := decodeChild("condition", OpIfThenElse, env.Condition)
		if err != nil {
			return nil, err
		}
		then, err := decodeChild("then", OpIfThenElse, env.Then)
		if err != nil {
			return nil, err
		}
		els, err := decodeChild("else", OpIfThenElse, env.Else)
		if err != nil {
			return nil, err
		}
		return IfThenElse{Condition: cond, Then: then, Else: els}, nil

	case OpGreaterThan, OpLessThan, OpGreaterThanOrEqual, OpLessThanOrEqual, OpEqual:
		left, err := decodeChild("left", env.Operation, env.Left)
		if err != nil {
			return nil, err
		}
		right, err := decodeChild("right", env.Operation, env.Right)
		if err != nil {
			return nil, err
		}
		return Compare{Op: env.Operation, Left: left, Right: right}, nil

	case OpAnd, OpOr:
		if len(env.Operands) == 0 {
			return nil, &ValidationError{Operation: env.Operation, Detail: "requires at least one operand"}
		}
		operands := make([]Expression, 0, len(env.Operands))
		for _, raw := range env.Operands {
			operand, err := Unmarshal(raw)
			if err != nil {
				return nil, err
			}
			operands = append(operands, operand)
		}
		return Logical{Op: env.Operation, Operands: operands}, nil

	case OpNot:
		if len(env.Operands) != 1 {
			return nil, &ValidationError{Operation: OpNot, Detail: "requires exactly one operand"}
		}
		operand, err := Unmarshal(env.Operands[0])
		if err != nil {
			return nil, err
		}
		return Logical{Op: OpNot, Operands: []Expression{operand}}, nil

	default:
		return nil, &ValidationError{Operation: env.Operation, Detail: "unknown operation"}
	}
}

// Marshal encodes a rule tree into its persisted JSON form. Unmarshal(Marshal(e))
// yields an equivalent tree.
func Marshal(expr Expression) ([]byte, error) {
	env, err := encode(expr)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func encodeChild(expr Expression) (json.RawMessage, error) {
	return Marshal(expr)
}

func encodeChildren(exprs []Expression) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(exprs))
	for _, e := range exprs {
		raw, err := Marshal(e)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func encode(expr Expression) (*envelope, error) {
	switch node := expr.(type) {
	case Fixed:
		raw, err := node.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		return &envelope{Operation: OpFixed, Value: raw}, nil
	case AttributeRef:
		return &envelope{Operation: OpAttributeRef, ComponentType: node.ComponentType, Attribute: node.Attribute}, nil
	case ContextRef:
		return &envelope{Operation: OpContextRef, Name: node.Name}, nil
	case Multiply:
		factor, err := encodeChild(node.Factor)
		if err != nil {
			return nil, err
		}
		operand, err := encodeChild(node.Operand)
		if err != nil {
			return nil, err
		}
		return &envelope{Operation: OpMultiply, Factor: factor, Operand: operand}, nil
	case Add:
		terms, err := encodeChildren(node.Terms)
		if err != nil {
			return nil, err
		}
		return &envelope{Operation: OpAdd, Terms: terms}, nil
	case Subtract:
		left, err := encodeChild(node.Left)
		if err != nil {
			return nil, err
		}
		right, err := encodeChild(node.Right)
		if err != nil {
			return nil, err
		}
		return &envelope{Operation: OpSubtract, Left: left, Right: right}, nil
	case IfThenElse:
		cond, err := encodeChild(node.Condition)
		if err != nil {
			return nil, err
		}
		then, err := encodeChild(node.Then)
		if err != nil {
			return nil, err
		}
		els, err := encodeChild(node.Else)
		if err != nil {
			return nil, err
		}
		return &envelope{Operation: OpIfThenElse, Condition: cond, Then: then, Else: els}, nil
	case Compare:
		left, err := encodeChild(node.Left)
		if err != nil {
			return nil, err
		}
		right, err := encodeChild(node.Right)
		if err != nil {
			return nil, err
		}
		return &envelope{Operation: node.Op, Left: left, Right: right}, nil
	case Logical:
		operands, err := encodeChildren(node.Operands)
		if err != nil {
			return nil, err
		}
		return &envelope{Operation: node.Op, Operands: operands}, nil
	default:
		return nil, &ValidationError{Detail: fmt.Sprintf("unsupported expression type %T", expr)}
	}
}
