package rule

import "github.com/shopspring/decimal"

// Limits bounds the size of a rule tree the evaluator will accept.
type Limits struct {
	MaxDepth int
	MaxNodes int
}

// DefaultLimits returns the production limits. Authored rules are small;
// anything beyond this is either a mistake or an attempt to make the
// evaluator spin.
func DefaultLimits() Limits {
	return Limits{
		MaxDepth: 32,
		MaxNodes: 512,
	}
}

// Evaluator evaluates rule trees against a Context. It holds no mutable
// state and is safe for concurrent use.
type Evaluator struct {
	limits Limits
}

// NewEvaluator creates an evaluator with the given limits.
func NewEvaluator(limits Limits) *Evaluator {
	return &Evaluator{limits: limits}
}

// value is the result of evaluating a node. Comparisons and logical
// operations produce booleans; everything else produces numbers.
type value struct {
	num    decimal.Decimal
	truth  bool
	isBool bool
}

func numberValue(d decimal.Decimal) value { return value{num: d} }
func boolValue(b bool) value              { return value{truth: b, isBool: true} }

// asNumber coerces to a number; booleans become 1 or 0.
func (v value) asNumber() decimal.Decimal {
	if v.isBool {
		if v.truth {
			return decimal.NewFromInt(1)
		}
		return decimal.Decimal{}
	}
	return v.num
}

// asBool coerces to a boolean; non-zero numbers are true.
func (v value) asBool() bool {
	if v.isBool {
		return v.truth
	}
	return !v.num.IsZero()
}

// EvaluateNumber evaluates expr against ctx and returns a numeric result.
// A boolean result coerces to 1/0. The tree is checked against the
// evaluator's limits before any node is evaluated.
func (e *Evaluator) EvaluateNumber(expr Expression, ctx *Context) (decimal.Decimal, error) {
	v, err := e.evaluate(expr, ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return v.asNumber(), nil
}

// EvaluateBool evaluates expr against ctx and returns a boolean result.
// A numeric result coerces to true when non-zero.
func (e *Evaluator) EvaluateBool(expr Expression, ctx *Context) (bool, error) {
	v, err := e.evaluate(expr, ctx)
	if err != nil {
		return false, err
	}
	return v.asBool(), nil
}

func (e *Evaluator) evaluate(expr Expression, ctx *Context) (value, error) {
	if err := Validate(expr, e.limits); err != nil {
		return value{}, err
	}
	return eval(expr, ctx)
}

func eval(expr Expression, ctx *Context) (value, error) {
	switch node := expr.(type) {
	case Fixed:
		return numberValue(node.Value), nil

	case AttributeRef:
		if !ctx.HasComponent(node.ComponentType) {
			return value{}, &UnknownReferenceError{Kind: "component", Name: node.ComponentType}
		}
		v, ok := ctx.Attribute(node.ComponentType, node.Attribute)
		if !ok {
			return value{}, &UnknownReferenceError{Kind: "attribute", Name: node.ComponentType + "." + node.Attribute}
		}
		return numberValue(v), nil

	case ContextRef:
		v, ok := ctx.Scalar(node.Name)
		if !ok {
			return value{}, &UnknownReferenceError{Kind: "context", Name: node.Name}
		}
		return numberValue(v), nil

	case Multiply:
		factor, err := eval(node.Factor, ctx)
		if err != nil {
			return value{}, err
		}
		operand, err := eval(node.Operand, ctx)
		if err != nil {
			return value{}, err
		}
		return numberValue(factor.asNumber().Mul(operand.asNumber())), nil

	case Add:
		// Left-to-right fold. Addition commutes, the fixed order just keeps
		// serialized breakdowns byte-stable.
		sum := decimal.Decimal{}
		for _, term := range node.Terms {
			v, err := eval(term, ctx)
			if err != nil {
				return value{}, err
			}
			sum = sum.Add(v.asNumber())
		}
		return numberValue(sum), nil

	case Subtract:
		left, err := eval(node.Left, ctx)
		if err != nil {
			return value{}, err
		}
		right, err := eval(node.Right, ctx)
		if err != nil {
			return value{}, err
		}
		return numberValue(left.asNumber().Sub(right.asNumber())), nil

	case IfThenElse:
		cond, err := eval(node.Condition, ctx)
		if err != nil {
			return value{}, err
		}
		// Only the selected branch is evaluated. Rules referencing
		// components absent from the current extraction rely on this.
		if cond.asBool() {
			return eval(node.Then, ctx)
		}
		return eval(node.Else, ctx)

	case Compare:
		left, err := eval(node.Left, ctx)
		if err != nil {
			return value{}, err
		}
		right, err := eval(node.Right, ctx)
		if err != nil {
			return value{}, err
		}
		cmp := left.asNumber().Cmp(right.asNumber())
		switch node.Op {
		case OpGreaterThan:
			return boolValue(cmp > 0), nil
		case OpLessThan:
			return boolValue(cmp < 0), nil
		case OpGreaterThanOrEqual:
			return boolValue(cmp >= 0), nil
		case OpLessThanOrEqual:
			return boolValue(cmp <= 0), nil
		case OpEqual:
			return boolValue(cmp == 0), nil
		default:
			return value{}, &ValidationError{Operation: node.Op, Detail: "not a comparison operation"}
		}

	case Logical:
		switch node.Op {
		case OpAnd:
			for _, operand := range node.Operands {
				v, err := eval(operand, ctx)
				if err != nil {
					return value{}, err
				}
				if !v.asBool() {
					return boolValue(false), nil
				}
			}
			return boolValue(true), nil
		case OpOr:
			for _, operand := range node.Operands {
				v, err := eval(operand, ctx)
				if err != nil {
					return value{}, err
				}
				if v.asBool() {
					return boolValue(true), nil
				}
			}
			return boolValue(false), nil
		case OpNot:
			v, err := eval(node.Operands[0], ctx)
			if err != nil {
				return value{}, err
			}
			return boolValue(!v.asBool()), nil
		default:
			return value{}, &ValidationError{Operation: node.Op, Detail: "not a logical operation"}
		}

	default:
		return value{}, &ValidationError{Detail: "unsupported expression type"}
	}
}

// Validate walks the tree and enforces structural constraints: operation
// arity and the depth/node limits. It must pass before evaluation starts so
// a complex tree fails fast instead of mid-recursion.
func Validate(expr Expression, limits Limits) error {
	depth, nodes, err := measure(expr, 1)
	if err != nil {
		return err
	}
	if depth > limits.MaxDepth || nodes > limits.MaxNodes {
		return &TooComplexError{Depth: depth, Nodes: nodes, MaxDepth: limits.MaxDepth, MaxNodes: limits.MaxNodes}
	}
	return nil
}

func measure(expr Expression, depth int) (maxDepth, nodes int, err error) {
	children, err := childNodes(expr)
	if err != nil {
		return 0, 0, err
	}
	maxDepth, nodes = depth, 1
	for _, child := range children {
		d, n, err := measure(child, depth+1)
		if err != nil {
			return 0, 0, err
		}
		if d > maxDepth {
			maxDepth = d
		}
		nodes += n
	}
	return maxDepth, nodes, nil
}

func childNodes(expr Expression) ([]Expression, error) {
	switch node := expr.(type) {
	case Fixed, AttributeRef, ContextRef:
		return nil, nil
	case Multiply:
		return []Expression{node.Factor, node.Operand}, nil
	case Add:
		if len(node.Terms) == 0 {
			return nil, &ValidationError{Operation: OpAdd, Detail: "requires at least one term"}
		}
		return node.Terms, nil
	case Subtract:
		return []Expression{node.Left, node.Right}, nil
	case IfThenElse:
		return []Expression{node.Condition, node.Then, node.Else}, nil
	case Compare:
		switch node.Op {
		case OpGreaterThan, OpLessThan, OpGreaterThanOrEqual, OpLessThanOrEqual, OpEqual:
		default:
			return nil, &ValidationError{Operation: node.Op, Detail: "not a comparison operation"}
		}
		return []Expression{node.Left, node.Right}, nil
	case Logical:
		switch node.Op {
		case OpAnd, OpOr:
			if len(node.Operands) == 0 {
				return nil, &ValidationError{Operation: node.Op, Detail: "requires at least one operand"}
			}
		case OpNot:
			if len(node.Operands) != 1 {
				return nil, &ValidationError{Operation: OpNot, Detail: "requires exactly one operand"}
			}
		default:
			return nil, &ValidationError{Operation: node.Op, Detail: "not a logical operation"}
		}
		return node.Operands, nil
	case nil:
		return nil, &ValidationError{Detail: "nil expression"}
	default:
		return nil, &ValidationError{Detail: "unsupported expression type"}
	}
}
