package rule

import "github.com/shopspring/decimal"

// Operation identifies a node type in the rule tree. The set of operations
// is closed: the evaluator executes these and nothing else, which is the
// security boundary for user-authored rules.
type Operation string

const (
	OpFixed        Operation = "FIXED"
	OpAttributeRef Operation = "ATTRIBUTE_REF"
	OpContextRef   Operation = "CONTEXT_REF"
	OpMultiply     Operation = "MULTIPLY"
	OpAdd          Operation = "ADD"
	OpSubtract     Operation = "SUBTRACT"
	OpIfThenElse   Operation = "IF_THEN_ELSE"

	OpGreaterThan        Operation = "GREATER_THAN"
	OpLessThan           Operation = "LESS_THAN"
	OpGreaterThanOrEqual Operation = "GREATER_THAN_OR_EQUAL"
	OpLessThanOrEqual    Operation = "LESS_THAN_OR_EQUAL"
	OpEqual              Operation = "EQUAL"

	OpAnd Operation = "AND"
	OpOr  Operation = "OR"
	OpNot Operation = "NOT"
)

// Expression is a node in an immutable rule tree. Trees are built once
// (by hand or by Unmarshal) and never mutated in place.
type Expression interface {
	Operation() Operation

	// sealed prevents expression types outside this package. Anything the
	// evaluator sees is guaranteed to be one of the types below.
	sealed()
}

// Fixed is a literal numeric value.
type Fixed struct {
	Value decimal.Decimal
}

// AttributeRef reads a named attribute of an extracted component,
// e.g. ("tür", "höhe").
type AttributeRef struct {
	ComponentType string
	Attribute     string
}

// ContextRef reads a scalar context value, e.g. "distanz_km".
type ContextRef struct {
	Name string
}

// Multiply evaluates Factor and Operand and multiplies them.
type Multiply struct {
	Factor  Expression
	Operand Expression
}

// Add sums its terms left to right.
type Add struct {
	Terms []Expression
}

// Subtract evaluates Left minus Right.
type Subtract struct {
	Left  Expression
	Right Expression
}

// IfThenElse evaluates Condition and then exactly one branch. The untaken
// branch is never evaluated, so it may reference components that are absent
// from the current extraction.
type IfThenElse struct {
	Condition Expression
	Then      Expression
	Else      Expression
}

// Compare is a numeric comparison. Op must be one of the comparison
// operations.
type Compare struct {
	Op    Operation
	Left  Expression
	Right Expression
}

// Logical combines boolean operands. AND and OR take one or more operands
// and short-circuit; NOT takes exactly one.
type Logical struct {
	Op       Operation
	Operands []Expression
}

func (Fixed) Operation() Operation        { return OpFixed }
func (AttributeRef) Operation() Operation { return OpAttributeRef }
func (ContextRef) Operation() Operation   { return OpContextRef }
func (Multiply) Operation() Operation     { return OpMultiply }
func (Add) Operation() Operation          { return OpAdd }
func (Subtract) Operation() Operation     { return OpSubtract }
func (IfThenElse) Operation() Operation   { return OpIfThenElse }
func (c Compare) Operation() Operation    { return c.Op }
func (l Logical) Operation() Operation    { return l.Op }

func (Fixed) sealed()        {}
func (AttributeRef) sealed() {}
func (ContextRef) sealed()   {}
func (Multiply) sealed()     {}
func (Add) sealed()          {}
func (Subtract) sealed()     {}
func (IfThenElse) sealed()   {}
func (Compare) sealed()      {}
func (Logical) sealed()      {}

// Number is shorthand for a Fixed node.
func Number(v float64) Fixed {
	return Fixed{Value: decimal.NewFromFloat(v)}
}

// Attr is shorthand for an AttributeRef node.
func Attr(componentType, attribute string) AttributeRef {
	return AttributeRef{ComponentType: componentType, Attribute: attribute}
}
