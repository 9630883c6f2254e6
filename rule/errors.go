package rule

import "fmt"

// UnknownReferenceError reports a reference to a component, attribute or
// context value that is not present in the calculation context.
type UnknownReferenceError struct {
	Kind string // "component", "attribute" or "context"
	Name string
}

func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("unknown %s reference %q", e.Kind, e.Name)
}

// TypeMismatchError reports a value that cannot be read with the type an
// operation requires.
type TypeMismatchError struct {
	Operation Operation
	Detail    string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch in %s: %s", e.Operation, e.Detail)
}

// TooComplexError reports a rule tree that exceeds the configured depth or
// node count limits. The limits are checked before evaluation begins.
type TooComplexError struct {
	Depth    int
	Nodes    int
	MaxDepth int
	MaxNodes int
}

func (e *TooComplexError) Error() string {
	return fmt.Sprintf("expression too complex: depth %d (max %d), nodes %d (max %d)",
		e.Depth, e.MaxDepth, e.Nodes, e.MaxNodes)
}

// ValidationError reports a structurally invalid rule definition, e.g. an
// operation outside the closed vocabulary or a node with missing fields.
type ValidationError struct {
	Operation Operation
	Detail    string
}

func (e *ValidationError) Error() string {
	if e.Operation == "" {
		return fmt.Sprintf("invalid rule: %s", e.Detail)
	}
	return fmt.Sprintf("invalid rule: %s: %s", e.Operation, e.Detail)
}
