package rule

import "github.com/shopspring/decimal"

// Context holds the extracted component attributes and scalar context
// values one calculation evaluates rules against. A Context is built fresh
// per calculation request and never shared across requests.
type Context struct {
	components map[string]map[string]decimal.Decimal
	scalars    map[string]decimal.Decimal
}

// NewContext creates an empty evaluation context.
func NewContext() *Context {
	return &Context{
		components: make(map[string]map[string]decimal.Decimal),
		scalars:    make(map[string]decimal.Decimal),
	}
}

// SetAttribute records an attribute value for a component type,
// e.g. ("tür", "höhe", 2.0).
func (c *Context) SetAttribute(componentType, attribute string, value decimal.Decimal) {
	attrs, ok := c.components[componentType]
	if !ok {
		attrs = make(map[string]decimal.Decimal)
		c.components[componentType] = attrs
	}
	attrs[attribute] = value
}

// SetScalar records a flat context value, e.g. ("distanz_km", 42).
func (c *Context) SetScalar(name string, value decimal.Decimal) {
	c.scalars[name] = value
}

// HasComponent reports whether any attributes were extracted for the
// component type.
func (c *Context) HasComponent(componentType string) bool {
	_, ok := c.components[componentType]
	return ok
}

// Attribute looks up a component attribute.
func (c *Context) Attribute(componentType, attribute string) (decimal.Decimal, bool) {
	attrs, ok := c.components[componentType]
	if !ok {
		return decimal.Decimal{}, false
	}
	v, ok := attrs[attribute]
	return v, ok
}

// Scalar looks up a flat context value.
func (c *Context) Scalar(name string) (decimal.Decimal, bool) {
	v, ok := c.scalars[name]
	return v, ok
}

// Extend returns a copy of the context with additional scalar values
// layered on top. The receiver is not modified; expense rules use this to
// see pipeline totals without leaking them into sibling evaluations.
func (c *Context) Extend(scalars map[string]decimal.Decimal) *Context {
	out := NewContext()
	for componentType, attrs := range c.components {
		for attribute, v := range attrs {
			out.SetAttribute(componentType, attribute, v)
		}
	}
	for name, v := range c.scalars {
		out.scalars[name] = v
	}
	for name, v := range scalars {
		out.scalars[name] = v
	}
	return out
}
