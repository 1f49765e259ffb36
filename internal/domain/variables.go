package domain

import (
	"envline/internal/validation"
)

// EnvironmentVariable is one variable of an environment. Identity is Name within
// the owning collection.
type EnvironmentVariable struct {
	Name           string
	Value          string
	EncryptedValue string
	Secure         bool
	Origin         Origin

	parent *EnvironmentVariables
	rules  *validation.Set
}

// NewVariable returns a plain interactive variable.
func NewVariable(name, value string) *EnvironmentVariable {
	return &EnvironmentVariable{Name: name, Value: value}
}

// NewSecureVariable returns a secure interactive variable with a clear text value
// the server will encrypt.
func NewSecureVariable(name, value string) *EnvironmentVariable {
	return &EnvironmentVariable{Name: name, Value: value, Secure: true}
}

// IsEditable reports whether the variable may be changed through the UI.
func (v *EnvironmentVariable) IsEditable() bool {
	return v.Origin.IsEditable()
}

// Parent returns the owning collection, nil when detached.
func (v *EnvironmentVariable) Parent() *EnvironmentVariables {
	return v.parent
}

// SameContent compares everything but the back reference.
func (v *EnvironmentVariable) SameContent(other *EnvironmentVariable) bool {
	return v.Name == other.Name &&
		v.Value == other.Value &&
		v.EncryptedValue == other.EncryptedValue &&
		v.Secure == other.Secure &&
		v.Origin.Equal(other.Origin)
}

// Copy returns a detached copy.
func (v *EnvironmentVariable) Copy() EnvironmentVariable {
	return EnvironmentVariable{
		Name:           v.Name,
		Value:          v.Value,
		EncryptedValue: v.EncryptedValue,
		Secure:         v.Secure,
		Origin:         v.Origin,
	}
}

func (v *EnvironmentVariable) validations() *validation.Set {
	if v.rules == nil {
		v.rules = validation.NewSet().
			PresenceOf("name", func() string { return v.Name },
				validation.When(func() bool { return v.Value != "" || v.EncryptedValue != "" })).
			UniquenessOf("name", func() string { return v.Name }, v.siblingNames)
	}
	return v.rules
}

func (v *EnvironmentVariable) siblingNames() []string {
	if v.parent == nil {
		return nil
	}
	names := make([]string, 0, len(v.parent.items))
	for _, other := range v.parent.items {
		if other != v {
			names = append(names, other.Name)
		}
	}
	return names
}

// Validate recomputes errors for attrs, or all attributes.
func (v *EnvironmentVariable) Validate(attrs ...string) validation.Errors {
	return v.validations().Validate(attrs...)
}

// IsValid validates the variable.
func (v *EnvironmentVariable) IsValid() bool {
	return v.validations().IsValid()
}

// Errors returns the errors of the last validation.
func (v *EnvironmentVariable) Errors() validation.Errors {
	return v.validations().Errors()
}

// EnvironmentVariables is the ordered variable collection of one environment.
type EnvironmentVariables struct {
	items []*EnvironmentVariable
}

// NewEnvironmentVariables adopts vars into a new collection.
func NewEnvironmentVariables(vars ...*EnvironmentVariable) *EnvironmentVariables {
	c := &EnvironmentVariables{}
	for _, v := range vars {
		c.Add(v)
	}
	return c
}

// Add appends v and points it at this collection. Duplicates are kept so the
// validation cascade can report them.
func (c *EnvironmentVariables) Add(v *EnvironmentVariable) {
	v.parent = c
	c.items = append(c.items, v)
}

// Remove drops the first variable named name. It reports whether one was removed.
func (c *EnvironmentVariables) Remove(name string) bool {
	for i, v := range c.items {
		if v.Name == name {
			v.parent = nil
			c.items = append(c.items[:i], c.items[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveEditable drops every editable variable named name and returns how many
// were dropped. Variables from config repositories stay.
func (c *EnvironmentVariables) RemoveEditable(name string) int {
	kept := c.items[:0]
	n := 0
	for _, v := range c.items {
		if v.Name == name && v.IsEditable() {
			v.parent = nil
			n++
			continue
		}
		kept = append(kept, v)
	}
	for i := len(kept); i < len(c.items); i++ {
		c.items[i] = nil
	}
	c.items = kept
	return n
}

// FindEditable returns the first editable variable named name.
func (c *EnvironmentVariables) FindEditable(name string) (*EnvironmentVariable, bool) {
	for _, v := range c.items {
		if v.Name == name && v.IsEditable() {
			return v, true
		}
	}
	return nil, false
}

// Find returns the first variable named name.
func (c *EnvironmentVariables) Find(name string) (*EnvironmentVariable, bool) {
	for _, v := range c.items {
		if v.Name == name {
			return v, true
		}
	}
	return nil, false
}

// List returns the variables in order. The slice is a copy; the elements are not.
func (c *EnvironmentVariables) List() []*EnvironmentVariable {
	return append([]*EnvironmentVariable(nil), c.items...)
}

// Plain returns the non-secure variables.
func (c *EnvironmentVariables) Plain() []*EnvironmentVariable {
	var out []*EnvironmentVariable
	for _, v := range c.items {
		if !v.Secure {
			out = append(out, v)
		}
	}
	return out
}

// Secure returns the secure variables.
func (c *EnvironmentVariables) Secure() []*EnvironmentVariable {
	var out []*EnvironmentVariable
	for _, v := range c.items {
		if v.Secure {
			out = append(out, v)
		}
	}
	return out
}

// Names returns the variable names in order.
func (c *EnvironmentVariables) Names() []string {
	names := make([]string, 0, len(c.items))
	for _, v := range c.items {
		names = append(names, v.Name)
	}
	return names
}

// Len returns the number of variables.
func (c *EnvironmentVariables) Len() int {
	return len(c.items)
}

// Clone deep-copies the collection. Copies point at the new collection.
func (c *EnvironmentVariables) Clone() *EnvironmentVariables {
	out := &EnvironmentVariables{items: make([]*EnvironmentVariable, 0, len(c.items))}
	for _, v := range c.items {
		cp := v.Copy()
		out.Add(&cp)
	}
	return out
}

// IsValid validates every variable; all are evaluated.
func (c *EnvironmentVariables) IsValid() bool {
	valid := true
	for _, v := range c.items {
		if !v.IsValid() {
			valid = false
		}
	}
	return valid
}
