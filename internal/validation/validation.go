// Package validation holds the attribute validators shared by the environment
// model: presence, uniqueness among siblings and associated children.
//
// Validators are attached to a Set when an entity is built. Validate always
// recomputes the errors of the attributes it is asked about; nothing is cached
// between calls.
package validation

import (
	"sort"
	"strings"
)

// Errors maps an attribute name to its messages.
type Errors map[string][]string

// Add appends a message for attr.
func (e Errors) Add(attr, msg string) {
	e[attr] = append(e[attr], msg)
}

// On returns the messages recorded for attr.
func (e Errors) On(attr string) []string {
	return e[attr]
}

// Has reports whether attr has at least one message.
func (e Errors) Has(attr string) bool {
	return len(e[attr]) > 0
}

// HasAny reports whether any attribute has a message.
func (e Errors) HasAny() bool {
	for _, msgs := range e {
		if len(msgs) > 0 {
			return true
		}
	}
	return false
}

// Clear drops the messages of attr.
func (e Errors) Clear(attr string) {
	delete(e, attr)
}

// Attributes returns the attributes carrying messages, sorted.
func (e Errors) Attributes() []string {
	attrs := make([]string, 0, len(e))
	for attr, msgs := range e {
		if len(msgs) > 0 {
			attrs = append(attrs, attr)
		}
	}
	sort.Strings(attrs)
	return attrs
}

// First returns the first message of the first attribute in sorted order.
func (e Errors) First() string {
	for _, attr := range e.Attributes() {
		return e[attr][0]
	}
	return ""
}

// Display joins the messages of attr into one sentence list.
func (e Errors) Display(attr string) string {
	msgs := e[attr]
	if len(msgs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, strings.TrimSuffix(m, ".")+".")
	}
	return strings.Join(parts, " ")
}

// Clone copies e.
func (e Errors) Clone() Errors {
	out := make(Errors, len(e))
	for attr, msgs := range e {
		out[attr] = append([]string(nil), msgs...)
	}
	return out
}

// Validatable is anything that can validate itself and its children.
type Validatable interface {
	IsValid() bool
}

// Validator checks one attribute and records failures into errs.
type Validator interface {
	Validate(attr string, errs Errors)
}

// Option tunes a validator.
type Option func(*options)

type options struct {
	message   string
	condition func() bool
}

// Message overrides the default message.
func Message(msg string) Option {
	return func(o *options) { o.message = msg }
}

// When only runs the validator while cond holds.
func When(cond func() bool) Option {
	return func(o *options) { o.condition = cond }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) active() bool {
	return o.condition == nil || o.condition()
}

func (o options) messageOr(def string) string {
	if o.message != "" {
		return o.message
	}
	return def
}

type presence struct {
	value func() string
	opts  options
}

func (p presence) Validate(attr string, errs Errors) {
	if !p.opts.active() {
		return
	}
	if strings.TrimSpace(p.value()) == "" {
		errs.Add(attr, p.opts.messageOr(Humanize(attr)+" must be present"))
	}
}

type uniqueness struct {
	value    func() string
	siblings func() []string
	opts     options
}

func (u uniqueness) Validate(attr string, errs Errors) {
	if !u.opts.active() {
		return
	}
	v := u.value()
	if strings.TrimSpace(v) == "" {
		return
	}
	for _, s := range u.siblings() {
		if s == v {
			errs.Add(attr, u.opts.messageOr(Humanize(attr)+" is a duplicate"))
			return
		}
	}
}

type rule struct {
	attr      string
	validator Validator
}

type association struct {
	name     string
	children func() []Validatable
}

// Set is the ordered list of validators of one entity plus its current errors.
type Set struct {
	rules        []rule
	associations []association
	errs         Errors
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{errs: Errors{}}
}

// Add attaches a custom validator for attr.
func (s *Set) Add(attr string, v Validator) *Set {
	s.rules = append(s.rules, rule{attr: attr, validator: v})
	return s
}

// PresenceOf requires value to be non-blank.
func (s *Set) PresenceOf(attr string, value func() string, opts ...Option) *Set {
	return s.Add(attr, presence{value: value, opts: buildOptions(opts)})
}

// UniquenessOf fails when any sibling carries the same value. siblings must
// exclude the entity itself and is called on every validation.
func (s *Set) UniquenessOf(attr string, value func() string, siblings func() []string, opts ...Option) *Set {
	return s.Add(attr, uniqueness{value: value, siblings: siblings, opts: buildOptions(opts)})
}

// Associated cascades IsValid into the children returned by children.
func (s *Set) Associated(name string, children func() []Validatable) *Set {
	s.associations = append(s.associations, association{name: name, children: children})
	return s
}

// Validate recomputes errors for attrs, or for every attribute when none given.
func (s *Set) Validate(attrs ...string) Errors {
	if s.errs == nil {
		s.errs = Errors{}
	}
	if len(attrs) == 0 {
		s.errs = Errors{}
		for _, r := range s.rules {
			r.validator.Validate(r.attr, s.errs)
		}
		return s.errs
	}
	wanted := make(map[string]bool, len(attrs))
	for _, attr := range attrs {
		wanted[attr] = true
		s.errs.Clear(attr)
	}
	for _, r := range s.rules {
		if wanted[r.attr] {
			r.validator.Validate(r.attr, s.errs)
		}
	}
	return s.errs
}

// IsValid validates every attribute and every associated child.
func (s *Set) IsValid() bool {
	valid := !s.Validate().HasAny()
	for _, a := range s.associations {
		for _, child := range a.children() {
			if !child.IsValid() {
				valid = false
			}
		}
	}
	return valid
}

// Errors returns the errors from the last validation run.
func (s *Set) Errors() Errors {
	if s.errs == nil {
		s.errs = Errors{}
	}
	return s.errs
}

// Humanize turns "environment_variables" or "encryptedValue" into
// "Environment variables" / "Encrypted value".
func Humanize(attr string) string {
	var b strings.Builder
	for i, r := range attr {
		switch {
		case r == '_' || r == '-':
			b.WriteRune(' ')
		case r >= 'A' && r <= 'Z' && i > 0:
			b.WriteRune(' ')
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" {
		return out
	}
	return strings.ToUpper(out[:1]) + out[1:]
}
