package domain

import (
	"fmt"
	"slices"
)

// FieldKind identifies the value shape of a subtype field.
type FieldKind string

// Supported field kinds.
const (
	FieldString FieldKind = "string"
	FieldNumber FieldKind = "number"
	FieldEnum   FieldKind = "enum"
)

// FieldRule declares one subtype field and its validation constraints.
type FieldRule struct {
	Name     string    `json:"name"`
	Kind     FieldKind `json:"kind"`
	Required bool      `json:"required,omitempty"`
	MaxLen   int       `json:"max_len,omitempty"`  // string kinds, 0 = unlimited
	Min      *float64  `json:"min,omitempty"`      // number kinds
	Max      *float64  `json:"max,omitempty"`      // number kinds
	Enum     []string  `json:"enum,omitempty"`     // enum kinds
	Owner    TypeTag   `json:"owner,omitempty"`    // set during resolution
}

// Validate checks a single value against the rule.
func (r FieldRule) Validate(owner TypeTag, value any) error {
	switch r.Kind {
	case FieldString:
		s, ok := value.(string)
		if !ok {
			return ValidationError{Type: owner, Field: r.Name, Msg: fmt.Sprintf("expected string, got %T", value)}
		}
		if r.MaxLen > 0 && len(s) > r.MaxLen {
			return ValidationError{Type: owner, Field: r.Name, Msg: fmt.Sprintf("length %d exceeds limit %d", len(s), r.MaxLen)}
		}
	case FieldNumber:
		n, ok := numericValue(value)
		if !ok {
			return ValidationError{Type: owner, Field: r.Name, Msg: fmt.Sprintf("expected number, got %T", value)}
		}
		if r.Min != nil && n < *r.Min {
			return ValidationError{Type: owner, Field: r.Name, Msg: fmt.Sprintf("%v below minimum %v", n, *r.Min)}
		}
		if r.Max != nil && n > *r.Max {
			return ValidationError{Type: owner, Field: r.Name, Msg: fmt.Sprintf("%v above maximum %v", n, *r.Max)}
		}
	case FieldEnum:
		s, ok := value.(string)
		if !ok {
			return ValidationError{Type: owner, Field: r.Name, Msg: fmt.Sprintf("expected string enum, got %T", value)}
		}
		if !slices.Contains(r.Enum, s) {
			return ValidationError{Type: owner, Field: r.Name, Msg: fmt.Sprintf("%q not in %v", s, r.Enum)}
		}
	default:
		return ValidationError{Type: owner, Field: r.Name, Msg: fmt.Sprintf("unknown field kind %q", r.Kind)}
	}
	return nil
}

func numericValue(value any) (float64, bool) {
	switch n := value.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// TypeSpec declares one taxonomy entry: its parent, the fields it adds on top
// of the inherited chain, and the endorsement categories it adds to the
// requirement gate.
type TypeSpec struct {
	Tag        TypeTag     `json:"tag"`
	Parent     TypeTag     `json:"parent,omitempty"` // empty only for the root
	Prefix     string      `json:"prefix,omitempty"` // reqId prefix, empty for abstract types
	Abstract   bool        `json:"abstract,omitempty"`
	Fields     []FieldRule `json:"fields,omitempty"`
	Categories []Category  `json:"categories,omitempty"`
}

// Registry is the closed hierarchical taxonomy of requirement subtypes.
// Field and category resolution walks the declared parent chain; there is no
// virtual dispatch.
type Registry struct {
	types map[TypeTag]TypeSpec
	order []TypeTag
}

// NewRegistry validates and indexes the supplied specs. It rejects unknown
// parents, parent cycles, field-name collisions along a chain, duplicate
// reqId prefixes among concrete types, and concrete types without a role
// endorsement category.
func NewRegistry(specs ...TypeSpec) (*Registry, error) {
	r := &Registry{types: make(map[TypeTag]TypeSpec, len(specs))}
	for _, spec := range specs {
		if spec.Tag == "" {
			return nil, fmt.Errorf("taxonomy: type with empty tag")
		}
		if _, dup := r.types[spec.Tag]; dup {
			return nil, fmt.Errorf("taxonomy: duplicate type %s", spec.Tag)
		}
		r.types[spec.Tag] = spec
		r.order = append(r.order, spec.Tag)
	}
	prefixes := make(map[string]TypeTag)
	for _, tag := range r.order {
		spec := r.types[tag]
		chain, err := r.chain(tag)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]TypeTag)
		for _, link := range chain {
			for _, f := range r.types[link].Fields {
				if owner, dup := seen[f.Name]; dup {
					return nil, fmt.Errorf("taxonomy: field %s of %s collides with %s", f.Name, link, owner)
				}
				seen[f.Name] = link
			}
		}
		if spec.Abstract {
			continue
		}
		if spec.Prefix == "" {
			return nil, fmt.Errorf("taxonomy: concrete type %s has no reqId prefix", tag)
		}
		if other, dup := prefixes[spec.Prefix]; dup {
			return nil, fmt.Errorf("taxonomy: prefix %s shared by %s and %s", spec.Prefix, tag, other)
		}
		prefixes[spec.Prefix] = tag
		categories, err := r.RequiredCategories(tag)
		if err != nil {
			return nil, err
		}
		hasRole := false
		for _, c := range categories {
			if RoleCategory(c) {
				hasRole = true
				break
			}
		}
		if !hasRole {
			return nil, fmt.Errorf("taxonomy: concrete type %s requires a role endorsement category", tag)
		}
	}
	return r, nil
}

// chain returns the parent chain root-first, ending at tag.
func (r *Registry) chain(tag TypeTag) ([]TypeTag, error) {
	var chain []TypeTag
	for current := tag; ; {
		spec, ok := r.types[current]
		if !ok {
			return nil, fmt.Errorf("taxonomy: unknown type %s", current)
		}
		if slices.Contains(chain, current) {
			return nil, fmt.Errorf("taxonomy: parent cycle through %s", current)
		}
		chain = append(chain, current)
		if spec.Parent == "" {
			break
		}
		current = spec.Parent
	}
	slices.Reverse(chain)
	return chain, nil
}

// Known reports whether the tag is declared.
func (r *Registry) Known(tag TypeTag) bool {
	_, ok := r.types[tag]
	return ok
}

// Tags returns all declared tags in declaration order.
func (r *Registry) Tags() []TypeTag {
	return slices.Clone(r.order)
}

// Spec returns the declaration for a tag.
func (r *Registry) Spec(tag TypeTag) (TypeSpec, bool) {
	spec, ok := r.types[tag]
	return spec, ok
}

// ResolveFields walks the parent chain from the root down to tag and returns
// the concatenated field rules, each annotated with its declaring type.
func (r *Registry) ResolveFields(tag TypeTag) ([]FieldRule, error) {
	chain, err := r.chain(tag)
	if err != nil {
		return nil, err
	}
	var fields []FieldRule
	for _, link := range chain {
		for _, f := range r.types[link].Fields {
			f.Owner = link
			fields = append(fields, f)
		}
	}
	return fields, nil
}

// RequiredCategories returns the endorsement categories a requirement of the
// given type must collect before activation, accumulated along the chain.
func (r *Registry) RequiredCategories(tag TypeTag) ([]Category, error) {
	chain, err := r.chain(tag)
	if err != nil {
		return nil, err
	}
	var categories []Category
	for _, link := range chain {
		for _, c := range r.types[link].Categories {
			if !slices.Contains(categories, c) {
				categories = append(categories, c)
			}
		}
	}
	return categories, nil
}

// IsSubtypeOf reports whether a is b or a descendant of b.
func (r *Registry) IsSubtypeOf(a, b TypeTag) bool {
	for current := a; ; {
		if current == b {
			return true
		}
		spec, ok := r.types[current]
		if !ok || spec.Parent == "" {
			return false
		}
		current = spec.Parent
	}
}

// Prefix returns the reqId prefix for a concrete type.
func (r *Registry) Prefix(tag TypeTag) (string, bool) {
	spec, ok := r.types[tag]
	if !ok || spec.Prefix == "" {
		return "", false
	}
	return spec.Prefix, true
}

// ValidateFields checks a version's subtype fields against the resolved
// schema for the type: unknown fields are rejected, declared rules enforced,
// and required fields must be present.
func (r *Registry) ValidateFields(tag TypeTag, fields map[string]any) error {
	if !r.Known(tag) {
		return ValidationError{Type: tag, Msg: "unknown type"}
	}
	if spec := r.types[tag]; spec.Abstract {
		return ValidationError{Type: tag, Msg: "abstract type cannot be instantiated"}
	}
	resolved, err := r.ResolveFields(tag)
	if err != nil {
		return ValidationError{Type: tag, Msg: err.Error()}
	}
	byName := make(map[string]FieldRule, len(resolved))
	for _, f := range resolved {
		byName[f.Name] = f
	}
	for name, value := range fields {
		rule, ok := byName[name]
		if !ok {
			return ValidationError{Type: tag, Field: name, Msg: "field not declared for type"}
		}
		if err := rule.Validate(tag, value); err != nil {
			return err
		}
	}
	for _, f := range resolved {
		if !f.Required {
			continue
		}
		if _, ok := fields[f.Name]; !ok {
			return ValidationError{Type: tag, Field: f.Name, Msg: "required field missing"}
		}
	}
	return nil
}

func rangeRule(name string, min, max float64, required bool) FieldRule {
	lo, hi := min, max
	return FieldRule{Name: name, Kind: FieldNumber, Required: required, Min: &lo, Max: &hi}
}

// BuiltinRegistry returns the default requirement taxonomy. The parent chain
// mirrors the statement hierarchy: actors specialize requirements, components
// specialize actors, and stakeholders specialize components.
func BuiltinRegistry() *Registry {
	registry, err := NewRegistry(
		TypeSpec{
			Tag:      TypeRequirement,
			Abstract: true,
			Categories: []Category{
				CategoryReadability,
				CategorySpellingGrammar,
				CategoryOrganizationAdmin,
			},
		},
		TypeSpec{Tag: TypeGoal, Parent: TypeRequirement, Prefix: "G"},
		TypeSpec{Tag: TypeObstacle, Parent: TypeRequirement, Prefix: "O"},
		TypeSpec{
			Tag:    TypeConstraint,
			Parent: TypeRequirement,
			Prefix: "C",
			Fields: []FieldRule{
				{Name: "rationale", Kind: FieldString, MaxLen: 2000},
			},
		},
		TypeSpec{
			Tag:    TypeUseCase,
			Parent: TypeRequirement,
			Prefix: "UC",
			Fields: []FieldRule{
				{Name: "primary_actor", Kind: FieldString, MaxLen: 200},
				{Name: "preconditions", Kind: FieldString, MaxLen: 4000},
				{Name: "postconditions", Kind: FieldString, MaxLen: 4000},
			},
			Categories: []Category{
				CategoryTypeCorrespondence,
				CategoryGlossaryCompliance,
				CategoryFormalLanguage,
			},
		},
		TypeSpec{Tag: TypeActor, Parent: TypeRequirement, Prefix: "A"},
		TypeSpec{
			Tag:    TypeComponent,
			Parent: TypeActor,
			Prefix: "CMP",
			Fields: []FieldRule{
				{Name: "interface", Kind: FieldString, MaxLen: 1000},
			},
		},
		TypeSpec{
			Tag:    TypeStakeholder,
			Parent: TypeComponent,
			Prefix: "STK",
			Fields: []FieldRule{
				rangeRule("influence", 0, 100, false),
				rangeRule("availability", 0, 100, false),
				{Name: "segmentation", Kind: FieldString, MaxLen: 500},
				{Name: "category", Kind: FieldEnum, Enum: []string{"internal", "external", "regulator", "customer"}},
			},
		},
		TypeSpec{
			Tag:    TypePerson,
			Parent: TypeActor,
			Prefix: "PER",
			Fields: []FieldRule{
				{Name: "email", Kind: FieldString, MaxLen: 320},
				{Name: "role", Kind: FieldString, MaxLen: 200},
			},
		},
	)
	if err != nil {
		panic(fmt.Errorf("builtin taxonomy invalid: %w", err))
	}
	return registry
}
