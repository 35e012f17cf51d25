// Package schema holds the static event and contact declarations and the
// descriptors derived from them.
package schema

import "strings"

// ScalarType is the type tag of a plain string argument.
const ScalarType = "string"

// Kind tells how a parameter value is validated and stored.
type Kind int

const (
	KindScalar Kind = iota
	KindReference
	KindReferenceList
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindReference:
		return "reference"
	case KindReferenceList:
		return "reference list"
	default:
		return "unknown"
	}
}

// Param describes one declared argument of an event.
type Param struct {
	Argument string
	Label    string
	TypeTag  string

	// Derived from TypeTag by NewParam.
	Kind  Kind
	Model string
}

// NewParam builds a descriptor, deciding its kind from the type tag.
// "[shop.Product]" is a list of shop.Product references.
func NewParam(argument, label, typeTag string) Param {
	p := Param{Argument: argument, Label: label, TypeTag: typeTag, Model: typeTag}

	switch {
	case typeTag == ScalarType:
		p.Kind = KindScalar
	case len(typeTag) >= 2 && strings.HasPrefix(typeTag, "[") && strings.HasSuffix(typeTag, "]"):
		p.Kind = KindReferenceList
		p.Model = typeTag[1 : len(typeTag)-1]
	default:
		p.Kind = KindReference
	}

	return p
}

func (p Param) IsString() bool {
	return p.Kind == KindScalar
}

func (p Param) IsList() bool {
	return p.Kind == KindReferenceList
}

// Equal reports whether both descriptors declare the same argument, label and type.
func (p Param) Equal(o Param) bool {
	return p.Argument == o.Argument && p.Label == o.Label && p.TypeTag == o.TypeTag
}

// EventSchema maps argument names to their descriptors.
type EventSchema map[string]Param

// Arguments returns the declared argument names in sorted order.
func (s EventSchema) Arguments() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sortStrings(names)
	return names
}
