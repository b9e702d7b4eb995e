package registry

import "github.com/arloliu/telwire/primitive"

// TypeInfo describes a wire type: a primitive, or an enum carried as primitive.Enum.
type TypeInfo struct {
	Name      string
	Primitive primitive.Type
	Enum      *Enum
}

// Wire returns the primitive used to encode values of the type.
func (t TypeInfo) Wire() primitive.Type {
	if t.Enum != nil {
		return primitive.Enum
	}

	return t.Primitive
}

// NewTypeRegistry creates a type registry seeded with the primitive catalog,
// so primitive type ids are identical in every environment.
func NewTypeRegistry() *Registry[TypeInfo] {
	r := New[TypeInfo]("type")
	for _, p := range primitive.Catalog() {
		r.Add(p.Name(), TypeInfo{Name: p.Name(), Primitive: p})
	}

	return r
}
