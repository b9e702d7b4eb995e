package registry

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/arloliu/telwire/errs"
)

// Unknown is returned by Enum.String for values outside the enum's domain.
const Unknown = "UNKNOWN"

// Enum is an immutable bijection between uint8 wire values and names.
type Enum struct {
	name    string
	byValue map[uint8]string
	byName  map[string]uint8
	def     uint8
}

// NewEnum builds an enum named name. def must be one of the values.
func NewEnum(name string, values map[uint8]string, def uint8) (*Enum, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: empty name", errs.ErrInvalidEnum)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: %s has no values", errs.ErrInvalidEnum, name)
	}

	e := &Enum{
		name:    name,
		byValue: make(map[uint8]string, len(values)),
		byName:  make(map[string]uint8, len(values)),
		def:     def,
	}
	for v, s := range values {
		if s == "" || s == Unknown {
			return nil, fmt.Errorf("%w: %s value %d has reserved name %q", errs.ErrInvalidEnum, name, v, s)
		}
		if prev, dup := e.byName[s]; dup {
			return nil, fmt.Errorf("%w: %s name %q used by %d and %d", errs.ErrInvalidEnum, name, s, prev, v)
		}
		e.byValue[v] = s
		e.byName[s] = v
	}
	if _, ok := e.byValue[def]; !ok {
		return nil, fmt.Errorf("%w: %s default %d not in domain", errs.ErrInvalidEnum, name, def)
	}

	return e, nil
}

// NewEnumFromNames builds an enum whose values are the positions of names.
// The first name is the default.
func NewEnumFromNames(name string, names ...string) (*Enum, error) {
	if len(names) > 256 {
		return nil, fmt.Errorf("%w: %s has %d names, max 256", errs.ErrInvalidEnum, name, len(names))
	}
	values := make(map[uint8]string, len(names))
	for i, n := range names {
		values[uint8(i)] = n
	}

	return NewEnum(name, values, 0)
}

func (e *Enum) Name() string   { return e.name }
func (e *Enum) Default() uint8 { return e.def }
func (e *Enum) Len() int       { return len(e.byValue) }

// String returns the name of v, or Unknown.
func (e *Enum) String(v uint8) string {
	if s, ok := e.byValue[v]; ok {
		return s
	}

	return Unknown
}

// Value returns the wire value of name.
func (e *Enum) Value(name string) (uint8, bool) {
	v, ok := e.byName[name]
	return v, ok
}

// Values returns the domain in ascending order.
func (e *Enum) Values() []uint8 {
	return slices.Sorted(maps.Keys(e.byValue))
}

// Equal reports whether two enums have the same name, domain and default.
func (e *Enum) Equal(o *Enum) bool {
	if e == nil || o == nil {
		return e == o
	}

	return e.name == o.name && e.def == o.def && maps.Equal(e.byValue, o.byValue)
}

// EnumRegistry holds process-local enum definitions and their ids in a
// shared type registry.
type EnumRegistry struct {
	mu       sync.Mutex
	local    *Registry[*Enum]
	exported map[int]int // local id -> type registry id
}

// NewEnumRegistry creates an empty enum registry.
func NewEnumRegistry() *EnumRegistry {
	return &EnumRegistry{
		local:    New[*Enum]("enum"),
		exported: make(map[int]int),
	}
}

// Add registers e locally. It returns (-1, false) if the name is taken.
func (r *EnumRegistry) Add(e *Enum) (int, bool) {
	return r.local.Add(e.Name(), e)
}

// Lookup returns the enum registered as name.
func (r *EnumRegistry) Lookup(name string) (*Enum, bool) {
	return r.local.Lookup(name)
}

// Local returns the local registry.
func (r *EnumRegistry) Local() *Registry[*Enum] {
	return r.local
}

// TypeID returns the type registry id recorded for the local enum id.
func (r *EnumRegistry) TypeID(localID int) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.exported[localID]
	return id, ok
}

// Export registers every local enum in types.
//
// An enum already present in types must map to the id recorded by an earlier
// export, or be an identical definition registered by another environment.
// Anything else is an errs.ErrEnumExportConflict: the two sides would give
// the same wire type id different meanings.
func (r *EnumRegistry) Export(types *Registry[TypeInfo]) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for localID, e := range r.local.Items() {
		globalID, exists := types.ID(e.Name())
		if !exists {
			id, ok := types.Add(e.Name(), TypeInfo{Name: e.Name(), Enum: e})
			if !ok {
				return fmt.Errorf("%w: %s registered concurrently", errs.ErrEnumExportConflict, e.Name())
			}
			r.exported[localID] = id

			continue
		}

		if recorded, ok := r.exported[localID]; ok {
			if recorded != globalID {
				return fmt.Errorf("%w: %s exported as type %d, now type %d", errs.ErrEnumExportConflict, e.Name(), recorded, globalID)
			}

			continue
		}

		info, _ := types.Item(globalID)
		if !info.Enum.Equal(e) {
			return fmt.Errorf("%w: %s already registered as type %d with a different definition", errs.ErrEnumExportConflict, e.Name(), globalID)
		}
		r.exported[localID] = globalID
	}

	return nil
}
