package plugin

import "reflect"

// Capability identifies an extension interface a plugin may provide. Native
// plugins match on the Go type; script loaders match on the name.
type Capability struct {
	name string
	typ  reflect.Type
}

// CapabilityOf returns the capability for the Go type T, named after T.
func CapabilityOf[T any]() Capability {
	t := reflect.TypeFor[T]()
	return Capability{name: t.Name(), typ: t}
}

// NamedCapability returns a capability with no Go type, for extension points
// that only exist in script plugins.
func NamedCapability(name string) Capability {
	return Capability{name: name}
}

func (c Capability) Name() string       { return c.name }
func (c Capability) Type() reflect.Type { return c.typ }
func (c Capability) String() string     { return c.name }

// Accepts reports whether v can serve as an instance of the capability.
func (c Capability) Accepts(v any) bool {
	if v == nil {
		return false
	}
	if c.typ == nil {
		return true
	}
	vt := reflect.TypeOf(v)
	if c.typ.Kind() == reflect.Interface {
		return vt.Implements(c.typ)
	}
	return vt.AssignableTo(c.typ)
}

// Activatable is the extension interface for plugins that attach behaviour
// to a target while loaded.
type Activatable interface {
	Activate()
	Deactivate()
	UpdateState()
}

// Configurable is provided by plugins that expose a configuration surface.
type Configurable interface {
	ConfigureWidget() any
}

var (
	ActivatableCapability  = CapabilityOf[Activatable]()
	ConfigurableCapability = CapabilityOf[Configurable]()
)
