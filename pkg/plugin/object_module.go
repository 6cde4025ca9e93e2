package plugin

import (
	"fmt"
	"sync"
)

// RegisterTypesSymbol is the function a native plugin module exports to
// register its extension factories.
const RegisterTypesSymbol = "RegisterTypes"

// ExtensionFactory creates one extension instance from construction args.
type ExtensionFactory func(args ...any) (any, error)

var (
	embeddedMu sync.RWMutex
	embedded   = make(map[string]func(*ObjectModule))
)

// RegisterEmbedded makes a plugin compiled into the host available to
// descriptors carrying Embedded=<symbol>.
func RegisterEmbedded(symbol string, register func(*ObjectModule)) {
	embeddedMu.Lock()
	defer embeddedMu.Unlock()
	embedded[symbol] = register
}

func lookupEmbedded(symbol string) (func(*ObjectModule), bool) {
	embeddedMu.RLock()
	defer embeddedMu.RUnlock()
	fn, ok := embedded[symbol]
	return fn, ok
}

type typeRegistration struct {
	capability Capability
	factory    ExtensionFactory
}

// ObjectModule is the code module behind a native plugin. The first Use
// opens it and runs its registration function; the module then stays
// resident, so later loads reuse the registered factories.
type ObjectModule struct {
	mu         sync.Mutex
	moduleName string
	path       string
	symbol     string
	opened     bool
	useCount   int
	types      map[string]typeRegistration
	open       func(path string) (symbolTable, error)
}

func newObjectModule(moduleName, path, symbol string, open func(string) (symbolTable, error)) *ObjectModule {
	return &ObjectModule{
		moduleName: moduleName,
		path:       path,
		symbol:     symbol,
		types:      make(map[string]typeRegistration),
		open:       open,
	}
}

// ModuleName returns the name of the plugin the module belongs to.
func (m *ObjectModule) ModuleName() string { return m.moduleName }

// Path returns the shared module file, empty for embedded modules.
func (m *ObjectModule) Path() string {
	if m.symbol != "" {
		return ""
	}
	return m.path
}

// RegisterExtensionFactory binds a capability to a factory. Called by the
// module's registration function.
func (m *ObjectModule) RegisterExtensionFactory(capability Capability, factory ExtensionFactory) {
	m.types[capability.Name()] = typeRegistration{capability: capability, factory: factory}
}

// RegisterExtension binds a capability to a constructor with no arguments
// other than the ones the extension set passes, which it ignores.
func RegisterExtension[T any](m *ObjectModule, capability Capability, ctor func() T) {
	m.RegisterExtensionFactory(capability, func(...any) (any, error) {
		return ctor(), nil
	})
}

// Use opens the module on first use and increments its use count.
func (m *ObjectModule) Use() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.opened {
		if err := m.openLocked(); err != nil {
			m.types = make(map[string]typeRegistration)
			return err
		}
		m.opened = true
	}
	m.useCount++
	return nil
}

// Unuse decrements the use count. The module stays resident.
func (m *ObjectModule) Unuse() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.useCount > 0 {
		m.useCount--
	}
}

// UseCount returns how many loaded descriptors reference the module.
func (m *ObjectModule) UseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.useCount
}

func (m *ObjectModule) openLocked() (err error) {
	var register func(*ObjectModule)

	if m.symbol != "" {
		fn, ok := lookupEmbedded(m.symbol)
		if !ok {
			return fmt.Errorf("embedded symbol %q is not registered", m.symbol)
		}
		register = fn
	} else {
		mod, err := m.open(m.path)
		if err != nil {
			return fmt.Errorf("failed to open module %s: %w", m.path, err)
		}
		sym, err := mod.Lookup(RegisterTypesSymbol)
		if err != nil {
			return fmt.Errorf("failed to find %s in %s: %w", RegisterTypesSymbol, m.path, err)
		}
		fn, ok := sym.(func(*ObjectModule))
		if !ok || fn == nil {
			return fmt.Errorf("%s in %s has unexpected type %T", RegisterTypesSymbol, m.path, sym)
		}
		register = fn
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("registration of %s panicked: %v", m.moduleName, r)
		}
	}()
	register(m)
	return nil
}

func (m *ObjectModule) lookup(capability Capability) (typeRegistration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.types[capability.Name()]
	if !ok {
		return typeRegistration{}, false
	}
	if reg.capability.Type() != nil && capability.Type() != nil && reg.capability.Type() != capability.Type() {
		return typeRegistration{}, false
	}
	return reg, true
}
