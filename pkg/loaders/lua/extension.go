package lua

import (
	"errors"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/harun/peas/pkg/plugin"
)

// extension is a Lua table instance. Methods are called with the instance
// as self and resolved through its metatable.
type extension struct {
	rt         *runtime
	capability plugin.Capability

	mu       sync.Mutex
	instance *lua.LTable
}

func (e *extension) Capability() plugin.Capability { return e.capability }

// Instance returns the *lua.LTable backing the extension.
func (e *extension) Instance() any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instance
}

func (e *extension) Call(method string, args ...any) ([]any, error) {
	e.mu.Lock()
	instance := e.instance
	e.mu.Unlock()
	if instance == nil {
		return nil, &plugin.CallError{Method: method, Err: errors.New("extension closed")}
	}

	var out []any
	err := e.rt.protect(func(L *lua.LState) error {
		fn, ok := L.GetField(instance, method).(*lua.LFunction)
		if !ok {
			return fmt.Errorf("%w: %q", plugin.ErrMethodNotFound, method)
		}

		luaArgs := make([]lua.LValue, 0, len(args)+1)
		luaArgs = append(luaArgs, instance)
		for _, a := range args {
			luaArgs = append(luaArgs, toLua(L, a))
		}

		results, err := call(L, fn, luaArgs...)
		if err != nil {
			return &plugin.CallError{Method: method, Err: err}
		}
		out = make([]any, len(results))
		for i, r := range results {
			out[i] = toGo(r)
		}
		return nil
	})
	if err != nil && !errors.Is(err, plugin.ErrMethodNotFound) {
		var callErr *plugin.CallError
		if !errors.As(err, &callErr) {
			err = &plugin.CallError{Method: method, Err: err}
		}
	}
	return out, err
}

// Close drops the reference to the Lua instance.
func (e *extension) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.instance = nil
	return nil
}
