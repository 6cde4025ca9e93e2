package lua

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// runtime is the single Lua interpreter shared by every Lua loader in the
// process. gopher-lua states are not goroutine-safe, so all access goes
// through mu.
type runtime struct {
	mu sync.Mutex
	L  *lua.LState
}

var (
	runtimeMu   sync.Mutex
	sharedState *runtime
	runtimeRefs int
)

// acquireRuntime returns the shared interpreter, creating it for the first
// caller.
func acquireRuntime() *runtime {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if sharedState == nil {
		L := lua.NewState(lua.Options{SkipOpenLibs: true})
		openLibraries(L)
		sharedState = &runtime{L: L}
	}
	runtimeRefs++
	return sharedState
}

// releaseRuntime drops one reference and closes the interpreter with the last.
func releaseRuntime() {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if runtimeRefs == 0 {
		return
	}
	runtimeRefs--
	if runtimeRefs == 0 {
		sharedState.mu.Lock()
		sharedState.L.Close()
		sharedState.mu.Unlock()
		sharedState = nil
	}
}

// runtimeReferences reports how many loaders hold the interpreter.
func runtimeReferences() int {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	return runtimeRefs
}

func openLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenPackage(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// protect runs fn with the interpreter locked and turns panics into errors.
func (r *runtime) protect(fn func(L *lua.LState) error) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("lua panic: %v", rec)
		}
	}()
	return fn(r.L)
}

// call invokes fn with args and returns every value it returned.
func call(L *lua.LState, fn lua.LValue, args ...lua.LValue) ([]lua.LValue, error) {
	top := L.GetTop()
	L.Push(fn)
	for _, arg := range args {
		L.Push(arg)
	}
	if err := L.PCall(len(args), lua.MultRet, nil); err != nil {
		L.SetTop(top)
		return nil, err
	}

	n := L.GetTop() - top
	results := make([]lua.LValue, n)
	for i := 0; i < n; i++ {
		results[i] = L.Get(top + i + 1)
	}
	L.SetTop(top)
	return results, nil
}
