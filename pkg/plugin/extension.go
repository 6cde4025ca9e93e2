package plugin

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"unicode"
)

// Extension is one instance of a capability created from a plugin. Call
// invokes a method by name; it fails with ErrMethodNotFound when the
// instance has no such method and with a *CallError when the method itself
// failed.
type Extension interface {
	Capability() Capability
	Instance() any
	Call(method string, args ...any) ([]any, error)
}

var errorType = reflect.TypeFor[error]()

// NewExtension wraps a Go value. Method names are matched exactly first,
// then in exported form ("update_state" finds UpdateState).
func NewExtension(capability Capability, instance any) Extension {
	return &objectExtension{capability: capability, instance: instance}
}

type objectExtension struct {
	capability Capability
	instance   any
}

func (e *objectExtension) Capability() Capability { return e.capability }
func (e *objectExtension) Instance() any          { return e.instance }

func (e *objectExtension) Call(method string, args ...any) (out []any, err error) {
	fn, ok := lookupMethod(reflect.ValueOf(e.instance), method)
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", e.capability.Name(), method, ErrMethodNotFound)
	}

	in, err := convertArgs(fn.Type(), args)
	if err != nil {
		return nil, &CallError{Method: method, Err: err}
	}

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &CallError{Method: method, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	return splitResults(method, fn.Type(), fn.Call(in))
}

// Close releases the instance if it holds resources.
func (e *objectExtension) Close() error {
	if c, ok := e.instance.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func lookupMethod(v reflect.Value, name string) (reflect.Value, bool) {
	if !v.IsValid() || name == "" {
		return reflect.Value{}, false
	}
	if m := v.MethodByName(name); m.IsValid() {
		return m, true
	}
	if exported := exportedName(name); exported != name {
		if m := v.MethodByName(exported); m.IsValid() {
			return m, true
		}
	}
	return reflect.Value{}, false
}

func exportedName(name string) string {
	var b strings.Builder
	upper := true
	for _, r := range name {
		if r == '_' || r == '-' {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func convertArgs(t reflect.Type, args []any) ([]reflect.Value, error) {
	n := t.NumIn()
	if t.IsVariadic() {
		if len(args) < n-1 {
			return nil, fmt.Errorf("want at least %d arguments, got %d", n-1, len(args))
		}
	} else if len(args) != n {
		return nil, fmt.Errorf("want %d arguments, got %d", n, len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		var pt reflect.Type
		if t.IsVariadic() && i >= n-1 {
			pt = t.In(n - 1).Elem()
		} else {
			pt = t.In(i)
		}
		v, err := convertArg(arg, pt)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in[i] = v
	}
	return in, nil
}

func convertArg(arg any, pt reflect.Type) (reflect.Value, error) {
	if arg == nil {
		switch pt.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.Zero(pt), nil
		}
		return reflect.Value{}, fmt.Errorf("cannot use nil as %s", pt)
	}

	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(pt) {
		return v, nil
	}
	if isNumber(v.Kind()) && isNumber(pt.Kind()) {
		return v.Convert(pt), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", arg, pt)
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func splitResults(method string, t reflect.Type, results []reflect.Value) ([]any, error) {
	n := len(results)
	if n > 0 && t.Out(n-1) == errorType {
		if errVal := results[n-1]; !errVal.IsNil() {
			return nil, &CallError{Method: method, Err: errVal.Interface().(error)}
		}
		results = results[:n-1]
	}

	out := make([]any, len(results))
	for i, r := range results {
		out[i] = r.Interface()
	}
	return out, nil
}

// IsMethodNotFound reports whether err means the method does not exist, as
// opposed to the method having failed.
func IsMethodNotFound(err error) bool {
	return errors.Is(err, ErrMethodNotFound)
}
