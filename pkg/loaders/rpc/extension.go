package rpc

import (
	"errors"
	"sync"

	"github.com/harun/peas/pkg/plugin"
)

// extension is an instance living in a plugin process.
type extension struct {
	capability plugin.Capability
	id         string
	remote     Remote

	mu     sync.Mutex
	closed bool
}

func (e *extension) Capability() plugin.Capability { return e.capability }

// Instance returns the remote instance id.
func (e *extension) Instance() any { return e.id }

func (e *extension) Call(method string, args ...any) ([]any, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, &plugin.CallError{Method: method, Err: errors.New("extension closed")}
	}
	return e.remote.Call(e.id, method, args)
}

// Close destroys the remote instance. It is a no-op once the process is gone.
func (e *extension) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	return e.remote.Destroy(e.id)
}
