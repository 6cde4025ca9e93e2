package plugin

import (
	"errors"
	"fmt"
)

var (
	// ErrPluginNotFound is returned when no descriptor is registered under a module name.
	ErrPluginNotFound = errors.New("plugin not found")
	// ErrUnavailable is returned when loading a descriptor whose availability was revoked.
	ErrUnavailable = errors.New("plugin is not available")
	// ErrNotLoaded is returned when an operation needs a loaded plugin.
	ErrNotLoaded = errors.New("plugin is not loaded")
	// ErrDoesNotProvide signals that a plugin has no implementation of a capability.
	// Callers use it for filtering; it is not a failure.
	ErrDoesNotProvide = errors.New("plugin does not provide extension")
	// ErrMethodNotFound is returned by Extension.Call when the instance has no such method.
	ErrMethodNotFound = errors.New("method not found")

	ErrDependencyNotFound = errors.New("dependency not found")
	ErrDependencyFailed   = errors.New("dependency failed to load")
	ErrDependencyVersion  = errors.New("dependency version not satisfied")
)

// DescriptorParseError reports a malformed or unsupported descriptor file.
type DescriptorParseError struct {
	File string
	Err  error
}

func (e *DescriptorParseError) Error() string {
	return fmt.Sprintf("bad plugin file %q: %v", e.File, e.Err)
}

func (e *DescriptorParseError) Unwrap() error { return e.Err }

// LoaderResolutionError reports a loader id that could not be turned into a Loader.
type LoaderResolutionError struct {
	LoaderID string
	Err      error
}

func (e *LoaderResolutionError) Error() string {
	return fmt.Sprintf("plugin loader %q was not found: %v", e.LoaderID, e.Err)
}

func (e *LoaderResolutionError) Unwrap() error { return e.Err }

// LoadError reports a loader failing to load a plugin's code.
type LoadError struct {
	Module string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load plugin %q: %v", e.Module, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ConstructionError reports an extension instance that failed to instantiate.
type ConstructionError struct {
	Module     string
	Capability string
	Err        error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("failed to create %s extension for plugin %q: %v", e.Capability, e.Module, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// CallError reports an extension method that raised or returned an error.
type CallError struct {
	Method string
	Err    error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("method %q failed: %v", e.Method, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }
