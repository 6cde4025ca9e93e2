package rpc

import (
	"encoding/gob"
	"errors"
	"fmt"
	netrpc "net/rpc"
	"sync"

	"github.com/google/uuid"
	goplugin "github.com/hashicorp/go-plugin"

	"github.com/harun/peas/pkg/plugin"
)

// Handshake is used to verify that the plugin and host are compatible
var Handshake = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "PEAS_PLUGIN",
	MagicCookieValue: "peas-extension-provider-v1",
}

const pluginName = "extensions"

// PluginMap is the map of plugins the host dispenses
var PluginMap = map[string]goplugin.Plugin{
	pluginName: &ExtensionPlugin{},
}

func init() {
	gob.Register([]any{})
	gob.Register(map[string]any{})
	gob.Register([]string{})
	gob.Register(map[string]string{})
}

// Provider is what a plugin executable serves: a set of capabilities it can
// instantiate by name.
type Provider interface {
	Provides(capability string) bool
	Create(capability string, args []any) (any, error)
}

// Factories is a Provider backed by one constructor per capability name.
type Factories map[string]plugin.ExtensionFactory

func (f Factories) Provides(capability string) bool {
	_, ok := f[capability]
	return ok
}

func (f Factories) Create(capability string, args []any) (any, error) {
	factory, ok := f[capability]
	if !ok {
		return nil, plugin.ErrDoesNotProvide
	}
	return factory(args...)
}

// Remote is the host's view of a plugin process.
type Remote interface {
	Provides(capability string) (bool, error)
	Create(capability string, args []any) (string, error)
	Call(id, method string, args []any) ([]any, error)
	Destroy(id string) error
}

// ExtensionPlugin is the implementation of goplugin.Plugin for net/rpc
type ExtensionPlugin struct {
	Impl Provider
}

func (p *ExtensionPlugin) Server(*goplugin.MuxBroker) (interface{}, error) {
	return NewServer(p.Impl), nil
}

func (p *ExtensionPlugin) Client(b *goplugin.MuxBroker, c *netrpc.Client) (interface{}, error) {
	return &Client{client: c}, nil
}

// CreateArgs are the arguments for the Create RPC call
type CreateArgs struct {
	Capability string
	Args       []any
}

// CreateResp is the response for the Create RPC call. Errors travel as
// strings since gob cannot encode arbitrary error values.
type CreateResp struct {
	ID          string
	NotProvided bool
	Error       string
}

// CallArgs are the arguments for the Call RPC call
type CallArgs struct {
	ID     string
	Method string
	Args   []any
}

// CallResp is the response for the Call RPC call
type CallResp struct {
	Results        []any
	MethodNotFound bool
	Error          string
}

// Server is the RPC server the Client talks to. It owns every instance the
// host created, keyed by uuid.
type Server struct {
	impl Provider

	mu        sync.Mutex
	instances map[string]plugin.Extension
}

func NewServer(impl Provider) *Server {
	return &Server{impl: impl, instances: make(map[string]plugin.Extension)}
}

func (s *Server) Provides(capability string, resp *bool) error {
	*resp = s.impl.Provides(capability)
	return nil
}

func (s *Server) Create(args *CreateArgs, resp *CreateResp) error {
	if !s.impl.Provides(args.Capability) {
		resp.NotProvided = true
		return nil
	}

	instance, err := safeCreate(s.impl, args.Capability, args.Args)
	if errors.Is(err, plugin.ErrDoesNotProvide) {
		resp.NotProvided = true
		return nil
	}
	if err == nil && instance == nil {
		err = errors.New("constructor returned nil")
	}
	if err != nil {
		resp.Error = err.Error()
		return nil
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.instances[id] = plugin.NewExtension(plugin.NamedCapability(args.Capability), instance)
	s.mu.Unlock()

	resp.ID = id
	return nil
}

func safeCreate(impl Provider, capability string, args []any) (instance any, err error) {
	defer func() {
		if r := recover(); r != nil {
			instance = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return impl.Create(capability, args)
}

func (s *Server) Call(args *CallArgs, resp *CallResp) error {
	s.mu.Lock()
	ext, ok := s.instances[args.ID]
	s.mu.Unlock()
	if !ok {
		resp.Error = fmt.Sprintf("unknown instance %s", args.ID)
		return nil
	}

	results, err := ext.Call(args.Method, args.Args...)
	switch {
	case plugin.IsMethodNotFound(err):
		resp.MethodNotFound = true
	case err != nil:
		resp.Error = err.Error()
	default:
		resp.Results = results
	}
	return nil
}

func (s *Server) Destroy(id string, resp *bool) error {
	s.mu.Lock()
	ext, ok := s.instances[id]
	delete(s.instances, id)
	s.mu.Unlock()

	if ok {
		if closer, isCloser := ext.(interface{ Close() error }); isCloser {
			_ = closer.Close()
		}
	}
	*resp = ok
	return nil
}

// Client is the RPC client that talks to Server
type Client struct {
	client *netrpc.Client
}

func (c *Client) Provides(capability string) (bool, error) {
	var resp bool
	if err := c.client.Call("Plugin.Provides", capability, &resp); err != nil {
		return false, err
	}
	return resp, nil
}

func (c *Client) Create(capability string, args []any) (string, error) {
	var resp CreateResp
	if err := c.client.Call("Plugin.Create", &CreateArgs{Capability: capability, Args: args}, &resp); err != nil {
		return "", err
	}
	if resp.NotProvided {
		return "", plugin.ErrDoesNotProvide
	}
	if resp.Error != "" {
		return "", errors.New(resp.Error)
	}
	return resp.ID, nil
}

func (c *Client) Call(id, method string, args []any) ([]any, error) {
	var resp CallResp
	if err := c.client.Call("Plugin.Call", &CallArgs{ID: id, Method: method, Args: args}, &resp); err != nil {
		return nil, &plugin.CallError{Method: method, Err: err}
	}
	if resp.MethodNotFound {
		return nil, fmt.Errorf("%w: %q", plugin.ErrMethodNotFound, method)
	}
	if resp.Error != "" {
		return nil, &plugin.CallError{Method: method, Err: errors.New(resp.Error)}
	}
	return resp.Results, nil
}

func (c *Client) Destroy(id string) error {
	var resp bool
	return c.client.Call("Plugin.Destroy", id, &resp)
}

// Serve is the entry point of a plugin executable. It blocks until the host
// disconnects.
func Serve(impl Provider) {
	goplugin.Serve(&goplugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]goplugin.Plugin{
			pluginName: &ExtensionPlugin{Impl: impl},
		},
	})
}
