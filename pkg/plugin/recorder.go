package plugin

// Recorder receives engine activity for metrics. Implementations must be
// safe for concurrent use.
type Recorder interface {
	PluginLoaded(module string, err error)
	PluginUnloaded(module string)
	PluginsKnown(n int)
	PluginsActive(n int)
	LoaderResolved(loaderID string, err error)
	ExtensionCreated(capability string, err error)
	ExtensionCalled(method string, err error)
}

type nopRecorder struct{}

func (nopRecorder) PluginLoaded(string, error)     {}
func (nopRecorder) PluginUnloaded(string)          {}
func (nopRecorder) PluginsKnown(int)               {}
func (nopRecorder) PluginsActive(int)              {}
func (nopRecorder) LoaderResolved(string, error)   {}
func (nopRecorder) ExtensionCreated(string, error) {}
func (nopRecorder) ExtensionCalled(string, error)  {}
