// Package plugin wires pluggable components (transports, discovery backends)
// into the runtime from configuration. Factories register themselves at init
// time; InitPlugins instantiates whatever the "plugin" config section names.
package plugin

import (
	"fmt"
	"sync"
)

// Type is the plugin category, e.g. "transport".
type Type string

const (
	// Transport is the socket-layer plugin type.
	Transport Type = "transport"
)

// Factory builds and manages instances of one plugin implementation.
// Implementations must be safe for concurrent Setup and Destroy calls.
type Factory interface {
	// Type returns the plugin category this factory belongs to.
	Type() Type

	// Name returns the implementation name, e.g. "rudp".
	Name() string

	// Setup creates one instance from its config map.
	Setup(v map[string]any) (Plugin, error)

	// Destroy releases an instance's resources.
	Destroy(Plugin) error

	// Reload applies a changed config to a live instance. Returning an
	// error makes the manager fall back to Destroy plus Setup.
	Reload(Plugin, map[string]any) error

	// CanDelete reports whether the instance may be torn down right now.
	CanDelete(Plugin) bool
}

// Plugin is one live instance produced by a factory.
type Plugin interface {
	FactoryName() string
}

var (
	_pluginLock sync.RWMutex
	_factoryMap = make(map[string]Factory)
)

func factoryKey(t Type, name string) string {
	return fmt.Sprintf("%s_%s", t, name)
}

// RegisterPlugin registers a factory. Called from package init functions.
func RegisterPlugin(f Factory) {
	_pluginLock.Lock()
	defer _pluginLock.Unlock()
	_factoryMap[factoryKey(f.Type(), f.Name())] = f
}

// getPluginFactory requires the caller to hold _pluginLock; taking it here
// would self-deadlock the write-locked manager paths that call in.
func getPluginFactory(t Type, name string) Factory {
	return _factoryMap[factoryKey(t, name)]
}

// listAvailableFactories requires the caller to hold _pluginLock.
func listAvailableFactories(t Type) []string {
	names := make([]string, 0, len(_factoryMap))
	for _, f := range _factoryMap {
		if f.Type() == t {
			names = append(names, f.Name())
		}
	}
	return names
}
