package plugin

import (
	"fmt"

	"github.com/lcx/nagare/config"
	"github.com/lcx/nagare/log"
)

// DefaultInsName is used when an instance config carries no "tag" entry.
const DefaultInsName = "default"

// PluginConfig is the "plugin" config section:
// map[plugin_type]map[factory_name]map[key]value, with an optional "tag"
// entry naming the instance.
//
//	transport:
//	  rudp:
//	    port: 7777
//	    tag: lobby
type PluginConfig map[string]map[string]map[string]any

// GetName implements config.Config.
func (c *PluginConfig) GetName() string {
	return "plugin"
}

// Validate implements config.Config.
func (c *PluginConfig) Validate() error {
	if c == nil || len(*c) == 0 {
		return fmt.Errorf("plugin config is empty")
	}
	for pluginType, factories := range *c {
		if len(factories) == 0 {
			return fmt.Errorf("plugin type %s has no factory config", pluginType)
		}
		for factoryName, instance := range factories {
			if len(instance) == 0 {
				return fmt.Errorf("plugin %s_%s has no instance config", pluginType, factoryName)
			}
		}
	}
	return nil
}

func getPluginNameFromCfg(c map[string]any) string {
	if tag, ok := c["tag"].(string); ok && tag != "" {
		return tag
	}
	return DefaultInsName
}

// InitPlugins instantiates every plugin the "plugin" config section names
// and subscribes to hot reloads. A failure mid-way destroys the instances
// already created, so the registry is never left half-populated.
func InitPlugins() error {
	cm := config.GetInstance()

	var cfg PluginConfig
	if err := cm.LoadConfig("plugin", &cfg); err != nil {
		return fmt.Errorf("load plugin config: %w", err)
	}
	cm.AddChangeListener(_pluginMgr)

	_pluginLock.Lock()
	defer _pluginLock.Unlock()
	return _pluginMgr.applyLocked(cfg)
}

// GetPlugin returns a registered instance.
func GetPlugin(t Type, factoryName, insName string) (Plugin, error) {
	_pluginLock.RLock()
	defer _pluginLock.RUnlock()
	ins := _pluginMgr.lookup(t, factoryName, insName)
	if ins == nil {
		return nil, fmt.Errorf("plugin %s/%s/%s not found", t, factoryName, insName)
	}
	return ins, nil
}

// GetDefaultPlugin returns the instance named "default".
func GetDefaultPlugin(t Type, factoryName string) (Plugin, error) {
	return GetPlugin(t, factoryName, DefaultInsName)
}

// DestroyPlugins tears every instance down, last created first.
func DestroyPlugins() {
	_pluginLock.Lock()
	defer _pluginLock.Unlock()
	_pluginMgr.destroyAllLocked()
	log.Info().Msg("all plugins destroyed")
}
