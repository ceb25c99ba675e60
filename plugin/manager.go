package plugin

import (
	"fmt"

	"github.com/lcx/nagare/config"
	"github.com/lcx/nagare/log"
)

// instanceKey identifies one live plugin instance.
type instanceKey struct {
	pluginType  Type
	factoryName string
	insName     string
}

// pluginMgr holds the live instances and applies config changes to them.
// All mutation happens under _pluginLock.
type pluginMgr struct {
	insMap map[instanceKey]Plugin
	// order remembers creation order for reverse teardown.
	order []instanceKey
}

var _pluginMgr = &pluginMgr{insMap: make(map[instanceKey]Plugin)}

func (pm *pluginMgr) lookup(t Type, factoryName, insName string) Plugin {
	return pm.insMap[instanceKey{t, factoryName, insName}]
}

// applyLocked creates every instance cfg names. On failure the instances
// created by this call are destroyed in reverse order.
func (pm *pluginMgr) applyLocked(cfg PluginConfig) error {
	var created []instanceKey

	rollback := func() {
		for i := len(created) - 1; i >= 0; i-- {
			pm.destroyLocked(created[i])
		}
	}

	for ft, factories := range cfg {
		for fn, c := range factories {
			f := getPluginFactory(Type(ft), fn)
			if f == nil {
				rollback()
				return fmt.Errorf("plugin factory [%s/%s] not found, available: %v",
					ft, fn, listAvailableFactories(Type(ft)))
			}

			ins, err := f.Setup(c)
			if err != nil {
				rollback()
				return fmt.Errorf("plugin [%s/%s] setup: %w", ft, fn, err)
			}

			key := instanceKey{Type(ft), fn, getPluginNameFromCfg(c)}
			if _, exists := pm.insMap[key]; exists {
				_ = f.Destroy(ins)
				rollback()
				return fmt.Errorf("plugin instance [%s/%s/%s] already exists", ft, fn, key.insName)
			}
			pm.insMap[key] = ins
			pm.order = append(pm.order, key)
			created = append(created, key)

			log.Info().Str("type", ft).Str("factory", fn).Str("instance", key.insName).
				Msg("plugin setup success")
		}
	}
	return nil
}

func (pm *pluginMgr) destroyLocked(key instanceKey) {
	ins, ok := pm.insMap[key]
	if !ok {
		return
	}
	if f := getPluginFactory(key.pluginType, key.factoryName); f != nil {
		if err := f.Destroy(ins); err != nil {
			log.Warn().Err(err).Str("factory", key.factoryName).
				Str("instance", key.insName).Msg("plugin destroy failed")
		}
	}
	delete(pm.insMap, key)
	for i, k := range pm.order {
		if k == key {
			pm.order = append(pm.order[:i], pm.order[i+1:]...)
			break
		}
	}
}

func (pm *pluginMgr) destroyAllLocked() {
	for i := len(pm.order) - 1; i >= 0; i-- {
		pm.destroyLocked(pm.order[i])
	}
}

// GetConfigName implements config.ConfigChangeListener.
func (pm *pluginMgr) GetConfigName() string {
	return "plugin"
}

// OnConfigChanged implements config.ConfigChangeListener. Instances present
// in the new config are Reload-ed in place, falling back to Destroy plus
// Setup when the factory rejects the reload; instances the new config drops
// are destroyed; new ones are created. Nothing changes unless every live
// instance reports CanDelete.
func (pm *pluginMgr) OnConfigChanged(configName string, newConfig, oldConfig config.Config) error {
	if configName != "plugin" {
		return nil
	}
	newCfg, ok := newConfig.(*PluginConfig)
	if !ok {
		return fmt.Errorf("unexpected plugin config type %T", newConfig)
	}
	if oldConfig == nil {
		return nil
	}

	_pluginLock.Lock()
	defer _pluginLock.Unlock()

	for key, ins := range pm.insMap {
		f := getPluginFactory(key.pluginType, key.factoryName)
		if f != nil && !f.CanDelete(ins) {
			return fmt.Errorf("plugin [%s/%s/%s] busy, hot reload aborted",
				key.pluginType, key.factoryName, key.insName)
		}
	}

	seen := make(map[instanceKey]bool)
	for ft, factories := range *newCfg {
		for fn, c := range factories {
			key := instanceKey{Type(ft), fn, getPluginNameFromCfg(c)}
			seen[key] = true

			f := getPluginFactory(key.pluginType, fn)
			if f == nil {
				return fmt.Errorf("plugin factory [%s/%s] not found", ft, fn)
			}

			if ins, exists := pm.insMap[key]; exists {
				if err := f.Reload(ins, c); err == nil {
					log.Info().Str("factory", fn).Str("instance", key.insName).
						Msg("plugin hot reloaded")
					continue
				}
				pm.destroyLocked(key)
			}

			ins, err := f.Setup(c)
			if err != nil {
				return fmt.Errorf("plugin [%s/%s] recreate: %w", ft, fn, err)
			}
			pm.insMap[key] = ins
			pm.order = append(pm.order, key)
			log.Info().Str("factory", fn).Str("instance", key.insName).
				Msg("plugin recreated")
		}
	}

	for _, key := range append([]instanceKey(nil), pm.order...) {
		if !seen[key] {
			pm.destroyLocked(key)
			log.Info().Str("factory", key.factoryName).Str("instance", key.insName).
				Msg("plugin removed by config change")
		}
	}
	return nil
}
