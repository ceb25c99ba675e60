package transport

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/lcx/nagare/plugin"
)

// _factoryName is the implementation name this transport registers under.
const _factoryName = "rudp"

// FactoryName implements plugin.Plugin.
func (m *TransportManager) FactoryName() string {
	return _factoryName
}

// rudpFactory builds TransportManager instances from the "plugin" config
// section, so a runtime can swap transports without code changes.
type rudpFactory struct{}

func init() {
	plugin.RegisterPlugin(rudpFactory{})
}

func (rudpFactory) Type() plugin.Type {
	return plugin.Transport
}

func (rudpFactory) Name() string {
	return _factoryName
}

func decodeCfg(v map[string]any) (*TransportCfg, error) {
	vp := viper.New()
	if err := vp.MergeConfigMap(v); err != nil {
		return nil, fmt.Errorf("transport: merge plugin config: %w", err)
	}
	cfg := &TransportCfg{}
	if err := vp.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("transport: decode plugin config: %w", err)
	}
	return cfg, nil
}

func (rudpFactory) Setup(v map[string]any) (plugin.Plugin, error) {
	cfg, err := decodeCfg(v)
	if err != nil {
		return nil, err
	}
	return NewTransportManager(cfg, nil)
}

func (rudpFactory) Destroy(p plugin.Plugin) error {
	m, ok := p.(*TransportManager)
	if !ok {
		return fmt.Errorf("transport: unexpected plugin type %T", p)
	}
	m.Shutdown()
	return nil
}

func (rudpFactory) Reload(p plugin.Plugin, v map[string]any) error {
	m, ok := p.(*TransportManager)
	if !ok {
		return fmt.Errorf("transport: unexpected plugin type %T", p)
	}
	cfg, err := decodeCfg(v)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return m.OnConfigChanged(cfg.GetName(), cfg, nil)
}

// CanDelete allows teardown only while both roles are idle; a live socket
// mid-frame must not have its manager ripped out underneath it.
func (rudpFactory) CanDelete(p plugin.Plugin) bool {
	m, ok := p.(*TransportManager)
	if !ok {
		return true
	}
	return m.GetConnectionState(true) == Stopped && m.GetConnectionState(false) == Stopped
}
