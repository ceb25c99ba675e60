package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type sampleCfg struct {
	Port    int    `mapstructure:"port"`
	Address string `mapstructure:"address"`
}

func (c *sampleCfg) GetName() string { return "sample" }

func (c *sampleCfg) Validate() error {
	if c.Port < 0 {
		return errors.New("port is negative")
	}
	return nil
}

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name+".yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func newTestManager(t *testing.T) (ConfigManager, string) {
	t.Helper()
	dir := t.TempDir()
	cm := NewConfigManager()
	cm.SetBasePath(dir)
	t.Cleanup(func() { _ = cm.Close() })
	return cm, dir
}

func TestLoadConfig(t *testing.T) {
	cm, dir := newTestManager(t)
	writeConfigFile(t, dir, "sample", "port: 7777\naddress: 0.0.0.0\n")

	cfg := &sampleCfg{}
	if err := cm.LoadConfig("sample", cfg); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != 7777 || cfg.Address != "0.0.0.0" {
		t.Errorf("loaded cfg = %+v", cfg)
	}

	got, err := cm.GetConfig("sample")
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if got != Config(cfg) {
		t.Error("GetConfig should return the loaded instance")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cm, _ := newTestManager(t)
	if err := cm.LoadConfig("absent", &sampleCfg{}); err == nil {
		t.Fatal("expected error for missing config file")
	}
	if _, err := cm.GetConfig("absent"); err == nil {
		t.Fatal("GetConfig must fail for unloaded config")
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cm, dir := newTestManager(t)
	writeConfigFile(t, dir, "sample", "port: -1\n")

	if err := cm.LoadConfig("sample", &sampleCfg{}); err == nil {
		t.Fatal("invalid config must be rejected")
	}
}

func TestRegisterValidator(t *testing.T) {
	cm, dir := newTestManager(t)
	writeConfigFile(t, dir, "sample", "port: 80\n")

	cm.RegisterValidator("sample", func(c Config) error {
		if c.(*sampleCfg).Port < 1024 {
			return errors.New("privileged port")
		}
		return nil
	})
	if err := cm.LoadConfig("sample", &sampleCfg{}); err == nil {
		t.Fatal("custom validator must be applied")
	}
}

func TestEnvironmentOverlay(t *testing.T) {
	cm, dir := newTestManager(t)
	if err := os.MkdirAll(filepath.Join(dir, "production"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeConfigFile(t, dir, "sample", "port: 1\n")
	writeConfigFile(t, filepath.Join(dir, "production"), "sample", "port: 2\n")

	// Base path entries take priority; the overlay only fills gaps.
	cm.SetEnvironment("production")
	cfg := &sampleCfg{}
	if err := cm.LoadConfig("sample", cfg); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != 1 {
		t.Errorf("port = %d, want base value 1", cfg.Port)
	}
}

type reloadListener struct {
	ch chan *sampleCfg
}

func (l *reloadListener) GetConfigName() string { return "sample" }

func (l *reloadListener) OnConfigChanged(name string, newConfig, oldConfig Config) error {
	l.ch <- newConfig.(*sampleCfg)
	return nil
}

func TestHotReloadNotifiesListener(t *testing.T) {
	cm, dir := newTestManager(t)
	path := writeConfigFile(t, dir, "sample", "port: 7777\n")

	cfg := &sampleCfg{}
	if err := cm.LoadConfig("sample", cfg); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	listener := &reloadListener{ch: make(chan *sampleCfg, 1)}
	cm.AddChangeListener(listener)

	if err := os.WriteFile(path, []byte("port: 8888\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case updated := <-listener.ch:
		if updated.Port != 8888 {
			t.Errorf("reloaded port = %d, want 8888", updated.Port)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("listener was not notified of the config change")
	}

	got, err := cm.GetConfig("sample")
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if got.(*sampleCfg).Port != 8888 {
		t.Errorf("stored config not swapped: %+v", got)
	}
}

func TestSingleton(t *testing.T) {
	ResetInstance()
	first := GetInstance()
	if first == nil {
		t.Fatal("GetInstance returned nil")
	}
	if GetInstance() != first {
		t.Error("GetInstance must return the same instance")
	}

	replacement := NewConfigManager()
	SetInstance(replacement)
	if GetInstance() != replacement {
		t.Error("SetInstance must swap the singleton")
	}
	ResetInstance()
}
