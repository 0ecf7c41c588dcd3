package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("listen:\n  address: 127.0.0.1:9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_SearchPathNotFound(t *testing.T) {
	dir := t.TempDir()
	orig := searchPathsFunc
	searchPathsFunc = func() []string {
		return []string{filepath.Join(dir, "signalgw.yaml")}
	}
	defer func() { searchPathsFunc = orig }()

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") unexpected error: %v", err)
	}
	if got != "" {
		t.Errorf("FindConfig(\"\") = %q, want empty (no file found is not an error)", got)
	}
}

func TestFindConfig_SearchPathFound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signalgw.yaml")
	os.WriteFile(path, []byte("listen:\n  address: 127.0.0.1:8080\n"), 0600)

	orig := searchPathsFunc
	searchPathsFunc = func() []string { return []string{path} }
	defer func() { searchPathsFunc = orig }()

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != path {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, path)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("daemon:\n  external_address: ${SIGNALGW_TEST_ADDR}\n"), 0600)
	os.Setenv("SIGNALGW_TEST_ADDR", "127.0.0.1:7583")
	defer os.Unsetenv("SIGNALGW_TEST_ADDR")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Daemon.ExternalAddress != "127.0.0.1:7583" {
		t.Errorf("external_address = %q, want %q", cfg.Daemon.ExternalAddress, "127.0.0.1:7583")
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("log_level: debug\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Listen.Address != "127.0.0.1:8080" {
		t.Errorf("listen.address = %q, want default", cfg.Listen.Address)
	}
	if cfg.Daemon.BinaryName != "signal-cli" {
		t.Errorf("daemon.binary_name = %q, want default", cfg.Daemon.BinaryName)
	}
	if cfg.Daemon.StartupTimeout != 10*time.Second {
		t.Errorf("daemon.startup_timeout = %v, want 10s", cfg.Daemon.StartupTimeout)
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("log_level: shout\n"), 0600)

	if _, err := Load(path); err == nil {
		t.Fatal("Load with invalid log_level should error")
	}
}

func TestLoad_InvalidPortRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("daemon:\n  port_range_start: 20000\n  port_range_end: 19000\n"), 0600)

	if _, err := Load(path); err == nil {
		t.Fatal("Load with inverted port range should error")
	}
}

func TestLoad_WebhookSeedRequiresURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("webhooks:\n  - events: [message]\n"), 0600)

	if _, err := Load(path); err == nil {
		t.Fatal("Load with webhook seed missing url should error")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load with missing file should error")
	}
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}
	if cfg.Listen.Address != "127.0.0.1:8080" {
		t.Errorf("listen.address = %q, want default", cfg.Listen.Address)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Listen.Address == "" {
		t.Error("Default() should populate listen.address")
	}
}

func TestTLSConfig_Enabled(t *testing.T) {
	cases := []struct {
		name string
		cfg  TLSConfig
		want bool
	}{
		{"both set", TLSConfig{CertPath: "a", KeyPath: "b"}, true},
		{"neither set", TLSConfig{}, false},
		{"cert only", TLSConfig{CertPath: "a"}, false},
		{"key only", TLSConfig{KeyPath: "b"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.Enabled(); got != tc.want {
				t.Errorf("Enabled() = %v, want %v", got, tc.want)
			}
		})
	}
}
