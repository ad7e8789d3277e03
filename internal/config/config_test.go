package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv blanks every environment override so defaults are observable.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"COVISIT_ADDR", "PORT", "COVISIT_ALLOWED_NAV_ORIGINS",
		"COVISIT_STORAGE_DRIVER", "COVISIT_STORAGE_DSN", "COVISIT_ADMIN_URL_TEMPLATE",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":3000" {
		t.Errorf("addr: got %q, want %q", cfg.Server.Addr, ":3000")
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "*" {
		t.Errorf("allowed origins: got %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Server.MaxBodyBytes != 64*1024 || cfg.Relay.MaxMessageBytes != 64*1024 {
		t.Errorf("size limits: got body=%d msg=%d", cfg.Server.MaxBodyBytes, cfg.Relay.MaxMessageBytes)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.DSN != "covisit.db" {
		t.Errorf("storage: got %+v", cfg.Storage)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging: got %+v", cfg.Logging)
	}
	if cfg.RateLimit.RequestsPerSecond != 10 || cfg.RateLimit.Burst != 20 {
		t.Errorf("rate limit: got %+v", cfg.RateLimit)
	}
	if cfg.Session.ResetPermissionOnReconnect {
		t.Error("consent must persist across reconnects by default")
	}
}

func TestLoad_MissingDefaultFileIsFine(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":3000" {
		t.Errorf("addr: got %q, want default", cfg.Server.Addr)
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"server": {"addr": ":9090", "allowed_origins": ["https://shop.test"]},
		"relay": {
			"allowed_nav_origins": ["https://shop.test"],
			"admin_url_template": "https://console.test/live/{leadId}"
		},
		"session": {"reset_permission_on_reconnect": true},
		"storage": {"driver": "none"},
		"logging": {"level": "debug", "format": "text"}
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr: got %q", cfg.Server.Addr)
	}
	if len(cfg.Relay.AllowedNavOrigins) != 1 || cfg.Relay.AllowedNavOrigins[0] != "https://shop.test" {
		t.Errorf("nav origins: got %v", cfg.Relay.AllowedNavOrigins)
	}
	if cfg.Relay.AdminURLTemplate != "https://console.test/live/{leadId}" {
		t.Errorf("admin url template: got %q", cfg.Relay.AdminURLTemplate)
	}
	if !cfg.Session.ResetPermissionOnReconnect {
		t.Error("reset_permission_on_reconnect not honored")
	}
	if cfg.Storage.Driver != "none" {
		t.Errorf("storage driver: got %q", cfg.Storage.Driver)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("logging: got %+v", cfg.Logging)
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("malformed config must error")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("COVISIT_ALLOWED_NAV_ORIGINS", "https://a.test, https://b.test")
	t.Setenv("COVISIT_STORAGE_DRIVER", "none")
	t.Setenv("COVISIT_ADMIN_URL_TEMPLATE", "https://c.test/{leadId}")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("PORT override: got %q, want %q", cfg.Server.Addr, ":8080")
	}
	want := []string{"https://a.test", "https://b.test"}
	if len(cfg.Relay.AllowedNavOrigins) != 2 || cfg.Relay.AllowedNavOrigins[0] != want[0] || cfg.Relay.AllowedNavOrigins[1] != want[1] {
		t.Errorf("nav origins: got %v, want %v", cfg.Relay.AllowedNavOrigins, want)
	}
	if cfg.Storage.Driver != "none" {
		t.Errorf("storage driver: got %q", cfg.Storage.Driver)
	}
	if cfg.Relay.AdminURLTemplate != "https://c.test/{leadId}" {
		t.Errorf("admin url template: got %q", cfg.Relay.AdminURLTemplate)
	}

	// COVISIT_ADDR wins over PORT.
	t.Setenv("COVISIT_ADDR", "127.0.0.1:7000")
	cfg, err = Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != "127.0.0.1:7000" {
		t.Errorf("COVISIT_ADDR override: got %q", cfg.Server.Addr)
	}
}

func TestLoad_Validation(t *testing.T) {
	clearEnv(t)

	cases := []struct {
		name    string
		content string
	}{
		{"bad driver", `{"storage": {"driver": "mysql"}}`},
		{"postgres without dsn", `{"storage": {"driver": "postgres"}}`},
		{"nav origin without scheme", `{"relay": {"allowed_nav_origins": ["shop.test"]}}`},
	}
	for _, tc := range cases {
		path := filepath.Join(t.TempDir(), "config.json")
		if err := os.WriteFile(path, []byte(tc.content), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestDuration_Unmarshal(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"90s"`), &d); err != nil || d.Duration != 90*time.Second {
		t.Errorf("string duration: got %v, err %v", d.Duration, err)
	}
	if err := json.Unmarshal([]byte(`5`), &d); err != nil || d.Duration != 5*time.Second {
		t.Errorf("numeric duration: got %v, err %v", d.Duration, err)
	}
	if err := json.Unmarshal([]byte(`true`), &d); err == nil {
		t.Error("bool duration must error")
	}
}
