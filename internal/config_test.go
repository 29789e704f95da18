package internal

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/vault/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	pc := cfg.Highlight.PageConfig()
	if pc.MaxAttempts != 12 || pc.RetryDelay != 300*time.Millisecond ||
		pc.OutlineDuration != 2*time.Second || pc.ReapplyDelay != 1500*time.Millisecond {
		t.Errorf("page config = %+v", pc)
	}
}

func TestStoreConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     StoreConfig
		wantErr bool
	}{
		{"empty driver defaults to file", StoreConfig{Path: "h.json"}, false},
		{"file without path", StoreConfig{Driver: StoreDriverFile}, true},
		{"redis with addr", StoreConfig{Driver: StoreDriverRedis, Redis: RedisConfig{Addr: "localhost:6379"}}, false},
		{"redis without addr", StoreConfig{Driver: StoreDriverRedis}, true},
		{"unknown driver", StoreConfig{Driver: "s3", Path: "x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRenderConfig_InvalidMode(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Render.Mode = "telepathy"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown render mode should fail")
	}
}

func TestHighlightConfig_ZeroAttempts(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Highlight.MaxAttempts = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero max attempts should fail")
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("VAULT_TEST_TOKEN", "s3cret")
	yml := `app:
  log_level: debug
  http:
    port: 9090
store:
  driver: redis
  redis:
    addr: redis:6379
    key: team:highlights
auth:
  mode: token
  token: ${VAULT_TEST_TOKEN}
highlight:
  retry_delay: 100ms
  reapply_delay: 3s
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.LogLevel != slog.LevelDebug || cfg.App.HTTP.Port != 9090 {
		t.Errorf("app = %+v", cfg.App)
	}
	if cfg.Store.Driver != StoreDriverRedis || cfg.Store.Redis.Key != "team:highlights" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Auth.Token != "s3cret" {
		t.Errorf("token = %q, want env expansion", cfg.Auth.Token)
	}
	if cfg.Highlight.RetryDelay != 100*time.Millisecond || cfg.Highlight.ReapplyDelay != 3*time.Second {
		t.Errorf("highlight = %+v", cfg.Highlight)
	}
	if cfg.Highlight.MaxAttempts != 12 {
		t.Errorf("unset max_attempts should keep default, got %d", cfg.Highlight.MaxAttempts)
	}
}
