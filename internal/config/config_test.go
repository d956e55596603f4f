package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blacktop/xrelay/internal/xpost"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{envOperator, envSecret, envListen, envStore, envMediaDir, envPublishTimeout, envTraceEndpoint, envWatchDestinations} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != DefaultListen || cfg.Store != DefaultStore || cfg.MediaDir != DefaultMediaDir {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Timeout() != 0 {
		t.Errorf("timeout = %v", cfg.Timeout())
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "xrelay.yaml")
	yml := `
operator: operator
secret: from-file
listen: ":9090"
store: sqlite://relay.db
publish_timeout: 45s
watch_destinations: [bsky, cohost]
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(envSecret, "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Secret != "from-env" {
		t.Errorf("env should override file, secret = %q", cfg.Secret)
	}
	if cfg.Operator != "operator" || cfg.Listen != ":9090" || cfg.Store != "sqlite://relay.db" {
		t.Errorf("file values = %+v", cfg)
	}
	if cfg.Timeout() != 45*time.Second {
		t.Errorf("timeout = %v", cfg.Timeout())
	}
	watch, err := cfg.Watch()
	if err != nil {
		t.Fatal(err)
	}
	if len(watch) != 2 || watch[0] != xpost.Bluesky || watch[1] != xpost.Cohost {
		t.Errorf("watch = %v", watch)
	}
}

func TestWatchAllLeavesOutMastodon(t *testing.T) {
	cfg := &Config{WatchDestinations: []string{"all"}}
	watch, err := cfg.Watch()
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range watch {
		if n == xpost.Mastodon {
			t.Fatalf("watch = %v", watch)
		}
	}
	if len(watch) != len(xpost.Networks)-1 {
		t.Errorf("watch = %v", watch)
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv(envOperator)
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("XRELAY_OPERATOR=dotenv-operator\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Operator != "dotenv-operator" {
		t.Errorf("operator = %q", cfg.Operator)
	}
	os.Unsetenv(envOperator)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing explicit config file should fail")
	}

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("publish_timeout: soon\n"), 0o600)
	if _, err := Load(bad); err == nil {
		t.Error("bad duration should fail")
	}

	t.Setenv(envPublishTimeout, "forever")
	if _, err := Load(""); err == nil {
		t.Error("bad env duration should fail")
	}
}
