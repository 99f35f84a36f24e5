package paths

import (
	"path/filepath"
	"testing"
)

func TestHomeDirFromEnv(t *testing.T) {
	t.Setenv(EnvHome, "/srv/rescuelink")
	got, err := HomeDir()
	if err != nil {
		t.Fatalf("HomeDir: %v", err)
	}
	if got != "/srv/rescuelink" {
		t.Fatalf("got %q", got)
	}
	if ConfigPath(got) != filepath.Join("/srv/rescuelink", "config.yaml") {
		t.Fatalf("config path %q", ConfigPath(got))
	}
}

func TestResolveInHome(t *testing.T) {
	if got := ResolveInHome("/h", ""); got != "/h" {
		t.Fatalf("empty: %q", got)
	}
	if got := ResolveInHome("/h", "/abs/x.log"); got != "/abs/x.log" {
		t.Fatalf("abs: %q", got)
	}
	if got := ResolveInHome("/h", "logs/x.log"); got != filepath.Join("/h", "logs", "x.log") {
		t.Fatalf("rel: %q", got)
	}
}

func TestEnsureDirRejectsEmpty(t *testing.T) {
	if err := EnsureDir(""); err == nil {
		t.Fatal("expected error")
	}
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := EnsureDir(dir); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
}
