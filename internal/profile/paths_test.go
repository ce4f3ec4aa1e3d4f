package profile

import (
	"strings"
	"testing"
)

func TestPathsAreProfileScoped(t *testing.T) {
	name := "test-profile"
	paths := []string{
		Dir(name),
		LockPath(name),
		LocalDBPath(name),
		LogPath(name),
	}
	for _, p := range paths {
		if !strings.Contains(p, name) {
			t.Errorf("path %q does not contain profile name", p)
		}
		if !strings.Contains(p, ".echat") {
			t.Errorf("path %q is outside the base dir", p)
		}
	}
}

func TestConfigPathIsGlobal(t *testing.T) {
	p := ConfigPath()
	if strings.Contains(p, "profiles") {
		t.Errorf("config path %q should not be profile-scoped", p)
	}
}
