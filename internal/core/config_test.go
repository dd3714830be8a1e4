package core

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveDataRoot_EnvOverride(t *testing.T) {
	t.Setenv(DataRootEnv, "/srv/dawn")

	if got := ResolveDataRoot(); got != "/srv/dawn" {
		t.Errorf("ResolveDataRoot() = %q, want %q", got, "/srv/dawn")
	}
}

func TestResolveDataRoot_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(DataRootEnv, "~/dawn")

	want := filepath.Join(home, "dawn")
	if got := ResolveDataRoot(); got != want {
		t.Errorf("ResolveDataRoot() = %q, want %q", got, want)
	}
}

func TestResolveDataRoot_UserConfigDir(t *testing.T) {
	t.Setenv(DataRootEnv, "")
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	dir, err := os.UserConfigDir()
	if err != nil {
		t.Skipf("no user config dir on this platform: %v", err)
	}

	want := filepath.Join(dir, AppDirName)
	if got := ResolveDataRoot(); got != want {
		t.Errorf("ResolveDataRoot() = %q, want %q", got, want)
	}
}

func TestGetSocketPath(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = GetDefaultConfig()
	Config.DataRoot = "/tmp/test-dawnhost"

	if got, want := GetSocketPath(), filepath.Join("/tmp/test-dawnhost", SocketName); got != want {
		t.Errorf("GetSocketPath() = %q, want %q", got, want)
	}
	if got, want := GetPIDFilePath(), filepath.Join("/tmp/test-dawnhost", PidFileName); got != want {
		t.Errorf("GetPIDFilePath() = %q, want %q", got, want)
	}
	if got, want := GetDatabasePath(), filepath.Join("/tmp/test-dawnhost", DatabaseName); got != want {
		t.Errorf("GetDatabasePath() = %q, want %q", got, want)
	}
}

func TestDataFilePaths(t *testing.T) {
	root := "/data"
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"resource state", ResourceStatePath(root), "/data/mesh/resource_state.json"},
		{"manifest", ManifestPath(root), "/data/vault/manifest.json"},
		{"peers", PeersPath(root), "/data/mesh/peers.json"},
		{"feed", FeedPath(root), "/data/mesh/agent_feed.jsonl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestExecutablePath(t *testing.T) {
	s := SidecarConfig{Name: "project-dawn-server", Dir: "/opt/dawn/sidecar"}
	if got := s.ExecutablePath(); got != "/opt/dawn/sidecar/project-dawn-server" {
		t.Errorf("ExecutablePath() = %q", got)
	}
}
