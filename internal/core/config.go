package core

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	DataRootEnv    = "PROJECT_DAWN_DATA_ROOT"
	AppDirName     = "project-dawn"
	ConfigFileName = "config.hcl"
	PidFileName    = "dawnhost.pid"
	SocketName     = "dawnhost.sock"
	DatabaseName   = "dawnhost.db"
	SidecarBase    = "project-dawn-server"
)

// ResolveDataRoot picks the data root: the override environment variable,
// then the platform application data directory, then the working directory.
func ResolveDataRoot() string {
	if override := os.Getenv(DataRootEnv); override != "" {
		return expandPath(override)
	}
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, AppDirName)
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

// DefaultSidecarName is the platform file name of the companion executable
func DefaultSidecarName() string {
	if runtime.GOOS == "windows" {
		return SidecarBase + ".exe"
	}
	return SidecarBase
}

// defaultSidecarDir is the "sidecar" directory next to the host executable
func defaultSidecarDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "sidecar"
	}
	return filepath.Join(filepath.Dir(exe), "sidecar")
}

func dataRoot() string {
	if Config != nil && Config.DataRoot != "" {
		return Config.DataRoot
	}
	return ResolveDataRoot()
}

func GetSocketPath() string {
	return filepath.Join(dataRoot(), SocketName)
}

func GetPIDFilePath() string {
	return filepath.Join(dataRoot(), PidFileName)
}

func GetDatabasePath() string {
	return filepath.Join(dataRoot(), DatabaseName)
}

// ResourceStatePath is where the resource sampler persists its snapshot
func ResourceStatePath(root string) string {
	return filepath.Join(root, "mesh", "resource_state.json")
}

func ManifestPath(root string) string {
	return filepath.Join(root, "vault", "manifest.json")
}

func PeersPath(root string) string {
	return filepath.Join(root, "mesh", "peers.json")
}

func FeedPath(root string) string {
	return filepath.Join(root, "mesh", "agent_feed.jsonl")
}

// expandPath expands a leading ~ to the user's home directory
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
