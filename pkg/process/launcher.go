package process

import (
	"os"
	"os/exec"
)

// LauncherResolver yields the path of the runtime launcher executable
type LauncherResolver interface {
	LauncherPath() string
}

// MuxerResolver locates a runtime muxer: the file named by EnvVar when it
// exists, else Name on PATH, else Name itself.
type MuxerResolver struct {
	EnvVar string
	Name   string
}

// DefaultMuxer resolves the dotnet muxer the way the SDK does
func DefaultMuxer() MuxerResolver {
	return MuxerResolver{
		EnvVar: "DOTNET_HOST_PATH",
		Name:   "dotnet",
	}
}

func (r MuxerResolver) LauncherPath() string {
	if r.EnvVar != "" {
		if path := os.Getenv(r.EnvVar); path != "" {
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path
			}
		}
	}
	if path, err := exec.LookPath(r.Name); err == nil {
		return path
	}
	return r.Name
}

// StaticLauncher always resolves to the same path
type StaticLauncher string

func (s StaticLauncher) LauncherPath() string {
	return string(s)
}
