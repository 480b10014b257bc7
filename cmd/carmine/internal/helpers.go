package internal

import (
	"fmt"
	"runtime"

	"github.com/joho/godotenv"

	"github.com/tinyland-inc/carmine/pkg/config"
)

const Logo = "🌉"

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

func GetConfigPath() string {
	return config.DefaultPath()
}

// LoadEnvFile reads .env from the working directory when present. Variables
// already set in the environment win.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadConfig loads and validates the configuration at path, or at the
// default location when path is empty.
func LoadConfig(path string) (*config.Config, error) {
	LoadEnvFile()
	if path == "" {
		path = GetConfigPath()
	}
	return config.LoadConfig(path)
}

// FormatVersion returns the version string with optional git commit
func FormatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// FormatBuildInfo returns build time and go version info
func FormatBuildInfo() (string, string) {
	build := buildTime
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return build, goVer
}

// GetVersion returns the version string
func GetVersion() string {
	return version
}
