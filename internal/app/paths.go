package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Paths stores resolved runtime file locations for user config, logs, and
// the telemetry database.
type Paths struct {
	RootDir    string
	ConfigFile string
	DBFile     string
	LogFile    string
}

// ResolvePaths uses the user config dir unless configFile points elsewhere;
// the database and log then live next to that file.
func ResolvePaths(configFile string) (Paths, error) {
	if configFile = strings.TrimSpace(configFile); configFile != "" {
		root := filepath.Dir(filepath.Clean(configFile))

		return pathsIn(root, filepath.Clean(configFile)), nil
	}

	cfgRoot, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve config dir: %w", err)
	}
	root := filepath.Join(cfgRoot, Name)

	return pathsIn(root, filepath.Join(root, ConfigFilename)), nil
}

// Ensure creates the root directory.
func (p Paths) Ensure() error {
	if err := os.MkdirAll(p.RootDir, 0o750); err != nil {
		return fmt.Errorf("create app dir: %w", err)
	}

	return nil
}

func pathsIn(root, configFile string) Paths {
	return Paths{
		RootDir:    root,
		ConfigFile: configFile,
		DBFile:     filepath.Join(root, DBFilename),
		LogFile:    filepath.Join(root, LogFilename),
	}
}
