package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ServerConfig is the server-side TOML configuration.
type ServerConfig struct {
	Server struct {
		Host          string `toml:"host"`
		Port          int    `toml:"port"`
		PublicBaseURL string `toml:"public_base_url"`
	} `toml:"server"`
	Storage struct {
		DataDir string `toml:"data_dir"`
	} `toml:"storage"`
}

// serverConfigSearchPaths are tried in order when no explicit path is given.
var serverConfigSearchPaths = []string{
	"server.toml",
	"/etc/cutman/server.toml",
}

func defaultServerConfig() *ServerConfig {
	cfg := &ServerConfig{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 8080
	cfg.Storage.DataDir = "./data"
	return cfg
}

// LoadServer loads the server configuration. An explicit path must exist; an
// empty path falls back to the search paths and then to built-in defaults.
func LoadServer(path string) (*ServerConfig, error) {
	cfg := defaultServerConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
		return cfg, nil
	}

	for _, candidate := range serverConfigSearchPaths {
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		if _, err := toml.DecodeFile(candidate, cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", candidate, err)
		}
		return cfg, nil
	}

	return cfg, nil
}

// DBPath returns the SQLite database path under the data directory.
func (c *ServerConfig) DBPath() string {
	return filepath.Join(c.Storage.DataDir, "cutman.db")
}

// LFSPath returns the LFS object store root under the data directory.
func (c *ServerConfig) LFSPath() string {
	return filepath.Join(c.Storage.DataDir, "lfs")
}

// AdminTokenPath returns the path of the file the admin token is written to
// at initialization time.
func (c *ServerConfig) AdminTokenPath() string {
	return filepath.Join(c.Storage.DataDir, ".admin_token")
}
