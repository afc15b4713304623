// Package config loads the TOML configuration file. Every value has a
// usable default; a missing file is not an error.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the full configuration.
type Config struct {
	Server ServerConfig `toml:"server"`
	Data   DataConfig   `toml:"data"`
	Log    LogConfig    `toml:"log"`
}

// ServerConfig maps the [server] section.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// DataConfig maps the [data] section. PlayerName, when set, resolves
// the owner's color per game from the PGN White/Black tags; OwnerColor
// covers games the player does not appear in.
type DataConfig struct {
	DBPath     string `toml:"db_path"`
	PGNDir     string `toml:"pgn_dir"`
	OwnerColor string `toml:"owner_color"`
	PlayerName string `toml:"player_name"`
}

// LogConfig maps the [log] section.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8017"},
		Data: DataConfig{
			DBPath:     "./data/repertoire.db",
			PGNDir:     "./data/pgn",
			OwnerColor: "white",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a TOML config from path over the defaults. A missing file
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("stat config: %w", err)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
