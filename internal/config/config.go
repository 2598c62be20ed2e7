// Package config loads the server configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `json:"server" yaml:"server"`
	Engine EngineConfig `json:"engine" yaml:"engine"`
	SMTP   SMTPConfig   `json:"smtp" yaml:"smtp"`
}

type ServerConfig struct {
	Port      int    `json:"port" yaml:"port"`
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`
}

type EngineConfig struct {
	MaxNodesPerRun int           `json:"max_nodes_per_run" yaml:"max_nodes_per_run"`
	MaxRunDuration time.Duration `json:"max_run_duration" yaml:"max_run_duration"`
}

type SMTPConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	From     string `json:"from" yaml:"from"`
	SSL      bool   `json:"ssl" yaml:"ssl"`
}

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
		// Try JSON if YAML fails
		file.Seek(0, 0)
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file (tried YAML and JSON): %w", err)
		}
	}

	return &cfg, nil
}
