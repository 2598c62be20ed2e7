// Package node provides the built-in workflow node executors and the
// registry that constructs them from persisted configuration.
package node

import (
	"encoding/json"
	"fmt"
	"time"
)

// ConfigError marks a node configuration as invalid. Validation failures are
// reported with this type so callers can map them to a client error class.
type ConfigError struct {
	Type string
	Msg  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s config: %s", e.Type, e.Msg)
}

func configErr(nodeType, format string, args ...any) error {
	return &ConfigError{Type: nodeType, Msg: fmt.Sprintf(format, args...)}
}

// decodeConfig maps a raw configuration blob onto a typed config struct.
// The destination should be pre-populated with defaults; absent keys keep them.
func decodeConfig(raw map[string]any, out any) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

// dataMap extracts the conventional "data" sub-map from a node input.
func dataMap(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	if m, ok := input["data"].(map[string]any); ok {
		return m
	}
	return nil
}

func timestamp() string {
	return time.Now().Format("2006-01-02 15:04:05")
}
