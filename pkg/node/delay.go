package node

import (
	"context"
	"math/rand"
	"time"

	"github.com/user/flowd"
)

const maxDelaySeconds = 86400 // 24h cap, enforced at validation

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

type delayConfig struct {
	Name       string  `json:"name"`
	DelayType  string  `json:"delay_type"`
	Value      float64 `json:"value"`
	CustomDate string  `json:"custom_date"`
	RandomMin  int     `json:"random_min"`
	RandomMax  int     `json:"random_max"`
}

// DelayNode implements the flowd.Node interface for timed pauses. The delay
// blocks the run; a single execution is sequential by design.
type DelayNode struct {
	raw map[string]any
	cfg delayConfig
}

// NewDelayNode builds a delay node from its configuration blob.
func NewDelayNode(config map[string]any) (*DelayNode, error) {
	cfg := delayConfig{
		DelayType: "seconds",
		Value:     5,
		RandomMin: 1,
		RandomMax: 10,
	}
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	return &DelayNode{raw: config, cfg: cfg}, nil
}

func (n *DelayNode) Type() string           { return TypeDelay }
func (n *DelayNode) Config() map[string]any { return n.raw }

func (n *DelayNode) Name() string {
	if n.cfg.Name != "" {
		return n.cfg.Name
	}
	return "Delay"
}

// Validate checks the delay value against type-specific bounds.
func (n *DelayNode) Validate() error {
	switch n.cfg.DelayType {
	case "until_date":
		if n.cfg.CustomDate == "" {
			return configErr(TypeDelay, "custom date is required")
		}
		if _, err := parseDate(n.cfg.CustomDate); err != nil {
			return configErr(TypeDelay, "invalid date format %q", n.cfg.CustomDate)
		}
	case "random":
		if n.cfg.RandomMin < 0 || n.cfg.RandomMax < 0 {
			return configErr(TypeDelay, "random bounds must be positive")
		}
		if n.cfg.RandomMin > n.cfg.RandomMax {
			return configErr(TypeDelay, "random min cannot be greater than max")
		}
		if n.cfg.RandomMax > maxDelaySeconds {
			return configErr(TypeDelay, "delay cannot exceed 24 hours")
		}
	case "seconds", "minutes", "hours":
		if n.cfg.Value < 0 {
			return configErr(TypeDelay, "delay value must be a positive number")
		}
		if n.delaySecondsFor(n.cfg.DelayType) > maxDelaySeconds {
			return configErr(TypeDelay, "delay cannot exceed 24 hours")
		}
	default:
		return configErr(TypeDelay, "unknown delay type %q", n.cfg.DelayType)
	}
	return nil
}

func (n *DelayNode) delaySecondsFor(delayType string) int {
	switch delayType {
	case "minutes":
		return int(n.cfg.Value) * 60
	case "hours":
		return int(n.cfg.Value) * 3600
	default:
		return int(n.cfg.Value)
	}
}

func (n *DelayNode) calculateDelay() (int, error) {
	switch n.cfg.DelayType {
	case "seconds", "minutes", "hours":
		return n.delaySecondsFor(n.cfg.DelayType), nil
	case "until_date":
		target, err := parseDate(n.cfg.CustomDate)
		if err != nil {
			return 0, configErr(TypeDelay, "invalid date format %q", n.cfg.CustomDate)
		}
		gap := time.Until(target)
		if gap <= 0 {
			return 0, nil
		}
		return int(gap.Seconds()), nil
	case "random":
		if n.cfg.RandomMin > n.cfg.RandomMax {
			return 0, configErr(TypeDelay, "random min cannot be greater than max")
		}
		return n.cfg.RandomMin + rand.Intn(n.cfg.RandomMax-n.cfg.RandomMin+1), nil
	default:
		return 0, configErr(TypeDelay, "unknown delay type %q", n.cfg.DelayType)
	}
}

// Execute blocks for the computed duration, honoring context cancellation.
func (n *DelayNode) Execute(ctx context.Context, input map[string]any) (flowd.Result, error) {
	seconds, err := n.calculateDelay()
	if err != nil {
		return nil, err
	}

	startedAt := timestamp()
	if seconds > 0 {
		select {
		case <-time.After(time.Duration(seconds) * time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return flowd.Result{
		"success": true,
		"data": map[string]any{
			"delay_applied": seconds,
			"delay_type":    n.cfg.DelayType,
			"started_at":    startedAt,
			"finished_at":   timestamp(),
		},
	}, nil
}

func parseDate(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range dateLayouts {
		t, err := time.ParseInLocation(layout, s, time.Local)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func (n *DelayNode) OutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"success": map[string]any{"type": "boolean"},
			"data": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"delay_applied": map[string]any{"type": "integer"},
					"delay_type":    map[string]any{"type": "string"},
					"started_at":    map[string]any{"type": "string"},
					"finished_at":   map[string]any{"type": "string"},
				},
			},
		},
	}
}

var _ flowd.Node = (*DelayNode)(nil)
