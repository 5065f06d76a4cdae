// Package rollout deterministically buckets requests into enforcement modes
// so policy changes can be staged across traffic and rolled back safely.
package rollout

import "hash/fnv"

// Mode is the enforcement mode applied to a request.
type Mode string

const (
	// ModeOff disables plan enforcement entirely.
	ModeOff Mode = "off"
	// ModeShadow computes plans for observability but never applies them.
	ModeShadow Mode = "shadow"
	// ModeEnforced applies the routing plan to execution.
	ModeEnforced Mode = "enforced"
)

// IsValid reports whether m is a known mode.
func (m Mode) IsValid() bool {
	return m == ModeOff || m == ModeShadow || m == ModeEnforced
}

// Config controls how traffic is bucketed.
type Config struct {
	Mode    Mode `yaml:"mode"`
	Percent int  `yaml:"percent"`
}

// Decision is the per-request rollout outcome. The same routing key always
// yields the same bucket, so a session observes consistent behavior across
// requests.
type Decision struct {
	Mode    Mode `json:"mode"`
	Bucket  int  `json:"bucket"`
	Enabled bool `json:"enabled"`
}

// Decide buckets the routing key and resolves the effective mode. Keys
// outside the configured percentage have their mode downgraded to off.
func Decide(cfg Config, key string) Decision {
	if cfg.Mode == "" || cfg.Mode == ModeOff {
		return Decision{Mode: ModeOff, Bucket: bucket(key)}
	}

	b := bucket(key)
	enabled := b < clampPercent(cfg.Percent)
	mode := cfg.Mode
	if !enabled {
		mode = ModeOff
	}
	return Decision{Mode: mode, Bucket: b, Enabled: enabled}
}

// bucket maps a key to [0,100) with a stable FNV-1a hash.
func bucket(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % 100)
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
