// Package power exposes the device battery state to the tracking core.
package power

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Provider reports the battery snapshot used for threshold scaling and
// precision-tier selection.
type Provider interface {
	// Level returns the charge level in 0.0-1.0.
	Level() float64
	// External reports whether the device runs on external power.
	External() bool
}

// Static is a fixed provider, used as a test double and as the fallback
// when no battery is present.
type Static struct {
	Lvl float64
	Ext bool
}

func (s Static) Level() float64 { return s.Lvl }
func (s Static) External() bool { return s.Ext }

// Sysfs reads the battery state from the kernel's power_supply class.
type Sysfs struct {
	batteryDir string
	acDir      string
}

func NewSysfs(batteryDir, acDir string) *Sysfs {
	return &Sysfs{batteryDir: batteryDir, acDir: acDir}
}

// Level reads the capacity file. A missing or unreadable battery reports
// full charge so thresholds stay at their baseline.
func (s *Sysfs) Level() float64 {
	data, err := os.ReadFile(filepath.Join(s.batteryDir, "capacity"))
	if err != nil {
		return 1.0
	}
	pct, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pct < 0 || pct > 100 {
		return 1.0
	}
	return float64(pct) / 100
}

func (s *Sysfs) External() bool {
	data, err := os.ReadFile(filepath.Join(s.acDir, "online"))
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "1"
}
