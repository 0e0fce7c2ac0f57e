package power

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestStaticProvider(t *testing.T) {
	p := Static{Lvl: 0.42, Ext: true}
	if p.Level() != 0.42 || !p.External() {
		t.Fatalf("unexpected static state")
	}
}

func TestSysfsLevel(t *testing.T) {
	batteryDir := t.TempDir()
	writeFile(t, batteryDir, "capacity", "73\n")

	p := NewSysfs(batteryDir, t.TempDir())
	if got := p.Level(); got != 0.73 {
		t.Fatalf("expected 0.73, got %v", got)
	}
}

func TestSysfsLevelFallsBackToFull(t *testing.T) {
	p := NewSysfs(t.TempDir(), t.TempDir())
	if got := p.Level(); got != 1.0 {
		t.Fatalf("missing battery must report full charge, got %v", got)
	}

	batteryDir := t.TempDir()
	writeFile(t, batteryDir, "capacity", "banana")
	p = NewSysfs(batteryDir, t.TempDir())
	if got := p.Level(); got != 1.0 {
		t.Fatalf("unreadable capacity must report full charge, got %v", got)
	}

	writeFile(t, batteryDir, "capacity", "250")
	if got := p.Level(); got != 1.0 {
		t.Fatalf("out-of-range capacity must report full charge, got %v", got)
	}
}

func TestSysfsExternal(t *testing.T) {
	acDir := t.TempDir()
	writeFile(t, acDir, "online", "1\n")

	p := NewSysfs(t.TempDir(), acDir)
	if !p.External() {
		t.Fatalf("expected external power")
	}

	writeFile(t, acDir, "online", "0")
	if p.External() {
		t.Fatalf("expected battery power")
	}
}

func TestSysfsExternalMissing(t *testing.T) {
	p := NewSysfs(t.TempDir(), t.TempDir())
	if p.External() {
		t.Fatalf("missing supply must not report external power")
	}
}
