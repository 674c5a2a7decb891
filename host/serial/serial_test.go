package serial

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/dev/ttyACM0")
	if cfg.Device != "/dev/ttyACM0" || cfg.Baud != 115200 || cfg.ReadTimeout != 0 {
		t.Errorf("Expected blocking 115200 baud config, got %+v", cfg)
	}
}

func TestOpenErrors(t *testing.T) {
	if _, err := Open(nil); err == nil {
		t.Error("Expected an error for a nil config")
	}

	missing := filepath.Join(t.TempDir(), "ttyMissing")
	_, err := Open(DefaultConfig(missing))
	if err == nil {
		t.Fatal("Expected an error for a missing device")
	}
	if !strings.Contains(err.Error(), missing) {
		t.Errorf("Expected the device in the error, got %v", err)
	}
}
