package events

import (
	"errors"
	"runtime"
	"testing"
)

func TestDetectEnvironmentSetsFields(t *testing.T) {
	env := DetectEnvironment()
	if env.Provider == "" {
		t.Fatalf("expected provider")
	}
	if env.Permission == "" {
		t.Fatalf("expected permission status")
	}
	if env.Message == "" {
		t.Fatalf("expected message")
	}
}

func TestNativeSourceByPlatform(t *testing.T) {
	src, err := NativeSource(nil)
	if runtime.GOOS == "darwin" {
		if err != nil || src == nil {
			t.Fatalf("expected quartz source on darwin: %v", err)
		}
		return
	}
	if !errors.Is(err, ErrNoNativeHook) {
		t.Fatalf("expected ErrNoNativeHook, got %v", err)
	}
}
