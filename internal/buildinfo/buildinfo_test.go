package buildinfo

import "testing"

func TestSetVersionOverrides(t *testing.T) {
	orig := version
	defer func() { version = orig }()

	SetVersion("")
	if Version() == "" {
		t.Fatal("expected a version even without an override")
	}
	SetVersion("1.4.0")
	if got := Version(); got != "1.4.0" {
		t.Fatalf("expected override, got %q", got)
	}
	if got := Read(); got.Version != "1.4.0" || got.Commit == "" {
		t.Fatalf("unexpected info %+v", got)
	}
}
