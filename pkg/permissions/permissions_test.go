package permissions

import "testing"

type fakeEnv map[string]string

func (f fakeEnv) lookup(key string) (string, bool) {
	v, ok := f[key]
	return v, ok
}

func withGOOS(t *testing.T, os string) {
	t.Helper()
	orig := goos
	goos = os
	t.Cleanup(func() { goos = orig })
}

func TestOverrides(t *testing.T) {
	cases := []struct {
		value string
		want  Status
	}{
		{"granted", StatusGranted},
		{" YES ", StatusGranted},
		{"denied", StatusDenied},
		{"ask", StatusPromptRequired},
		{"unsupported", StatusUnavailable},
		{"sometimes", StatusUnknown},
	}
	for _, tc := range cases {
		res := Probe(ScreenRecording, fakeEnv{"WORKTRACK_SCREEN_RECORDING": tc.value}.lookup)
		if res.Status != tc.want {
			t.Fatalf("%q: expected %s, got %s", tc.value, tc.want, res.Status)
		}
	}
	res := Probe(InputMonitoring, fakeEnv{InputMonitoring.EnvVar(): "denied"}.lookup)
	if res.Status != StatusDenied || res.Guidance == "" || res.Usable() {
		t.Fatalf("expected unusable denial with guidance, got %+v", res)
	}
}

func TestScreenRecordingOnLinux(t *testing.T) {
	withGOOS(t, "linux")
	if res := Probe(ScreenRecording, fakeEnv{"DISPLAY": ":0"}.lookup); res.Status != StatusGranted {
		t.Fatalf("expected granted with DISPLAY, got %s", res.Status)
	}
	if res := Probe(ScreenRecording, fakeEnv{"WAYLAND_DISPLAY": "wayland-0"}.lookup); !res.Usable() {
		t.Fatalf("expected wayland to be usable, got %s", res.Status)
	}
	res := Probe(ScreenRecording, fakeEnv{}.lookup)
	if res.Status != StatusUnavailable || res.Guidance == "" {
		t.Fatalf("expected unavailable with guidance, got %+v", res)
	}
}

func TestDarwinDefaultsPrompt(t *testing.T) {
	withGOOS(t, "darwin")
	for _, res := range ProbeAll(fakeEnv{}.lookup) {
		if res.Status != StatusPromptRequired || res.Guidance == "" {
			t.Fatalf("expected prompt with guidance for %s, got %+v", res.Surface, res)
		}
	}
}

func TestInputMonitoringElsewhere(t *testing.T) {
	withGOOS(t, "linux")
	res := Probe(InputMonitoring, fakeEnv{}.lookup)
	if res.Status != StatusNotApplicable || !res.Usable() || res.String() != "not_applicable" {
		t.Fatalf("unexpected result %+v", res)
	}
}
