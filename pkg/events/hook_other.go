//go:build !darwin

package events

import "time"

// NativeSource returns the platform input hook.
func NativeSource(clock func() time.Time) (EventSource, error) {
	return nil, ErrNoNativeHook
}
