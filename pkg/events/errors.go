package events

import "errors"

var (
	// ErrInputPermission means macOS refused to create the event tap.
	ErrInputPermission = errors.New("input monitoring permission required to count keyboard and mouse activity")
	// ErrNoNativeHook is returned by NativeSource where no hook is built in.
	ErrNoNativeHook = errors.New("no native input hook on this platform; pipe events with --events")
)
