//go:build darwin

package events

/*
#cgo darwin CFLAGS: -x objective-c -fmodules -fobjc-arc
#cgo darwin LDFLAGS: -framework CoreGraphics -framework ApplicationServices
#include <ApplicationServices/ApplicationServices.h>
#include <CoreFoundation/CoreFoundation.h>
#include <stdint.h>

static Boolean axCheckTrusted(void) {
	const void *keys[] = { kAXTrustedCheckOptionPrompt };
	const void *values[] = { kCFBooleanTrue };
	CFDictionaryRef options = CFDictionaryCreate(kCFAllocatorDefault, keys, values, 1,
	                                             &kCFTypeDictionaryKeyCallBacks,
	                                             &kCFTypeDictionaryValueCallBacks);
	Boolean trusted = AXIsProcessTrustedWithOptions(options);
	CFRelease(options);
	return trusted;
}

extern CGEventRef goHandleInput(CGEventTapProxy proxy, CGEventType type, CGEventRef event, void *userInfo);

static CFRunLoopSourceRef startInputTap(uintptr_t handle, CGEventMask mask, CFMachPortRef *tapOut) {
	CFMachPortRef tap = CGEventTapCreate(kCGSessionEventTap,
	                                     kCGHeadInsertEventTap,
	                                     kCGEventTapOptionListenOnly,
	                                     mask,
	                                     goHandleInput,
	                                     (void *)handle);
	if (tap == NULL) {
		return NULL;
	}
	CGEventTapEnable(tap, true);
	CFRunLoopSourceRef source = CFMachPortCreateRunLoopSource(kCFAllocatorDefault, tap, 0);
	*tapOut = tap;
	return source;
}

static CFRunLoopRef currentRunLoop(void) {
	return CFRunLoopGetCurrent();
}

static CGEventMask cgEventMaskBit(CGEventType type) {
	return ((CGEventMask)1) << type;
}

static void addSourceToRunLoop(CFRunLoopRef loop, CFRunLoopSourceRef source) {
	CFRunLoopAddSource(loop, source, kCFRunLoopCommonModes);
}

static void runCurrentRunLoop(void) {
	CFRunLoopRun();
}

static void stopRunLoop(CFRunLoopRef loop) {
	CFRunLoopStop(loop);
}

static double cgEventGetX(CGEventRef event) {
	return CGEventGetLocation(event).x;
}

static double cgEventGetY(CGEventRef event) {
	return CGEventGetLocation(event).y;
}

static int64_t cgEventGetKeycode(CGEventRef event) {
	return CGEventGetIntegerValueField(event, kCGKeyboardEventKeycode);
}

static uint64_t cgEventGetFlags(CGEventRef event) {
	return (uint64_t)CGEventGetFlags(event);
}
*/
import "C"

import (
	"context"
	"errors"
	"runtime"
	"runtime/cgo"
	"sync"
	"time"
	"unsafe"
)

// macEscapeKeycode is kVK_Escape.
const macEscapeKeycode = 53

type quartzSource struct {
	now func() time.Time
}

// NativeSource returns the Quartz event tap, which requires Accessibility trust.
func NativeSource(clock func() time.Time) (EventSource, error) {
	if clock == nil {
		clock = time.Now
	}
	return &quartzSource{now: clock}, nil
}

type quartzStream struct {
	emit      func(Event) error
	now       func() time.Time
	stopLoop  func()
	err       error
	stopped   chan struct{}
	closeOnce sync.Once
}

func (s *quartzStream) close() {
	s.closeOnce.Do(func() { close(s.stopped) })
}

func (s *quartzStream) send(ev Event) {
	if s.err != nil {
		return
	}
	if err := s.emit(ev); err != nil {
		s.err = err
		if s.stopLoop != nil {
			s.stopLoop()
		}
	}
}

func modifiersFromFlags(flags C.uint64_t) Modifiers {
	f := uint64(flags)
	return Modifiers{
		Ctrl:  f&uint64(C.kCGEventFlagMaskControl) != 0,
		Alt:   f&uint64(C.kCGEventFlagMaskAlternate) != 0,
		Shift: f&uint64(C.kCGEventFlagMaskShift) != 0,
		Meta:  f&uint64(C.kCGEventFlagMaskCommand) != 0,
	}
}

func (s *quartzStream) handle(eventType C.CGEventType, event C.CGEventRef) {
	ev := Event{
		Timestamp: s.now().UTC(),
		Modifiers: modifiersFromFlags(C.cgEventGetFlags(event)),
	}
	switch eventType {
	case C.kCGEventKeyDown:
		ev.Type = TypeKeyDown
		ev.Keycode = int(C.cgEventGetKeycode(event))
		if ev.Keycode == macEscapeKeycode {
			ev.Key = "Escape"
		}
	case C.kCGEventLeftMouseDown, C.kCGEventRightMouseDown, C.kCGEventOtherMouseDown:
		ev.Type = TypeClick
		ev.X, ev.Y = float64(C.cgEventGetX(event)), float64(C.cgEventGetY(event))
		switch eventType {
		case C.kCGEventLeftMouseDown:
			ev.Button = "left"
		case C.kCGEventRightMouseDown:
			ev.Button = "right"
		default:
			ev.Button = "middle"
		}
	case C.kCGEventMouseMoved, C.kCGEventLeftMouseDragged, C.kCGEventRightMouseDragged:
		ev.Type = TypeMove
		ev.X, ev.Y = float64(C.cgEventGetX(event)), float64(C.cgEventGetY(event))
	default:
		return
	}
	s.send(ev)
}

func (s *quartzSource) Stream(ctx context.Context, emit func(Event) error) error {
	if C.axCheckTrusted() == C.Boolean(0) {
		return ErrInputPermission
	}
	if ctx == nil {
		ctx = context.Background()
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	stream := &quartzStream{emit: emit, now: s.now, stopped: make(chan struct{})}
	handle := cgo.NewHandle(stream)
	defer handle.Delete()

	mask := C.cgEventMaskBit(C.kCGEventKeyDown) |
		C.cgEventMaskBit(C.kCGEventLeftMouseDown) |
		C.cgEventMaskBit(C.kCGEventRightMouseDown) |
		C.cgEventMaskBit(C.kCGEventOtherMouseDown) |
		C.cgEventMaskBit(C.kCGEventMouseMoved) |
		C.cgEventMaskBit(C.kCGEventLeftMouseDragged) |
		C.cgEventMaskBit(C.kCGEventRightMouseDragged)

	var tap C.CFMachPortRef
	source := C.startInputTap(C.uintptr_t(handle), mask, &tap)
	if source == 0 {
		return errors.New("failed to create CGEvent tap")
	}
	defer C.CFRelease(C.CFTypeRef(source))
	defer C.CFRelease(C.CFTypeRef(tap))

	loop := C.currentRunLoop()
	var stopOnce sync.Once
	stream.stopLoop = func() {
		stopOnce.Do(func() { C.stopRunLoop(loop) })
	}
	C.addSourceToRunLoop(loop, source)

	watcherDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			stream.stopLoop()
		case <-stream.stopped:
		}
		close(watcherDone)
	}()

	C.runCurrentRunLoop()
	stream.stopLoop()
	stream.close()
	<-watcherDone
	if stream.err != nil {
		return stream.err
	}
	return ctx.Err()
}

//export goHandleInput
func goHandleInput(_ C.CGEventTapProxy, eventType C.CGEventType, event C.CGEventRef, userInfo unsafe.Pointer) C.CGEventRef {
	stream, ok := cgo.Handle(uintptr(userInfo)).Value().(*quartzStream)
	if ok {
		stream.handle(eventType, event)
	}
	return event
}
