package trigger

import (
	"context"
	"slices"
	"strings"
	"time"
)

// Element is the part of a clicked DOM node the engine inspects. Parent links
// let delegated handlers match ancestors of the actual click target.
type Element struct {
	Tag     string
	ID      string
	Classes []string
	Parent  *Element
}

func (el *Element) hasClass(c string) bool { return slices.Contains(el.Classes, c) }

func (el *Element) isLink() bool { return strings.EqualFold(el.Tag, "a") }

// closest walks from el up through its ancestors and returns the first node
// for which match is true.
func (el *Element) closest(match func(*Element) bool) *Element {
	for n := el; n != nil; n = n.Parent {
		if match(n) {
			return n
		}
	}
	return nil
}

// Scheduler runs f once after d. The returned func cancels it.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

// TimerScheduler schedules on real timers.
type TimerScheduler struct{}

func (TimerScheduler) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// View is what the renderer mounts for one popup.
type View struct {
	ItemID   string
	HTML     string // sanitized container markup
	CSS      string
	EmbedURL string // set for video popups
}

// Renderer materializes popups into the host page.
type Renderer interface {
	Mount(ctx context.Context, v View) error
	// Unmount clears the container, halting playback and injected side effects.
	Unmount(itemID string)
}

// ScriptRunner evaluates a popup's JS in a scope of its own.
type ScriptRunner interface {
	Run(ctx context.Context, itemID, js string) error
}

// ScriptFunc adapts a function to ScriptRunner.
type ScriptFunc func(ctx context.Context, itemID, js string) error

func (f ScriptFunc) Run(ctx context.Context, itemID, js string) error { return f(ctx, itemID, js) }
