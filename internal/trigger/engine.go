// Package trigger drives popups on a page: it decides when each popup fires,
// applies its frequency policy and hands it to the host renderer.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"anchor-delivery/internal/frequency"
	"anchor-delivery/internal/injection"
	"anchor-delivery/internal/sanitize"
)

type State int

const (
	StateIdle State = iota
	StateChecking
	StateShown
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateChecking:
		return "checking"
	case StateShown:
		return "shown"
	case StateClosed:
		return "closed"
	default:
		return "idle"
	}
}

// Payload is the page's popup configuration, produced server-side.
type Payload struct {
	Popups []injection.Item `json:"popups"`
}

type Config struct {
	Payload   Payload
	Session   frequency.Storage // per browser session
	Local     frequency.Storage // per device
	Now       func() time.Time
	Scheduler Scheduler
	Renderer  Renderer
	Scripts   ScriptRunner
}

type instance struct {
	item  injection.Item
	state State
	fired bool // page_load popups fire once per page view
}

// Engine holds per-popup runtime state for one page view.
type Engine struct {
	mu        sync.Mutex
	gate      *frequency.Gate
	scheduler Scheduler
	renderer  Renderer
	scripts   ScriptRunner

	order     []string
	instances map[string]*instance
	timers    []func() bool
	started   bool
}

// New builds an engine from an explicit configuration. Non-popup items in the
// payload are ignored.
func New(cfg Config) (*Engine, error) {
	if cfg.Renderer == nil {
		return nil, errors.New("trigger: renderer is required")
	}
	if cfg.Session == nil {
		cfg.Session = frequency.Unavailable{}
	}
	if cfg.Local == nil {
		cfg.Local = frequency.Unavailable{}
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = TimerScheduler{}
	}
	gate := frequency.NewGate(cfg.Session, cfg.Local)
	if cfg.Now != nil {
		gate.Now = cfg.Now
	}

	e := &Engine{
		gate:      gate,
		scheduler: cfg.Scheduler,
		renderer:  cfg.Renderer,
		scripts:   cfg.Scripts,
		instances: map[string]*instance{},
	}
	for _, it := range cfg.Payload.Popups {
		if it.Kind != injection.KindPopup || it.Trigger == nil {
			continue
		}
		if _, dup := e.instances[it.ID]; dup {
			continue
		}
		if it.Trigger.Type.IsClick() {
			t := *it.Trigger
			t.Value = strings.TrimLeft(strings.TrimSpace(t.Value), ".#")
			if t.Value == "" {
				log.Warn().Str("item", it.ID).Str("trigger", string(t.Type)).Msg("click popup has no selector; skipping")
				continue
			}
			it.Trigger = &t
		}
		e.instances[it.ID] = &instance{item: it}
		e.order = append(e.order, it.ID)
	}
	return e, nil
}

// Start schedules every page_load popup once, delay_ms after the call.
// Calling Start again does nothing.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true

	for _, id := range e.order {
		inst := e.instances[id]
		if inst.item.Trigger.Type != injection.TriggerPageLoad {
			continue
		}
		delay := time.Duration(max(inst.item.Trigger.DelayMS, 0)) * time.Millisecond
		stop := e.scheduler.AfterFunc(delay, func() { e.firePageLoad(ctx, id) })
		e.timers = append(e.timers, stop)
	}
}

// Stop cancels pending page_load timers.
func (e *Engine) Stop() {
	e.mu.Lock()
	timers := e.timers
	e.timers = nil
	e.mu.Unlock()
	for _, stop := range timers {
		stop()
	}
}

func (e *Engine) firePageLoad(ctx context.Context, id string) {
	e.mu.Lock()
	inst := e.instances[id]
	if inst.fired {
		e.mu.Unlock()
		return
	}
	inst.fired = true
	e.mu.Unlock()

	e.open(ctx, inst, injection.TriggerPageLoad)
}

// HandleClick is the document-level delegated click handler. Every click
// popup whose selector matches the target or one of its ancestors opens,
// without consulting the frequency gate. It reports whether the default
// navigation must be prevented, which is the case when the matched element
// is a link.
func (e *Engine) HandleClick(ctx context.Context, target *Element) (preventDefault bool) {
	if target == nil {
		return false
	}
	type hit struct {
		inst *instance
		el   *Element
	}
	var hits []hit

	e.mu.Lock()
	for _, id := range e.order {
		inst := e.instances[id]
		t := inst.item.Trigger
		var el *Element
		switch t.Type {
		case injection.TriggerClickClass:
			el = target.closest(func(n *Element) bool { return n.hasClass(t.Value) })
		case injection.TriggerClickID:
			el = target.closest(func(n *Element) bool { return n.ID == t.Value })
		}
		if el != nil {
			hits = append(hits, hit{inst: inst, el: el})
		}
	}
	e.mu.Unlock()

	for _, h := range hits {
		if h.el.isLink() {
			preventDefault = true
		}
		e.open(ctx, h.inst, h.inst.item.Trigger.Type)
	}
	return preventDefault
}

// Open fires a popup as if its trigger had run. Returns whether it was shown.
func (e *Engine) Open(ctx context.Context, id string) bool {
	e.mu.Lock()
	inst, ok := e.instances[id]
	e.mu.Unlock()
	if !ok {
		return false
	}
	return e.open(ctx, inst, inst.item.Trigger.Type)
}

func (e *Engine) open(ctx context.Context, inst *instance, source injection.TriggerType) bool {
	e.mu.Lock()
	if inst.state == StateShown || inst.state == StateChecking {
		e.mu.Unlock()
		return false
	}
	inst.state = StateChecking
	e.mu.Unlock()

	item := inst.item
	gated := !source.IsClick() && item.Frequency != nil
	if gated && !e.gate.Eligible(ctx, item.ID, *item.Frequency) {
		e.setState(inst, StateIdle)
		return false
	}

	if err := e.display(ctx, item, source); err != nil {
		log.Warn().Err(err).Str("item", item.ID).Msg("popup could not be displayed")
		e.setState(inst, StateIdle)
		return false
	}
	// marker is written at open time; closing does not undo it
	if gated {
		e.gate.MarkShown(ctx, item.ID, *item.Frequency)
	}
	e.setState(inst, StateShown)
	return true
}

func (e *Engine) display(ctx context.Context, item injection.Item, source injection.TriggerType) error {
	switch item.Content.Type {
	case injection.ContentVideo:
		v := item.Content.Video
		if v == nil {
			return errors.New("video popup without a video reference")
		}
		// unmuted autoplay is rejected by browsers without a user gesture
		muted := v.Autoplay && source == injection.TriggerPageLoad
		return e.renderer.Mount(ctx, View{ItemID: item.ID, EmbedURL: v.EmbedURL(v.Autoplay, muted)})
	case injection.ContentHTML:
		err := e.renderer.Mount(ctx, View{
			ItemID: item.ID,
			HTML:   sanitize.HTML(item.Content.HTML),
			CSS:    sanitize.CSS(item.Content.CSS),
		})
		if err != nil {
			return err
		}
		e.runScript(ctx, item)
		return nil
	default:
		return fmt.Errorf("unsupported popup content %q", item.Content.Type)
	}
}

// runScript evaluates the popup's JS inside its own error boundary.
func (e *Engine) runScript(ctx context.Context, item injection.Item) {
	if e.scripts == nil || item.Content.JS == "" {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Str("item", item.ID).Interface("panic", r).Msg("popup script panicked")
		}
	}()
	if err := e.scripts.Run(ctx, item.ID, item.Content.JS); err != nil {
		log.Warn().Err(err).Str("item", item.ID).Msg("popup script failed")
	}
}

// Close unmounts a shown popup. Frequency markers are left in place.
func (e *Engine) Close(id string) {
	e.mu.Lock()
	inst, ok := e.instances[id]
	if !ok || inst.state != StateShown {
		e.mu.Unlock()
		return
	}
	inst.state = StateClosed
	e.mu.Unlock()

	e.renderer.Unmount(id)
}

// State returns the popup's current state; unknown ids are idle.
func (e *Engine) State(id string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if inst, ok := e.instances[id]; ok {
		return inst.state
	}
	return StateIdle
}

func (e *Engine) setState(inst *instance, s State) {
	e.mu.Lock()
	inst.state = s
	e.mu.Unlock()
}
