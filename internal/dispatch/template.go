package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/rs/zerolog/log"

	"anchor-delivery/internal/injection"
)

const (
	DefaultTemplateTimeout = 250 * time.Millisecond
	DefaultMaxOutput       = 256 << 10
	DefaultSuspend         = time.Minute
)

var (
	// ErrOutputLimit aborts a snippet that writes more than MaxOutput bytes.
	ErrOutputLimit = errors.New("snippet output limit exceeded")
	// ErrSuspended refuses a snippet whose last run overran its timeout, until
	// that run has ended and Suspend has passed.
	ErrSuspended = errors.New("snippet suspended after overrunning its timeout")
)

// TemplateExecutor runs server-executed snippets as text/template programs.
// Each execution gets its own template and buffer. Output stops at the
// deadline or the size cap; a snippet that overruns is not started again
// while its previous run is still alive.
type TemplateExecutor struct {
	Timeout   time.Duration
	MaxOutput int
	Suspend   time.Duration
	Now       func() time.Time

	mu        sync.Mutex
	suspended map[string]time.Time // zero while the overrunning run is alive
}

func NewTemplateExecutor(timeout time.Duration) *TemplateExecutor {
	return &TemplateExecutor{Timeout: timeout}
}

var templateFuncs = template.FuncMap{
	"escape": html.EscapeString,
	"lower":  strings.ToLower,
	"upper":  strings.ToUpper,
	"join":   strings.Join,
	"date":   func(layout string, t time.Time) string { return t.Format(layout) },
	"inPage": func(rc injection.RequestContext, ids ...string) bool {
		for _, id := range ids {
			if rc.ResourceID == id {
				return true
			}
		}
		return false
	},
}

// limitedWriter fails once ctx is done or max bytes are exceeded, which makes
// text/template abandon the execution.
type limitedWriter struct {
	ctx context.Context
	buf bytes.Buffer
	max int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if err := w.ctx.Err(); err != nil {
		return 0, err
	}
	if w.buf.Len()+len(p) > w.max {
		return 0, ErrOutputLimit
	}
	return w.buf.Write(p)
}

type run struct {
	finished bool
	overran  bool
}

func (e *TemplateExecutor) Execute(ctx context.Context, item injection.Item, data RenderData, w io.Writer) error {
	if err := e.admit(item.ID); err != nil {
		return err
	}
	tmpl, err := template.New(item.ID).Funcs(templateFuncs).Option("missingkey=error").Parse(item.Content.Markup)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTemplateTimeout
	}
	limit := e.MaxOutput
	if limit <= 0 {
		limit = DefaultMaxOutput
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	r := &run{}
	go func() {
		lw := &limitedWriter{ctx: ctx, max: limit}
		defer e.finish(item.ID, r)
		defer func() {
			if rec := recover(); rec != nil {
				done <- result{err: fmt.Errorf("panic: %v", rec)}
			}
		}()
		err := tmpl.Execute(lw, data)
		done <- result{out: lw.buf.Bytes(), err: err}
	}()

	select {
	case <-ctx.Done():
		e.overrun(item.ID, r)
		return fmt.Errorf("execute: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return fmt.Errorf("execute: %w", res.err)
		}
		_, err := w.Write(res.out)
		return err
	}
}

func (e *TemplateExecutor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *TemplateExecutor) suspendFor() time.Duration {
	if e.Suspend > 0 {
		return e.Suspend
	}
	return DefaultSuspend
}

func (e *TemplateExecutor) admit(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	until, ok := e.suspended[id]
	if !ok {
		return nil
	}
	if until.IsZero() || e.now().Before(until) {
		return ErrSuspended
	}
	delete(e.suspended, id)
	return nil
}

// overrun suspends id until its run ends; text/template cannot be interrupted
// while it loops without writing.
func (e *TemplateExecutor) overrun(id string, r *run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.suspended == nil {
		e.suspended = map[string]time.Time{}
	}
	r.overran = true
	if r.finished {
		e.suspended[id] = e.now().Add(e.suspendFor())
	} else {
		e.suspended[id] = time.Time{}
	}
	log.Warn().Str("item", id).Msg("snippet overran its timeout; suspended")
}

func (e *TemplateExecutor) finish(id string, r *run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r.finished = true
	if r.overran {
		e.suspended[id] = e.now().Add(e.suspendFor())
	}
}
