// Package dispatch writes code snippets into a page at their placement.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	"anchor-delivery/internal/apperror"
	"anchor-delivery/internal/injection"
	"anchor-delivery/internal/observability"
)

// CapUnfilteredHTML lets a principal run server-executed snippets.
const CapUnfilteredHTML = "unfiltered_html"

// ErrNotPermitted is returned when a server-executed snippet is requested by a
// principal without CapUnfilteredHTML.
var ErrNotPermitted = errors.New("server-executed snippets need the unfiltered_html capability")

// Principal is the identity a page is rendered for.
type Principal struct {
	Capabilities []string
}

func (p Principal) Can(capability string) bool {
	return slices.Contains(p.Capabilities, capability)
}

// RenderData is what server-executed snippets see.
type RenderData struct {
	Placement injection.Placement
	Request   injection.RequestContext
	Now       time.Time
}

// Executor runs a server-executed snippet and writes its output to w.
type Executor interface {
	Execute(ctx context.Context, item injection.Item, data RenderData, w io.Writer) error
}

// Dispatcher converts snippets into output fragments.
type Dispatcher struct {
	exec Executor
}

func New(exec Executor) *Dispatcher {
	return &Dispatcher{exec: exec}
}

// Emit writes one snippet to w. Output is buffered: a snippet that fails
// writes nothing.
func (d *Dispatcher) Emit(ctx context.Context, w io.Writer, item injection.Item, data RenderData, p Principal) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperror.NewExecution(item.ID, fmt.Errorf("panic: %v", r))
		}
	}()

	if item.Kind != injection.KindSnippet {
		return apperror.NewValidation(fmt.Sprintf("item %s is not a code snippet", item.ID))
	}

	var buf bytes.Buffer
	code := item.Content.Markup
	switch item.Language {
	case injection.LangJavaScript:
		buf.WriteString("<script>")
		buf.WriteString(code)
		buf.WriteString("</script>\n")
	case injection.LangCSS:
		buf.WriteString("<style>")
		buf.WriteString(code)
		buf.WriteString("</style>\n")
	case injection.LangHTML, injection.LangUniversal:
		buf.WriteString(code)
		buf.WriteString("\n")
	case injection.LangTemplate:
		if !p.Can(CapUnfilteredHTML) {
			return apperror.NewAuthorization(ErrNotPermitted.Error())
		}
		if d.exec == nil {
			return apperror.NewExecution(item.ID, errors.New("no executor configured"))
		}
		if err := d.exec.Execute(ctx, item, data, &buf); err != nil {
			return apperror.NewExecution(item.ID, err)
		}
	default:
		return apperror.NewValidation(fmt.Sprintf("unknown language %q", item.Language))
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write snippet %s: %w", item.ID, err)
	}
	return nil
}

// EmitAll writes every item in order. A failing item is logged and skipped;
// the remaining items still render. It returns the number of items written.
func (d *Dispatcher) EmitAll(ctx context.Context, w io.Writer, items []injection.Item, data RenderData, p Principal) int {
	written := 0
	for _, it := range items {
		if err := d.Emit(ctx, w, it, data, p); err != nil {
			ev := log.Error()
			if apperror.IsType(err, apperror.TypeAuthorization) {
				// a refused capability is expected traffic, not a fault
				ev = log.Warn()
			} else {
				observability.EmitFaults.WithLabelValues(string(it.Language)).Inc()
			}
			ev.Err(err).
				Str("item", it.ID).
				Str("language", string(it.Language)).
				Str("placement", string(data.Placement)).
				Msg("snippet suppressed")
			continue
		}
		written++
	}
	return written
}
