// Package ui renders the interactive page of the HTTP server.
package ui

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/a-h/templ"

	"github.com/cwbudde/symregweb/internal/present"
	"github.com/cwbudde/symregweb/internal/search"
)

// SessionItem is one row of the session list.
type SessionItem struct {
	ID        string
	View      present.View
	StartTime time.Time
}

// Page is everything the index page shows.
type Page struct {
	// Defaults prefill the options form
	Defaults  search.Configuration
	Operators string

	// StepCycles and SnapshotEvery are sent with every Run
	StepCycles    int
	SnapshotEvery int

	Sessions []SessionItem
}

// Index renders the full page.
func Index(p Page) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		pw := &pageWriter{w: w}
		pw.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		pw.raw(`<title>Symbolic Regression</title><style>`, pageCSS, `</style></head><body>`)
		pw.raw(`<h1>Symbolic Regression</h1>`)
		if pw.err != nil {
			return pw.err
		}

		if err := runForm(p).Render(ctx, w); err != nil {
			return err
		}
		if err := liveView(present.Render(emptyStatus())).Render(ctx, w); err != nil {
			return err
		}
		if err := SessionList(p.Sessions).Render(ctx, w); err != nil {
			return err
		}

		pw.raw(`<script>`, pageJS, `</script></body></html>`)
		return pw.err
	})
}

func runForm(p Page) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		pw := &pageWriter{w: w}
		cfg := p.Defaults

		pw.raw(`<form id="run-form" data-step-cycles="`, strconv.Itoa(p.StepCycles),
			`" data-snapshot-every="`, strconv.Itoa(p.SnapshotEvery), `">`)
		pw.raw(`<label for="csv">CSV (features..., target)</label>`)
		pw.raw(`<textarea id="csv" name="csv" rows="10" placeholder="x1,x2,y"></textarea>`)

		pw.raw(`<fieldset><legend>Options</legend>`)
		pw.number("niterations", "Iterations", cfg.Iterations)
		pw.number("populations", "Populations", cfg.Populations)
		pw.number("population_size", "Population size", cfg.PopulationSize)
		pw.number("ncycles_per_iteration", "Cycles per iteration", cfg.CyclesPerIteration)
		pw.number("maxsize", "Max complexity", cfg.MaxComplexity)
		pw.number("topn", "Top N", cfg.TopN)
		pw.raw(`<label>Seed <input type="number" name="seed" value="`, strconv.FormatInt(cfg.Seed, 10), `"></label>`)
		checked := ""
		if cfg.HasHeader {
			checked = " checked"
		}
		pw.raw(`<label><input type="checkbox" name="has_headers"`, checked, `> Header row</label>`)
		pw.raw(`</fieldset>`)

		pw.raw(`<label for="operators">Operators</label>`)
		pw.raw(`<input id="operators" name="operators" value="`)
		pw.text(p.Operators)
		pw.raw(`">`)

		pw.raw(`<div class="controls"><button type="submit" id="run">Run</button>`)
		pw.raw(`<button type="button" id="stop" disabled>Stop</button></div></form>`)
		return pw.err
	})
}

// liveView is the part of the page updated from the event stream.
func liveView(v present.View) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		pw := &pageWriter{w: w}
		pw.raw(`<section id="live"><p id="status">`)
		pw.text(v.Status)
		pw.raw(`</p><progress id="progress" max="100" value="`)
		pw.text(v.Progress)
		pw.raw(`"></progress><pre id="best">`)
		pw.text(v.Best)
		pw.raw(`</pre><ol id="frontier">`)
		if pw.err != nil {
			return pw.err
		}
		if err := FrontierRows(v.Rows).Render(ctx, w); err != nil {
			return err
		}
		pw.raw(`</ol></section>`)
		return pw.err
	})
}

// FrontierRows renders frontier rows, each with a copy button for its equation.
func FrontierRows(rows []present.Row) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		pw := &pageWriter{w: w}
		for _, row := range rows {
			pw.raw(`<li><span class="meta">`)
			pw.text(row.Complexity)
			pw.raw(` `)
			pw.text(row.Loss)
			pw.raw(`</span><code>`)
			pw.text(row.Equation)
			pw.raw(`</code><button type="button" class="copy" data-eq="`)
			pw.text(row.CopyText())
			pw.raw(`">Copy</button></li>`)
		}
		return pw.err
	})
}

// SessionList renders the sessions known to the server, newest first.
func SessionList(items []SessionItem) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		pw := &pageWriter{w: w}
		pw.raw(`<section id="sessions"><h2>Sessions</h2>`)
		if len(items) == 0 {
			pw.raw(`<p class="empty">No sessions yet.</p></section>`)
			return pw.err
		}
		pw.raw(`<table><thead><tr><th>ID</th><th>Status</th><th>Progress</th><th>Best</th><th>Started</th></tr></thead><tbody>`)
		for _, item := range items {
			pw.raw(`<tr data-session="`)
			pw.text(item.ID)
			pw.raw(`" class="state-`)
			pw.text(string(item.View.State))
			pw.raw(`"><td><code>`)
			pw.text(shortID(item.ID))
			pw.raw(`</code></td><td>`)
			pw.text(item.View.Status)
			pw.raw(`</td><td>`)
			pw.text(item.View.Progress)
			pw.raw(`%</td><td><code>`)
			pw.text(item.View.Best)
			pw.raw(`</code></td><td>`)
			pw.text(item.StartTime.Format(time.DateTime))
			pw.raw(`</td></tr>`)
		}
		pw.raw(`</tbody></table></section>`)
		return pw.err
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// pageWriter stops writing after the first error.
type pageWriter struct {
	w   io.Writer
	err error
}

func (p *pageWriter) raw(parts ...string) {
	for _, s := range parts {
		if p.err != nil {
			return
		}
		_, p.err = io.WriteString(p.w, s)
	}
}

func (p *pageWriter) text(s string) {
	p.raw(templ.EscapeString(s))
}

func (p *pageWriter) number(name, label string, value int) {
	p.raw(fmt.Sprintf(`<label>%s <input type="number" min="1" name="%s" value="%d"></label>`,
		templ.EscapeString(label), templ.EscapeString(name), value))
}
