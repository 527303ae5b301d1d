// Package render formats replies and status reports for the terminal.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	metaStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// Options configure a Renderer.
type Options struct {
	// Width is the word-wrap column. Zero selects 100.
	Width int
	// Style is a glamour standard style such as "dark", "light" or "notty". Empty selects "dark".
	Style string
	// Raw disables markdown rendering and styling.
	Raw bool
}

// Renderer turns replies into terminal output.
type Renderer struct {
	md  *glamour.TermRenderer
	raw bool
}

// New builds a renderer.
func New(opts Options) (*Renderer, error) {
	if opts.Raw {
		return &Renderer{raw: true}, nil
	}
	if opts.Width <= 0 {
		opts.Width = 100
	}
	if opts.Style == "" {
		opts.Style = "dark"
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(opts.Style),
		glamour.WithWordWrap(opts.Width),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	return &Renderer{md: md}, nil
}

// Markdown renders text, falling back to the text itself when it cannot be rendered.
func (r *Renderer) Markdown(text string) string {
	if r.raw {
		return text
	}
	out, err := r.md.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

// Header renders a section title such as a service name.
func (r *Renderer) Header(title, meta string) string {
	if r.raw {
		if meta == "" {
			return "== " + title
		}
		return "== " + title + " (" + meta + ")"
	}
	h := headerStyle.Render(title)
	if meta != "" {
		h += " " + metaStyle.Render(meta)
	}
	return h
}

// Reply renders one service's reply under its header.
func (r *Renderer) Reply(service, meta, text string) string {
	return r.Header(service, meta) + "\n" + r.Markdown(text) + "\n"
}

// Error renders a failure for service.
func (r *Renderer) Error(service string, err error) string {
	if r.raw {
		return fmt.Sprintf("== %s\nerror: %v\n", service, err)
	}
	return r.Header(service, "") + "\n" + errorStyle.Render("error: "+err.Error()) + "\n"
}

// Level of a status line.
type Level int

const (
	LevelOK Level = iota
	LevelWarn
	LevelError
)

// StatusLine renders one aligned key/value line colored by level.
func (r *Renderer) StatusLine(key, value string, level Level) string {
	label := fmt.Sprintf("%-12s", key)
	if r.raw {
		return label + " " + value
	}
	style := okStyle
	switch level {
	case LevelWarn:
		style = warnStyle
	case LevelError:
		style = errorStyle
	}
	return metaStyle.Render(label) + " " + style.Render(value)
}
