package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Iron-Ham/portaldocs/internal/config"
	"github.com/Iron-Ham/portaldocs/internal/docstore"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"gopkg.in/yaml.v3"
)

// Delta colors
var (
	addedColor   = lipgloss.Color("#10B981") // Green
	removedColor = lipgloss.Color("#F87171") // Red
	changedColor = lipgloss.Color("#F59E0B") // Amber
	mutedColor   = lipgloss.Color("#9CA3AF") // Gray
)

// printer renders values and deltas in the configured output format.
type printer struct {
	w      io.Writer
	format string

	added   lipgloss.Style
	removed lipgloss.Style
	changed lipgloss.Style
	muted   lipgloss.Style
}

func newPrinter(w io.Writer, cfg config.OutputConfig) *printer {
	r := lipgloss.NewRenderer(w)
	switch cfg.Color {
	case "always":
		r.SetColorProfile(termenv.TrueColor)
	case "never":
		r.SetColorProfile(termenv.Ascii)
	}

	return &printer{
		w:       w,
		format:  cfg.Format,
		added:   r.NewStyle().Foreground(addedColor),
		removed: r.NewStyle().Foreground(removedColor),
		changed: r.NewStyle().Foreground(changedColor),
		muted:   r.NewStyle().Foreground(mutedColor),
	}
}

// value prints v as a document: indented JSON, or YAML when configured.
func (p *printer) value(v any) error {
	var (
		data []byte
		err  error
	)
	if p.format == "yaml" {
		data, err = yaml.Marshal(plain(v))
	} else {
		data, err = docstore.Encode(v)
	}
	if err != nil {
		return err
	}
	_, err = p.w.Write(data)
	return err
}

// deltas prints one line per difference: "+" added, "-" removed, "~" changed.
func (p *printer) deltas(ds []docstore.Delta) {
	for _, d := range ds {
		var line string
		switch d.Kind {
		case docstore.Added:
			line = p.added.Render(fmt.Sprintf("+ %s: %s", d.Path, compact(d.New)))
		case docstore.Removed:
			line = p.removed.Render(fmt.Sprintf("- %s: %s", d.Path, compact(d.Old)))
		default:
			line = p.changed.Render(fmt.Sprintf("~ %s: %s -> %s", d.Path, compact(d.Old), compact(d.New)))
		}
		fmt.Fprintln(p.w, line)
	}
}

// mutedf prints a de-emphasized line.
func (p *printer) mutedf(format string, args ...any) {
	fmt.Fprintln(p.w, p.muted.Render(fmt.Sprintf(format, args...)))
}

// compact renders v as single-line JSON.
func compact(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// plain replaces json.Number with int64 or float64 so YAML output keeps
// numbers unquoted.
func plain(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = plain(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plain(e)
		}
		return out
	}
	return v
}

// parseJSON decodes a command-line JSON argument.
func parseJSON(s string) (any, error) {
	v, err := docstore.Decode([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("invalid JSON %q: %w", s, err)
	}
	return v, nil
}

// parseValue decodes s as JSON, falling back to the plain string so that
// `update doc owner alice` works without quoting.
func parseValue(s string) any {
	if v, err := docstore.Decode([]byte(s)); err == nil {
		return v
	}
	return s
}
