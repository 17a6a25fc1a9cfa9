// Package preview renders a saved field snapshot as markdown for the view
// action.
package preview

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"

	"newsagent/api/internal/fields"
)

type Renderer struct {
	conv   *converter.Converter
	rich   map[string]bool
	labels map[string]string
}

// New returns a renderer that converts richFields from HTML. labels maps
// field ids to section headings; unlabelled fields use their id.
func New(richFields []string, labels map[string]string) *Renderer {
	rich := make(map[string]bool, len(richFields))
	for _, id := range richFields {
		rich[id] = true
	}
	return &Renderer{
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		rich:   rich,
		labels: labels,
	}
}

// Render returns one section per non-empty field, ordered by id.
func (r *Renderer) Render(snap fields.Snapshot) (string, error) {
	ids := make([]string, 0, len(snap))
	for id, value := range snap {
		if strings.TrimSpace(value) != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var b strings.Builder
	for i, id := range ids {
		body := strings.TrimSpace(snap[id])
		if r.rich[id] {
			md, err := r.conv.ConvertString(body)
			if err != nil {
				return "", fmt.Errorf("convert %s: %w", id, err)
			}
			body = strings.TrimSpace(md)
		}
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n\n%s", r.label(id), body)
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	return b.String(), nil
}

func (r *Renderer) label(id string) string {
	if label, ok := r.labels[id]; ok && label != "" {
		return label
	}
	return id
}

// Hook adapts the renderer to the autosave preview callback, writing each
// preview to w.
func (r *Renderer) Hook(w io.Writer, logger *slog.Logger) func(context.Context, fields.Snapshot) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(_ context.Context, snap fields.Snapshot) {
		out, err := r.Render(snap)
		if err != nil {
			logger.Warn("render preview", "error", err)
			return
		}
		if _, err := io.WriteString(w, out); err != nil {
			logger.Warn("write preview", "error", err)
		}
	}
}
