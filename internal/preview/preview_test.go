package preview

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"newsagent/api/internal/fields"
)

func TestRenderConvertsRichFields(t *testing.T) {
	r := New([]string{"comp-desc"}, map[string]string{"comp-title": "Title"})

	out, err := r.Render(fields.Snapshot{
		"comp-title": "Fish <and> chips",
		"comp-desc":  "<p>Lunch is <strong>early</strong> today</p>",
		"comp-empty": "   ",
	})
	require.NoError(t, err)

	require.Contains(t, out, "## Title\n\nFish <and> chips")
	require.Contains(t, out, "## comp-desc\n\nLunch is **early** today")
	require.NotContains(t, out, "comp-empty")
	require.Less(t, strings.Index(out, "comp-desc"), strings.Index(out, "Title"), "sections are ordered by field id")
}

func TestRenderEmptySnapshot(t *testing.T) {
	out, err := New(nil, nil).Render(fields.Snapshot{})
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestHookWritesPreview(t *testing.T) {
	var buf bytes.Buffer
	hook := New([]string{"comp-desc"}, nil).Hook(&buf, nil)

	hook(context.Background(), fields.Snapshot{"comp-desc": "<ul><li>one</li><li>two</li></ul>"})

	require.Contains(t, buf.String(), "one")
	require.Contains(t, buf.String(), "two")
	require.True(t, strings.HasPrefix(buf.String(), "## comp-desc"))
}
