package fields

import (
	"errors"
	"testing"

	"github.com/spf13/afero"
)

func newTestRegistry() (*Registry, *TextInput, *TextInput, *TextEditor) {
	reg := NewRegistry()
	title := NewTextInput("Budget vote")
	summ := NewTextInput("Council meets")
	desc := NewTextInput("<p>raw</p>")
	reg.Bind("comp-title", title)
	reg.Bind("comp-summ", summ)
	reg.Bind("comp-desc", desc)
	editor := NewTextEditor("<p>Full story</p>")
	reg.AttachEditor("comp-desc", editor)
	return reg, title, summ, editor
}

var trackedIDs = []string{"comp-title", "comp-summ", "comp-desc"}

func TestCaptureThenDiffIsStable(t *testing.T) {
	reg, _, _, _ := newTestRegistry()
	snap := Capture(reg, trackedIDs)
	if Diff(snap, Capture(reg, trackedIDs)) {
		t.Fatal("expected immediate re-capture to match")
	}
}

func TestCaptureReadsThroughEditor(t *testing.T) {
	reg, _, _, _ := newTestRegistry()
	snap := Capture(reg, trackedIDs)
	if snap["comp-desc"] != "<p>Full story</p>" {
		t.Fatalf("expected editor data, got %q", snap["comp-desc"])
	}
	reg.DetachEditor("comp-desc")
	if got, _ := reg.GetFieldValue("comp-desc"); got != "<p>raw</p>" {
		t.Fatalf("expected raw input value after detach, got %q", got)
	}
}

func TestCaptureSkipsMissingFields(t *testing.T) {
	reg, _, _, _ := newTestRegistry()
	snap := Capture(reg, []string{"comp-title", "comp-missing"})
	if len(snap) != 1 {
		t.Fatalf("expected one captured field, got %v", snap)
	}
	if _, ok := snap["comp-missing"]; ok {
		t.Fatal("missing field should not be captured")
	}
}

func TestDiff(t *testing.T) {
	cases := []struct {
		name string
		a, b Snapshot
		want bool
	}{
		{"equal", Snapshot{"x": "1"}, Snapshot{"x": "1"}, false},
		{"value differs", Snapshot{"x": "1"}, Snapshot{"x": "2"}, true},
		{"extra key", Snapshot{"x": "1"}, Snapshot{"x": "1", "y": ""}, true},
		{"different key", Snapshot{"x": "1"}, Snapshot{"y": "1"}, true},
		{"both empty", Snapshot{}, nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Diff(tc.a, tc.b); got != tc.want {
				t.Fatalf("Diff() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestStoreTracksLastSaved(t *testing.T) {
	reg, title, _, editor := newTestRegistry()
	store := NewStore(reg, trackedIDs)

	if store.Changed() {
		t.Fatal("fresh store should not report changes")
	}

	title.SetValue("Budget vote delayed")
	if !store.Changed() {
		t.Fatal("expected change after editing title")
	}

	saved := store.RefreshSaved()
	if saved["comp-title"] != "Budget vote delayed" {
		t.Fatalf("unexpected saved snapshot %v", saved)
	}
	if store.Changed() {
		t.Fatal("expected no change after refresh")
	}
	if !store.EditedSinceLoad() {
		t.Fatal("initial snapshot should still differ")
	}

	editor.SetData("<p>Updated</p>")
	if !store.Changed() {
		t.Fatal("expected change after editing rich text")
	}
}

func TestStoreUnloadWarning(t *testing.T) {
	reg, _, summ, _ := newTestRegistry()
	store := NewStore(reg, trackedIDs)

	if msg := store.UnloadWarning("unsaved"); msg != "" {
		t.Fatalf("expected no warning, got %q", msg)
	}
	summ.SetValue("changed")
	if msg := store.UnloadWarning("unsaved"); msg != "unsaved" {
		t.Fatalf("expected warning, got %q", msg)
	}
}

func TestStoreAllEmptyAndApply(t *testing.T) {
	reg := NewRegistry()
	reg.Bind("comp-title", NewTextInput(""))
	reg.Bind("comp-summ", NewTextInput(""))
	store := NewStore(reg, []string{"comp-title", "comp-summ", "comp-desc"})

	if !store.AllEmpty() {
		t.Fatal("expected all fields empty")
	}

	applied := store.Apply(map[string]string{
		"comp-title": "Restored",
		"comp-desc":  "ignored, no control",
		"other":      "ignored, untracked",
	})
	if len(applied) != 1 || applied[0] != "comp-title" {
		t.Fatalf("unexpected applied ids %v", applied)
	}
	if store.AllEmpty() {
		t.Fatal("expected non-empty after apply")
	}
}

func TestFilesAccessor(t *testing.T) {
	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "draft/title.txt", []byte("Headline"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	files := NewFiles(fsys, map[string]string{
		"comp-title": "draft/title.txt",
		"comp-desc":  "draft/body.html",
	}, nil)

	if got, ok := files.GetFieldValue("comp-title"); !ok || got != "Headline" {
		t.Fatalf("unexpected title %q ok=%v", got, ok)
	}
	if got, ok := files.GetFieldValue("comp-desc"); !ok || got != "" {
		t.Fatalf("expected missing file to read empty, got %q ok=%v", got, ok)
	}
	if _, ok := files.GetFieldValue("comp-summ"); ok {
		t.Fatal("unmapped field should be reported missing")
	}

	if !files.SetFieldValue("comp-desc", "<p>Body</p>") {
		t.Fatal("SetFieldValue failed")
	}
	data, err := afero.ReadFile(fsys, "draft/body.html")
	if err != nil {
		t.Fatalf("read written file: %v", err)
	}
	if string(data) != "<p>Body</p>" {
		t.Fatalf("unexpected file content %q", data)
	}
	if files.SetFieldValue("comp-summ", "x") {
		t.Fatal("SetFieldValue on unmapped field should fail")
	}
}

// flakyFs fails every Open while broken is set.
type flakyFs struct {
	afero.Fs
	broken bool
}

func (f *flakyFs) Open(name string) (afero.File, error) {
	if f.broken {
		return nil, errors.New("input/output error")
	}
	return f.Fs.Open(name)
}

func TestFilesReadErrorKeepsLastKnownValue(t *testing.T) {
	fsys := &flakyFs{Fs: afero.NewMemMapFs()}
	if err := afero.WriteFile(fsys.Fs, "draft/title.txt", []byte("Headline"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	files := NewFiles(fsys, map[string]string{
		"comp-title": "draft/title.txt",
		"comp-desc":  "draft/body.html",
	}, nil)
	store := NewStore(files, []string{"comp-title", "comp-desc"})
	saved := store.RefreshSaved()
	if len(saved) != 2 {
		t.Fatalf("expected both fields captured, got %v", saved)
	}

	fsys.broken = true
	current := store.Current()
	if current["comp-title"] != "Headline" || len(current) != 2 {
		t.Fatalf("read error dropped or changed a field: %v", current)
	}
	if store.Changed() {
		t.Fatal("a failed read should not count as an edit")
	}

	fresh := NewFiles(fsys, map[string]string{"comp-title": "draft/title.txt"}, nil)
	if _, ok := fresh.GetFieldValue("comp-title"); ok {
		t.Fatal("a field never read successfully has no value to report")
	}
}
