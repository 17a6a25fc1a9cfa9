package fields

import "sync"

// Input is a plain form control.
type Input interface {
	Value() string
	SetValue(string)
}

// Editor is a rich-text editor instance replacing a form control.
type Editor interface {
	GetData() string
	SetData(string)
}

// Registry is a FieldAccessor over a fixed set of controls keyed by field id.
// An attached editor takes precedence over the underlying input, so values
// read before the editor is attached still come from the raw control.
type Registry struct {
	mu      sync.RWMutex
	inputs  map[string]Input
	editors map[string]Editor
}

func NewRegistry() *Registry {
	return &Registry{
		inputs:  make(map[string]Input),
		editors: make(map[string]Editor),
	}
}

func (r *Registry) Bind(id string, in Input) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs[id] = in
}

func (r *Registry) AttachEditor(id string, ed Editor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.editors[id] = ed
}

func (r *Registry) DetachEditor(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.editors, id)
}

func (r *Registry) GetFieldValue(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ed, ok := r.editors[id]; ok {
		return ed.GetData(), true
	}
	if in, ok := r.inputs[id]; ok {
		return in.Value(), true
	}
	return "", false
}

func (r *Registry) SetFieldValue(id, value string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ed, ok := r.editors[id]; ok {
		ed.SetData(value)
		return true
	}
	if in, ok := r.inputs[id]; ok {
		in.SetValue(value)
		return true
	}
	return false
}

// TextInput is an in-memory Input.
type TextInput struct {
	mu    sync.Mutex
	value string
}

func NewTextInput(value string) *TextInput {
	return &TextInput{value: value}
}

func (t *TextInput) Value() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

func (t *TextInput) SetValue(value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.value = value
}

// TextEditor is an in-memory Editor.
type TextEditor struct {
	TextInput
}

func NewTextEditor(data string) *TextEditor {
	return &TextEditor{TextInput{value: data}}
}

func (t *TextEditor) GetData() string { return t.Value() }

func (t *TextEditor) SetData(data string) { t.SetValue(data) }
