// Package reorder tracks drag-and-drop ordering of newsletter sections and
// persists it once the user stops moving things.
package reorder

import (
	"fmt"
	"strings"
	"sync"
)

// Pair places an item in a container.
type Pair struct {
	Container string
	Item      string
}

// String renders the pair in the "container_item" form the server expects.
func (p Pair) String() string {
	return p.Container + "_" + p.Item
}

// Validate checks that the pair survives the server splitting it at the first
// underscore: the container must be non-empty and underscore-free, the item
// non-empty.
func (p Pair) Validate() error {
	if err := validContainer(p.Container); err != nil {
		return err
	}
	if p.Item == "" {
		return fmt.Errorf("empty item in container %q", p.Container)
	}
	return nil
}

func validContainer(id string) error {
	if id == "" {
		return fmt.Errorf("empty container id")
	}
	if strings.Contains(id, "_") {
		return fmt.Errorf("container id %q must not contain an underscore", id)
	}
	return nil
}

// OrderSource reports the full current order of every tracked list.
type OrderSource interface {
	CurrentOrder() []Pair
}

// Lists is a registry of sortable containers built once at init. Containers
// keep their registration order; items keep their in-container order.
type Lists struct {
	mu         sync.Mutex
	containers []string
	items      map[string][]string
}

func NewLists() *Lists {
	return &Lists{items: make(map[string][]string)}
}

// AddContainer registers a container with its initial items. Registering an
// existing container replaces its items.
func (l *Lists) AddContainer(id string, items ...string) error {
	if err := validContainer(id); err != nil {
		return err
	}
	for _, item := range items {
		if item == "" {
			return fmt.Errorf("empty item in container %q", id)
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.items[id]; !ok {
		l.containers = append(l.containers, id)
	}
	l.items[id] = append([]string(nil), items...)
	return nil
}

func (l *Lists) Items(container string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.items[container]...)
}

// Move takes item out of whichever container holds it and inserts it into
// container at index. An index past the end appends.
func (l *Lists) Move(item, container string, index int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	dest, ok := l.items[container]
	if !ok {
		return fmt.Errorf("unknown container %q", container)
	}

	found := false
	for _, id := range l.containers {
		items := l.items[id]
		for i, it := range items {
			if it == item {
				l.items[id] = append(items[:i:i], items[i+1:]...)
				found = true
				break
			}
		}
		if found {
			break
		}
	}
	if !found {
		return fmt.Errorf("unknown item %q", item)
	}

	dest = l.items[container]
	if index < 0 {
		index = 0
	}
	if index > len(dest) {
		index = len(dest)
	}
	next := make([]string, 0, len(dest)+1)
	next = append(next, dest[:index]...)
	next = append(next, item)
	next = append(next, dest[index:]...)
	l.items[container] = next
	return nil
}

func (l *Lists) CurrentOrder() []Pair {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Pair
	for _, id := range l.containers {
		for _, item := range l.items[id] {
			out = append(out, Pair{Container: id, Item: item})
		}
	}
	return out
}

// Serialize renders an order as the flat sequence of pair ids. It fails on
// the first pair the server would split differently.
func Serialize(order []Pair) ([]string, error) {
	out := make([]string, len(order))
	for i, p := range order {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		out[i] = p.String()
	}
	return out, nil
}
