package goofy

import "sort"

// resourceTable tracks which test holds each exclusive resource. It is
// owned by the control loop.
type resourceTable struct {
	holders map[string]string
}

func newResourceTable() *resourceTable {
	return &resourceTable{holders: make(map[string]string)}
}

// tryAcquire claims every resource for path, or none of them.
func (t *resourceTable) tryAcquire(path string, resources []string) bool {
	for _, r := range resources {
		if h, ok := t.holders[r]; ok && h != path {
			return false
		}
	}
	for _, r := range resources {
		t.holders[r] = path
	}
	return true
}

// release frees every resource held by path.
func (t *resourceTable) release(path string) {
	for r, h := range t.holders {
		if h == path {
			delete(t.holders, r)
		}
	}
}

// held returns the resources currently claimed, sorted.
func (t *resourceTable) held() []string {
	out := make([]string, 0, len(t.holders))
	for r := range t.holders {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
