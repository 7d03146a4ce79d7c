package testlist

import (
	"sync"

	"github.com/arccode/factory-sub002/pkg/i18n"
	"github.com/arccode/factory-sub002/pkg/logger"
)

// Manager builds test lists on demand and caches them until one of the
// documents they were built from changes.
type Manager struct {
	loader  *Loader
	catalog *i18n.Catalog

	mu     sync.RWMutex
	lists  map[string]*TestList
	failed map[string]error
}

// NewManager creates a Manager. catalog may be nil.
func NewManager(loader *Loader, catalog *i18n.Catalog) *Manager {
	return &Manager{
		loader:  loader,
		catalog: catalog,
		lists:   make(map[string]*TestList),
		failed:  make(map[string]error),
	}
}

// Loader returns the loader the manager reads documents with
func (m *Manager) Loader() *Loader {
	return m.loader
}

// Build loads, resolves and builds one test list, bypassing the cache.
func (m *Manager) Build(id string) (*TestList, error) {
	cfg, err := m.loader.LoadConfig(id)
	if err != nil {
		return nil, wrapLoad(id, err)
	}
	tl, err := Build(cfg, m.catalog)
	if err != nil {
		return nil, err
	}
	logger.Info("Built test list %s (%d tests) from %v", id, len(tl.Nodes())-1, tl.Chain)
	return tl, nil
}

// BuildAll builds every available test list. Lists that fail to build are
// returned in failed and never in lists.
func (m *Manager) BuildAll() (lists map[string]*TestList, failed map[string]error, err error) {
	ids, err := m.loader.FindIDs()
	if err != nil {
		return nil, nil, err
	}

	lists = make(map[string]*TestList)
	failed = make(map[string]error)
	for _, id := range ids {
		tl, err := m.Build(id)
		if err != nil {
			logger.Error("Unable to build test list %s: %v", id, err)
			failed[id] = err
			continue
		}
		lists[id] = tl
	}

	m.mu.Lock()
	m.lists = lists
	m.failed = failed
	m.mu.Unlock()
	return lists, failed, nil
}

// Get returns test list id, rebuilding it when any document in its chain
// changed since it was built.
func (m *Manager) Get(id string) (*TestList, error) {
	m.mu.RLock()
	tl, ok := m.lists[id]
	m.mu.RUnlock()

	if ok && !m.stale(tl) {
		return tl, nil
	}

	tl, err := m.Build(id)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		delete(m.lists, id)
		m.failed[id] = err
		return nil, err
	}
	delete(m.failed, id)
	m.lists[id] = tl
	return tl, nil
}

// Active returns the test list selected by the ACTIVE marker.
func (m *Manager) Active() (*TestList, error) {
	id, err := m.loader.ActiveID()
	if err != nil {
		return nil, err
	}
	return m.Get(id)
}

// Failed returns the last build error of each list that failed to build.
func (m *Manager) Failed() map[string]error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]error, len(m.failed))
	for k, v := range m.failed {
		out[k] = v
	}
	return out
}

// Invalidate drops every cached list so the next Get rebuilds it.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.lists = make(map[string]*TestList)
	m.mu.Unlock()
}

func (m *Manager) stale(tl *TestList) bool {
	for _, id := range tl.Chain {
		mt, err := m.loader.ModTime(id)
		if err != nil || mt.After(tl.ModTime) {
			return true
		}
	}
	return false
}
