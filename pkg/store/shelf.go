package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/arccode/factory-sub002/pkg/expr"
	"github.com/arccode/factory-sub002/pkg/value"
)

// kv is a JSON-valued key/value table.
type kv struct {
	db    *sql.DB
	table string
}

func (t kv) get(ctx context.Context, key string) (interface{}, bool, error) {
	var raw string
	err := t.db.QueryRowContext(ctx, "SELECT value FROM "+t.table+" WHERE key = ?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s %q: %w", t.table, key, err)
	}
	v, err := value.Parse([]byte(raw))
	if err != nil {
		return nil, false, fmt.Errorf("decode %s %q: %w", t.table, key, err)
	}
	return v.Interface(), true, nil
}

func (t kv) set(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %q: %w", t.table, key, err)
	}
	_, err = t.db.ExecContext(ctx,
		"INSERT INTO "+t.table+" (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, string(data))
	if err != nil {
		return fmt.Errorf("write %s %q: %w", t.table, key, err)
	}
	return nil
}

func (t kv) delete(ctx context.Context, key string) error {
	if _, err := t.db.ExecContext(ctx, "DELETE FROM "+t.table+" WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete %s %q: %w", t.table, key, err)
	}
	return nil
}

func (t kv) all(ctx context.Context) (map[string]interface{}, error) {
	rows, err := t.db.QueryContext(ctx, "SELECT key, value FROM "+t.table)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", t.table, err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]interface{})
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", t.table, err)
		}
		v, err := value.Parse([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("decode %s %q: %w", t.table, key, err)
		}
		out[key] = v.Interface()
	}
	return out, rows.Err()
}

// UpdateDeviceData stores device data entries. Dotted keys such as
// "component.has_touchscreen" are kept flat and nested on read.
func (s *Store) UpdateDeviceData(ctx context.Context, data map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := kv{db: s.db, table: "device_data"}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if data[k] == nil {
			if err := t.delete(ctx, k); err != nil {
				return err
			}
			continue
		}
		if err := t.set(ctx, k, data[k]); err != nil {
			return err
		}
	}
	return nil
}

// DeviceData returns the device snapshot with dotted keys nested.
// It implements core.DeviceDataSource.
func (s *Store) DeviceData(ctx context.Context) (map[string]interface{}, error) {
	flat, err := kv{db: s.db, table: "device_data"}.all(ctx)
	if err != nil {
		return nil, err
	}
	return nest(flat), nil
}

// nest expands dotted keys into nested maps. Shorter keys are applied first,
// so "a.b" refines an "a" map rather than being overwritten by it.
func nest(flat map[string]interface{}) map[string]interface{} {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		di, dj := strings.Count(keys[i], "."), strings.Count(keys[j], ".")
		if di != dj {
			return di < dj
		}
		return keys[i] < keys[j]
	})

	out := make(map[string]interface{})
	for _, k := range keys {
		parts := strings.Split(k, ".")
		m := out
		for _, p := range parts[:len(parts)-1] {
			child, ok := m[p].(map[string]interface{})
			if !ok {
				child = make(map[string]interface{})
				m[p] = child
			}
			m = child
		}
		m[parts[len(parts)-1]] = flat[k]
	}
	return out
}

// Shelf is the persistent key/value store tests share through state_proxy.
type Shelf struct {
	s  *Store
	kv kv
}

// Shelf returns the store's shelf.
func (s *Store) Shelf() *Shelf {
	return &Shelf{s: s, kv: kv{db: s.db, table: "shelf"}}
}

// Get returns the value stored under key.
func (sh *Shelf) Get(ctx context.Context, key string) (interface{}, bool, error) {
	return sh.kv.get(ctx, key)
}

// Set stores v under key. A nil v deletes the key.
func (sh *Shelf) Set(ctx context.Context, key string, v interface{}) error {
	sh.s.mu.Lock()
	defer sh.s.mu.Unlock()
	if v == nil {
		return sh.kv.delete(ctx, key)
	}
	return sh.kv.set(ctx, key, v)
}

// Proxy exposes the shelf to expressions as state_proxy. Attribute access
// reads a key; get(key, default) reads with a fallback.
func (sh *Shelf) Proxy() expr.Object {
	return shelfProxy{sh: sh}
}

type shelfProxy struct {
	sh *Shelf
}

func (p shelfProxy) Attr(name string) (interface{}, bool) {
	if name == "get" {
		return expr.Func(p.getFunc), true
	}
	v, ok, err := p.sh.Get(context.Background(), name)
	if err != nil || !ok {
		return nil, false
	}
	return v, true
}

func (p shelfProxy) getFunc(args ...interface{}) (interface{}, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("get() takes 1 or 2 arguments, got %d", len(args))
	}
	key, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("get() key must be a string")
	}
	v, found, err := p.sh.Get(context.Background(), key)
	if err != nil {
		return nil, err
	}
	if !found {
		if len(args) == 2 {
			return args[1], nil
		}
		return nil, nil
	}
	return v, nil
}
