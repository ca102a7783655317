package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Memory implements the Store interface over process memory. It honors the
// same filter and update vocabulary as the Mongo store and is used by tests.
// Documents round-trip through JSON so reads always observe copies.
type Memory struct {
	mu          sync.Mutex
	collections map[string]map[string]map[string]any
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]map[string]any),
	}
}

// FindID retrieves the document with the specified primary key.
func (m *Memory) FindID(_ context.Context, collection string, id string, doc any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, exists := m.collections[collection][id]
	if !exists {
		return ErrNotFound
	}

	return decodeDoc(raw, doc)
}

// FindOne retrieves the first document matching the specified filter.
func (m *Memory) FindOne(_ context.Context, collection string, filter Filter, doc any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, raw := range m.collections[collection] {
		if matches(raw, filter) {
			return decodeDoc(raw, doc)
		}
	}

	return ErrNotFound
}

// Exists reports whether any document matches the specified filter.
func (m *Memory) Exists(_ context.Context, collection string, filter Filter) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, raw := range m.collections[collection] {
		if matches(raw, filter) {
			return true, nil
		}
	}

	return false, nil
}

// Save upserts the document under the specified primary key.
func (m *Memory) Save(_ context.Context, collection string, id string, doc any) error {
	raw, err := encodeDoc(doc)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	col, exists := m.collections[collection]
	if !exists {
		col = make(map[string]map[string]any)
		m.collections[collection] = col
	}
	col[id] = raw

	return nil
}

// UpdateID applies the update to the document with the specified primary key.
func (m *Memory) UpdateID(_ context.Context, collection string, id string, update Update) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, exists := m.collections[collection][id]
	if !exists {
		return 0, nil
	}

	if err := applyUpdate(raw, update); err != nil {
		return 0, err
	}

	return 1, nil
}

// UpdateOne applies the update to the first document matching the filter.
func (m *Memory) UpdateOne(_ context.Context, collection string, filter Filter, update Update) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, raw := range m.collections[collection] {
		if !matches(raw, filter) {
			continue
		}

		if err := applyUpdate(raw, update); err != nil {
			return 0, err
		}

		return 1, nil
	}

	return 0, nil
}

// =============================================================================

func encodeDoc(doc any) (map[string]any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	return raw, nil
}

func decodeDoc(raw map[string]any, doc any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode raw document: %w", err)
	}

	if err := json.Unmarshal(data, doc); err != nil {
		return fmt.Errorf("decode into %T: %w", doc, err)
	}

	return nil
}

func toRawValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}

	return raw, nil
}

// =============================================================================

func matches(raw map[string]any, filter Filter) bool {
	for path, want := range filter {
		candidates := resolve(raw, strings.Split(path, "."))

		if exists, ok := want.(Exists); ok {
			if bool(exists) != (len(candidates) > 0) {
				return false
			}
			continue
		}

		found := false
		for _, candidate := range candidates {
			if normValue(candidate) == normValue(want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// resolve walks a dotted path through nested maps, fanning out across any
// arrays it crosses, and returns every value reachable at the path.
func resolve(v any, segments []string) []any {
	if len(segments) == 0 {
		return []any{v}
	}

	switch t := v.(type) {
	case map[string]any:
		child, exists := t[segments[0]]
		if !exists {
			return nil
		}
		return resolve(child, segments[1:])

	case []any:
		var out []any
		for _, elem := range t {
			out = append(out, resolve(elem, segments)...)
		}
		return out
	}

	return nil
}

// normValue renders filter and document values into a comparable form so the
// JSON number representation and the caller's Go types agree.
func normValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case json.Number:
		return t.String()
	case string:
		return "s:" + t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.FormatInt(int64(t), 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case decimal.Decimal:
		return t.String()
	}

	return fmt.Sprintf("%v", v)
}

// =============================================================================

func applyUpdate(raw map[string]any, update Update) error {
	for path, value := range update.Set {
		rv, err := toRawValue(value)
		if err != nil {
			return err
		}
		setPath(raw, strings.Split(path, "."), rv)
	}

	for _, path := range update.Unset {
		unsetPath(raw, strings.Split(path, "."))
	}

	for path, delta := range update.Inc {
		if err := incPath(raw, strings.Split(path, "."), delta); err != nil {
			return err
		}
	}

	for path, value := range update.Push {
		rv, err := toRawValue(value)
		if err != nil {
			return err
		}
		pushPath(raw, strings.Split(path, "."), rv)
	}

	return nil
}

func container(raw map[string]any, segments []string, create bool) (map[string]any, bool) {
	cur := raw
	for _, seg := range segments[:len(segments)-1] {
		child, exists := cur[seg]
		if !exists {
			if !create {
				return nil, false
			}
			next := make(map[string]any)
			cur[seg] = next
			cur = next
			continue
		}

		next, ok := child.(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}

	return cur, true
}

func setPath(raw map[string]any, segments []string, value any) {
	if parent, ok := container(raw, segments, true); ok {
		parent[segments[len(segments)-1]] = value
	}
}

func unsetPath(raw map[string]any, segments []string) {
	if parent, ok := container(raw, segments, false); ok {
		delete(parent, segments[len(segments)-1])
	}
}

func incPath(raw map[string]any, segments []string, delta int64) error {
	parent, ok := container(raw, segments, true)
	if !ok {
		return fmt.Errorf("inc path %v: not an object", segments)
	}

	leaf := segments[len(segments)-1]
	var current int64
	if v, exists := parent[leaf]; exists {
		num, ok := v.(json.Number)
		if !ok {
			return fmt.Errorf("inc path %v: not a number", segments)
		}
		n, err := num.Int64()
		if err != nil {
			return fmt.Errorf("inc path %v: %w", segments, err)
		}
		current = n
	}

	parent[leaf] = json.Number(strconv.FormatInt(current+delta, 10))
	return nil
}

func pushPath(raw map[string]any, segments []string, value any) {
	parent, ok := container(raw, segments, true)
	if !ok {
		return
	}

	leaf := segments[len(segments)-1]
	arr, _ := parent[leaf].([]any)
	parent[leaf] = append(arr, value)
}
