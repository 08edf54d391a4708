package graph

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ppiankov/hopwalk/internal/model"
)

// ReadTriples loads tab-separated "subject\tpredicate\tobject" lines (the
// Wikidata5m triplet format) into the store. Blank lines and lines starting
// with '#' are skipped. It returns the number of claims added.
func (m *MemoryStore) ReadTriples(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	added := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			return added, fmt.Errorf("line %d: expected 3 tab-separated fields, got %d", lineNo, len(fields))
		}
		m.AddClaim(model.Claim{
			SubjectID:  fields[0],
			PropertyID: fields[1],
			TargetID:   fields[2],
		})
		added++
	}

	if err := scanner.Err(); err != nil {
		return added, fmt.Errorf("scan triples: %w", err)
	}
	return added, nil
}

// ReadLabels loads "id\tlabel[\tdescription]" lines. Ids starting with 'P' are
// properties, everything else is an item. Existing in-degrees are preserved.
// It returns the number of labels applied.
func (m *MemoryStore) ReadLabels(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	applied := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			return applied, fmt.Errorf("line %d: expected id and label", lineNo)
		}
		id, label := fields[0], fields[1]
		desc := ""
		if len(fields) > 2 {
			desc = fields[2]
		}

		m.mu.Lock()
		if strings.HasPrefix(id, "P") {
			prop := m.properties[id]
			prop.ID, prop.Label, prop.Description = id, label, desc
			m.properties[id] = prop
		} else {
			item := m.items[id]
			item.ID, item.Label, item.Description = id, label, desc
			m.addItemLocked(item)
		}
		m.mu.Unlock()
		applied++
	}

	if err := scanner.Err(); err != nil {
		return applied, fmt.Errorf("scan labels: %w", err)
	}
	return applied, nil
}

// LoadMemoryStore builds a MemoryStore from a triples file and an optional labels file
func LoadMemoryStore(triplesPath, labelsPath string) (*MemoryStore, error) {
	store := NewMemoryStore()

	f, err := os.Open(triplesPath)
	if err != nil {
		return nil, fmt.Errorf("open triples: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := store.ReadTriples(f); err != nil {
		return nil, fmt.Errorf("read triples %s: %w", triplesPath, err)
	}

	if labelsPath != "" {
		lf, err := os.Open(labelsPath)
		if err != nil {
			return nil, fmt.Errorf("open labels: %w", err)
		}
		defer func() { _ = lf.Close() }()

		if _, err := store.ReadLabels(lf); err != nil {
			return nil, fmt.Errorf("read labels %s: %w", labelsPath, err)
		}
	}

	return store, nil
}
