package docstore

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// JSONFileStore is an InMemoryStore mirrored to a single JSON file.
// The whole file is rewritten (write to temp, then rename) after every mutation.
type JSONFileStore struct {
	*InMemoryStore
	path string
}

var _ Store = &JSONFileStore{}

func NewJSONFileStore(path string) (*JSONFileStore, error) {
	if path == "" {
		return nil, errors.New("json docstore: empty path")
	}
	s := &JSONFileStore{InMemoryStore: NewInMemoryStore(), path: path}

	snapshot, err := readSnapshot(path)
	if err != nil {
		return nil, err
	}
	s.load(snapshot)
	s.persist = s.write
	return s, nil
}

// Path returns the backing file.
func (s *JSONFileStore) Path() string { return s.path }

func readSnapshot(path string) (map[Table][]Document, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[Table][]Document{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "json docstore: read")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[Table][]Document{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var parsed map[string][]map[string]any
	if err := dec.Decode(&parsed); err != nil {
		return nil, errors.Wrap(err, "json docstore: decode")
	}

	out := make(map[Table][]Document, len(parsed))
	for name, rows := range parsed {
		docs := make([]Document, 0, len(rows))
		for _, row := range rows {
			doc, err := Normalize(row)
			if err != nil {
				return nil, errors.Wrapf(err, "json docstore: table %s", name)
			}
			docs = append(docs, doc)
		}
		out[Table(name)] = docs
	}
	return out, nil
}

func (s *JSONFileStore) write(snapshot map[Table][]Document) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snapshot); err != nil {
		return errors.Wrap(err, "json docstore: encode")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "json docstore: mkdir")
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "json docstore: create temp")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "json docstore: write temp")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "json docstore: close temp")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return errors.Wrap(err, "json docstore: rename")
	}
	return nil
}
