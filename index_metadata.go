package motedb

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/motedb/motedb/internal/index"
	"github.com/motedb/motedb/internal/merrors"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// indexRecord is one user-created index's metadata: its name, the table and
// column it covers, and its kind, persisted separately from the index's own
// Save/Load data file so CreateXIndex/DropIndex/Open can discover what
// exists without opening every index file up front.
type indexRecord struct {
	Name      string                `bson:"name"`
	Table     string                `bson:"table"`
	ColumnIdx int                   `bson:"column_idx"`
	Kind      index.ColumnIndexKind `bson:"kind"`
	Dim       int                   `bson:"dim,omitempty"` // vector indexes only
}

func (r indexRecord) fileName() string {
	return fmt.Sprintf("index_%s.bin", r.Name)
}

// indexCatalog persists the set of live index names -> (table, column,
// kind) to index_metadata.bin, the way catalog.go persists table
// definitions: one BSON document, written atomically.
type indexCatalog struct {
	path string

	mu      sync.RWMutex
	records map[string]indexRecord
}

func openIndexCatalog(dir string) (*indexCatalog, error) {
	ic := &indexCatalog{path: filepath.Join(dir, "index_metadata.bin"), records: make(map[string]indexRecord)}
	if err := ic.load(); err != nil {
		return nil, err
	}
	return ic, nil
}

func (ic *indexCatalog) load() error {
	data, err := os.ReadFile(ic.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return merrors.IOErr("index_metadata.load", "failed to read index metadata file", err)
	}
	var wire struct {
		Records []indexRecord `bson:"records"`
	}
	if err := bson.Unmarshal(data, &wire); err != nil {
		return merrors.SerializationErr("index_metadata.load", "bson unmarshal failed", err)
	}
	for _, r := range wire.Records {
		ic.records[r.Name] = r
	}
	return nil
}

func (ic *indexCatalog) saveLocked() error {
	wire := struct {
		Records []indexRecord `bson:"records"`
	}{}
	for _, r := range ic.records {
		wire.Records = append(wire.Records, r)
	}
	data, err := bson.Marshal(wire)
	if err != nil {
		return merrors.SerializationErr("index_metadata.save", "bson marshal failed", err)
	}
	tmp := ic.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return merrors.IOErr("index_metadata.save", "failed to write temp index metadata file", err)
	}
	return os.Rename(tmp, ic.path)
}

func (ic *indexCatalog) register(r indexRecord) error {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	if _, ok := ic.records[r.Name]; ok {
		return merrors.InvalidDataErr("index_metadata.register", fmt.Sprintf("index %q already exists", r.Name), nil)
	}
	ic.records[r.Name] = r
	return ic.saveLocked()
}

func (ic *indexCatalog) unregister(name string) error {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	if _, ok := ic.records[name]; !ok {
		return merrors.InvalidDataErr("index_metadata.unregister", fmt.Sprintf("index %q does not exist", name), nil)
	}
	delete(ic.records, name)
	return ic.saveLocked()
}

func (ic *indexCatalog) get(name string) (indexRecord, bool) {
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	r, ok := ic.records[name]
	return r, ok
}

func (ic *indexCatalog) all() []indexRecord {
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	out := make([]indexRecord, 0, len(ic.records))
	for _, r := range ic.records {
		out = append(out, r)
	}
	return out
}
