package motedb

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/motedb/motedb/internal/merrors"
	"github.com/motedb/motedb/internal/row"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// tableEntry is one registered table's schema plus its stable 32-bit hash,
// the discriminator every composite key in the LSM carries.
type tableEntry struct {
	Name      string     `bson:"name"`
	TableHash uint32     `bson:"table_hash"`
	Schema    row.Schema `bson:"schema"`
	NextRowID uint64     `bson:"next_row_id"`
}

// wireColumn and wireSchema mirror row.Column/row.Schema for BSON, storing
// each column's Kind as an explicit uint8 tag, much as manifest.go's
// wireSnapshot converts the fields BSON cannot encode directly (its integer
// level keys).
type wireColumn struct {
	Name       string `bson:"name"`
	Kind       uint8  `bson:"kind"`
	PrimaryKey bool   `bson:"primary_key"`
	Unique     bool   `bson:"unique"`
}

type wireSchema struct {
	Columns []wireColumn `bson:"columns"`
}

type wireTableEntry struct {
	Name      string     `bson:"name"`
	TableHash uint32     `bson:"table_hash"`
	Schema    wireSchema `bson:"schema"`
	NextRowID uint64     `bson:"next_row_id"`
}

// catalog resolves table names to schemas and table hashes, and allocates
// row ids that increase monotonically across the whole database. It persists the same write-whole-file way
// manifest.go persists its snapshot: one BSON document, written atomically
// via a temp-file rename.
type catalog struct {
	path string

	mu     sync.RWMutex
	tables map[string]*tableEntry
	byHash map[uint32]string
}

func openCatalog(dir string) (*catalog, error) {
	c := &catalog{
		path:   filepath.Join(dir, "catalog.bin"),
		tables: make(map[string]*tableEntry),
		byHash: make(map[uint32]string),
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *catalog) load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return merrors.IOErr("catalog.load", "failed to read catalog file", err)
	}
	var wire struct {
		Tables []wireTableEntry `bson:"tables"`
	}
	if err := bson.Unmarshal(data, &wire); err != nil {
		return merrors.SerializationErr("catalog.load", "bson unmarshal failed", err)
	}
	for _, wt := range wire.Tables {
		cols := make([]row.Column, len(wt.Schema.Columns))
		for i, wc := range wt.Schema.Columns {
			cols[i] = row.Column{Name: wc.Name, Kind: row.Kind(wc.Kind), PrimaryKey: wc.PrimaryKey, Unique: wc.Unique}
		}
		te := &tableEntry{Name: wt.Name, TableHash: wt.TableHash, Schema: row.Schema{Columns: cols}, NextRowID: wt.NextRowID}
		c.tables[te.Name] = te
		c.byHash[te.TableHash] = te.Name
	}
	return nil
}

// saveLocked persists the full catalog. Caller must hold c.mu for writing.
func (c *catalog) saveLocked() error {
	wire := struct {
		Tables []wireTableEntry `bson:"tables"`
	}{}
	for _, te := range c.tables {
		wcols := make([]wireColumn, len(te.Schema.Columns))
		for i, col := range te.Schema.Columns {
			wcols[i] = wireColumn{Name: col.Name, Kind: uint8(col.Kind), PrimaryKey: col.PrimaryKey, Unique: col.Unique}
		}
		wire.Tables = append(wire.Tables, wireTableEntry{
			Name: te.Name, TableHash: te.TableHash,
			Schema: wireSchema{Columns: wcols}, NextRowID: te.NextRowID,
		})
	}
	data, err := bson.Marshal(wire)
	if err != nil {
		return merrors.SerializationErr("catalog.save", "bson marshal failed", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return merrors.IOErr("catalog.save", "failed to write temp catalog file", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return merrors.IOErr("catalog.save", "failed to rename temp catalog file", err)
	}
	return nil
}

// createTable registers a new table, failing if the name is already taken
// or its FNV-1a hash collides with an existing table's hash (the sole
// discriminator a CompositeKey carries, so a collision would silently merge
// two tables' rows).
func (c *catalog) createTable(name string, schema row.Schema) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tables[name]; ok {
		return merrors.InvalidDataErr("catalog.create_table", fmt.Sprintf("table %q already exists", name), nil)
	}
	hash := row.TableHash(name)
	if existing, ok := c.byHash[hash]; ok {
		return merrors.InvalidDataErr("catalog.create_table",
			fmt.Sprintf("table name %q hashes to the same table_hash as existing table %q", name, existing), nil)
	}

	c.tables[name] = &tableEntry{Name: name, TableHash: hash, Schema: schema, NextRowID: 1}
	c.byHash[hash] = name
	return c.saveLocked()
}

func (c *catalog) get(name string) (*tableEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	te, ok := c.tables[name]
	return te, ok
}

func (c *catalog) nameForHash(hash uint32) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.byHash[hash]
	return name, ok
}

// nextRowID allocates and persists the next row id for table.
func (c *catalog) nextRowID(name string) (row.RowID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	te, ok := c.tables[name]
	if !ok {
		return 0, merrors.InvalidDataErr("catalog.next_row_id", fmt.Sprintf("table %q does not exist", name), nil)
	}
	// Row ids are unique across the database: the next id is the highest
	// NextRowID any table holds.
	var id uint64
	for _, other := range c.tables {
		if other.NextRowID > id {
			id = other.NextRowID
		}
	}
	prev := te.NextRowID
	te.NextRowID = id + 1
	if err := c.saveLocked(); err != nil {
		te.NextRowID = prev
		return 0, err
	}
	return row.RowID(id), nil
}

func (c *catalog) tableNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	return names
}
