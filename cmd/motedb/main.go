// Command motedb is a minimal CLI entrypoint: it opens (or creates) a
// database at the given directory, runs one smoke-test CRUD cycle against
// it, and prints the resulting stats. It exists to exercise the Database
// facade end to end from the command line; it is not a SQL shell — the SQL
// front-end is out of this module's scope (see motedb.Statement/Query for
// the pre-parsed surface a real shell would drive).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/motedb/motedb"
	"github.com/motedb/motedb/internal/merrors"
	"github.com/motedb/motedb/internal/row"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	dir := flag.String("dir", "./motedb-data", "database directory")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if err := run(*dir); err != nil {
		log.Error().Err(err).Msg("motedb: fatal")
		os.Exit(1)
	}
}

func run(dir string) error {
	db, err := motedb.Create(dir)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	schema := row.Schema{Columns: []row.Column{
		{Name: "id", Kind: row.KindInteger, PrimaryKey: true},
		{Name: "name", Kind: row.KindText},
	}}
	created := true
	if err := db.CreateTable("users", schema); err != nil {
		if !merrors.Is(err, merrors.KindInvalidData) {
			return fmt.Errorf("create table: %w", err)
		}
		created = false
	}
	if created {
		for _, name := range []string{"Alice", "Bob", "Carol"} {
			r := row.Row{Values: []row.Value{row.NullValue(), row.TextValue(name)}}
			if _, err := db.InsertRow("users", r); err != nil {
				return fmt.Errorf("insert: %w", err)
			}
		}
	}

	rows, err := db.ScanTableRows("users")
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	for _, rr := range rows {
		fmt.Printf("user %d: %v\n", rr.RowID, rr.Row.Values[1].Text)
	}

	stats := db.Stats()
	fmt.Printf("tables=%d indexes=%d flushes=%d compactions=%d\n",
		stats.Tables, stats.Indexes, stats.LSM.FlushCount, stats.LSM.CompactionCount)
	return nil
}
