package mvcc

import (
	"sort"

	"github.com/motedb/motedb/internal/row"
	"github.com/motedb/motedb/internal/wal"
	"github.com/rs/zerolog/log"
)

// RecoveryManager rebuilds the version store from a single cached WAL scan
// using an ARIES-style three-phase pass (Analysis, Redo, Undo). It consumes
// the same []*wal.Record slices the LSM engine's own recovery already read
// off disk, so the WAL is scanned exactly once per open.
type RecoveryManager struct {
	versionStore *VersionStore
	clock        *Clock
}

// NewRecoveryManager wires a RecoveryManager to the version store it
// rebuilds and the clock it advances past every recovered timestamp.
func NewRecoveryManager(versionStore *VersionStore, clock *Clock) *RecoveryManager {
	return &RecoveryManager{versionStore: versionStore, clock: clock}
}

// txnClass accumulates one transaction's fate and data records during the
// Analysis phase.
type txnClass struct {
	committed  bool
	rolledBack bool
	commitTS   uint64
	records    []*wal.Record
}

// Stats summarizes one recovery pass for logging and Stats().
type Stats struct {
	MaxLSN         uint64
	RedoneRecords  int
	CommittedTxns  int
	InFlightTxns   int
	RolledBackTxns int
}

// Recover runs Analysis, Redo, and Undo over partitions (as returned by
// wal.Manager.Recover) and rebuilds rm.versionStore accordingly.
//
// Analysis classifies every txn_id as committed, rolled back, or in-flight
// and finds the maximum LSN observed. Redo reapplies every committed
// transaction's data records (idempotently, since InsertVersion/
// DeleteVersion just prepend) plus every auto-committed (TxnID == 0)
// single-row CRUD record — MoteDB's staged-write transaction model never
// writes a row's WAL record until its owning transaction commits, so a
// TxnID == 0 data record is, by construction, already final. Undo writes
// no CLRs: an in-flight transaction is one whose Commit stopped after its
// Begin record and before its Commit record, so it may have logged data
// records, but Redo skips them and none of its versions enter the version
// store.
func (rm *RecoveryManager) Recover(partitions map[uint32][]*wal.Record) (Stats, error) {
	var flat []*wal.Record
	for _, recs := range partitions {
		flat = append(flat, recs...)
	}
	sort.Slice(flat, func(i, j int) bool { return flat[i].LSN < flat[j].LSN })

	byTxn := make(map[uint64]*txnClass)
	var maxLSN uint64

	for _, rec := range flat {
		if rec.LSN > maxLSN {
			maxLSN = rec.LSN
		}
		switch rec.Kind {
		case wal.RecordBegin:
			if _, ok := byTxn[rec.TxnID]; !ok {
				byTxn[rec.TxnID] = &txnClass{}
			}
		case wal.RecordCommit:
			tc := ensureTxn(byTxn, rec.TxnID)
			tc.committed = true
			tc.commitTS = rec.CommitTS
		case wal.RecordRollback:
			tc := ensureTxn(byTxn, rec.TxnID)
			tc.rolledBack = true
		case wal.RecordInsert, wal.RecordUpdate, wal.RecordDelete:
			if rec.TxnID == 0 {
				continue // handled directly below, in LSN order
			}
			tc := ensureTxn(byTxn, rec.TxnID)
			tc.records = append(tc.records, rec)
		}
	}

	stats := Stats{MaxLSN: maxLSN}

	for _, rec := range flat {
		if rec.TxnID != 0 {
			continue
		}
		switch rec.Kind {
		case wal.RecordInsert, wal.RecordUpdate, wal.RecordDelete:
			rm.redoRecord(rec, rec.LSN)
			stats.RedoneRecords++
		}
	}

	for _, tc := range byTxn {
		switch {
		case tc.committed:
			stats.CommittedTxns++
			for _, rec := range tc.records {
				rm.redoRecord(rec, tc.commitTS)
				stats.RedoneRecords++
			}
		case tc.rolledBack:
			stats.RolledBackTxns++
		default:
			stats.InFlightTxns++
		}
	}

	rm.clock.Observe(maxLSN)
	log.Info().
		Uint64("max_lsn", maxLSN).
		Int("redone", stats.RedoneRecords).
		Int("committed_txns", stats.CommittedTxns).
		Int("in_flight_txns", stats.InFlightTxns).
		Msg("mvcc: recovery complete")
	return stats, nil
}

func ensureTxn(m map[uint64]*txnClass, txnID uint64) *txnClass {
	tc, ok := m[txnID]
	if !ok {
		tc = &txnClass{}
		m[txnID] = tc
	}
	return tc
}

func (rm *RecoveryManager) redoRecord(rec *wal.Record, commitTS uint64) {
	id := row.RowID(rec.RowID)
	switch rec.Kind {
	case wal.RecordInsert, wal.RecordUpdate:
		r, err := row.Decode(rec.Data)
		if err != nil {
			log.Warn().Err(err).Uint64("row_id", rec.RowID).Msg("mvcc: skipping undecodable record during redo")
			return
		}
		rm.versionStore.InsertVersion(id, r, rec.TxnID, commitTS)
	case wal.RecordDelete:
		rm.versionStore.DeleteVersion(id, rec.TxnID, commitTS)
	}
}
