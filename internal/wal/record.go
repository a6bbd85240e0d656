package wal

import (
	"github.com/motedb/motedb/internal/merrors"
	"google.golang.org/protobuf/encoding/protowire"
)

// RecordKind discriminates a WALRecord variant, mirroring spec §3's
// WALRecord sum type (Insert/Update/Delete/Begin/Commit/Rollback/Checkpoint).
type RecordKind uint8

const (
	RecordInsert RecordKind = iota + 1
	RecordUpdate
	RecordDelete
	RecordBegin
	RecordCommit
	RecordRollback
	RecordCheckpoint
)

// Record is the logical payload carried inside a WALEntry. Only the fields
// relevant to Kind are populated; the wire encoding below omits zero/empty
// fields the way a protobuf message would.
type Record struct {
	Kind      RecordKind
	Table     string
	RowID     uint64
	Partition uint32
	Data      []byte // Insert: new row bytes; Update: new row bytes
	OldData   []byte // Update/Delete: previous row bytes
	TxnID     uint64
	Isolation uint8
	CommitTS  uint64
	LSN       uint64 // Checkpoint: last LSN preserved
}

const (
	fieldKind = protowire.Number(iota + 1)
	fieldTable
	fieldRowID
	fieldPartition
	fieldData
	fieldOldData
	fieldTxnID
	fieldIsolation
	fieldCommitTS
	fieldLSN
)

// MarshalRecord encodes a Record using hand-rolled protobuf wire framing
// (google.golang.org/protobuf/encoding/protowire) so the WAL payload stays a
// real, versionable length-delimited/varint wire format without requiring a
// protoc-generated message type for this small closed set of variants.
func MarshalRecord(r *Record) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Kind))

	if r.Table != "" {
		b = protowire.AppendTag(b, fieldTable, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(r.Table))
	}
	if r.RowID != 0 {
		b = protowire.AppendTag(b, fieldRowID, protowire.VarintType)
		b = protowire.AppendVarint(b, r.RowID)
	}
	if r.Partition != 0 {
		b = protowire.AppendTag(b, fieldPartition, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.Partition))
	}
	if len(r.Data) > 0 {
		b = protowire.AppendTag(b, fieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Data)
	}
	if len(r.OldData) > 0 {
		b = protowire.AppendTag(b, fieldOldData, protowire.BytesType)
		b = protowire.AppendBytes(b, r.OldData)
	}
	if r.TxnID != 0 {
		b = protowire.AppendTag(b, fieldTxnID, protowire.VarintType)
		b = protowire.AppendVarint(b, r.TxnID)
	}
	if r.Isolation != 0 {
		b = protowire.AppendTag(b, fieldIsolation, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.Isolation))
	}
	if r.CommitTS != 0 {
		b = protowire.AppendTag(b, fieldCommitTS, protowire.VarintType)
		b = protowire.AppendVarint(b, r.CommitTS)
	}
	if r.LSN != 0 {
		b = protowire.AppendTag(b, fieldLSN, protowire.VarintType)
		b = protowire.AppendVarint(b, r.LSN)
	}
	return b
}

// UnmarshalRecord decodes bytes produced by MarshalRecord. Unknown fields
// are skipped so the wire format can grow new variants without breaking
// older readers during recovery of a mixed-version WAL.
func UnmarshalRecord(data []byte) (*Record, error) {
	r := &Record{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, merrors.SerializationErr("wal.record.unmarshal", "bad tag", nil)
		}
		data = data[n:]

		switch num {
		case fieldKind:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, merrors.SerializationErr("wal.record.unmarshal", "bad kind", nil)
			}
			r.Kind = RecordKind(v)
			data = data[n:]
		case fieldTable:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, merrors.SerializationErr("wal.record.unmarshal", "bad table", nil)
			}
			r.Table = string(v)
			data = data[n:]
		case fieldRowID:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, merrors.SerializationErr("wal.record.unmarshal", "bad row_id", nil)
			}
			r.RowID = v
			data = data[n:]
		case fieldPartition:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, merrors.SerializationErr("wal.record.unmarshal", "bad partition", nil)
			}
			r.Partition = uint32(v)
			data = data[n:]
		case fieldData:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, merrors.SerializationErr("wal.record.unmarshal", "bad data", nil)
			}
			r.Data = append([]byte(nil), v...)
			data = data[n:]
		case fieldOldData:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, merrors.SerializationErr("wal.record.unmarshal", "bad old_data", nil)
			}
			r.OldData = append([]byte(nil), v...)
			data = data[n:]
		case fieldTxnID:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, merrors.SerializationErr("wal.record.unmarshal", "bad txn_id", nil)
			}
			r.TxnID = v
			data = data[n:]
		case fieldIsolation:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, merrors.SerializationErr("wal.record.unmarshal", "bad isolation", nil)
			}
			r.Isolation = uint8(v)
			data = data[n:]
		case fieldCommitTS:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, merrors.SerializationErr("wal.record.unmarshal", "bad commit_ts", nil)
			}
			r.CommitTS = v
			data = data[n:]
		case fieldLSN:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, merrors.SerializationErr("wal.record.unmarshal", "bad lsn", nil)
			}
			r.LSN = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, merrors.SerializationErr("wal.record.unmarshal", "bad unknown field", nil)
			}
			data = data[n:]
		}
	}
	return r, nil
}
