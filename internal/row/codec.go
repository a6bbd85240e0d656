package row

import (
	"time"

	"github.com/motedb/motedb/internal/merrors"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// wireValue is the BSON-representable shape of a Value: a discriminated
// document so blobs/vectors/spatial bytes round-trip as BSON binary rather
// than strings, the way bson.D handled plain JSON-shaped docs in the
// teacher's engine.
type wireValue struct {
	K int8       `bson:"k"`
	I int64      `bson:"i,omitempty"`
	F float64    `bson:"f,omitempty"`
	S string     `bson:"s,omitempty"`
	B []byte     `bson:"b,omitempty"`
	Bo bool      `bson:"bo,omitempty"`
	T  int64     `bson:"t,omitempty"`
	V  []float32 `bson:"v,omitempty"`
	Sp []byte    `bson:"sp,omitempty"`
}

type wireRow struct {
	Values []wireValue `bson:"values"`
}

// Encode serializes a Row to BSON bytes, the inline payload the LSM stores
// (and externalizes to the blob store once it crosses blob_threshold).
func Encode(r Row) ([]byte, error) {
	wr := wireRow{Values: make([]wireValue, len(r.Values))}
	for i, v := range r.Values {
		wr.Values[i] = wireValue{
			K: int8(v.Kind), I: v.Integer, F: v.Float, S: v.Text, B: v.Blob,
			Bo: v.Boolean, T: v.Timestamp, V: v.Vector, Sp: v.Spatial,
		}
	}
	data, err := bson.Marshal(wr)
	if err != nil {
		return nil, merrors.SerializationErr("row.encode", "bson marshal failed", err)
	}
	return data, nil
}

// Decode deserializes BSON bytes produced by Encode back into a Row.
func Decode(data []byte) (Row, error) {
	var wr wireRow
	if err := bson.Unmarshal(data, &wr); err != nil {
		return Row{}, merrors.SerializationErr("row.decode", "bson unmarshal failed", err)
	}
	values := make([]Value, len(wr.Values))
	for i, wv := range wr.Values {
		values[i] = Value{
			Kind: Kind(wv.K), Integer: wv.I, Float: wv.F, Text: wv.S, Blob: wv.B,
			Boolean: wv.Bo, Timestamp: wv.T, Vector: wv.V, Spatial: wv.Sp,
		}
	}
	return Row{Values: values}, nil
}

// ColumnValue returns the Value at the schema's given column index, or a
// Null value when idx is out of range, mirroring the teacher's
// GetValueFromBson but operating on the already-typed Row rather than
// re-parsing a document.
func (r Row) ColumnValue(idx int) Value {
	if idx < 0 || idx >= len(r.Values) {
		return NullValue()
	}
	return r.Values[idx]
}

// Time returns the Value as a time.Time if it is a timestamp.
func (v Value) Time() time.Time {
	return time.UnixMicro(v.Timestamp)
}
