// Package record decodes SQLite's record format: a varint header of
// serial-type tags followed by packed field bodies.
package record

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/recoverr"
	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/varint"
)

// Kind tags a decoded field's value class.
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindText
	KindBlob
	KindTrue
	KindFalse
)

// Value is a decoded field: a tagged union over Kind.
type Value struct {
	Kind Kind
	Int  int64
	Flt  float64
	Text string
	Blob []byte
}

// Field is one decoded record column.
type Field struct {
	SerialType uint64
	Value      Value
	Width      int // on-disk byte width of the value body (0 for Null/True/False)
}

// Record is a fully decoded SQLite record.
type Record struct {
	Header []byte // the raw header bytes (varint header-length + serial types)
	Fields []Field
	raw    []byte // the full owned byte slice this record was decoded from
}

// Raw returns the record's owned backing bytes.
func (r *Record) Raw() []byte { return r.raw }

// Parse decodes data as a SQLite record. It fails with a *recoverr.RecordError
// (wrapping ErrMalformedRecord) when the header overruns the data, a field
// runs past the end, a declared integer width mismatches, a text field is
// not valid UTF-8, or a serial type is one of the reserved values 10/11.
func Parse(data []byte) (*Record, error) {
	if len(data) == 0 {
		return nil, &recoverr.RecordError{Reason: "empty record"}
	}

	headerLen, n := varint.GetVarint(data)
	if n == 0 {
		return nil, &recoverr.RecordError{Reason: "truncated header-length varint"}
	}
	if int(headerLen) > len(data) {
		return nil, &recoverr.RecordError{Reason: "header length exceeds record length"}
	}

	var serialTypes []uint64
	offset := n
	for offset < int(headerLen) {
		st, sn := varint.GetVarint(data[offset:])
		if sn == 0 {
			return nil, &recoverr.RecordError{Reason: "truncated serial-type varint"}
		}
		if st == 10 || st == 11 {
			return nil, &recoverr.RecordError{Reason: "reserved serial type 10/11"}
		}
		serialTypes = append(serialTypes, st)
		offset += sn
	}
	if offset != int(headerLen) {
		return nil, &recoverr.RecordError{Reason: "serial types overran declared header length"}
	}

	fields := make([]Field, len(serialTypes))
	bodyOffset := offset
	for i, st := range serialTypes {
		width := fieldWidth(st)
		if bodyOffset+width > len(data) {
			return nil, &recoverr.RecordError{Reason: "field offset runs past record end"}
		}
		val, err := decodeValue(st, data[bodyOffset:bodyOffset+width])
		if err != nil {
			return nil, &recoverr.RecordError{Reason: err.Error()}
		}
		fields[i] = Field{SerialType: st, Value: val, Width: width}
		bodyOffset += width
	}

	return &Record{Header: data[:offset], Fields: fields, raw: data}, nil
}

// fieldWidth returns the on-disk byte width of a serial type's value body.
func fieldWidth(st uint64) int {
	switch st {
	case 0, 8, 9:
		return 0
	case 1:
		return 1
	case 2:
		return 2
	case 3:
		return 3
	case 4:
		return 4
	case 5:
		return 6
	case 6, 7:
		return 8
	default:
		if st >= 12 && st%2 == 0 {
			return int((st - 12) / 2)
		}
		return int((st - 13) / 2)
	}
}

func decodeValue(st uint64, body []byte) (Value, error) {
	switch st {
	case 0:
		return Value{Kind: KindNull}, nil
	case 8:
		return Value{Kind: KindFalse}, nil
	case 9:
		return Value{Kind: KindTrue}, nil
	case 1, 2, 3, 4, 5, 6:
		return Value{Kind: KindInt, Int: varint.TwosComplement(body)}, nil
	case 7:
		bits := binary.BigEndian.Uint64(body)
		return Value{Kind: KindFloat, Flt: math.Float64frombits(bits)}, nil
	default:
		if st >= 12 && st%2 == 0 {
			blob := make([]byte, len(body))
			copy(blob, body)
			return Value{Kind: KindBlob, Blob: blob}, nil
		}
		if !utf8.Valid(body) {
			return Value{}, &recoverr.FieldError{SerialType: st, Reason: "invalid UTF-8 in text field"}
		}
		return Value{Kind: KindText, Text: string(body)}, nil
	}
}

// Truncate re-slices the record's owned bytes to newLen and re-parses,
// used by the scavenger to discard trailing garbage once a candidate's
// true byte length (header + field widths) is known.
func (r *Record) Truncate(newLen int) (*Record, error) {
	if newLen > len(r.raw) {
		newLen = len(r.raw)
	}
	return Parse(r.raw[:newLen])
}

// ByteLength returns len(header) + sum of field widths: the record's true
// on-disk length, independent of any trailing bytes in its backing slice.
func (r *Record) ByteLength() int {
	total := len(r.Header)
	for _, f := range r.Fields {
		total += f.Width
	}
	return total
}
