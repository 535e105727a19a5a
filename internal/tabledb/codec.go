// Encodes and decodes the whole database as one binary blob.

package tabledb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"
)

// Codec converts the complete set of tables to and from the bytes stored in
// the database file.
type Codec interface {
	Encode(tables []*Table) ([]byte, error)
	Decode(data []byte) ([]*Table, error)
}

const (
	fileMagic   = "KVTB"
	fileVersion = 1

	flagZstd byte = 1 << 0

	headerSize   = len(fileMagic) + 2
	checksumSize = blake2b.Size256

	// zstdMaxBlock is the largest output of one zstd block. A block takes at
	// least 4 bytes of input: a 3 byte header and one RLE byte.
	zstdMaxBlock = 128 << 10
)

var (
	errTruncated = errors.New("unexpected end of data")

	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) { return zstd.NewWriter(nil) })
)

// BinaryCodec is the default Codec.
//
// Layout:
//
//	"KVTB" | version (1 byte) | flags (1 byte) | payload | blake2b-256 of everything before it
//
// The payload, optionally zstd-compressed, is a uvarint table count followed
// by each table: name, column count, (name, type byte) per column, a
// primary-key presence byte and name, row count, then per row the key, a value
// count and the tagged values. Strings and blobs are uvarint length prefixed;
// integers are zigzag varints; floats are 8 little-endian bytes.
type BinaryCodec struct {
	// Compress enables zstd compression of the payload.
	Compress bool
}

// Encode implements Codec.
func (c BinaryCodec) Encode(tables []*Table) ([]byte, error) {
	var payload []byte
	payload = binary.AppendUvarint(payload, uint64(len(tables)))
	for _, t := range tables {
		var err error
		if payload, err = appendTable(payload, t); err != nil {
			return nil, fmt.Errorf("%w: table %s: %w", ErrEncode, t.name, err)
		}
	}

	var flags byte
	if c.Compress {
		enc, err := zstdEncoder()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncode, err)
		}
		payload = enc.EncodeAll(payload, nil)
		flags |= flagZstd
	}

	out := make([]byte, 0, headerSize+len(payload)+checksumSize)
	out = append(out, fileMagic...)
	out = append(out, fileVersion, flags)
	out = append(out, payload...)
	sum := blake2b.Sum256(out)
	return append(out, sum[:]...), nil
}

// Decode implements Codec. The Compress field is ignored; the file flags
// decide.
func (BinaryCodec) Decode(data []byte) ([]*Table, error) {
	if len(data) < headerSize+checksumSize {
		return nil, fmt.Errorf("%w: %w", ErrDecode, errTruncated)
	}
	if string(data[:len(fileMagic)]) != fileMagic {
		return nil, fmt.Errorf("%w: not a kvtab file", ErrDecode)
	}
	if v := data[len(fileMagic)]; v != fileVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrDecode, v)
	}
	flags := data[len(fileMagic)+1]
	if flags&^flagZstd != 0 {
		return nil, fmt.Errorf("%w: unknown flags 0x%02x", ErrDecode, flags)
	}
	body, sum := data[:len(data)-checksumSize], data[len(data)-checksumSize:]
	if want := blake2b.Sum256(body); !bytes.Equal(sum, want[:]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrDecode)
	}
	payload := body[headerSize:]
	if flags&flagZstd != 0 {
		var err error
		if payload, err = decompress(payload); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
	}

	d := decoder{buf: payload}
	n := d.count()
	var tables []*Table
	seen := make(map[string]struct{}, n)
	for range n {
		if d.err != nil {
			break
		}
		t := d.table()
		if d.err != nil {
			break
		}
		if _, ok := seen[t.name]; ok {
			d.err = fmt.Errorf("duplicate table %q", t.name)
			break
		}
		seen[t.name] = struct{}{}
		tables = append(tables, t)
	}
	if d.err == nil && len(d.buf) != 0 {
		d.err = fmt.Errorf("%d trailing bytes", len(d.buf))
	}
	if d.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, d.err)
	}
	return tables, nil
}

// decompress inflates a zstd payload. The output is capped at what len(payload)
// bytes of blocks can produce, so a frame header claiming a larger content
// size fails before its buffer is allocated.
func decompress(payload []byte) ([]byte, error) {
	limit := (uint64(len(payload))/4 + 1) * zstdMaxBlock
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(limit))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(payload, nil)
}

func appendString(b []byte, s string) []byte {
	b = binary.AppendUvarint(b, uint64(len(s)))
	return append(b, s...)
}

func appendTable(b []byte, t *Table) ([]byte, error) {
	b = appendString(b, t.name)
	b = binary.AppendUvarint(b, uint64(len(t.columns)))
	for _, col := range t.columns {
		if !col.Type.Valid() {
			return nil, fmt.Errorf("column %s: unknown type %d", col.Name, uint8(col.Type))
		}
		b = appendString(b, col.Name)
		b = append(b, byte(col.Type))
	}
	if t.primaryKey != "" {
		b = append(b, 1)
		b = appendString(b, t.primaryKey)
	} else {
		b = append(b, 0)
	}
	b = binary.AppendUvarint(b, uint64(t.rows.Len()))
	var err error
	t.rows.Traverse(func(k Key, r Row) {
		if err != nil {
			return
		}
		b = appendString(b, string(k))
		b = binary.AppendUvarint(b, uint64(len(r.Values)))
		for _, v := range r.Values {
			if b, err = appendValue(b, v); err != nil {
				err = fmt.Errorf("row %s: %w", k, err)
				return
			}
		}
	})
	return b, err
}

func appendValue(b []byte, v Value) ([]byte, error) {
	b = append(b, byte(v.kind))
	switch v.kind {
	case KindNull:
	case KindInteger:
		b = binary.AppendVarint(b, v.i)
	case KindFloat:
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(v.f))
	case KindText:
		b = appendString(b, v.s)
	case KindBoolean:
		b = append(b, byte(v.i))
	case KindBlob:
		b = binary.AppendUvarint(b, uint64(len(v.b)))
		b = append(b, v.b...)
	default:
		return nil, fmt.Errorf("unknown value kind %d", v.kind)
	}
	return b, nil
}

// decoder consumes buf. The first failure sticks in err and turns later reads
// into no-ops.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *decoder) uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.buf)
	if n <= 0 {
		d.fail(errTruncated)
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

func (d *decoder) varint() int64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Varint(d.buf)
	if n <= 0 {
		d.fail(errTruncated)
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

// count reads a length. Every counted element takes at least one byte, which
// bounds allocations on corrupt input.
func (d *decoder) count() int {
	v := d.uvarint()
	if v > uint64(len(d.buf)) {
		d.fail(errTruncated)
		return 0
	}
	return int(v)
}

func (d *decoder) raw(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n > len(d.buf) {
		d.fail(errTruncated)
		return nil
	}
	b := d.buf[:n:n]
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) u8() byte {
	b := d.raw(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) str() string {
	return string(d.raw(d.count()))
}

func (d *decoder) table() *Table {
	name := d.str()
	ncols := d.count()
	columns := make([]Column, 0, ncols)
	for range ncols {
		col := Column{Name: d.str(), Type: ColumnType(d.u8())}
		columns = append(columns, col)
	}
	var pk string
	switch d.u8() {
	case 0:
	case 1:
		pk = d.str()
	default:
		d.fail(errors.New("invalid primary key marker"))
	}
	if d.err != nil {
		return nil
	}
	if err := validateColumns(columns); err != nil {
		d.fail(fmt.Errorf("table %s: %w", name, err))
		return nil
	}
	t := NewTable(name, columns, pk)
	nrows := d.count()
	for range nrows {
		key := Key(d.str())
		nvals := d.count()
		values := make([]Value, 0, nvals)
		for range nvals {
			values = append(values, d.value())
		}
		if d.err != nil {
			return nil
		}
		if _, ok := t.rows.Search(key); ok {
			d.fail(fmt.Errorf("table %s: duplicate key %q", name, key))
			return nil
		}
		if err := t.validate(values); err != nil {
			d.fail(fmt.Errorf("row %s: %w", key, err))
			return nil
		}
		t.put(key, Row{Values: values})
	}
	return t
}

func (d *decoder) value() Value {
	switch k := Kind(d.u8()); k {
	case KindNull:
		return Null()
	case KindInteger:
		return Integer(d.varint())
	case KindFloat:
		b := d.raw(8)
		if b == nil {
			return Value{}
		}
		return Float(math.Float64frombits(binary.LittleEndian.Uint64(b)))
	case KindText:
		return Text(d.str())
	case KindBoolean:
		switch d.u8() {
		case 0:
			return Boolean(false)
		case 1:
			return Boolean(true)
		default:
			d.fail(errors.New("invalid boolean"))
		}
	case KindBlob:
		return Blob(d.raw(d.count()))
	default:
		d.fail(fmt.Errorf("unknown value tag %d", k))
	}
	return Value{}
}
