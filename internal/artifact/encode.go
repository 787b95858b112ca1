package artifact

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the compression applied to the encoded table. The values
// are written into every artifact header; changing them changes every hash.
type Codec uint8

const (
	CodecNone Codec = 0
	CodecLZ4  Codec = 1
	CodecZstd Codec = 2
)

// DefaultCodec is used by the schema builder.
const DefaultCodec = CodecZstd

const (
	formatVersion = 1
	headerSize    = 10
)

var magic = []byte("GEOA")

// ErrInvalidArtifact is returned when bytes are not a decodable artifact.
var ErrInvalidArtifact = errors.New("invalid artifact encoding")

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCodec parses a codec name.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "none":
		return CodecNone, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd", "":
		return CodecZstd, nil
	default:
		return 0, fmt.Errorf("unknown codec: %q", name)
	}
}

type wireTable struct {
	Version int          `cbor:"1,keyasint"`
	Columns []wireColumn `cbor:"2,keyasint"`
}

type wireColumn struct {
	Name    string   `cbor:"1,keyasint"`
	Type    string   `cbor:"2,keyasint"`
	Length  int      `cbor:"3,keyasint"`
	Data    []byte   `cbor:"4,keyasint,omitempty"`
	Strings []string `cbor:"5,keyasint,omitempty"`
}

var (
	encMode     cbor.EncMode
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("artifact: cbor encoder initialization failed: " + err.Error())
	}

	// Fixed level and a single goroutine keep the output byte-stable.
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		panic("artifact: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		panic("artifact: zstd decoder initialization failed: " + err.Error())
	}
}

// canonicalNaN is the single bit pattern written for every NaN.
var canonicalNaN = math.Float64bits(math.NaN())

// Encode produces the canonical bytes of a table.
func Encode(t *Table, codec Codec) ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("encode table: %w", err)
	}

	wire := wireTable{Version: formatVersion, Columns: make([]wireColumn, len(t.Columns))}
	for i := range t.Columns {
		wire.Columns[i] = packColumn(&t.Columns[i])
	}

	raw, err := encMode.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal table: %w", err)
	}
	if uint64(len(raw)) > math.MaxUint32 {
		return nil, fmt.Errorf("encoded table too large: %d bytes", len(raw))
	}

	var body []byte
	switch codec {
	case CodecNone:
		body = raw
	case CodecZstd:
		body = zstdEncoder.EncodeAll(raw, nil)
	case CodecLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 {
			// incompressible
			codec = CodecNone
			body = raw
		} else {
			body = dst[:n]
		}
	default:
		return nil, fmt.Errorf("unsupported codec: %d", codec)
	}

	out := make([]byte, headerSize, headerSize+len(body))
	copy(out, magic)
	out[4] = formatVersion
	out[5] = byte(codec)
	binary.LittleEndian.PutUint32(out[6:], uint32(len(raw)))
	return append(out, body...), nil
}

// Decode parses canonical artifact bytes back into a table.
func Decode(data []byte) (*Table, error) {
	if len(data) < headerSize || !bytes.Equal(data[:4], magic) {
		return nil, fmt.Errorf("%w: bad header", ErrInvalidArtifact)
	}
	if data[4] != formatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrInvalidArtifact, data[4])
	}
	codec := Codec(data[5])
	rawSize := int(binary.LittleEndian.Uint32(data[6:headerSize]))
	body := data[headerSize:]

	var raw []byte
	switch codec {
	case CodecNone:
		raw = body
	case CodecZstd:
		var err error
		raw, err = zstdDecoder.DecodeAll(body, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrInvalidArtifact, err)
		}
	case CodecLZ4:
		raw = make([]byte, rawSize)
		n, err := lz4.UncompressBlock(body, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrInvalidArtifact, err)
		}
		raw = raw[:n]
	default:
		return nil, fmt.Errorf("%w: unknown codec %d", ErrInvalidArtifact, codec)
	}
	if len(raw) != rawSize {
		return nil, fmt.Errorf("%w: decoded %d bytes, header says %d", ErrInvalidArtifact, len(raw), rawSize)
	}

	var wire wireTable
	if err := cbor.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}

	t := &Table{Columns: make([]Column, len(wire.Columns))}
	for i := range wire.Columns {
		c, err := unpackColumn(&wire.Columns[i])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
		}
		t.Columns[i] = c
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	return t, nil
}

func packColumn(c *Column) wireColumn {
	w := wireColumn{Name: c.Name, Type: string(c.Type), Length: c.Len()}
	if c.Type == String {
		w.Strings = c.Strings
		return w
	}

	buf := make([]byte, c.Len()*c.Type.width())
	switch c.Type {
	case Float64:
		for i, v := range c.Float64s {
			bits := math.Float64bits(v)
			if v != v {
				bits = canonicalNaN
			}
			binary.LittleEndian.PutUint64(buf[i*8:], bits)
		}
	case Int64:
		for i, v := range c.Int64s {
			binary.LittleEndian.PutUint64(buf[i*8:], uint64(v))
		}
	case Uint64:
		for i, v := range c.Uint64s {
			binary.LittleEndian.PutUint64(buf[i*8:], v)
		}
	case Int32:
		for i, v := range c.Int32s {
			binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
		}
	case Bool:
		for i, v := range c.Bools {
			if v {
				buf[i] = 1
			}
		}
	}
	w.Data = buf
	return w
}

func unpackColumn(w *wireColumn) (Column, error) {
	dt := DataType(w.Type)
	if !dt.valid() {
		return Column{}, fmt.Errorf("column %q: unknown type %q", w.Name, w.Type)
	}
	c := Column{Name: w.Name, Type: dt}
	if dt == String {
		c.Strings = w.Strings
		if c.Strings == nil {
			c.Strings = []string{}
		}
		if len(c.Strings) != w.Length {
			return Column{}, fmt.Errorf("column %q: %d strings, expected %d", w.Name, len(c.Strings), w.Length)
		}
		return c, nil
	}

	size := dt.width()
	if len(w.Data) != w.Length*size {
		return Column{}, fmt.Errorf("column %q: %d data bytes, expected %d", w.Name, len(w.Data), w.Length*size)
	}
	n := w.Length
	switch dt {
	case Float64:
		c.Float64s = make([]float64, n)
		for i := range c.Float64s {
			c.Float64s[i] = math.Float64frombits(binary.LittleEndian.Uint64(w.Data[i*8:]))
		}
	case Int64:
		c.Int64s = make([]int64, n)
		for i := range c.Int64s {
			c.Int64s[i] = int64(binary.LittleEndian.Uint64(w.Data[i*8:]))
		}
	case Uint64:
		c.Uint64s = make([]uint64, n)
		for i := range c.Uint64s {
			c.Uint64s[i] = binary.LittleEndian.Uint64(w.Data[i*8:])
		}
	case Int32:
		c.Int32s = make([]int32, n)
		for i := range c.Int32s {
			c.Int32s[i] = int32(binary.LittleEndian.Uint32(w.Data[i*4:]))
		}
	case Bool:
		c.Bools = make([]bool, n)
		for i := range c.Bools {
			c.Bools[i] = w.Data[i] != 0
		}
	}
	return c, nil
}
