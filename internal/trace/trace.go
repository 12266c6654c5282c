// Package trace records the messages crossing a loopback display into a
// compact binary log. Each record is a protobuf-encoded message prefixed by
// its varint length, so a trace can be streamed and read back incrementally.
package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/bnema/wayime/internal/loopback"
	"github.com/bnema/wayime/internal/wire"
	"google.golang.org/protobuf/encoding/protowire"
)

// maxRecordSize bounds a single record when reading.
const maxRecordSize = 1 << 20

// Record fields
const (
	fieldSeq       protowire.Number = 1
	fieldKind      protowire.Number = 2
	fieldClient    protowire.Number = 3
	fieldObject    protowire.Number = 4
	fieldInterface protowire.Number = 5
	fieldOpcode    protowire.Number = 6
	fieldArg       protowire.Number = 7
)

// Arg fields, one per ArgKind
const (
	argUint   protowire.Number = 1
	argInt    protowire.Number = 2
	argString protowire.Number = 3
	argNull   protowire.Number = 4
	argFd     protowire.Number = 5
	argObject protowire.Number = 6
)

// ErrMalformed is returned for records that cannot be decoded.
var ErrMalformed = errors.New("malformed trace record")

// ArgKind is the wire type of a recorded argument.
type ArgKind uint8

const (
	ArgUint ArgKind = iota + 1
	ArgInt
	ArgString
	ArgNull
	ArgFd
	ArgObject
)

// Arg is one recorded argument. Descriptors are recorded without their
// number; objects are recorded by id.
type Arg struct {
	Kind ArgKind
	Uint uint32
	Int  int32
	Str  string
}

func (a Arg) String() string {
	switch a.Kind {
	case ArgUint:
		return fmt.Sprintf("%d", a.Uint)
	case ArgInt:
		return fmt.Sprintf("%d", a.Int)
	case ArgString:
		return fmt.Sprintf("%q", a.Str)
	case ArgNull:
		return "nil"
	case ArgFd:
		return "fd"
	case ArgObject:
		return fmt.Sprintf("@%d", a.Uint)
	}
	return "?"
}

// Record is one traced message.
type Record struct {
	Seq       uint64
	Kind      loopback.MessageKind
	Client    uint32
	Object    uint32
	Interface string
	Opcode    uint16
	Args      []Arg
}

// FromMessage converts an observed message. Arguments of unknown types are
// an error.
func FromMessage(seq uint64, m loopback.Message) (Record, error) {
	rec := Record{
		Seq:       seq,
		Kind:      m.Kind,
		Client:    m.Client,
		Object:    m.Object,
		Interface: m.Interface,
		Opcode:    m.Opcode,
	}
	for i, v := range m.Args {
		arg, err := convertArg(v)
		if err != nil {
			return Record{}, fmt.Errorf("%s@%d opcode %d argument %d: %w", m.Interface, m.Object, m.Opcode, i, err)
		}
		rec.Args = append(rec.Args, arg)
	}
	return rec, nil
}

func convertArg(v any) (Arg, error) {
	switch a := v.(type) {
	case nil:
		return Arg{Kind: ArgNull}, nil
	case uint32:
		return Arg{Kind: ArgUint, Uint: a}, nil
	case int32:
		return Arg{Kind: ArgInt, Int: a}, nil
	case string:
		return Arg{Kind: ArgString, Str: a}, nil
	case *string:
		if a == nil {
			return Arg{Kind: ArgNull}, nil
		}
		return Arg{Kind: ArgString, Str: *a}, nil
	case wire.Fd:
		return Arg{Kind: ArgFd}, nil
	case wire.Resource:
		return Arg{Kind: ArgObject, Uint: a.ID()}, nil
	}
	return Arg{}, fmt.Errorf("unsupported argument type %T", v)
}

// AppendRecord appends the encoding of rec to b, without the length prefix.
func AppendRecord(b []byte, rec Record) []byte {
	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, rec.Seq)
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rec.Kind))
	b = protowire.AppendTag(b, fieldClient, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rec.Client))
	b = protowire.AppendTag(b, fieldObject, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rec.Object))
	b = protowire.AppendTag(b, fieldInterface, protowire.BytesType)
	b = protowire.AppendString(b, rec.Interface)
	b = protowire.AppendTag(b, fieldOpcode, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rec.Opcode))
	for _, arg := range rec.Args {
		b = protowire.AppendTag(b, fieldArg, protowire.BytesType)
		b = protowire.AppendBytes(b, appendArg(nil, arg))
	}
	return b
}

func appendArg(b []byte, a Arg) []byte {
	switch a.Kind {
	case ArgUint:
		b = protowire.AppendTag(b, argUint, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.Uint))
	case ArgInt:
		b = protowire.AppendTag(b, argInt, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(a.Int)))
	case ArgString:
		b = protowire.AppendTag(b, argString, protowire.BytesType)
		b = protowire.AppendString(b, a.Str)
	case ArgNull:
		b = protowire.AppendTag(b, argNull, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	case ArgFd:
		b = protowire.AppendTag(b, argFd, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	case ArgObject:
		b = protowire.AppendTag(b, argObject, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.Uint))
	}
	return b
}

// UnmarshalRecord decodes one record without its length prefix. Unknown
// fields are skipped.
func UnmarshalRecord(b []byte) (Record, error) {
	var rec Record
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Record{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldInterface && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return Record{}, fmt.Errorf("%w: interface: %v", ErrMalformed, protowire.ParseError(n))
			}
			rec.Interface = s
			b = b[n:]
		case num == fieldArg && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Record{}, fmt.Errorf("%w: argument: %v", ErrMalformed, protowire.ParseError(n))
			}
			arg, err := unmarshalArg(raw)
			if err != nil {
				return Record{}, err
			}
			rec.Args = append(rec.Args, arg)
			b = b[n:]
		case typ == protowire.VarintType && num >= fieldSeq && num <= fieldOpcode:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Record{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			switch num {
			case fieldSeq:
				rec.Seq = v
			case fieldKind:
				rec.Kind = loopback.MessageKind(v)
			case fieldClient:
				rec.Client = uint32(v)
			case fieldObject:
				rec.Object = uint32(v)
			case fieldOpcode:
				rec.Opcode = uint16(v)
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Record{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if rec.Kind == 0 {
		return Record{}, fmt.Errorf("%w: missing kind", ErrMalformed)
	}
	return rec, nil
}

func unmarshalArg(b []byte) (Arg, error) {
	num, typ, n := protowire.ConsumeTag(b)
	if n < 0 {
		return Arg{}, fmt.Errorf("%w: argument tag: %v", ErrMalformed, protowire.ParseError(n))
	}
	b = b[n:]

	if num == argString {
		if typ != protowire.BytesType {
			return Arg{}, fmt.Errorf("%w: string argument has wire type %d", ErrMalformed, typ)
		}
		s, n := protowire.ConsumeString(b)
		if n < 0 {
			return Arg{}, fmt.Errorf("%w: string argument: %v", ErrMalformed, protowire.ParseError(n))
		}
		return Arg{Kind: ArgString, Str: s}, nil
	}

	if typ != protowire.VarintType {
		return Arg{}, fmt.Errorf("%w: argument field %d has wire type %d", ErrMalformed, num, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return Arg{}, fmt.Errorf("%w: argument value: %v", ErrMalformed, protowire.ParseError(n))
	}
	switch num {
	case argUint:
		return Arg{Kind: ArgUint, Uint: uint32(v)}, nil
	case argInt:
		return Arg{Kind: ArgInt, Int: int32(protowire.DecodeZigZag(v))}, nil
	case argNull:
		return Arg{Kind: ArgNull}, nil
	case argFd:
		return Arg{Kind: ArgFd}, nil
	case argObject:
		return Arg{Kind: ArgObject, Uint: uint32(v)}, nil
	}
	return Arg{}, fmt.Errorf("%w: unknown argument field %d", ErrMalformed, num)
}

// Writer appends length-prefixed records to an io.Writer.
type Writer struct {
	w   io.Writer
	seq uint64
	buf []byte
	err error
}

// NewWriter creates a writer. Sequence numbers start at 1.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write encodes rec, assigning it the next sequence number.
func (w *Writer) Write(rec Record) error {
	if w.err != nil {
		return w.err
	}
	w.seq++
	rec.Seq = w.seq

	body := AppendRecord(nil, rec)
	w.buf = protowire.AppendVarint(w.buf[:0], uint64(len(body)))
	w.buf = append(w.buf, body...)
	if _, err := w.w.Write(w.buf); err != nil {
		w.err = fmt.Errorf("write trace record %d: %w", rec.Seq, err)
		return w.err
	}
	return nil
}

// Observe records m. It is meant to be passed to loopback.Display.Observe;
// the first failure is kept and reported by Err.
func (w *Writer) Observe(m loopback.Message) {
	if w.err != nil {
		return
	}
	rec, err := FromMessage(0, m)
	if err != nil {
		w.err = err
		return
	}
	_ = w.Write(rec)
}

// Count returns the number of records written.
func (w *Writer) Count() uint64 { return w.seq }

// Err returns the first error hit while writing.
func (w *Writer) Err() error { return w.err }

// Reader reads records written by Writer.
type Reader struct {
	r *bufio.Reader
}

// NewReader creates a reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next record, or io.EOF at a clean end of stream.
func (r *Reader) Next() (Record, error) {
	size, err := readUvarint(r.r)
	if err != nil {
		return Record{}, err
	}
	if size > maxRecordSize {
		return Record{}, fmt.Errorf("%w: record of %d bytes", ErrMalformed, size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r.r, body); err != nil {
		return Record{}, fmt.Errorf("%w: truncated record: %v", ErrMalformed, err)
	}
	return UnmarshalRecord(body)
}

// ReadAll reads every remaining record.
func (r *Reader) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// readUvarint reads a protobuf varint byte by byte. io.EOF is only returned
// when the stream ends before the first byte.
func readUvarint(r io.ByteReader) (uint64, error) {
	var buf []byte
	for i := 0; i < protowire.SizeVarint(^uint64(0)); i++ {
		c, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && i == 0 {
				return 0, io.EOF
			}
			return 0, fmt.Errorf("%w: truncated length: %v", ErrMalformed, err)
		}
		buf = append(buf, c)
		if c < 0x80 {
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return 0, fmt.Errorf("%w: length: %v", ErrMalformed, protowire.ParseError(n))
			}
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: length overflows", ErrMalformed)
}
