package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FormatVersion is the current bytecode format version.
// Increment when making incompatible changes to the format.
const FormatVersion uint16 = 1

// Magic bytes for serialized bytecode: "RLBC" (Rill ByteCode).
var Magic = []byte{'R', 'L', 'B', 'C'}

// Chunk is one function's compiled code with its constant pool. Lines
// records the source line for every code byte so runtime errors and the
// disassembler can point back at the program text.
type Chunk struct {
	Code      []byte
	Constants []Constant
	Lines     []int
}

// NewChunk creates a new empty chunk.
func NewChunk() *Chunk {
	return &Chunk{
		Code:      make([]byte, 0, 64),
		Constants: make([]Constant, 0, 8),
	}
}

// AddConstant adds a constant to the pool and returns its index.
// If an equal constant already exists, returns the existing index.
func (c *Chunk) AddConstant(v Constant) uint16 {
	for i, existing := range c.Constants {
		if existing.Equal(v) {
			return uint16(i)
		}
	}
	idx := uint16(len(c.Constants))
	c.Constants = append(c.Constants, v)
	return idx
}

// GetConstant returns the constant at the given index.
// Panics if the index is out of bounds.
func (c *Chunk) GetConstant(index uint16) Constant {
	return c.Constants[index]
}

// Write appends a single-byte opcode and returns its offset.
func (c *Chunk) Write(op Opcode, line int) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	c.Lines = append(c.Lines, line)
	return offset
}

// WriteByte appends one operand byte.
func (c *Chunk) WriteByte(b byte, line int) {
	c.Code = append(c.Code, b)
	c.Lines = append(c.Lines, line)
}

// WriteUint16 appends a big-endian 16-bit operand.
func (c *Chunk) WriteUint16(v uint16, line int) {
	c.Code = append(c.Code, byte(v>>8), byte(v))
	c.Lines = append(c.Lines, line, line)
}

// EmitWithByte appends an opcode with a one-byte operand.
func (c *Chunk) EmitWithByte(op Opcode, operand byte, line int) int {
	offset := c.Write(op, line)
	c.WriteByte(operand, line)
	return offset
}

// EmitWithUint16 appends an opcode with a big-endian 16-bit operand.
func (c *Chunk) EmitWithUint16(op Opcode, operand uint16, line int) int {
	offset := c.Write(op, line)
	c.WriteUint16(operand, line)
	return offset
}

// EmitJump emits a jump instruction with a placeholder offset.
// Returns the offset of the placeholder bytes for later patching.
func (c *Chunk) EmitJump(op Opcode, line int) int {
	c.Write(op, line)
	offset := len(c.Code)
	c.WriteUint16(0xFFFF, line)
	return offset
}

// PatchJump patches a jump placeholder to land at the current position.
// Offsets are measured from the byte after the two offset bytes.
func (c *Chunk) PatchJump(placeholderOffset int) error {
	return c.PatchJumpTo(placeholderOffset, len(c.Code))
}

// PatchJumpTo patches a jump placeholder to land at target.
func (c *Chunk) PatchJumpTo(placeholderOffset, target int) error {
	delta := target - (placeholderOffset + 2)
	if delta > math.MaxInt16 || delta < math.MinInt16 {
		return fmt.Errorf("jump of %d bytes exceeds 16-bit range", delta)
	}
	c.Code[placeholderOffset] = byte(uint16(delta) >> 8)
	c.Code[placeholderOffset+1] = byte(uint16(delta))
	return nil
}

// EmitLoop emits a backward jump to loopStart.
func (c *Chunk) EmitLoop(loopStart, line int) error {
	c.Write(OpJump, line)
	delta := loopStart - (len(c.Code) + 2)
	if delta < math.MinInt16 {
		return fmt.Errorf("loop body of %d bytes exceeds 16-bit range", -delta)
	}
	c.WriteUint16(uint16(delta), line)
	return nil
}

// CurrentOffset returns the offset the next instruction will be written at.
func (c *Chunk) CurrentOffset() int {
	return len(c.Code)
}

// ReadUint16 decodes the big-endian operand at offset.
func (c *Chunk) ReadUint16(offset int) uint16 {
	return uint16(c.Code[offset])<<8 | uint16(c.Code[offset+1])
}

// Line returns the source line for a code offset, or 0 when unknown.
func (c *Chunk) Line(offset int) int {
	if offset < 0 || offset >= len(c.Lines) {
		return 0
	}
	return c.Lines[offset]
}

// ConstantCount returns the number of constants in the pool.
func (c *Chunk) ConstantCount() int {
	return len(c.Constants)
}

// ---------------------------------------------------------------------------
// Serialization
// ---------------------------------------------------------------------------

// Serialize encodes the chunk to bytes. Function constants nest their own
// chunks, so serializing a program's top-level chunk captures everything.
// Format:
//
//	[magic:4] [version:2] [chunk]
//
// where chunk is
//
//	[code_len:4] [code:...]
//	[line_count:4] [lines:u32...]
//	[const_count:2] [constants:...]
//
// and each constant is a kind byte followed by its payload.
func (c *Chunk) Serialize() ([]byte, error) {
	buf := make([]byte, 0, 16+len(c.Code)*5)
	buf = append(buf, Magic...)
	buf = binary.BigEndian.AppendUint16(buf, FormatVersion)
	return appendChunk(buf, c)
}

func appendChunk(buf []byte, c *Chunk) ([]byte, error) {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(c.Code)))
	buf = append(buf, c.Code...)

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(c.Lines)))
	for _, line := range c.Lines {
		buf = binary.BigEndian.AppendUint32(buf, uint32(line))
	}

	if len(c.Constants) > math.MaxUint16 {
		return nil, fmt.Errorf("constant pool too large: %d entries", len(c.Constants))
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.Constants)))
	for _, k := range c.Constants {
		var err error
		buf, err = appendConstant(buf, k)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func appendConstant(buf []byte, k Constant) ([]byte, error) {
	buf = append(buf, byte(k.Kind))
	switch k.Kind {
	case ConstNull:
	case ConstBool:
		if k.Bool {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case ConstInt:
		buf = binary.BigEndian.AppendUint64(buf, uint64(k.Int))
	case ConstFloat:
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(k.Float))
	case ConstString:
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(k.Str)))
		buf = append(buf, k.Str...)
	case ConstFunction:
		fn := k.Fn
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(fn.Name)))
		buf = append(buf, fn.Name...)
		buf = append(buf, byte(fn.Arity), byte(fn.UpvalueCount))
		var err error
		buf, err = appendChunk(buf, fn.Chunk)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("cannot serialize constant kind %d", k.Kind)
	}
	return buf, nil
}

// Deserialize decodes a chunk produced by Serialize.
func Deserialize(data []byte) (*Chunk, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("bytecode too short: need at least 6 bytes, got %d", len(data))
	}
	if string(data[0:4]) != string(Magic) {
		return nil, fmt.Errorf("invalid bytecode magic: expected %q, got %q", Magic, data[0:4])
	}
	version := binary.BigEndian.Uint16(data[4:6])
	if version > FormatVersion {
		return nil, fmt.Errorf("bytecode version %d is newer than supported version %d", version, FormatVersion)
	}

	r := &chunkReader{data: data, pos: 6}
	c, err := r.readChunk()
	if err != nil {
		return nil, err
	}
	if r.pos != len(data) {
		return nil, fmt.Errorf("%d trailing bytes after bytecode", len(data)-r.pos)
	}
	return c, nil
}

type chunkReader struct {
	data []byte
	pos  int
}

func (r *chunkReader) need(n int, what string) error {
	if r.pos+n > len(r.data) {
		return fmt.Errorf("unexpected end of bytecode reading %s at offset %d", what, r.pos)
	}
	return nil
}

func (r *chunkReader) readByte(what string) (byte, error) {
	if err := r.need(1, what); err != nil {
		return 0, err
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *chunkReader) readUint16(what string) (uint16, error) {
	if err := r.need(2, what); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *chunkReader) readUint32(what string) (uint32, error) {
	if err := r.need(4, what); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *chunkReader) readUint64(what string) (uint64, error) {
	if err := r.need(8, what); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *chunkReader) readBytes(n int, what string) ([]byte, error) {
	if err := r.need(n, what); err != nil {
		return nil, err
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *chunkReader) readChunk() (*Chunk, error) {
	codeLen, err := r.readUint32("code length")
	if err != nil {
		return nil, err
	}
	code, err := r.readBytes(int(codeLen), "code section")
	if err != nil {
		return nil, err
	}

	c := &Chunk{Code: make([]byte, codeLen)}
	copy(c.Code, code)

	lineCount, err := r.readUint32("line count")
	if err != nil {
		return nil, err
	}
	c.Lines = make([]int, lineCount)
	for i := range c.Lines {
		line, err := r.readUint32("line table")
		if err != nil {
			return nil, err
		}
		c.Lines[i] = int(line)
	}

	constCount, err := r.readUint16("constant count")
	if err != nil {
		return nil, err
	}
	c.Constants = make([]Constant, 0, constCount)
	for i := 0; i < int(constCount); i++ {
		k, err := r.readConstant()
		if err != nil {
			return nil, fmt.Errorf("constant %d: %w", i, err)
		}
		c.Constants = append(c.Constants, k)
	}
	return c, nil
}

func (r *chunkReader) readConstant() (Constant, error) {
	kind, err := r.readByte("constant kind")
	if err != nil {
		return Constant{}, err
	}
	switch ConstKind(kind) {
	case ConstNull:
		return NullConst(), nil
	case ConstBool:
		b, err := r.readByte("bool constant")
		if err != nil {
			return Constant{}, err
		}
		return BoolConst(b != 0), nil
	case ConstInt:
		v, err := r.readUint64("int constant")
		if err != nil {
			return Constant{}, err
		}
		return IntConst(int64(v)), nil
	case ConstFloat:
		v, err := r.readUint64("float constant")
		if err != nil {
			return Constant{}, err
		}
		return FloatConst(math.Float64frombits(v)), nil
	case ConstString:
		n, err := r.readUint32("string length")
		if err != nil {
			return Constant{}, err
		}
		b, err := r.readBytes(int(n), "string constant")
		if err != nil {
			return Constant{}, err
		}
		return StringConst(string(b)), nil
	case ConstFunction:
		nameLen, err := r.readUint16("function name length")
		if err != nil {
			return Constant{}, err
		}
		name, err := r.readBytes(int(nameLen), "function name")
		if err != nil {
			return Constant{}, err
		}
		arity, err := r.readByte("function arity")
		if err != nil {
			return Constant{}, err
		}
		upvalues, err := r.readByte("function upvalue count")
		if err != nil {
			return Constant{}, err
		}
		chunk, err := r.readChunk()
		if err != nil {
			return Constant{}, err
		}
		fn := &Function{
			Name:         string(name),
			Arity:        int(arity),
			UpvalueCount: int(upvalues),
			Chunk:        chunk,
		}
		return FuncConst(fn), nil
	}
	return Constant{}, fmt.Errorf("unknown constant kind %d", kind)
}
