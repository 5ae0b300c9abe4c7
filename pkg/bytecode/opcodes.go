package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Constants and literals (0x00-0x0F)
	// ========================================================================

	OpNull     Opcode = 0x00 // Push null
	OpTrue     Opcode = 0x01 // Push true
	OpFalse    Opcode = 0x02 // Push false
	OpConst    Opcode = 0x03 // Push constant from pool: OpConst <index:u16>
	OpIConst8  Opcode = 0x04 // Push small integer: OpIConst8 <value:i8>
	OpIConst16 Opcode = 0x05 // Push small integer: OpIConst16 <value:i16>

	// ========================================================================
	// Stack manipulation (0x10-0x1F)
	// ========================================================================

	OpPop  Opcode = 0x10 // Pop top of stack
	OpDup  Opcode = 0x11 // Duplicate top of stack
	OpDup2 Opcode = 0x12 // Duplicate top two: a b -> a b a b

	// ========================================================================
	// Variables (0x20-0x2F)
	// ========================================================================

	OpDefineGlobal Opcode = 0x20 // Pop and define global: OpDefineGlobal <name:u16>
	OpLoadGlobal   Opcode = 0x21 // Push global by name: OpLoadGlobal <name:u16>
	OpStoreGlobal  Opcode = 0x22 // Peek and store to global: OpStoreGlobal <name:u16>
	OpLoadLocal    Opcode = 0x23 // Push frame-relative slot: OpLoadLocal <slot:u8>
	OpStoreLocal   Opcode = 0x24 // Peek and store to slot: OpStoreLocal <slot:u8>
	OpLoadUpvalue  Opcode = 0x25 // Push upvalue: OpLoadUpvalue <index:u8>
	OpStoreUpvalue Opcode = 0x26 // Peek and store to upvalue: OpStoreUpvalue <index:u8>
	OpCloseUpvalue Opcode = 0x27 // Close upvalues at stack top, then pop

	// ========================================================================
	// Containers and fields (0x30-0x3F)
	// ========================================================================

	OpLoadIndex  Opcode = 0x30 // Pop index + container, push element
	OpStoreIndex Opcode = 0x31 // Pop value + index + container, push value
	OpLoadField  Opcode = 0x32 // Pop target, push field: OpLoadField <name:u16>
	OpStoreField Opcode = 0x33 // Pop value + target, push value: OpStoreField <name:u16>
	OpMakeArray  Opcode = 0x34 // Pop n elements, push array: OpMakeArray <count:u16>
	OpMakeObject Opcode = 0x35 // Pop n value/key pairs, push object: OpMakeObject <count:u16>

	// ========================================================================
	// Arithmetic and logic (0x40-0x4F)
	// ========================================================================

	OpAdd Opcode = 0x40 // Pop two, push sum (numeric, string concat, array concat)
	OpSub Opcode = 0x41 // Pop two, push difference
	OpMul Opcode = 0x42 // Pop two, push product (numeric, sequence repeat)
	OpDiv Opcode = 0x43 // Pop two, push float quotient
	OpMod Opcode = 0x44 // Pop two, push integer remainder
	OpNeg Opcode = 0x45 // Negate numeric top of stack
	OpNot Opcode = 0x46 // Push logical complement of truthiness

	// ========================================================================
	// Comparison (0x50-0x5F)
	// ========================================================================

	OpEq  Opcode = 0x50 // Pop two, push equality
	OpNeq Opcode = 0x51 // Pop two, push inequality
	OpLt  Opcode = 0x52 // Pop two, push a < b
	OpLe  Opcode = 0x53 // Pop two, push a <= b
	OpGt  Opcode = 0x54 // Pop two, push a > b
	OpGe  Opcode = 0x55 // Pop two, push a >= b

	// ========================================================================
	// Bitwise (0x60-0x6F)
	// ========================================================================

	OpBitOr      Opcode = 0x60 // Pop two ints, push a | b
	OpBitAnd     Opcode = 0x61 // Pop two ints, push a & b
	OpBitXor     Opcode = 0x62 // Pop two ints, push a ^ b
	OpBitNot     Opcode = 0x63 // Pop int, push ^a
	OpShiftLeft  Opcode = 0x64 // Pop two ints, push a << b
	OpShiftRight Opcode = 0x65 // Pop two ints, push a >> b

	// ========================================================================
	// Control flow (0x70-0x7F)
	// ========================================================================

	OpJump        Opcode = 0x70 // Unconditional jump: OpJump <offset:i16>
	OpJumpIfFalse Opcode = 0x71 // Jump if top is falsy (does not pop): OpJumpIfFalse <offset:i16>
	OpJumpIfTrue  Opcode = 0x72 // Jump if top is truthy (does not pop): OpJumpIfTrue <offset:i16>

	// ========================================================================
	// Functions and structs (0x80-0x8F)
	// ========================================================================

	OpCall    Opcode = 0x80 // Call value below args: OpCall <argc:u8>
	OpClosure Opcode = 0x81 // Wrap function constant: OpClosure <fn:u16> then one (isLocal:u8, index:u8) pair per upvalue
	OpReturn  Opcode = 0x82 // Pop result, close frame upvalues, drop frame
	OpStruct  Opcode = 0x83 // Push new struct type: OpStruct <name:u16>
	OpMethod  Opcode = 0x84 // Pop closure, bind as method on struct below: OpMethod <name:u16>

	// ========================================================================
	// Output (0x90-0x9F)
	// ========================================================================

	OpPrint Opcode = 0x90 // Pop and print with trailing newline

	// ========================================================================
	// Iteration (0xA0-0xAF)
	// ========================================================================

	OpGetIter       Opcode = 0xA0 // Pop iterable, push iterator in place
	OpIterNext      Opcode = 0xA1 // Advance iterator in slot, push value then ok flag: OpIterNext <slot:u8>
	OpLoadIterIndex Opcode = 0xA2 // Push current index of iterator in slot: OpLoadIterIndex <slot:u8>

	// ========================================================================
	// Concurrency (0xB0-0xBF)
	// ========================================================================

	OpSpawn         Opcode = 0xB0 // Pop count + closure, start threads, push handle or handle array
	OpSendPipe      Opcode = 0xB1 // Pop value + pipe, send, push value
	OpRecvPipe      Opcode = 0xB2 // Pop pipe, push received value
	OpClosePipe     Opcode = 0xB3 // Pop pipe and close it
	OpSelectBegin   Opcode = 0xB4 // Open a select frame: OpSelectBegin <cases:u8>
	OpSelectRecv    Opcode = 0xB5 // Pop pipe, record receive case: OpSelectRecv <offset:u16> <slot:u8>
	OpSelectSend    Opcode = 0xB6 // Pop value + pipe, record send case: OpSelectSend <offset:u16>
	OpSelectDefault Opcode = 0xB7 // Record default case: OpSelectDefault <offset:u16>
	OpSelectExec    Opcode = 0xB8 // Resolve the select frame or block
)

// SelectDiscard is the slot operand marking a receive case that drops its
// value instead of binding it.
const SelectDiscard byte = 0xFF

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // How many values popped from stack (-1 = variable)
	StackPush  int    // How many values pushed to stack
	OperandLen int    // Number of operand bytes following the opcode
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Constants and literals
	OpNull:     {"NULL", 0, 1, 0},
	OpTrue:     {"TRUE", 0, 1, 0},
	OpFalse:    {"FALSE", 0, 1, 0},
	OpConst:    {"CONST", 0, 1, 2},
	OpIConst8:  {"ICONST8", 0, 1, 1},
	OpIConst16: {"ICONST16", 0, 1, 2},

	// Stack manipulation
	OpPop:  {"POP", 1, 0, 0},
	OpDup:  {"DUP", 1, 2, 0},
	OpDup2: {"DUP2", 2, 4, 0},

	// Variables
	OpDefineGlobal: {"DEFINE_GLOBAL", 1, 0, 2},
	OpLoadGlobal:   {"LOAD_GLOBAL", 0, 1, 2},
	OpStoreGlobal:  {"STORE_GLOBAL", 0, 0, 2},
	OpLoadLocal:    {"LOAD_LOCAL", 0, 1, 1},
	OpStoreLocal:   {"STORE_LOCAL", 0, 0, 1},
	OpLoadUpvalue:  {"LOAD_UPVALUE", 0, 1, 1},
	OpStoreUpvalue: {"STORE_UPVALUE", 0, 0, 1},
	OpCloseUpvalue: {"CLOSE_UPVALUE", 1, 0, 0},

	// Containers and fields
	OpLoadIndex:  {"LOAD_INDEX", 2, 1, 0},
	OpStoreIndex: {"STORE_INDEX", 3, 1, 0},
	OpLoadField:  {"LOAD_FIELD", 1, 1, 2},
	OpStoreField: {"STORE_FIELD", 2, 1, 2},
	OpMakeArray:  {"MAKE_ARRAY", -1, 1, 2},
	OpMakeObject: {"MAKE_OBJECT", -1, 1, 2},

	// Arithmetic and logic
	OpAdd: {"ADD", 2, 1, 0},
	OpSub: {"SUB", 2, 1, 0},
	OpMul: {"MUL", 2, 1, 0},
	OpDiv: {"DIV", 2, 1, 0},
	OpMod: {"MOD", 2, 1, 0},
	OpNeg: {"NEG", 1, 1, 0},
	OpNot: {"NOT", 1, 1, 0},

	// Comparison
	OpEq:  {"EQ", 2, 1, 0},
	OpNeq: {"NEQ", 2, 1, 0},
	OpLt:  {"LT", 2, 1, 0},
	OpLe:  {"LE", 2, 1, 0},
	OpGt:  {"GT", 2, 1, 0},
	OpGe:  {"GE", 2, 1, 0},

	// Bitwise
	OpBitOr:      {"BIT_OR", 2, 1, 0},
	OpBitAnd:     {"BIT_AND", 2, 1, 0},
	OpBitXor:     {"BIT_XOR", 2, 1, 0},
	OpBitNot:     {"BIT_NOT", 1, 1, 0},
	OpShiftLeft:  {"SHIFT_LEFT", 2, 1, 0},
	OpShiftRight: {"SHIFT_RIGHT", 2, 1, 0},

	// Control flow
	OpJump:        {"JUMP", 0, 0, 2},
	OpJumpIfFalse: {"JUMP_IF_FALSE", 0, 0, 2},
	OpJumpIfTrue:  {"JUMP_IF_TRUE", 0, 0, 2},

	// Functions and structs
	OpCall:    {"CALL", -1, 1, 1},
	OpClosure: {"CLOSURE", 0, 1, 2}, // plus 2 bytes per upvalue, see InstructionLen caveat
	OpReturn:  {"RETURN", 1, 0, 0},
	OpStruct:  {"STRUCT", 0, 1, 2},
	OpMethod:  {"METHOD", 1, 0, 2},

	// Output
	OpPrint: {"PRINT", 1, 0, 0},

	// Iteration
	OpGetIter:       {"GET_ITER", 1, 1, 0},
	OpIterNext:      {"ITER_NEXT", 0, 2, 1},
	OpLoadIterIndex: {"LOAD_ITER_INDEX", 0, 1, 1},

	// Concurrency
	OpSpawn:         {"SPAWN", 2, 1, 0},
	OpSendPipe:      {"SEND_PIPE", 2, 1, 0},
	OpRecvPipe:      {"RECV_PIPE", 1, 1, 0},
	OpClosePipe:     {"CLOSE_PIPE", 1, 0, 0},
	OpSelectBegin:   {"SELECT_BEGIN", 0, 0, 1},
	OpSelectRecv:    {"SELECT_RECV", 1, 0, 3},
	OpSelectSend:    {"SELECT_SEND", 2, 0, 2},
	OpSelectDefault: {"SELECT_DEFAULT", 0, 0, 2},
	OpSelectExec:    {"SELECT_EXEC", 0, 0, 0},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of fixed operand bytes for this opcode.
// OpClosure additionally carries two bytes per upvalue of its function
// constant; instruction walkers must account for those separately.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the fixed length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsJump returns true if this opcode is a plain jump instruction. Select
// cases carry branch offsets too but resolve through the select frame.
func (op Opcode) IsJump() bool {
	return op >= OpJump && op <= OpJumpIfTrue
}

// HasConstOperand returns true if the opcode's u16 operand indexes the
// constant pool.
func (op Opcode) HasConstOperand() bool {
	switch op {
	case OpConst, OpDefineGlobal, OpLoadGlobal, OpStoreGlobal,
		OpLoadField, OpStoreField, OpClosure, OpStruct, OpMethod:
		return true
	}
	return false
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
