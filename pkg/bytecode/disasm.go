package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable bytecode listing for the chunk.
func (c *Chunk) Disassemble() string {
	return c.DisassembleWithName("")
}

// DisassembleWithName returns a human-readable bytecode listing with a name
// header. Function constants are disassembled recursively after the chunk
// that references them.
func (c *Chunk) DisassembleWithName(name string) string {
	var sb strings.Builder
	c.disassembleInto(&sb, name)
	return sb.String()
}

func (c *Chunk) disassembleInto(sb *strings.Builder, name string) {
	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}

	if len(c.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, k := range c.Constants {
			display := k.String()
			if len(display) > 40 {
				display = display[:37] + "..."
			}
			display = strings.ReplaceAll(display, "\n", "\\n")
			display = strings.ReplaceAll(display, "\t", "\\t")
			sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", i, display))
		}
	}

	sb.WriteString("; Code:\n")
	offset := 0
	for offset < len(c.Code) {
		line, instrLen := c.disassembleInstruction(offset)
		if srcLine := c.Line(offset); srcLine > 0 {
			sb.WriteString(fmt.Sprintf("%04X  %-36s ; line %d\n", offset, line, srcLine))
		} else {
			sb.WriteString(fmt.Sprintf("%04X  %s\n", offset, line))
		}
		if instrLen <= 0 {
			break
		}
		offset += instrLen
	}

	// Nested functions after the code that references them.
	for _, k := range c.Constants {
		if k.Kind == ConstFunction && k.Fn != nil && k.Fn.Chunk != nil {
			sb.WriteString("\n")
			header := fmt.Sprintf("%s (arity=%d, upvalues=%d)", k.Fn.Name, k.Fn.Arity, k.Fn.UpvalueCount)
			k.Fn.Chunk.disassembleInto(sb, header)
		}
	}
}

// disassembleInstruction disassembles a single instruction at the given
// offset. Returns the formatted string and the instruction length.
func (c *Chunk) disassembleInstruction(offset int) (string, int) {
	if offset >= len(c.Code) {
		return "<end of code>", 0
	}

	op := Opcode(c.Code[offset])
	info := GetOpcodeInfo(op)

	switch op {
	case OpConst:
		idx := c.ReadUint16(offset + 1)
		return fmt.Sprintf("CONST %d ; %s", idx, c.constantDisplay(idx)), 3

	case OpIConst8:
		return fmt.Sprintf("ICONST8 %d", int8(c.Code[offset+1])), 2

	case OpIConst16:
		return fmt.Sprintf("ICONST16 %d", int16(c.ReadUint16(offset+1))), 3

	case OpDefineGlobal, OpLoadGlobal, OpStoreGlobal, OpLoadField, OpStoreField, OpStruct, OpMethod:
		idx := c.ReadUint16(offset + 1)
		return fmt.Sprintf("%s %d ; %s", info.Name, idx, c.constantDisplay(idx)), 3

	case OpLoadLocal, OpStoreLocal, OpLoadUpvalue, OpStoreUpvalue:
		return fmt.Sprintf("%s %d", info.Name, c.Code[offset+1]), 2

	case OpMakeArray, OpMakeObject:
		return fmt.Sprintf("%s %d", info.Name, c.ReadUint16(offset+1)), 3

	case OpJump, OpJumpIfFalse, OpJumpIfTrue:
		delta := int16(c.ReadUint16(offset + 1))
		target := offset + 3 + int(delta)
		return fmt.Sprintf("%s %+d (-> %04X)", info.Name, delta, target), 3

	case OpCall:
		return fmt.Sprintf("CALL argc=%d", c.Code[offset+1]), 2

	case OpClosure:
		idx := c.ReadUint16(offset + 1)
		upvalues := 0
		if int(idx) < len(c.Constants) {
			if k := c.Constants[idx]; k.Kind == ConstFunction && k.Fn != nil {
				upvalues = k.Fn.UpvalueCount
			}
		}
		line := fmt.Sprintf("CLOSURE %d ; %s", idx, c.constantDisplay(idx))
		for i := 0; i < upvalues; i++ {
			at := offset + 3 + i*2
			if at+1 >= len(c.Code) {
				break
			}
			kind := "upvalue"
			if c.Code[at] != 0 {
				kind = "local"
			}
			line += fmt.Sprintf(" [%s %d]", kind, c.Code[at+1])
		}
		return line, 3 + upvalues*2

	case OpIterNext, OpLoadIterIndex:
		return fmt.Sprintf("%s slot=%d", info.Name, c.Code[offset+1]), 2

	case OpSelectBegin:
		return fmt.Sprintf("SELECT_BEGIN cases=%d", c.Code[offset+1]), 2

	case OpSelectRecv:
		delta := int16(c.ReadUint16(offset + 1))
		// The branch offset is relative to the byte after the two offset
		// bytes, same as plain jumps; the slot byte is compensated at
		// execution time.
		target := offset + 3 + int(delta)
		slot := c.Code[offset+3]
		if slot == SelectDiscard {
			return fmt.Sprintf("SELECT_RECV %+d (-> %04X) discard", delta, target), 4
		}
		return fmt.Sprintf("SELECT_RECV %+d (-> %04X) slot=%d", delta, target, slot), 4

	case OpSelectSend, OpSelectDefault:
		delta := int16(c.ReadUint16(offset + 1))
		target := offset + 3 + int(delta)
		return fmt.Sprintf("%s %+d (-> %04X)", info.Name, delta, target), 3

	default:
		instrLen := 1 + info.OperandLen
		if info.OperandLen == 0 {
			return info.Name, instrLen
		}
		operands := make([]string, 0, info.OperandLen)
		for i := 0; i < info.OperandLen; i++ {
			if offset+1+i < len(c.Code) {
				operands = append(operands, fmt.Sprintf("0x%02X", c.Code[offset+1+i]))
			}
		}
		return fmt.Sprintf("%s %s", info.Name, strings.Join(operands, " ")), instrLen
	}
}

// DisassembleInstruction returns a human-readable representation of a single
// instruction.
func (c *Chunk) DisassembleInstruction(offset int) string {
	line, _ := c.disassembleInstruction(offset)
	return line
}

// DisassembleToLines returns the disassembly of the code section as a slice
// of lines, one instruction per line.
func (c *Chunk) DisassembleToLines() []string {
	var lines []string
	offset := 0
	for offset < len(c.Code) {
		line, instrLen := c.disassembleInstruction(offset)
		lines = append(lines, fmt.Sprintf("%04X  %s", offset, line))
		if instrLen <= 0 {
			break
		}
		offset += instrLen
	}
	return lines
}

// InstructionCount returns the number of instructions in the chunk.
// Note: this walks the code, so it's O(n).
func (c *Chunk) InstructionCount() int {
	count := 0
	offset := 0
	for offset < len(c.Code) {
		_, instrLen := c.disassembleInstruction(offset)
		if instrLen <= 0 {
			break
		}
		offset += instrLen
		count++
	}
	return count
}

func (c *Chunk) constantDisplay(idx uint16) string {
	if int(idx) >= len(c.Constants) {
		return "<out of range>"
	}
	display := c.Constants[idx].String()
	if len(display) > 20 {
		display = display[:17] + "..."
	}
	return display
}
