package bytecode

import (
	"strings"
	"testing"
)

func TestDisassembleSimple(t *testing.T) {
	c := NewChunk()
	c.Write(OpNull, 1)
	c.Write(OpTrue, 1)
	c.Write(OpAdd, 1)
	c.Write(OpReturn, 1)

	output := c.Disassemble()

	for _, want := range []string{"NULL", "TRUE", "ADD", "RETURN"} {
		if !strings.Contains(output, want) {
			t.Errorf("disassembly missing %s:\n%s", want, output)
		}
	}
}

func TestDisassembleWithName(t *testing.T) {
	c := NewChunk()
	c.Write(OpReturn, 1)

	output := c.DisassembleWithName("$main")
	if !strings.Contains(output, "=== $main ===") {
		t.Errorf("disassembly missing name header:\n%s", output)
	}
}

func TestDisassembleConstants(t *testing.T) {
	c := NewChunk()
	idx := c.AddConstant(StringConst("hello world"))
	c.EmitWithUint16(OpConst, idx, 1)
	c.Write(OpReturn, 1)

	output := c.Disassemble()

	if !strings.Contains(output, "Constants:") {
		t.Errorf("disassembly missing constants section:\n%s", output)
	}
	if !strings.Contains(output, "hello world") {
		t.Errorf("disassembly missing constant value:\n%s", output)
	}
	if !strings.Contains(output, "CONST 0") {
		t.Errorf("disassembly missing CONST instruction:\n%s", output)
	}
}

func TestDisassembleSmallInts(t *testing.T) {
	c := NewChunk()
	neg5 := int8(-5)
	neg300 := int16(-300)
	c.EmitWithByte(OpIConst8, byte(neg5), 1)
	c.EmitWithUint16(OpIConst16, uint16(neg300), 1)

	output := c.Disassemble()

	if !strings.Contains(output, "ICONST8 -5") {
		t.Errorf("disassembly missing signed ICONST8:\n%s", output)
	}
	if !strings.Contains(output, "ICONST16 -300") {
		t.Errorf("disassembly missing signed ICONST16:\n%s", output)
	}
}

func TestDisassembleJumpTarget(t *testing.T) {
	c := NewChunk()
	placeholder := c.EmitJump(OpJumpIfFalse, 1)
	c.Write(OpPop, 1)
	c.Write(OpNull, 1)
	if err := c.PatchJump(placeholder); err != nil {
		t.Fatalf("PatchJump() error: %v", err)
	}

	output := c.Disassemble()

	// Jump lands at offset 5 (after POP and NULL).
	if !strings.Contains(output, "JUMP_IF_FALSE +2 (-> 0005)") {
		t.Errorf("disassembly missing resolved jump target:\n%s", output)
	}
}

func TestDisassembleClosure(t *testing.T) {
	fn := NewFunction("adder", 1)
	fn.UpvalueCount = 2
	fn.Chunk.Write(OpReturn, 2)

	c := NewChunk()
	idx := c.AddConstant(FuncConst(fn))
	c.EmitWithUint16(OpClosure, idx, 1)
	c.WriteByte(1, 1) // is_local
	c.WriteByte(3, 1) // index
	c.WriteByte(0, 1) // is_local
	c.WriteByte(0, 1) // index
	c.Write(OpReturn, 1)

	output := c.Disassemble()

	if !strings.Contains(output, "CLOSURE 0") {
		t.Errorf("disassembly missing CLOSURE:\n%s", output)
	}
	if !strings.Contains(output, "[local 3]") || !strings.Contains(output, "[upvalue 0]") {
		t.Errorf("disassembly missing upvalue pairs:\n%s", output)
	}
	// The RETURN after the variable-length CLOSURE decodes at the right
	// offset: 3 fixed bytes + 2 pairs.
	if !strings.Contains(output, "0007  RETURN") {
		t.Errorf("CLOSURE length miscounted:\n%s", output)
	}
	// Nested function body is listed too.
	if !strings.Contains(output, "adder (arity=1, upvalues=2)") {
		t.Errorf("disassembly missing nested function listing:\n%s", output)
	}
}

func TestDisassembleSelect(t *testing.T) {
	c := NewChunk()
	c.EmitWithByte(OpSelectBegin, 2, 1)

	recv := c.EmitJump(OpSelectRecv, 1)
	c.WriteByte(SelectDiscard, 1)

	send := c.EmitJump(OpSelectSend, 1)
	c.Write(OpSelectExec, 1)

	if err := c.PatchJump(recv); err != nil {
		t.Fatalf("PatchJump(recv) error: %v", err)
	}
	c.Write(OpPop, 2)
	if err := c.PatchJump(send); err != nil {
		t.Fatalf("PatchJump(send) error: %v", err)
	}

	output := c.Disassemble()

	if !strings.Contains(output, "SELECT_BEGIN cases=2") {
		t.Errorf("disassembly missing SELECT_BEGIN:\n%s", output)
	}
	if !strings.Contains(output, "discard") {
		t.Errorf("disassembly missing receive discard marker:\n%s", output)
	}
	if !strings.Contains(output, "SELECT_SEND") || !strings.Contains(output, "SELECT_EXEC") {
		t.Errorf("disassembly missing select case listing:\n%s", output)
	}
}

func TestDisassembleToLines(t *testing.T) {
	c := NewChunk()
	c.Write(OpNull, 1)
	c.EmitWithByte(OpLoadLocal, 0, 1)
	c.Write(OpReturn, 1)

	lines := c.DisassembleToLines()
	if len(lines) != 3 {
		t.Fatalf("DisassembleToLines() = %d lines, want 3", len(lines))
	}
	if !strings.Contains(lines[1], "LOAD_LOCAL 0") {
		t.Errorf("lines[1] = %q, want LOAD_LOCAL 0", lines[1])
	}
}

func TestInstructionCount(t *testing.T) {
	c := NewChunk()
	c.Write(OpNull, 1)
	c.EmitWithUint16(OpConst, 0, 1)
	c.EmitWithByte(OpCall, 2, 1)
	c.Write(OpReturn, 1)

	if got := c.InstructionCount(); got != 4 {
		t.Errorf("InstructionCount() = %d, want 4", got)
	}
}
