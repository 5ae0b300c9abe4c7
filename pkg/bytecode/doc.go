// Package bytecode defines the instruction set and compiled-code containers
// for the Rill virtual machine.
//
// The format is designed for:
//   - Compact representation (most instructions are 1-3 bytes)
//   - Fast decoding (one-byte opcodes, big-endian fixed-width operands)
//   - Easy serialization (chunks round-trip through the "RLBC" binary format
//     for caching and for distribution images)
//
// # Architecture Overview
//
//   - Opcodes: ~50 stack-based instructions covering literals, variable
//     access at three resolution levels (local slot, upvalue, global name),
//     arithmetic, control flow, closures, iteration, and pipe concurrency
//     including select multiplexing.
//
//   - Chunk: one function's worth of code plus its constant pool and line
//     table. Function constants nest their own chunks, so a whole program
//     serializes from the top-level function down.
//
//   - Constant: a tagged literal (null, bool, int, float, string) or a
//     compiled Function. Keeping constants distinct from runtime values
//     lets the runtime packages depend on this one without a cycle.
//
// # Encoding
//
// Jump operands are signed 16-bit offsets relative to the byte immediately
// after the operand. Forward jumps are emitted with a 0xFFFF placeholder and
// patched once the target is known. SELECT_RECV carries an extra slot byte
// after its jump offset; its recorded target compensates for that byte so
// all select targets are measured the same way.
package bytecode
