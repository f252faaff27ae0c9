// Package disasm formats a *bytecode.Program for human inspection. It
// never runs bytecode; it only reads a Program, grounded on the teacher
// repo's pkg/dis disassembler and colorized with github.com/fatih/color.
package disasm

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/stellavm/stellavm/bytecode"
	"github.com/stellavm/stellavm/op"
)

// Row is one disassembled instruction: its offset, opcode name, raw
// operand, and a decoded hint where the operand's meaning is known
// statically (a constant's value, an absolute jump target).
type Row struct {
	Offset     int
	Opcode     op.Code
	Operand    uint32
	Annotation string
}

// Disassemble walks program's instruction list and decodes each operand's
// meaning where the opcode makes that meaning knowable without running
// anything (constant pool lookups, jump targets); opcodes whose operand
// depends on runtime state (local indices, native indices) are annotated
// with their bare index.
func Disassemble(program *bytecode.Program) []Row {
	rows := make([]Row, 0, program.CodeLen())
	for pc := 0; pc < program.CodeLen(); pc++ {
		instr := program.InstructionAt(pc)
		rows = append(rows, Row{
			Offset:     pc,
			Opcode:     instr.Opcode,
			Operand:    instr.Operand,
			Annotation: annotate(program, instr),
		})
	}
	return rows
}

func annotate(program *bytecode.Program, instr bytecode.Instruction) string {
	switch instr.Opcode {
	case op.PushConstant:
		idx := int(instr.Operand)
		if idx < 0 || idx >= program.ConstantLen() {
			return ""
		}
		return fmt.Sprintf("%#v", program.ConstantAt(idx))
	case op.Jump, op.JumpIfTrue:
		return fmt.Sprintf("-> %d", instr.Operand)
	case op.Call:
		idx := int(instr.Operand)
		if idx < 0 || idx >= program.FunctionLen() {
			return ""
		}
		fn := program.FunctionAt(idx)
		return fmt.Sprintf("fn#%d entry=%d arity=%d locals=%d", idx, fn.Entry, fn.Arity, fn.LocalCount)
	case op.CallNative:
		return fmt.Sprintf("native#%d", instr.Operand)
	case op.LoadLocal, op.StoreLocal:
		return fmt.Sprintf("local#%d", instr.Operand)
	default:
		return ""
	}
}

// Print renders rows as an aligned table to w. When color.NoColor is
// false (the package default when w is a terminal), opcode names print in
// one color and annotations in another, following the teacher's
// disassembler's two-tone convention.
func Print(rows []Row, w io.Writer) {
	opcodeColor := color.New(color.FgCyan, color.Bold).SprintFunc()
	annotationColor := color.New(color.FgYellow).SprintFunc()

	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "OFFSET\tOPCODE\tOPERAND\tINFO")
	for _, row := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n",
			row.Offset, opcodeColor(row.Opcode.Name()), row.Operand, annotationColor(row.Annotation))
	}
	tw.Flush()
}
