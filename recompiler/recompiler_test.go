package recompiler

import (
	"testing"

	"github.com/kr/pretty"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"

	"github.com/jvipond/smkrecomp/ast"
	"github.com/jvipond/smkrecomp/bin"
)

// emptyProgramDoc builds the scenario-1 document from spec.md §8: a single
// Reset label at the reset address, a Reset function containing it, and no
// instructions.
func emptyProgramDoc() *ast.Document {
	return &ast.Document{
		RomResetFuncName: "Reset",
		RomResetAddr:     0x8000,
		RomNmiFuncName:   "NMI",
		RomIrqFuncName:   "IRQ",
		FunctionNames:    []string{"Reset", "NMI", "IRQ"},
		LabelsToFunctions: map[bin.Addr]map[string]bool{
			0x8000: {"Reset": true},
		},
		Program: []ast.Node{
			ast.Label{Name: "Reset", Offset: 0x8000},
		},
	}
}

func TestTranslateEmptyProgram(t *testing.T) {
	doc := emptyProgramDoc()
	rec := New(doc)
	m, err := rec.Translate(TargetNative)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	resetFunc, ok := findFunc(m, "Reset")
	if !ok {
		t.Fatalf("module has no Reset function: %# v", pretty.Formatter(m.Funcs))
	}
	if len(resetFunc.Blocks) == 0 {
		t.Fatalf("Reset function has no blocks")
	}
	entry := resetFunc.Blocks[0]
	if entry.Term == nil {
		t.Fatalf("Reset entry block has no terminator")
	}
	startFunc, ok := findFunc(m, "start")
	if !ok {
		t.Fatalf("module has no start function")
	}
	if len(startFunc.Blocks) != 1 {
		t.Fatalf("want 1 block in start, got %d", len(startFunc.Blocks))
	}
}

func TestTranslateImmediateLDAThenRTS(t *testing.T) {
	doc := emptyProgramDoc()
	doc.Program = []ast.Node{
		ast.Label{Name: "Reset", Offset: 0x8000},
		ast.Instruction{
			Offset: 0x8000, PC: 0x8000, Text: "LDA #$42",
			Opcode: 0xA9, Operand: 0x42, HasOperand: true, OperandSize: 1,
			MemMode: ast.EightBit, IdxMode: ast.EightBit,
			FuncNames: map[string]bool{"Reset": true},
		},
		ast.Instruction{
			Offset: 0x8001, PC: 0x8001, Text: "RTS",
			Opcode: 0x60,
			FuncNames: map[string]bool{"Reset": true},
		},
	}
	rec := New(doc)
	m, err := rec.Translate(TargetNative)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	resetFunc, ok := findFunc(m, "Reset")
	if !ok {
		t.Fatalf("module has no Reset function")
	}
	for _, b := range resetFunc.Blocks {
		if b.Term == nil {
			t.Errorf("block %v has no terminator", b.Name())
		}
	}
}

// TestTranslateDirectPageAddressingModes exercises LDA dp, STA dp,X,
// LDA (dp),Y, STA (dp,X), LDA [dp], LDA long, and LDA sr,S — opcodes that
// previously fell through to the silently-no-op default case because no
// opcode reached the direct-page/indirect/long/stack-relative addressing
// templates.
func TestTranslateDirectPageAddressingModes(t *testing.T) {
	doc := emptyProgramDoc()
	doc.Program = []ast.Node{
		ast.Label{Name: "Reset", Offset: 0x8000},
		ast.Instruction{
			Offset: 0x8000, PC: 0x8000, Text: "LDA $10",
			Opcode: 0xA5, Operand: 0x10, HasOperand: true, OperandSize: 1,
			FuncNames: map[string]bool{"Reset": true},
		},
		ast.Instruction{
			Offset: 0x8002, PC: 0x8002, Text: "STA $10,X",
			Opcode: 0x95, Operand: 0x10, HasOperand: true, OperandSize: 1,
			FuncNames: map[string]bool{"Reset": true},
		},
		ast.Instruction{
			Offset: 0x8004, PC: 0x8004, Text: "LDA ($10),Y",
			Opcode: 0xB1, Operand: 0x10, HasOperand: true, OperandSize: 1,
			FuncNames: map[string]bool{"Reset": true},
		},
		ast.Instruction{
			Offset: 0x8006, PC: 0x8006, Text: "STA ($10,X)",
			Opcode: 0x81, Operand: 0x10, HasOperand: true, OperandSize: 1,
			FuncNames: map[string]bool{"Reset": true},
		},
		ast.Instruction{
			Offset: 0x8008, PC: 0x8008, Text: "LDA [$10]",
			Opcode: 0xA7, Operand: 0x10, HasOperand: true, OperandSize: 1,
			FuncNames: map[string]bool{"Reset": true},
		},
		ast.Instruction{
			Offset: 0x800A, PC: 0x800A, Text: "LDA $123456",
			Opcode: 0xAF, Operand: 0x123456, HasOperand: true, OperandSize: 3,
			FuncNames: map[string]bool{"Reset": true},
		},
		ast.Instruction{
			Offset: 0x800E, PC: 0x800E, Text: "LDA $10,S",
			Opcode: 0xA3, Operand: 0x10, HasOperand: true, OperandSize: 1,
			FuncNames: map[string]bool{"Reset": true},
		},
		ast.Instruction{
			Offset: 0x8010, PC: 0x8010, Text: "RTS",
			Opcode: 0x60,
			FuncNames: map[string]bool{"Reset": true},
		},
	}
	rec := New(doc)
	m, err := rec.Translate(TargetNative)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	resetFunc, ok := findFunc(m, "Reset")
	if !ok {
		t.Fatalf("module has no Reset function")
	}
	for _, b := range resetFunc.Blocks {
		if b.Term == nil {
			t.Errorf("block %v has no terminator", b.Name())
		}
	}
}

func TestTranslateBlockMoveSplitsOnIndexWidth(t *testing.T) {
	doc := emptyProgramDoc()
	doc.Program = []ast.Node{
		ast.Label{Name: "Reset", Offset: 0x8000},
		ast.Instruction{
			Offset: 0x8000, PC: 0x8000, Text: "MVN $01,$02",
			Opcode: 0x54, Operand: 0x0102, HasOperand: true, OperandSize: 2,
			FuncNames: map[string]bool{"Reset": true},
		},
		ast.Instruction{
			Offset: 0x8002, PC: 0x8002, Text: "RTS",
			Opcode: 0x60,
			FuncNames: map[string]bool{"Reset": true},
		},
	}
	rec := New(doc)
	m, err := rec.Translate(TargetNative)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	resetFunc, ok := findFunc(m, "Reset")
	if !ok {
		t.Fatalf("module has no Reset function")
	}
	var has8bitArm, has16bitArm bool
	for _, b := range resetFunc.Blocks {
		if b.Term == nil {
			t.Errorf("block %v has no terminator", b.Name())
		}
		switch b.Name() {
		case "Reset_mvn_body8":
			has8bitArm = true
		case "Reset_mvn_body16":
			has16bitArm = true
		}
	}
	if !has8bitArm {
		t.Errorf("expected an 8-bit block-move loop body")
	}
	if !has16bitArm {
		t.Errorf("expected a 16-bit block-move loop body")
	}
}

func TestTranslateForwardBranch(t *testing.T) {
	doc := emptyProgramDoc()
	doc.LabelsToFunctions[0x8010] = map[string]bool{"Reset": true}
	doc.Program = []ast.Node{
		ast.Label{Name: "Reset", Offset: 0x8000},
		ast.Instruction{
			Offset: 0x8000, PC: 0x8000, Text: "CMP #$00",
			Opcode: 0xC9, Operand: 0, HasOperand: true, OperandSize: 1,
			MemMode:   ast.EightBit,
			FuncNames: map[string]bool{"Reset": true},
		},
		ast.Instruction{
			Offset: 0x8002, PC: 0x8002, Text: "BEQ Target",
			Opcode: 0xF0, HasJumpLabel: true, JumpLabel: "Target",
			FuncNames: map[string]bool{"Reset": true},
		},
		ast.Label{Name: "Target", Offset: 0x8010},
		ast.Instruction{
			Offset: 0x8010, PC: 0x8010, Text: "RTS",
			Opcode: 0x60,
			FuncNames: map[string]bool{"Reset": true},
		},
	}
	rec := New(doc)
	m, err := rec.Translate(TargetNative)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, ok := findFunc(m, "Reset"); !ok {
		t.Fatalf("module has no Reset function")
	}
	if _, ok := rec.blockFor("Reset", "Target"); !ok {
		t.Errorf("expected a Reset_Target block to exist")
	}
}

func TestTranslateReturnAddressManipulation(t *testing.T) {
	doc := emptyProgramDoc()
	doc.FunctionNames = append(doc.FunctionNames, "F", "G")
	doc.LabelsToFunctions[0x9000] = map[string]bool{"F": true}
	doc.LabelsToFunctions[0x9100] = map[string]bool{"G": true}
	doc.ReturnAddressManipulationFunctions = map[string]bin.Addr{"F": 0x9002}
	doc.OffsetToFunctionName = map[bin.Addr]string{0x9100: "F"}
	doc.Program = []ast.Node{
		ast.Label{Name: "Entry", Offset: 0x9000},
		ast.Instruction{
			Offset: 0x9002, PC: 0x9002, Text: "NOP",
			Opcode: 0xEA,
			FuncNames: map[string]bool{"F": true},
		},
		ast.Instruction{
			Offset: 0x9003, PC: 0x9003, Text: "RTS",
			Opcode: 0x60,
			FuncNames: map[string]bool{"F": true},
		},
		ast.Label{Name: "Entry", Offset: 0x9100},
		ast.Instruction{
			Offset: 0x9100, PC: 0x9100, Text: "JSR F",
			Opcode: 0x20,
			FuncNames: map[string]bool{"G": true},
		},
		ast.Instruction{
			Offset: 0x9103, PC: 0x9103, Text: "RTS",
			Opcode: 0x60,
			FuncNames: map[string]bool{"G": true},
		},
	}
	rec := New(doc)
	m, err := rec.Translate(TargetNative)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	fFunc, ok := findFunc(m, "F")
	if !ok {
		t.Fatalf("module has no F function")
	}
	if !fFunc.Sig.RetType.Equal(types.I1) {
		t.Errorf("F should return i1, got %v", fFunc.Sig.RetType)
	}
}

func findFunc(m *ir.Module, name string) (*ir.Func, bool) {
	for _, f := range m.Funcs {
		if f.Name() == name {
			return f, true
		}
	}
	return nil, false
}
