package recompiler

import (
	"testing"

	"github.com/llir/llvm/ir"

	"github.com/jvipond/smkrecomp/ast"
	"github.com/jvipond/smkrecomp/bin"
)

// TestNMIWiringInjectsVBlankCall covers spec.md §8 scenario 6: a function
// containing the wait-for-vblank label gets doPPUFrame and NMI calls
// prepended to that block.
func TestNMIWiringInjectsVBlankCall(t *testing.T) {
	doc := &ast.Document{
		RomResetFuncName: "Reset",
		RomNmiFuncName:   "NMI",
		RomIrqFuncName:   "IRQ",
		FunctionNames:    []string{"Reset", "NMI", "IRQ", "MainLoop"},
		LabelsToFunctions: map[bin.Addr]map[string]bool{
			0x8000:              {"Reset": true},
			waitForVBlankOffset: {"MainLoop": true},
		},
		Program: []ast.Node{
			ast.Label{Name: "Reset", Offset: 0x8000},
			ast.Instruction{
				Offset: 0x8000, PC: 0x8000, Opcode: 0x60, Text: "RTS",
				FuncNames: map[string]bool{"Reset": true},
			},
			ast.Label{Name: waitForVBlankLabel, Offset: waitForVBlankOffset},
			ast.Instruction{
				Offset: waitForVBlankOffset, PC: waitForVBlankOffset, Opcode: 0x60, Text: "RTS",
				FuncNames: map[string]bool{"MainLoop": true},
			},
		},
	}
	rec := New(doc)
	_, err := rec.Translate(TargetNative)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	block, ok := rec.blockFor("MainLoop", waitForVBlankLabel)
	if !ok {
		t.Fatalf("expected MainLoop_%s block", waitForVBlankLabel)
	}
	if len(block.Insts) < 2 {
		t.Fatalf("expected at least 2 prepended calls, got %d instructions", len(block.Insts))
	}
	if call, ok := block.Insts[0].(*ir.InstCall); !ok || call.Callee != rec.doPPUFrame {
		t.Errorf("expected first instruction to call doPPUFrame, got %T", block.Insts[0])
	}
	if call, ok := block.Insts[1].(*ir.InstCall); !ok || call.Callee != rec.functions["NMI"] {
		t.Errorf("expected second instruction to call NMI, got %T", block.Insts[1])
	}
}

// TestFunctionEntryInvariantAddsSyntheticEntry covers invariant 3: if label
// layout leaves the nominal entry block with a predecessor, a synthetic
// entry is prepended.
func TestFunctionEntryInvariantAddsSyntheticEntry(t *testing.T) {
	doc := &ast.Document{
		RomResetFuncName: "Reset",
		RomNmiFuncName:   "NMI",
		RomIrqFuncName:   "IRQ",
		FunctionNames:    []string{"Reset", "NMI", "IRQ"},
		LabelsToFunctions: map[bin.Addr]map[string]bool{
			0x8000: {"Reset": true},
			0x8010: {"Reset": false},
		},
		Program: []ast.Node{
			ast.Label{Name: "Entry", Offset: 0x8000},
			ast.Instruction{
				Offset: 0x8000, PC: 0x8000, Opcode: 0x80, Text: "BRA Loop",
				HasJumpLabel: true, JumpLabel: "Loop",
				FuncNames: map[string]bool{"Reset": true},
			},
			ast.Label{Name: "Loop", Offset: 0x8010},
			ast.Instruction{
				Offset: 0x8010, PC: 0x8010, Opcode: 0x80, Text: "BRA Entry",
				HasJumpLabel: true, JumpLabel: "Entry",
				FuncNames: map[string]bool{"Reset": true},
			},
		},
	}
	rec := New(doc)
	_, err := rec.Translate(TargetNative)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	resetFunc := rec.functions["Reset"]
	entry := resetFunc.Blocks[0]
	if predecessorCount(resetFunc, entry) != 0 {
		t.Errorf("expected synthetic entry to have zero predecessors")
	}
}
