package recompiler

import (
	"testing"

	"github.com/jvipond/smkrecomp/ast"
	"github.com/jvipond/smkrecomp/bin"
)

func TestLayoutBlocksOneBlockPerFunctionLabelPair(t *testing.T) {
	doc := &ast.Document{
		RomResetFuncName: "A",
		RomNmiFuncName:   "NMI",
		RomIrqFuncName:   "IRQ",
		FunctionNames:    []string{"A", "B", "NMI", "IRQ"},
		LabelsToFunctions: map[bin.Addr]map[string]bool{
			0x8000: {"A": true, "B": true},
		},
		Program: []ast.Node{
			ast.Label{Name: "Shared", Offset: 0x8000},
		},
	}
	rec := New(doc)
	rec.newModule(TargetNative)
	rec.layoutBlocks()

	if _, ok := rec.blockFor("A", "Shared"); !ok {
		t.Errorf("expected A_Shared block")
	}
	if _, ok := rec.blockFor("B", "Shared"); !ok {
		t.Errorf("expected B_Shared block")
	}
	if got, want := len(rec.blocks), 2; got != want {
		t.Errorf("want %d blocks, got %d", want, got)
	}
}

func TestLayoutBlocksIdempotentAcrossFreshContexts(t *testing.T) {
	doc := &ast.Document{
		RomResetFuncName: "A",
		RomNmiFuncName:   "NMI",
		RomIrqFuncName:   "IRQ",
		FunctionNames:    []string{"A", "NMI", "IRQ"},
		LabelsToFunctions: map[bin.Addr]map[string]bool{
			0x8000: {"A": true},
			0x8010: {"A": false},
		},
		Program: []ast.Node{
			ast.Label{Name: "Entry", Offset: 0x8000},
			ast.Label{Name: "Mid", Offset: 0x8010},
		},
	}

	names := func() map[string]bool {
		rec := New(doc)
		rec.newModule(TargetNative)
		rec.layoutBlocks()
		out := make(map[string]bool, len(rec.blocks))
		for name := range rec.blocks {
			out[name] = true
		}
		return out
	}

	first := names()
	second := names()
	if len(first) != len(second) {
		t.Fatalf("block sets differ in size: %d vs %d", len(first), len(second))
	}
	for name := range first {
		if !second[name] {
			t.Errorf("block %q present in first run, missing in second", name)
		}
	}
}
