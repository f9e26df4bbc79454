package recompiler

import (
	"fmt"

	"github.com/llir/llvm/ir"

	"github.com/jvipond/smkrecomp/ast"
)

// qualifiedBlockName returns the "<func>_<label>" name a label's block takes
// inside a given function, per spec.md §3's "distinct basic blocks" invariant.
func qualifiedBlockName(funcName, labelName string) string {
	return fmt.Sprintf("%s_%s", funcName, labelName)
}

// layoutBlocks is component C: for every Label node, for every
// (func_name, is_entry) pair naming it in labels_to_functions, creates a
// basic block in that function's body. A label occurring in N functions
// therefore produces N distinct blocks (spec.md invariant 5).
//
// Running this twice over the same document produces byte-identical block
// layout (modulo a fresh IR context): the loop only consults r.doc and
// r.functions, both immutable for the duration of a Translate call.
func (r *Recompiler) layoutBlocks() {
	for _, node := range r.doc.Program {
		lbl, ok := node.(ast.Label)
		if !ok {
			continue
		}
		membership := r.doc.LabelsToFunctions[lbl.Offset]
		for funcName, isEntry := range membership {
			f, ok := r.functions[funcName]
			if !ok {
				warn.Printf("labels_to_functions references unknown function %q at label %q", funcName, lbl.Name)
				continue
			}
			name := qualifiedBlockName(funcName, lbl.Name)
			b := f.NewBlock(name)
			r.blocks[name] = b
			if isEntry {
				moveBlockToFront(f, b)
			}
		}
	}
}

// moveBlockToFront relocates b to the front of f's block list, establishing
// it as the function's entry block (spec.md §4.C).
func moveBlockToFront(f *ir.Func, b *ir.Block) {
	blocks := f.Blocks
	idx := -1
	for i, cur := range blocks {
		if cur == b {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return
	}
	reordered := make([]*ir.Block, 0, len(blocks))
	reordered = append(reordered, b)
	reordered = append(reordered, blocks[:idx]...)
	reordered = append(reordered, blocks[idx+1:]...)
	f.Blocks = reordered
}

// blockFor looks up the qualified block for a label inside a function,
// reporting whether it exists (it may not, if the AST names a function/label
// pair absent from labels_to_functions — an inconsistent-AST condition
// handled by the caller per spec.md §7).
func (r *Recompiler) blockFor(funcName, labelName string) (*ir.Block, bool) {
	b, ok := r.blocks[qualifiedBlockName(funcName, labelName)]
	return b, ok
}
