package recompiler

import (
	"strings"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
)

// setupReturnAddressAllocas allocates the `returnValue` i1 local, initialized
// false, at the front of every return-address-manipulation function's entry
// block. It must run after layoutBlocks (the entry block must exist) and
// before generateCode (emitInstructionForFuncs consults r.returnAddrAllocas
// both to splice the manipulation-site store and to pick ret-i1 over
// ret-void), so the allocation itself is pulled forward of where spec.md's
// pass ordering places it; see DESIGN.md.
func (r *Recompiler) setupReturnAddressAllocas() {
	for funcName := range r.doc.ReturnAddressManipulationFunctions {
		f, ok := r.functions[funcName]
		if !ok || len(f.Blocks) == 0 {
			continue
		}
		entry := f.Blocks[0]
		alloca := ir.NewAlloca(types.I1)
		store := ir.NewStore(constant.NewBool(false), alloca)
		entry.Insts = append([]ir.Instruction{alloca, store}, entry.Insts...)
		r.returnAddrAllocas[funcName] = alloca
	}
}

// finalize runs the remaining Control-Flow Finalizer passes (spec.md §4.E):
// the function-entry invariant, then NMI and IRQ entry construction. The
// return-address rewrite (pass 4) is folded into generateCode: see
// setupReturnAddressAllocas and emitCallWithUnwindCheck.
func (r *Recompiler) finalize() {
	r.functionEntryInvariant()
	r.nmiEntryConstruction()
	r.irqEntryConstruction()
}

// functionEntryInvariant implements pass 1: any function whose entry block
// has one or more predecessors gets a fresh synthetic entry prepended that
// unconditionally branches to the former entry (spec.md invariant 3).
func (r *Recompiler) functionEntryInvariant() {
	for _, f := range r.functions {
		r.ensureEntryHasNoPredecessors(f)
	}
}

func (r *Recompiler) ensureEntryHasNoPredecessors(f *ir.Func) {
	if f == nil || len(f.Blocks) == 0 {
		return
	}
	entry := f.Blocks[0]
	if predecessorCount(f, entry) == 0 {
		return
	}
	synthetic := f.NewBlock("")
	synthetic.NewBr(entry)
	moveBlockToFront(f, synthetic)
}

// predecessorCount counts blocks in f whose terminator targets entry.
func predecessorCount(f *ir.Func, entry *ir.Block) int {
	count := 0
	for _, b := range f.Blocks {
		if b == entry || b.Term == nil {
			continue
		}
		for _, succ := range b.Term.Succs() {
			if succ == entry {
				count++
			}
		}
	}
	return count
}

// nmiEntryConstruction implements pass 2: prepends an entry block to the NMI
// function that pushes PB, PC-high, PC-low, and the packed P byte, then
// injects the doPPUFrame/NMI-call pair at the wait-for-vblank site in every
// function that contains it.
func (r *Recompiler) nmiEntryConstruction() {
	nmiFunc, ok := r.functions[r.doc.RomNmiFuncName]
	if !ok {
		warn.Printf("rom_nmi_func_name %q not found among function_names", r.doc.RomNmiFuncName)
	} else {
		r.prependInterruptPrologue(nmiFunc)
	}
	r.injectVBlankCall(nmiFunc)
}

// irqEntryConstruction implements pass 3: identical to the NMI prologue,
// without the vblank injection.
func (r *Recompiler) irqEntryConstruction() {
	irqFunc, ok := r.functions[r.doc.RomIrqFuncName]
	if !ok {
		warn.Printf("rom_irq_func_name %q not found among function_names", r.doc.RomIrqFuncName)
		return
	}
	r.prependInterruptPrologue(irqFunc)
}

// prependInterruptPrologue pushes PB, PC-high, PC-low, and the packed P
// byte onto the stack in a fresh entry block branching into the function's
// former entry.
func (r *Recompiler) prependInterruptPrologue(f *ir.Func) {
	if len(f.Blocks) == 0 {
		return
	}
	formerEntry := f.Blocks[0]
	prologue := f.NewBlock("")
	r.selectBlock(prologue)

	r.pushByte(r.readRegister8(r.PB))
	pc := r.readRegister16(r.PC)
	pcHigh := r.convertTo8(r.cur.NewLShr(pc, getConstant(types.I16, 8)))
	r.pushByte(pcHigh)
	r.pushByte(r.convertTo8(pc))
	r.pushByte(r.packStatusByte())

	r.cur.NewBr(formerEntry)
	moveBlockToFront(f, prologue)
}

// injectVBlankCall inserts, at the head of every function's
// "<func>_CODE_80805C" block (the known wait-for-vblank site carried from
// the original source), a call to doPPUFrame followed by a direct call to
// nmiFunc — the per-frame PPU tick the emulation-mode idle loop otherwise
// never gets (spec.md §4.E pass 2).
func (r *Recompiler) injectVBlankCall(nmiFunc *ir.Func) {
	if nmiFunc == nil {
		return
	}
	suffix := "_" + waitForVBlankLabel
	for name, block := range r.blocks {
		if !strings.HasSuffix(name, suffix) {
			continue
		}
		ppuCall := ir.NewCall(r.doPPUFrame)
		nmiCall := ir.NewCall(nmiFunc)
		block.Insts = append([]ir.Instruction{ppuCall, nmiCall}, block.Insts...)
	}
}
