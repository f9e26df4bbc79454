package recompiler

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/jvipond/smkrecomp/ast"
)

// busRead8 calls the read8 helper at a 24-bit bus address.
func (r *Recompiler) busRead8(addr value.Value) value.Value {
	return r.cur.NewCall(r.read8, addr)
}

// busWrite8 calls the write8 helper at a 24-bit bus address.
func (r *Recompiler) busWrite8(addr, v value.Value) {
	r.cur.NewCall(r.write8, addr, v)
}

// busRead16 reads two consecutive bus bytes (low, then low+1) and combines
// them little-endian.
func (r *Recompiler) busRead16(addr value.Value) value.Value {
	low := r.busRead8(addr)
	addrHi := r.cur.NewAdd(addr, getConstant(types.I32, 1))
	high := r.busRead8(addrHi)
	return r.combineTo16(low, high)
}

// busWrite16 writes v (i16) as two consecutive bus bytes, low first then
// high, matching the corrected InstructionStackWrite16 ordering noted in
// DESIGN.md's open-question resolutions (the original writes low8 twice).
func (r *Recompiler) busWrite16(addr, v value.Value) {
	low := r.convertTo8(v)
	r.busWrite8(addr, low)
	highShifted := r.cur.NewLShr(v, getConstant(types.I16, 8))
	high := r.convertTo8(highShifted)
	addrHi := r.cur.NewAdd(addr, getConstant(types.I32, 1))
	r.busWrite8(addrHi, high)
}

// directEffectiveAddr16 computes the direct-page effective 16-bit offset for
// operand under both native-mode and emulation-mode-with-DP-low-zero
// semantics, φ-merging the two paths (spec.md §4.D "Direct-mode reads").
func (r *Recompiler) directEffectiveAddr16(operand value.Value) value.Value {
	dp := r.readRegister16(r.DP)
	ef := r.readFlag(r.EF)
	dpLow := r.convertTo8(dp)
	dpLowIsZero := r.cur.NewICmp(enum.IPredEQ, dpLow, getConstant(types.I8, 0))
	selector := r.cur.NewAnd(ef, dpLowIsZero)

	wrapBlock, linearBlock, contBlock := r.newThreeBlocks("direct_wrap", "direct_linear", "direct_cont")
	r.cur.NewCondBr(selector, wrapBlock, linearBlock)

	r.selectBlock(wrapBlock)
	dpHigh := r.cur.NewAnd(dp, getConstant(types.I16, 0xff00))
	sum := r.cur.NewAdd(dpLow, r.convertTo8(operand))
	wrapped := r.cur.NewZExt(sum, types.I16)
	wrapAddr := r.cur.NewOr(dpHigh, wrapped)
	wrapFromBlock := r.cur
	r.joinTo(contBlock)

	r.selectBlock(linearBlock)
	operand16 := r.widenTo16(operand)
	linearSum := r.cur.NewAdd(dp, operand16)
	linearAddr := r.cur.NewAnd(linearSum, getConstant(types.I16, 0xffff))
	linearFromBlock := r.cur
	r.joinTo(contBlock)

	r.selectBlock(contBlock)
	phi := contBlock.NewPhi(
		ir.NewIncoming(wrapAddr, wrapFromBlock),
		ir.NewIncoming(linearAddr, linearFromBlock),
	)
	return phi
}

// widenTo16 zero-extends an i8 value to i16, or returns v unchanged if
// already i16.
func (r *Recompiler) widenTo16(v value.Value) value.Value {
	if v.Type().Equal(types.I16) {
		return v
	}
	return r.cur.NewZExt(v, types.I16)
}

// widenTo32 zero-extends an i8 or i16 value to i32.
func (r *Recompiler) widenTo32(v value.Value) value.Value {
	if v.Type().Equal(types.I32) {
		return v
	}
	return r.cur.NewZExt(v, types.I32)
}

// newThreeBlocks is a convenience wrapper around three consecutive newBlock
// calls, used by the addressing-mode templates' multi-arm splits.
func (r *Recompiler) newThreeBlocks(a, b, c string) (*ir.Block, *ir.Block, *ir.Block) {
	return r.newBlock(a), r.newBlock(b), r.newBlock(c)
}

// directBankAddr combines a direct-page 16-bit offset with the data bank
// into a 24-bit bus address.
func (r *Recompiler) directBankAddr(operand value.Value) value.Value {
	offset := r.directEffectiveAddr16(operand)
	db := r.readRegister8(r.DB)
	return r.combineTo32(offset, db)
}

// directIndexedAddr adds an index register (X or Y, width per XF) to the
// direct-page effective address before combining with DB.
func (r *Recompiler) directIndexedAddr(operand value.Value, index *ir.Global) value.Value {
	offset := r.directEffectiveAddr16(operand)
	idx := r.readRegister16(index)
	summed := r.cur.NewAnd(r.cur.NewAdd(offset, idx), getConstant(types.I16, 0xffff))
	db := r.readRegister8(r.DB)
	return r.combineTo32(summed, db)
}

// indirectAddr reads the two bytes at the direct-page address and combines
// them with DB into a bank address ("Indirect (d)").
func (r *Recompiler) indirectAddr(operand value.Value) value.Value {
	ptrAddr := r.directBankAddr(operand)
	ptr16 := r.busRead16(ptrAddr)
	db := r.readRegister8(r.DB)
	return r.combineTo32(ptr16, db)
}

// indexedIndirectAddr implements "(d,X)": the direct-page pointer is read
// after adding X to the direct-page offset.
func (r *Recompiler) indexedIndirectAddr(operand value.Value) value.Value {
	ptrAddr := r.directIndexedAddr(operand, r.X)
	ptr16 := r.busRead16(ptrAddr)
	db := r.readRegister8(r.DB)
	return r.combineTo32(ptr16, db)
}

// indirectIndexedAddr implements "(d),Y": the direct-page pointer is read
// first, then Y is added to the resulting bank address.
func (r *Recompiler) indirectIndexedAddr(operand value.Value) value.Value {
	ptrAddr := r.directBankAddr(operand)
	ptr16 := r.busRead16(ptrAddr)
	db := r.readRegister8(r.DB)
	base := r.combineTo32(ptr16, db)
	y := r.readRegister16(r.Y)
	return r.cur.NewAdd(base, r.widenTo32(y))
}

// indirectLongAddr implements "[d]": a 3-byte pointer at the direct page
// gives a full long address, optionally indexed by Y.
func (r *Recompiler) indirectLongAddr(operand value.Value, indexByY bool) value.Value {
	ptrAddr := r.directBankAddr(operand)
	low := r.busRead8(ptrAddr)
	high := r.busRead8(r.cur.NewAdd(ptrAddr, getConstant(types.I32, 1)))
	bank := r.busRead8(r.cur.NewAdd(ptrAddr, getConstant(types.I32, 2)))
	addr16 := r.combineTo16(low, high)
	full := r.combineTo32(addr16, bank)
	if indexByY {
		y := r.readRegister16(r.Y)
		full = r.cur.NewAdd(full, r.widenTo32(y))
	}
	return full
}

// bankAddr implements absolute addressing: (DB<<16)+operand16, optionally
// indexed.
func (r *Recompiler) bankAddr(operand value.Value, index *ir.Global) value.Value {
	db := r.readRegister8(r.DB)
	base := r.combineTo32(operand, db)
	if index != nil {
		idx := r.readRegister16(index)
		base = r.cur.NewAdd(base, r.widenTo32(idx))
	}
	return base
}

// longAddr implements "addr,l": operand24&0xffffff, optionally +X.
func (r *Recompiler) longAddr(operand24 value.Value, indexByX bool) value.Value {
	masked := r.cur.NewAnd(operand24, getConstant(types.I32, 0xffffff))
	if indexByX {
		x := r.readRegister16(r.X)
		masked = r.cur.NewAdd(masked, r.widenTo32(x))
	}
	return masked
}

// stackAddr implements "sr,S": (SP+operand8)&0xffff, bank 0.
func (r *Recompiler) stackAddr(operand8 value.Value) value.Value {
	sp := r.readRegister16(r.SP)
	sum := r.cur.NewAnd(r.cur.NewAdd(sp, r.widenTo16(operand8)), getConstant(types.I16, 0xffff))
	return r.widenTo32(sum)
}

// indirectStackAddr implements "(sr,S),Y": two bytes at the stack address,
// then +Y in bank 0.
func (r *Recompiler) indirectStackAddr(operand8 value.Value) value.Value {
	ptrAddr := r.stackAddr(operand8)
	ptr16 := r.busRead16(ptrAddr)
	base := r.widenTo32(ptr16)
	y := r.readRegister16(r.Y)
	return r.cur.NewAdd(base, r.widenTo32(y))
}

// The operandAddr family adapts an instruction's raw operand field through
// the addressing-mode templates above, so dispatchALUAddr/dispatchLoadAddr/
// dispatchStoreAddr/dispatchRMWAddr (opdispatch.go) can take a uniform
// func(ast.Instruction) value.Value regardless of which of the spec.md
// §4.D addressing-mode rows an opcode uses.

// directOperandAddr adapts "dp" (index nil) and "dp,X"/"dp,Y" (index set).
func (r *Recompiler) directOperandAddr(inst ast.Instruction, index *ir.Global) value.Value {
	operand := getConstant(types.I16, int64(inst.Operand))
	if index != nil {
		return r.directIndexedAddr(operand, index)
	}
	return r.directBankAddr(operand)
}

// indirectOperandAddr adapts "(dp)".
func (r *Recompiler) indirectOperandAddr(inst ast.Instruction) value.Value {
	return r.indirectAddr(getConstant(types.I16, int64(inst.Operand)))
}

// indexedIndirectOperandAddr adapts "(dp,X)".
func (r *Recompiler) indexedIndirectOperandAddr(inst ast.Instruction) value.Value {
	return r.indexedIndirectAddr(getConstant(types.I16, int64(inst.Operand)))
}

// indirectIndexedOperandAddr adapts "(dp),Y".
func (r *Recompiler) indirectIndexedOperandAddr(inst ast.Instruction) value.Value {
	return r.indirectIndexedAddr(getConstant(types.I16, int64(inst.Operand)))
}

// indirectLongOperandAddr adapts "[dp]" (indexByY false) and "[dp],Y"
// (indexByY true).
func (r *Recompiler) indirectLongOperandAddr(inst ast.Instruction, indexByY bool) value.Value {
	return r.indirectLongAddr(getConstant(types.I16, int64(inst.Operand)), indexByY)
}

// longOperandAddr adapts "addr,l" (indexByX false) and "addr,l,X" (indexByX
// true).
func (r *Recompiler) longOperandAddr(inst ast.Instruction, indexByX bool) value.Value {
	return r.longAddr(getConstant(types.I32, int64(inst.Operand)), indexByX)
}

// stackOperandAddr adapts "sr,S".
func (r *Recompiler) stackOperandAddr(inst ast.Instruction) value.Value {
	return r.stackAddr(getConstant(types.I8, int64(inst.Operand)))
}

// indirectStackOperandAddr adapts "(sr,S),Y".
func (r *Recompiler) indirectStackOperandAddr(inst ast.Instruction) value.Value {
	return r.indirectStackAddr(getConstant(types.I8, int64(inst.Operand)))
}
