package recompiler

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/jvipond/smkrecomp/ast"
)

// dispatchALUImmediate implements Layer 1's addressing-mode template for an
// immediate operand feeding an ALU op: branch on the mode flag, compute in
// each arm, write back into the accumulator-class register if writeback is
// true (BIT/CMP do not write back), then join (spec.md §4.D Layer 1).
func (r *Recompiler) dispatchALUImmediate(funcName string, inst ast.Instruction, mode RegisterModeFlag, op8 Op8, op16 Op16, writeback bool) {
	eight, sixteen, cont := r.registerFlagTestBlock(mode, funcName+"_alu_imm")

	r.selectBlock(eight)
	acc8 := r.readRegister8(r.A, false)
	result8 := r.applyOp8(op8, acc8, getConstant(types.I8, int64(inst.Operand)))
	if writeback {
		r.writeRegister8(r.A, false, result8)
	}
	r.joinTo(cont)

	r.selectBlock(sixteen)
	acc16 := r.readRegister16(r.A)
	result16 := r.applyOp16(op16, acc16, getConstant(types.I16, int64(inst.Operand)))
	if writeback {
		r.writeRegister16(r.A, result16)
	}
	r.joinTo(cont)

	r.setCursor(funcName, cont)
}

// dispatchCompareImmediate implements CPX/CPY #imm, compared against reg
// (X or Y) under the X mode flag.
func (r *Recompiler) dispatchCompareImmediate(funcName string, inst ast.Instruction, mode RegisterModeFlag, reg *ir.Global) {
	eight, sixteen, cont := r.registerFlagTestBlock(mode, funcName+"_cmp_imm")

	r.selectBlock(eight)
	v8 := r.convertTo8(r.readRegister16(reg))
	r.applyOp8(OpCmp8, v8, getConstant(types.I8, int64(inst.Operand)))
	r.joinTo(cont)

	r.selectBlock(sixteen)
	v16 := r.readRegister16(reg)
	r.applyOp16(OpCmp16, v16, getConstant(types.I16, int64(inst.Operand)))
	r.joinTo(cont)

	r.setCursor(funcName, cont)
}

// dispatchALUBank implements an absolute-mode (optionally indexed) ALU op
// reading its operand from the bus via read8/read8+read8.
func (r *Recompiler) dispatchALUBank(funcName string, inst ast.Instruction, mode RegisterModeFlag, op8 Op8, op16 Op16, index *ir.Global) {
	eight, sixteen, cont := r.registerFlagTestBlock(mode, funcName+"_alu_bank")

	r.selectBlock(eight)
	addr8 := r.bankAddr(getConstant(types.I16, int64(inst.Operand)), index)
	operand8 := r.busRead8(addr8)
	acc8 := r.readRegister8(r.A, false)
	result8 := r.applyOp8(op8, acc8, operand8)
	r.writeRegister8(r.A, false, result8)
	r.joinTo(cont)

	r.selectBlock(sixteen)
	addr16 := r.bankAddr(getConstant(types.I16, int64(inst.Operand)), index)
	operand16 := r.busRead16(addr16)
	acc16 := r.readRegister16(r.A)
	result16 := r.applyOp16(op16, acc16, operand16)
	r.writeRegister16(r.A, result16)
	r.joinTo(cont)

	r.setCursor(funcName, cont)
}

// dispatchRMWBank implements an absolute-mode read-modify-write op (ASL,
// LSR, ROL, ROR, DEC, INC, TRB, TSB) on memory; the accumulator is passed
// along as the bit mask TRB/TSB apply, and the other ops ignore it.
func (r *Recompiler) dispatchRMWBank(funcName string, inst ast.Instruction, op8 Op8, op16 Op16, index *ir.Global) {
	eight, sixteen, cont := r.registerFlagTestBlock(ModeFlagM, funcName+"_rmw_bank")

	r.selectBlock(eight)
	addr8 := r.bankAddr(getConstant(types.I16, int64(inst.Operand)), index)
	v8 := r.busRead8(addr8)
	acc8 := r.readRegister8(r.A, false)
	result8 := r.applyOp8(op8, acc8, v8)
	r.busWrite8(addr8, result8)
	r.joinTo(cont)

	r.selectBlock(sixteen)
	addr16 := r.bankAddr(getConstant(types.I16, int64(inst.Operand)), index)
	v16 := r.busRead16(addr16)
	acc16 := r.readRegister16(r.A)
	result16 := r.applyOp16(op16, acc16, v16)
	r.busWrite16(addr16, result16)
	r.joinTo(cont)

	r.setCursor(funcName, cont)
}

// dispatchALUAddr is the addressing-mode-generic form of dispatchALUBank:
// addr is invoked once per width arm (rather than precomputed once) since an
// addressing-mode template may itself branch on a mode flag, as direct-page
// addressing does on EF (directEffectiveAddr16).
func (r *Recompiler) dispatchALUAddr(funcName string, inst ast.Instruction, mode RegisterModeFlag, op8 Op8, op16 Op16, addr func(ast.Instruction) value.Value) {
	eight, sixteen, cont := r.registerFlagTestBlock(mode, funcName+"_alu")

	r.selectBlock(eight)
	operand8 := r.busRead8(addr(inst))
	acc8 := r.readRegister8(r.A, false)
	result8 := r.applyOp8(op8, acc8, operand8)
	r.writeRegister8(r.A, false, result8)
	r.joinTo(cont)

	r.selectBlock(sixteen)
	operand16 := r.busRead16(addr(inst))
	acc16 := r.readRegister16(r.A)
	result16 := r.applyOp16(op16, acc16, operand16)
	r.writeRegister16(r.A, result16)
	r.joinTo(cont)

	r.setCursor(funcName, cont)
}

// dispatchLoadAddr mirrors dispatchLoadBank for addressing modes other than
// absolute.
func (r *Recompiler) dispatchLoadAddr(funcName string, inst ast.Instruction, reg *ir.Global, mode RegisterModeFlag, addr func(ast.Instruction) value.Value) {
	eight, sixteen, cont := r.registerFlagTestBlock(mode, funcName+"_load")

	r.selectBlock(eight)
	v8 := r.busRead8(addr(inst))
	r.writeRegister8(reg, false, v8)
	r.updateNZ8(v8)
	r.joinTo(cont)

	r.selectBlock(sixteen)
	v16 := r.busRead16(addr(inst))
	r.writeRegister16(reg, v16)
	r.updateNZ16(v16)
	r.joinTo(cont)

	r.setCursor(funcName, cont)
}

// dispatchStoreAddr mirrors dispatchStoreBank for addressing modes other
// than absolute.
func (r *Recompiler) dispatchStoreAddr(funcName string, inst ast.Instruction, reg *ir.Global, mode RegisterModeFlag, addr func(ast.Instruction) value.Value) {
	eight, sixteen, cont := r.registerFlagTestBlock(mode, funcName+"_store")

	r.selectBlock(eight)
	r.busWrite8(addr(inst), r.readRegister8(reg, false))
	r.joinTo(cont)

	r.selectBlock(sixteen)
	r.busWrite16(addr(inst), r.readRegister16(reg))
	r.joinTo(cont)

	r.setCursor(funcName, cont)
}

// dispatchRMWAddr mirrors dispatchRMWBank for addressing modes other than
// absolute (e.g. direct-page INC/DEC/ASL/...).
func (r *Recompiler) dispatchRMWAddr(funcName string, inst ast.Instruction, op8 Op8, op16 Op16, addr func(ast.Instruction) value.Value) {
	eight, sixteen, cont := r.registerFlagTestBlock(ModeFlagM, funcName+"_rmw")

	r.selectBlock(eight)
	addr8 := addr(inst)
	v8 := r.busRead8(addr8)
	result8 := r.applyOp8(op8, v8, v8)
	r.busWrite8(addr8, result8)
	r.joinTo(cont)

	r.selectBlock(sixteen)
	addr16 := addr(inst)
	v16 := r.busRead16(addr16)
	result16 := r.applyOp16(op16, v16, v16)
	r.busWrite16(addr16, result16)
	r.joinTo(cont)

	r.setCursor(funcName, cont)
}

// dispatchRMWAccumulator implements the accumulator-addressed forms of
// ASL/LSR/ROL/ROR/INC/DEC (no memory operand).
func (r *Recompiler) dispatchRMWAccumulator(op8 Op8, op16 Op16) {
	mf := r.readFlag(r.MF)
	eight, sixteen := r.condTestThenElse(mf, "rmw_acc_8bit", "rmw_acc_16bit")
	cont := r.newBlock("rmw_acc_cont")

	r.selectBlock(eight)
	v8 := r.readRegister8(r.A, false)
	result8 := r.applyOp8(op8, v8, v8)
	r.writeRegister8(r.A, false, result8)
	r.joinTo(cont)

	r.selectBlock(sixteen)
	v16 := r.readRegister16(r.A)
	result16 := r.applyOp16(op16, v16, v16)
	r.writeRegister16(r.A, result16)
	r.joinTo(cont)

	r.selectBlock(cont)
}

// dispatchLoadImmediate implements LDA/LDX/LDY #imm.
func (r *Recompiler) dispatchLoadImmediate(funcName string, inst ast.Instruction, reg *ir.Global, mode RegisterModeFlag) {
	eight, sixteen, cont := r.registerFlagTestBlock(mode, funcName+"_load_imm")

	r.selectBlock(eight)
	v8 := getConstant(types.I8, int64(inst.Operand))
	r.writeRegister8(reg, false, v8)
	r.updateNZ8(v8)
	r.joinTo(cont)

	r.selectBlock(sixteen)
	v16 := getConstant(types.I16, int64(inst.Operand))
	r.writeRegister16(reg, v16)
	r.updateNZ16(v16)
	r.joinTo(cont)

	r.setCursor(funcName, cont)
}

// dispatchLoadBank implements LDA/LDX/LDY addr[,index].
func (r *Recompiler) dispatchLoadBank(funcName string, inst ast.Instruction, reg *ir.Global, mode RegisterModeFlag, index *ir.Global) {
	eight, sixteen, cont := r.registerFlagTestBlock(mode, funcName+"_load_bank")

	r.selectBlock(eight)
	addr8 := r.bankAddr(getConstant(types.I16, int64(inst.Operand)), index)
	v8 := r.busRead8(addr8)
	r.writeRegister8(reg, false, v8)
	r.updateNZ8(v8)
	r.joinTo(cont)

	r.selectBlock(sixteen)
	addr16 := r.bankAddr(getConstant(types.I16, int64(inst.Operand)), index)
	v16 := r.busRead16(addr16)
	r.writeRegister16(reg, v16)
	r.updateNZ16(v16)
	r.joinTo(cont)

	r.setCursor(funcName, cont)
}

// dispatchStoreBank implements STA/STX/STY addr[,index].
func (r *Recompiler) dispatchStoreBank(funcName string, inst ast.Instruction, reg *ir.Global, mode RegisterModeFlag, index *ir.Global) {
	eight, sixteen, cont := r.registerFlagTestBlock(mode, funcName+"_store_bank")

	r.selectBlock(eight)
	addr8 := r.bankAddr(getConstant(types.I16, int64(inst.Operand)), index)
	r.busWrite8(addr8, r.readRegister8(reg, false))
	r.joinTo(cont)

	r.selectBlock(sixteen)
	addr16 := r.bankAddr(getConstant(types.I16, int64(inst.Operand)), index)
	r.busWrite16(addr16, r.readRegister16(reg))
	r.joinTo(cont)

	r.setCursor(funcName, cont)
}

// dispatchStoreZeroBank implements STZ addr[,index]: always writes zero,
// regardless of register contents.
func (r *Recompiler) dispatchStoreZeroBank(funcName string, inst ast.Instruction, mode RegisterModeFlag, index *ir.Global) {
	eight, sixteen, cont := r.registerFlagTestBlock(mode, funcName+"_stz_bank")

	r.selectBlock(eight)
	addr8 := r.bankAddr(getConstant(types.I16, int64(inst.Operand)), index)
	r.busWrite8(addr8, getConstant(types.I8, 0))
	r.joinTo(cont)

	r.selectBlock(sixteen)
	addr16 := r.bankAddr(getConstant(types.I16, int64(inst.Operand)), index)
	r.busWrite16(addr16, getConstant(types.I16, 0))
	r.joinTo(cont)

	r.setCursor(funcName, cont)
}

// dispatchStatusMask implements REP/SEP: masks P through the operand byte
// (set bits are cleared for REP, set for SEP), writes P back, then
// repopulates the eight flag globals and re-establishes invariant 4.
func (r *Recompiler) dispatchStatusMask(inst ast.Instruction, set bool) {
	mask := getConstant(types.I8, int64(inst.Operand))
	p := r.readRegister8(r.P)
	var newP value.Value
	if set {
		newP = r.cur.NewOr(p, mask)
	} else {
		inverted := r.cur.NewXor(mask, getConstant(types.I8, -1))
		newP = r.cur.NewAnd(p, inverted)
	}
	r.writeRegister8(r.P, newP)
	r.unpackStatusByte(newP)
}

// transfer copies src's value into dst, sized per mode, and updates NZ.
func (r *Recompiler) transfer(src, dst *ir.Global, mode *ir.Global) {
	isEight := r.readFlag(mode)
	then, els := r.condTestThenElse(isEight, "xfer_8bit", "xfer_16bit")
	cont := r.newBlock("xfer_cont")

	r.selectBlock(then)
	v8 := r.convertTo8(r.readRegister16(src))
	r.writeRegister16(dst, r.widenTo16(v8))
	r.updateNZ8(v8)
	r.joinTo(cont)

	r.selectBlock(els)
	v16 := r.readRegister16(src)
	r.writeRegister16(dst, v16)
	r.updateNZ16(v16)
	r.joinTo(cont)

	r.selectBlock(cont)
}

// translateXBA swaps the accumulator's low and high bytes.
func (r *Recompiler) translateXBA() {
	low := r.readRegister8(r.A, false)
	high := r.readRegister8(r.A, true)
	r.writeRegister8(r.A, false, high)
	r.writeRegister8(r.A, true, low)
	r.updateNZ8(high)
}

// translateXCE exchanges EF and CF (emulation-mode toggle), then
// re-establishes invariant 4.
func (r *Recompiler) translateXCE() {
	ef := r.readFlag(r.EF)
	cf := r.readFlag(r.CF)
	r.writeFlag(r.EF, cf)
	r.writeFlag(r.CF, ef)
	r.enforceWidthImplications()
}

// pushWideOrNarrow pushes reg as one byte if its mode flag is set (8-bit),
// else as a full word (PHA/PHX/PHY).
func (r *Recompiler) pushWideOrNarrow(reg *ir.Global, mode *ir.Global) {
	isEight := r.readFlag(mode)
	then, els := r.condTestThenElse(isEight, "push_8bit", "push_16bit")
	cont := r.newBlock("push_cont")

	r.selectBlock(then)
	r.pushByte(r.readRegister8(reg, false))
	r.joinTo(cont)

	r.selectBlock(els)
	r.pushWord(r.readRegister16(reg))
	r.joinTo(cont)

	r.selectBlock(cont)
}

// pullWideOrNarrow mirrors pushWideOrNarrow for PLA/PLX/PLY, also updating
// NZ from the pulled value.
func (r *Recompiler) pullWideOrNarrow(reg *ir.Global, mode *ir.Global) {
	isEight := r.readFlag(mode)
	then, els := r.condTestThenElse(isEight, "pull_8bit", "pull_16bit")
	cont := r.newBlock("pull_cont")

	r.selectBlock(then)
	v8 := r.pullByte()
	r.writeRegister8(reg, false, v8)
	r.updateNZ8(v8)
	r.joinTo(cont)

	r.selectBlock(els)
	v16 := r.pullWord()
	r.writeRegister16(reg, v16)
	r.updateNZ16(v16)
	r.joinTo(cont)

	r.selectBlock(cont)
}
