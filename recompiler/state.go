package recompiler

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

// getConstant returns an IR integer constant of the given width.
func getConstant(width *types.IntType, v int64) *constant.Int {
	return constant.NewInt(width, v)
}

// getPBPC32 combines PB (zero-extended) and PC into a single i32 bank
// address: (PB << 16) | PC, matching the original source's GetPBPC32.
func (r *Recompiler) getPBPC32() value.Value {
	pb := r.cur.NewLoad(types.I8, r.PB)
	pc := r.cur.NewLoad(types.I16, r.PC)
	pb32 := r.cur.NewZExt(pb, types.I32)
	pc32 := r.cur.NewZExt(pc, types.I32)
	pbShifted := r.cur.NewShl(pb32, getConstant(types.I32, 16))
	return r.cur.NewOr(pbShifted, pc32)
}

// combineTo16 combines a low and high byte into a 16-bit value: (high<<8)|low.
func (r *Recompiler) combineTo16(low, high value.Value) value.Value {
	low16 := r.cur.NewZExt(low, types.I16)
	high16 := r.cur.NewZExt(high, types.I16)
	highShifted := r.cur.NewShl(high16, getConstant(types.I16, 8))
	return r.cur.NewOr(highShifted, low16)
}

// combineTo32 combines a 16-bit low part and an 8-bit bank byte into a
// 24-bit-significant i32 value: (bank<<16)|addr16.
func (r *Recompiler) combineTo32(addr16, bank value.Value) value.Value {
	addr32 := r.cur.NewZExt(addr16, types.I32)
	bank32 := r.cur.NewZExt(bank, types.I32)
	bankShifted := r.cur.NewShl(bank32, getConstant(types.I32, 16))
	return r.cur.NewOr(bankShifted, addr32)
}

// convertTo8 truncates a wider integer value down to i8.
func (r *Recompiler) convertTo8(v value.Value) value.Value {
	if v.Type().Equal(types.I8) {
		return v
	}
	return r.cur.NewTrunc(v, types.I8)
}

// getLowHighPtr bitcasts a 16-bit register global to a pointer to two bytes
// and returns a GEP to index 0 (low byte) or index 1 (high byte), matching
// the original source's byte-level access to A/X/Y for XBA and 8-bit
// register-width writes (spec.md §4.D "Register-width writes").
func (r *Recompiler) getLowHighPtr(reg *ir.Global, highByte bool) value.Value {
	bytePtr := r.cur.NewBitCast(reg, types.NewPointer(types.I8))
	idx := int64(0)
	if highByte {
		idx = 1
	}
	return r.cur.NewGetElementPtr(types.I8, bytePtr, getConstant(types.I32, idx))
}

// readRegister8 reads the low (or high) byte of a 16-bit register global.
func (r *Recompiler) readRegister8(reg *ir.Global, highByte bool) value.Value {
	ptr := r.getLowHighPtr(reg, highByte)
	return r.cur.NewLoad(types.I8, ptr)
}

// writeRegister8 writes v (an i8) into the low (or high) byte of a 16-bit
// register global, leaving the other byte untouched.
func (r *Recompiler) writeRegister8(reg *ir.Global, highByte bool, v value.Value) {
	ptr := r.getLowHighPtr(reg, highByte)
	r.cur.NewStore(v, ptr)
}

// readRegister16 loads the full 16-bit value of a register global.
func (r *Recompiler) readRegister16(reg *ir.Global) value.Value {
	return r.cur.NewLoad(types.I16, reg)
}

// writeRegister16 stores a full 16-bit value into a register global.
func (r *Recompiler) writeRegister16(reg *ir.Global, v value.Value) {
	r.cur.NewStore(v, reg)
}

// readFlag loads a single-bit processor-status flag.
func (r *Recompiler) readFlag(flag *ir.Global) value.Value {
	return r.cur.NewLoad(types.I1, flag)
}

// writeFlag stores a boolean constant or computed i1 into a flag global.
func (r *Recompiler) writeFlag(flag *ir.Global, v value.Value) {
	r.cur.NewStore(v, flag)
}

// testBits8 reports whether any bit in mask is set in v (both i8).
func (r *Recompiler) testBits8(v value.Value, mask uint8) value.Value {
	masked := r.cur.NewAnd(v, getConstant(types.I8, int64(mask)))
	return r.cur.NewICmp(enum.IPredNE, masked, getConstant(types.I8, 0))
}

// testBits16 reports whether any bit in mask is set in v (both i16).
func (r *Recompiler) testBits16(v value.Value, mask uint16) value.Value {
	masked := r.cur.NewAnd(v, getConstant(types.I16, int64(mask)))
	return r.cur.NewICmp(enum.IPredNE, masked, getConstant(types.I16, 0))
}

// condTestThenElse creates a "then" and an "else" block, branches r.cur on
// cond into them, and returns (then, els) ready for the caller to fill; it
// is the translator's general-purpose conditional split, matching
// CreateCondTestThenElseBlock in the original source.
func (r *Recompiler) condTestThenElse(cond value.Value, thenName, elseName string) (then, els *ir.Block) {
	then = r.newBlock(thenName)
	els = r.newBlock(elseName)
	r.cur.NewCondBr(cond, then, els)
	return then, els
}

// condTestThen creates a single "then" block and a continuation block,
// branching r.cur into whichever was taken; used where the else arm is just
// "fall through" (e.g. the emulation-mode SP pin and width enforcement).
func (r *Recompiler) condTestThen(cond value.Value, thenName, contName string) (then, cont *ir.Block) {
	then = r.newBlock(thenName)
	cont = r.newBlock(contName)
	r.cur.NewCondBr(cond, then, cont)
	return then, cont
}

// registerFlagTestBlock reads the given RegisterModeFlag's governing
// processor-status bit (MF for ModeFlagM, XF for ModeFlagX) and splits
// execution into 8-bit and 16-bit arms, matching Layer 1's "reads the
// selector flag, branches into an 8-bit arm and a 16-bit arm" (spec.md
// §4.D).
func (r *Recompiler) registerFlagTestBlock(mode RegisterModeFlag, baseName string) (eightBit, sixteenBit, cont *ir.Block) {
	var flag *ir.Global
	if mode == ModeFlagM {
		flag = r.MF
	} else {
		flag = r.XF
	}
	isEight := r.readFlag(flag)
	eightBit = r.newBlock(baseName + "_8bit")
	sixteenBit = r.newBlock(baseName + "_16bit")
	r.cur.NewCondBr(isEight, eightBit, sixteenBit)
	cont = r.newBlock(baseName + "_cont")
	return eightBit, sixteenBit, cont
}

// joinTo branches the current block to cont, leaving cont unselected so the
// caller can continue filling the other arm before finally selecting cont.
func (r *Recompiler) joinTo(cont *ir.Block) {
	r.cur.NewBr(cont)
}

// emitPanicReturn emits a call to the panic helper followed by a return
// matching the owning function's declared signature (void, or i1 false for
// a return-address-manipulation function), the fixed sequence used for
// empty-label blocks, missing branch targets, and missing jump-table
// entries (spec.md §4.D "Failure semantics").
func (r *Recompiler) emitPanicReturn(b *ir.Block) {
	b.NewCall(r.panicFn)
	if b.Parent != nil && b.Parent.Sig.RetType.Equal(types.I1) {
		b.NewRet(getConstant(types.I1, 0))
		return
	}
	b.NewRet(nil)
}

// enforceWidthImplications re-establishes invariant 4 after any operation
// that can change EF or P: EF implies XF=MF=1 and SP.high=0x01; XF implies
// X.high=Y.high=0.
func (r *Recompiler) enforceWidthImplications() {
	ef := r.readFlag(r.EF)
	thenB, contB := r.condTestThen(ef, "enforce_ef_then", "enforce_ef_cont")
	r.selectBlock(thenB)
	r.writeFlag(r.XF, constant.NewBool(true))
	r.writeFlag(r.MF, constant.NewBool(true))
	sp := r.readRegister16(r.SP)
	spLow := r.convertTo8(sp)
	spFixed := r.combineTo16(spLow, getConstant(types.I8, 0x01))
	r.writeRegister16(r.SP, spFixed)
	r.joinTo(contB)
	r.selectBlock(contB)

	xf := r.readFlag(r.XF)
	thenX, contX := r.condTestThen(xf, "enforce_xf_then", "enforce_xf_cont")
	r.selectBlock(thenX)
	x := r.readRegister16(r.X)
	y := r.readRegister16(r.Y)
	r.writeRegister16(r.X, r.cur.NewAnd(x, getConstant(types.I16, 0x00ff)))
	r.writeRegister16(r.Y, r.cur.NewAnd(y, getConstant(types.I16, 0x00ff)))
	r.joinTo(contX)
	r.selectBlock(contX)
}
