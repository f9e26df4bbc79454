package recompiler

import (
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

// Op8 and Op16 are the reified arithmetic/logic operations Layer 1's
// addressing templates parameterize over, replacing the original source's
// member-function-pointer operations (spec.md Design Notes §9
// "Operation-as-value"). Dispatch is by a plain switch in applyOp8/applyOp16
// rather than a closure or function-pointer table.
type Op8 int

const (
	OpAdc8 Op8 = iota
	OpSbc8
	OpOra8
	OpAnd8
	OpEor8
	OpBit8
	OpCmp8
	OpAsl8
	OpLsr8
	OpRol8
	OpRor8
	OpDec8
	OpInc8
	OpTrb8
	OpTsb8
)

// Op16 mirrors Op8 for the 16-bit arm of a template.
type Op16 int

const (
	OpAdc16 Op16 = iota
	OpSbc16
	OpOra16
	OpAnd16
	OpEor16
	OpBit16
	OpCmp16
	OpAsl16
	OpLsr16
	OpRol16
	OpRor16
	OpDec16
	OpInc16
	OpTrb16
	OpTsb16
)

// updateNZ8 sets ZF/NF from an i8 result, the common tail of every ALU and
// load operation (spec.md §4.D "Flag semantics").
func (r *Recompiler) updateNZ8(result value.Value) {
	zero := r.cur.NewICmp(enum.IPredEQ, result, getConstant(types.I8, 0))
	r.writeFlag(r.ZF, zero)
	negative := r.testBits8(result, 0x80)
	r.writeFlag(r.NF, negative)
}

// updateNZ16 mirrors updateNZ8 for 16-bit results.
func (r *Recompiler) updateNZ16(result value.Value) {
	zero := r.cur.NewICmp(enum.IPredEQ, result, getConstant(types.I16, 0))
	r.writeFlag(r.ZF, zero)
	negative := r.testBits16(result, 0x8000)
	r.writeFlag(r.NF, negative)
}

// applyOp8 computes the 8-bit result of op against the accumulator's low
// byte and operand, updating flags as a side effect, and returns the value
// to write back. The test/compare-only ops (BIT, CMP) return the unmodified
// accumulator byte, so a caller that writes the result back leaves the
// accumulator unchanged.
func (r *Recompiler) applyOp8(op Op8, acc, operand value.Value) value.Value {
	switch op {
	case OpAdc8:
		result := r.cur.NewCall(r.adc8, operand)
		return result
	case OpSbc8:
		result := r.cur.NewCall(r.sbc8, operand)
		return result
	case OpOra8:
		result := r.cur.NewOr(acc, operand)
		r.updateNZ8(result)
		return result
	case OpAnd8:
		result := r.cur.NewAnd(acc, operand)
		r.updateNZ8(result)
		return result
	case OpEor8:
		result := r.cur.NewXor(acc, operand)
		r.updateNZ8(result)
		return result
	case OpBit8:
		result := r.cur.NewAnd(acc, operand)
		zero := r.cur.NewICmp(enum.IPredEQ, result, getConstant(types.I8, 0))
		r.writeFlag(r.ZF, zero)
		r.writeFlag(r.NF, r.testBits8(operand, 0x80))
		r.writeFlag(r.VF, r.testBits8(operand, 0x40))
		return acc
	case OpCmp8:
		diff := r.cur.NewSub(r.cur.NewZExt(acc, types.I16), r.cur.NewZExt(operand, types.I16))
		r.writeFlag(r.CF, r.cur.NewICmp(enum.IPredUGE, acc, operand))
		r.updateNZ8(r.convertTo8(diff))
		return acc
	case OpAsl8:
		r.writeFlag(r.CF, r.testBits8(operand, 0x80))
		result := r.cur.NewShl(operand, getConstant(types.I8, 1))
		r.updateNZ8(result)
		return result
	case OpLsr8:
		r.writeFlag(r.CF, r.testBits8(operand, 0x01))
		result := r.cur.NewLShr(operand, getConstant(types.I8, 1))
		r.updateNZ8(result)
		return result
	case OpRol8:
		carryIn := r.readFlag(r.CF)
		carryBit := r.cur.NewZExt(carryIn, types.I8)
		r.writeFlag(r.CF, r.testBits8(operand, 0x80))
		shifted := r.cur.NewShl(operand, getConstant(types.I8, 1))
		result := r.cur.NewOr(shifted, carryBit)
		r.updateNZ8(result)
		return result
	case OpRor8:
		carryIn := r.readFlag(r.CF)
		carryBit := r.cur.NewShl(r.cur.NewZExt(carryIn, types.I8), getConstant(types.I8, 7))
		r.writeFlag(r.CF, r.testBits8(operand, 0x01))
		shifted := r.cur.NewLShr(operand, getConstant(types.I8, 1))
		result := r.cur.NewOr(shifted, carryBit)
		r.updateNZ8(result)
		return result
	case OpDec8:
		result := r.cur.NewSub(operand, getConstant(types.I8, 1))
		r.updateNZ8(result)
		return result
	case OpInc8:
		result := r.cur.NewAdd(operand, getConstant(types.I8, 1))
		r.updateNZ8(result)
		return result
	case OpTrb8:
		result := r.cur.NewAnd(operand, r.cur.NewXor(acc, getConstant(types.I8, -1)))
		testResult := r.cur.NewAnd(acc, operand)
		r.writeFlag(r.ZF, r.cur.NewICmp(enum.IPredEQ, testResult, getConstant(types.I8, 0)))
		return result
	case OpTsb8:
		result := r.cur.NewOr(operand, acc)
		testResult := r.cur.NewAnd(acc, operand)
		r.writeFlag(r.ZF, r.cur.NewICmp(enum.IPredEQ, testResult, getConstant(types.I8, 0)))
		return result
	default:
		return operand
	}
}

// applyOp16 mirrors applyOp8 for the 16-bit arm.
func (r *Recompiler) applyOp16(op Op16, acc, operand value.Value) value.Value {
	switch op {
	case OpAdc16:
		return r.cur.NewCall(r.adc16, operand)
	case OpSbc16:
		return r.cur.NewCall(r.sbc16, operand)
	case OpOra16:
		result := r.cur.NewOr(acc, operand)
		r.updateNZ16(result)
		return result
	case OpAnd16:
		result := r.cur.NewAnd(acc, operand)
		r.updateNZ16(result)
		return result
	case OpEor16:
		result := r.cur.NewXor(acc, operand)
		r.updateNZ16(result)
		return result
	case OpBit16:
		result := r.cur.NewAnd(acc, operand)
		zero := r.cur.NewICmp(enum.IPredEQ, result, getConstant(types.I16, 0))
		r.writeFlag(r.ZF, zero)
		r.writeFlag(r.NF, r.testBits16(operand, 0x8000))
		r.writeFlag(r.VF, r.testBits16(operand, 0x4000))
		return acc
	case OpCmp16:
		diff := r.cur.NewSub(r.cur.NewZExt(acc, types.I32), r.cur.NewZExt(operand, types.I32))
		r.writeFlag(r.CF, r.cur.NewICmp(enum.IPredUGE, acc, operand))
		r.updateNZ16(r.widenTo16(r.cur.NewTrunc(diff, types.I16)))
		return acc
	case OpAsl16:
		r.writeFlag(r.CF, r.testBits16(operand, 0x8000))
		result := r.cur.NewShl(operand, getConstant(types.I16, 1))
		r.updateNZ16(result)
		return result
	case OpLsr16:
		r.writeFlag(r.CF, r.testBits16(operand, 0x0001))
		result := r.cur.NewLShr(operand, getConstant(types.I16, 1))
		r.updateNZ16(result)
		return result
	case OpRol16:
		carryIn := r.readFlag(r.CF)
		carryBit := r.cur.NewZExt(carryIn, types.I16)
		r.writeFlag(r.CF, r.testBits16(operand, 0x8000))
		shifted := r.cur.NewShl(operand, getConstant(types.I16, 1))
		result := r.cur.NewOr(shifted, carryBit)
		r.updateNZ16(result)
		return result
	case OpRor16:
		carryIn := r.readFlag(r.CF)
		carryBit := r.cur.NewShl(r.cur.NewZExt(carryIn, types.I16), getConstant(types.I16, 15))
		r.writeFlag(r.CF, r.testBits16(operand, 0x0001))
		shifted := r.cur.NewLShr(operand, getConstant(types.I16, 1))
		result := r.cur.NewOr(shifted, carryBit)
		r.updateNZ16(result)
		return result
	case OpDec16:
		result := r.cur.NewSub(operand, getConstant(types.I16, 1))
		r.updateNZ16(result)
		return result
	case OpInc16:
		result := r.cur.NewAdd(operand, getConstant(types.I16, 1))
		r.updateNZ16(result)
		return result
	case OpTrb16:
		result := r.cur.NewAnd(operand, r.cur.NewXor(acc, getConstant(types.I16, -1)))
		testResult := r.cur.NewAnd(acc, operand)
		r.writeFlag(r.ZF, r.cur.NewICmp(enum.IPredEQ, testResult, getConstant(types.I16, 0)))
		return result
	case OpTsb16:
		result := r.cur.NewOr(operand, acc)
		testResult := r.cur.NewAnd(acc, operand)
		r.writeFlag(r.ZF, r.cur.NewICmp(enum.IPredEQ, testResult, getConstant(types.I16, 0)))
		return result
	default:
		return operand
	}
}
