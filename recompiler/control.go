package recompiler

import (
	"sort"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/jvipond/smkrecomp/ast"
	"github.com/jvipond/smkrecomp/bin"
)

// branchTarget resolves an instruction's jump_label to its block inside
// funcName. A missing label is an inconsistent-AST condition: the caller
// emits `call panic; return` in its place (spec.md §4.D "Failure
// semantics").
func (r *Recompiler) branchTarget(funcName string, inst ast.Instruction) (*ir.Block, bool) {
	if !inst.HasJumpLabel {
		return nil, false
	}
	return r.blockFor(funcName, inst.JumpLabel)
}

// translateBranch lowers a conditional branch (Bcc) reading the named flag
// with the given polarity.
func (r *Recompiler) translateBranch(funcName string, inst ast.Instruction, flag *ir.Global, takenWhen bool) {
	target, ok := r.branchTarget(funcName, inst)
	if !ok {
		r.emitInconsistentAST(funcName, inst)
		return
	}
	cond := r.readFlag(flag)
	if !takenWhen {
		cond = r.cur.NewXor(cond, constant.NewBool(true))
	}
	fallthroughBlock := r.newBlock(qualifiedBlockName(funcName, inst.JumpLabel) + "_fallthrough")
	r.cur.NewCondBr(cond, target, fallthroughBlock)
	r.setCursor(funcName, fallthroughBlock)
}

// translateUnconditionalBranch lowers BRA/BRL.
func (r *Recompiler) translateUnconditionalBranch(funcName string, inst ast.Instruction) {
	target, ok := r.branchTarget(funcName, inst)
	if !ok {
		r.emitInconsistentAST(funcName, inst)
		return
	}
	r.cur.NewBr(target)
}

// translateDirectJump lowers JMP abs / JMP long, whose target is statically
// known from the jump label.
func (r *Recompiler) translateDirectJump(funcName string, inst ast.Instruction) {
	r.translateUnconditionalBranch(funcName, inst)
}

// translateIndirectJump lowers JMP (addr), JMP (addr,X), and JMP [addr]:
// given the target address read by indirectJumpAddr, emits a switch over
// jump_tables[instruction.Offset] whose cases branch to the named labels'
// blocks inside funcName (spec.md §4.D "Indirect-jump and call-indirect
// lowering").
func (r *Recompiler) translateIndirectJump(funcName string, inst ast.Instruction, addr value.Value) {
	table := r.doc.JumpTables[inst.Offset]
	defaultBlock := r.newBlock(qualifiedBlockName(funcName, "") + "jmp_default")
	sw := r.cur.NewSwitch(addr, defaultBlock)
	for _, key := range sortedAddrKeys(table) {
		labelName := table[key]
		target, ok := r.blockFor(funcName, labelName)
		if !ok {
			continue
		}
		sw.Cases = append(sw.Cases, ir.NewCase(getConstant(types.I32, int64(key)), target))
	}
	r.emitPanicReturn(defaultBlock)
}

// translateIndirectCall lowers JSR (addr,X): same switch structure as
// translateIndirectJump, but each case is an IR call to the named function
// followed by a branch to a shared continuation block.
func (r *Recompiler) translateIndirectCall(funcName string, inst ast.Instruction, addr value.Value) {
	table := r.doc.JumpTables[inst.Offset]
	defaultBlock := r.newBlock(qualifiedBlockName(funcName, "") + "jsr_ind_default")
	cont := r.newBlock(qualifiedBlockName(funcName, "") + "jsr_ind_cont")

	sw := r.cur.NewSwitch(addr, defaultBlock)
	for _, key := range sortedAddrKeys(table) {
		calleeName := table[key]
		callee, ok := r.functions[calleeName]
		if !ok {
			continue
		}
		caseBlock := r.newBlock(qualifiedBlockName(funcName, "") + "jsr_ind_case")
		r.selectBlock(caseBlock)
		r.emitCallWithUnwindCheck(funcName, callee, cont)
		sw.Cases = append(sw.Cases, ir.NewCase(getConstant(types.I32, int64(key)), caseBlock))
	}
	r.emitPanicReturn(defaultBlock)
	r.setCursor(funcName, cont)
}

func sortedAddrKeys(table map[bin.Addr]string) []bin.Addr {
	keys := make([]bin.Addr, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// translateCall lowers JSR abs / JSL long: pushes the return address bytes,
// applies emulation-mode stack correction, then issues the direct call
// derived from offset_to_function_name (spec.md §4.D "Subroutine calls").
func (r *Recompiler) translateCall(funcName string, inst ast.Instruction, pushBank bool) {
	r.pushReturnAddress(pushBank)

	calleeName, ok := r.doc.OffsetToFunctionName[inst.Offset]
	if !ok {
		r.emitInconsistentAST(funcName, inst)
		return
	}
	callee, ok := r.functions[calleeName]
	if !ok {
		r.emitInconsistentAST(funcName, inst)
		return
	}
	r.emitCallWithUnwindCheck(funcName, callee, nil)
}

// emitCallWithUnwindCheck emits the call to callee. If callee returns i1
// (it is in the return-address manipulation set), it splices
// `if (callResult) return;` immediately after the call, per invariant 8
// and spec.md §4.E pass 4. cont, if non-nil, is where execution continues
// when no unwind is requested; if nil, a fresh continuation block is
// created and selected.
func (r *Recompiler) emitCallWithUnwindCheck(funcName string, callee *ir.Func, cont *ir.Block) {
	result := r.cur.NewCall(callee)
	if !calleeReturnsI1(callee) {
		if cont != nil {
			r.joinTo(cont)
		}
		return
	}
	if cont == nil {
		cont = r.newBlock(funcName + "_call_cont")
	}
	unwindBlock := r.newBlock(funcName + "_unwind")
	r.cur.NewCondBr(result, unwindBlock, cont)
	r.selectBlock(unwindBlock)
	r.emitFunctionReturn(funcName)
	r.selectBlock(cont)
}

func calleeReturnsI1(f *ir.Func) bool {
	return f.Sig.RetType.Equal(types.I1)
}

// pushReturnAddress pushes PC-low, PC-high, and (for JSL) PB onto the stack,
// applying emulation-mode SP correction after each push.
func (r *Recompiler) pushReturnAddress(pushBank bool) {
	pc := r.readRegister16(r.PC)
	pcHigh := r.convertTo8(r.cur.NewLShr(pc, getConstant(types.I16, 8)))
	pcLow := r.convertTo8(pc)
	if pushBank {
		pb := r.readRegister8(r.PB)
		r.pushByte(pb)
	}
	r.pushByte(pcHigh)
	r.pushByte(pcLow)
}

// pushByte pushes a single byte onto the stack and decrements SP,
// re-pinning the high byte to 0x01 in emulation mode (invariant: "After any
// stack-pointer-modifying op, in emulation-mode paths the SP high byte
// equals 0x01").
func (r *Recompiler) pushByte(v value.Value) {
	sp := r.readRegister16(r.SP)
	addr := r.widenTo32(sp)
	r.busWrite8(addr, v)
	newSP := r.cur.NewSub(sp, getConstant(types.I16, 1))
	r.writeRegister16(r.SP, newSP)
	r.pinStackHighByte()
}

// pushWord pushes a 16-bit value high-byte-first (as the hardware stack
// does), decrementing SP by two.
func (r *Recompiler) pushWord(v value.Value) {
	high := r.convertTo8(r.cur.NewLShr(v, getConstant(types.I16, 8)))
	low := r.convertTo8(v)
	r.pushByte(high)
	r.pushByte(low)
}

// pullByte increments SP and reads the byte now on top of the stack.
func (r *Recompiler) pullByte() value.Value {
	sp := r.readRegister16(r.SP)
	newSP := r.cur.NewAdd(sp, getConstant(types.I16, 1))
	r.writeRegister16(r.SP, newSP)
	r.pinStackHighByte()
	addr := r.widenTo32(newSP)
	return r.busRead8(addr)
}

// pullWord pulls a 16-bit value, low byte first.
func (r *Recompiler) pullWord() value.Value {
	low := r.pullByte()
	high := r.pullByte()
	return r.combineTo16(low, high)
}

// translatePEA pushes a literal 16-bit immediate operand onto the stack
// (PEA addr).
func (r *Recompiler) translatePEA(inst ast.Instruction) {
	r.pushWord(getConstant(types.I16, int64(inst.Operand)))
}

// translatePEI pushes the 16-bit value stored at a direct-page effective
// address onto the stack (PEI (dp)).
func (r *Recompiler) translatePEI(inst ast.Instruction) {
	operand := getConstant(types.I16, int64(inst.Operand))
	addr := r.widenTo32(r.directEffectiveAddr16(operand))
	r.pushWord(r.busRead16(addr))
}

// translatePER pushes PC plus a signed 16-bit displacement onto the stack
// (PER label), the relative-addressing analogue of PEA.
func (r *Recompiler) translatePER(inst ast.Instruction) {
	pc := r.readRegister16(r.PC)
	sum := r.cur.NewAdd(pc, getConstant(types.I16, int64(inst.Operand)))
	masked := r.cur.NewAnd(sum, getConstant(types.I16, 0xffff))
	r.pushWord(masked)
}

// pinStackHighByte re-establishes invariant 4's SP.high=0x01 rule in
// emulation mode after a push or pull.
func (r *Recompiler) pinStackHighByte() {
	ef := r.readFlag(r.EF)
	thenB, contB := r.condTestThen(ef, "sp_pin_then", "sp_pin_cont")
	r.selectBlock(thenB)
	sp := r.readRegister16(r.SP)
	low := r.convertTo8(sp)
	fixed := r.combineTo16(low, getConstant(types.I8, 0x01))
	r.writeRegister16(r.SP, fixed)
	r.joinTo(contB)
	r.selectBlock(contB)
}

// translateReturn lowers RTS/RTL: pop the return address bytes (the values
// are discarded — the IR call/ret already handles continuation) and emit a
// return, matching the declared function's signature.
func (r *Recompiler) translateReturn(funcName string, popBank bool) {
	r.pullByte()
	r.pullByte()
	if popBank {
		r.pullByte()
	}
	r.emitFunctionReturn(funcName)
}

// emitFunctionReturn emits the return appropriate to funcName's declared
// signature: `ret void`, or `ret i1 (load returnValue)` for a function in
// the return-address manipulation set (spec.md §4.E pass 4).
func (r *Recompiler) emitFunctionReturn(funcName string) {
	if alloca, ok := r.returnAddrAllocas[funcName]; ok {
		loaded := r.cur.NewLoad(types.I1, alloca)
		r.cur.NewRet(loaded)
		return
	}
	r.cur.NewRet(nil)
}

// translateRTI lowers RTI: pops the status byte and repopulates the flag
// globals through the P->flags mapping, then pops PC and PB.
func (r *Recompiler) translateRTI() {
	status := r.pullByte()
	r.writeRegister8(r.P, status)
	r.unpackStatusByte(status)
	pc := r.pullWord()
	r.writeRegister16(r.PC, pc)
	pb := r.pullByte()
	r.writeRegister8(r.PB, pb)
	r.cur.NewRet(nil)
}

// unpackStatusByte maps the packed P register byte back onto the eight
// single-bit flag globals (CF..NF bit 0..7), used by PLP and RTI.
func (r *Recompiler) unpackStatusByte(status value.Value) {
	r.writeFlag(r.CF, r.testBits8(status, 0x01))
	r.writeFlag(r.ZF, r.testBits8(status, 0x02))
	r.writeFlag(r.IF, r.testBits8(status, 0x04))
	r.writeFlag(r.DF, r.testBits8(status, 0x08))
	r.writeFlag(r.XF, r.testBits8(status, 0x10))
	r.writeFlag(r.MF, r.testBits8(status, 0x20))
	r.writeFlag(r.VF, r.testBits8(status, 0x40))
	r.writeFlag(r.NF, r.testBits8(status, 0x80))
	r.enforceWidthImplications()
}

// packStatusByte builds the P register byte from the eight flag globals,
// used by PHP.
func (r *Recompiler) packStatusByte() value.Value {
	bit := func(flag *ir.Global, pos int64) value.Value {
		v := r.cur.NewZExt(r.readFlag(flag), types.I8)
		return r.cur.NewShl(v, getConstant(types.I8, pos))
	}
	p := bit(r.CF, 0)
	p = r.cur.NewOr(p, bit(r.ZF, 1))
	p = r.cur.NewOr(p, bit(r.IF, 2))
	p = r.cur.NewOr(p, bit(r.DF, 3))
	p = r.cur.NewOr(p, bit(r.XF, 4))
	p = r.cur.NewOr(p, bit(r.MF, 5))
	p = r.cur.NewOr(p, bit(r.VF, 6))
	p = r.cur.NewOr(p, bit(r.NF, 7))
	return p
}

// emitInconsistentAST emits the fixed `call panic; return` sequence used
// when the AST's own metadata (jump labels, call targets) references
// something absent from the document (spec.md §7 "Inconsistent AST").
func (r *Recompiler) emitInconsistentAST(funcName string, inst ast.Instruction) {
	warn.Printf("%s: inconsistent AST at offset %v (instruction %q)", funcName, inst.Offset, inst.Text)
	r.cur.NewCall(r.panicFn)
	r.emitFunctionReturn(funcName)
}

// translateBlockMove lowers MVN (forward, opcode 0x54) and MVP (backward,
// 0x44) as a self-looping mini-CFG: a move-body block copies one byte via
// read8/write8, adjusts X, Y, and A, then branches to itself while A != -1,
// else to the continuation (spec.md §4.D "Block move"). Per XF, block move
// exists in 8- and 16-bit forms: the 8-bit arm only touches the low byte of
// X and Y (high byte preserved), matching
// InstructionBlockMove8/InstructionBlockMove16 in the original source; A's
// count decrement is always a full 16-bit operation in both arms.
func (r *Recompiler) translateBlockMove(funcName string, inst ast.Instruction, forward bool) {
	destBank := r.convertTo8(getConstant(types.I32, int64((inst.Operand>>8)&0xff)))
	srcBank := r.convertTo8(getConstant(types.I32, int64(inst.Operand&0xff)))
	r.writeRegister8(r.DB, destBank)

	deltaVal := int64(1)
	if !forward {
		deltaVal = -1
	}
	delta16 := getConstant(types.I16, deltaVal)
	delta8 := getConstant(types.I8, deltaVal)

	eight, sixteen, cont := r.registerFlagTestBlock(ModeFlagX, funcName+"_mvn")

	r.selectBlock(eight)
	body8 := r.newBlock(funcName + "_mvn_body8")
	r.cur.NewBr(body8)
	r.selectBlock(body8)
	x8 := r.readRegister8(r.X, false)
	y8 := r.readRegister8(r.Y, false)
	srcAddr8 := r.combineTo32(r.widenTo16(x8), srcBank)
	dstAddr8 := r.combineTo32(r.widenTo16(y8), destBank)
	r.busWrite8(dstAddr8, r.busRead8(srcAddr8))
	r.writeRegister8(r.X, false, r.cur.NewAdd(x8, delta8))
	r.writeRegister8(r.Y, false, r.cur.NewAdd(y8, delta8))
	a8 := r.readRegister16(r.A)
	newA8 := r.cur.NewSub(a8, getConstant(types.I16, 1))
	r.writeRegister16(r.A, newA8)
	done8 := r.cur.NewICmp(enum.IPredEQ, newA8, getConstant(types.I16, 0xffff))
	r.cur.NewCondBr(done8, cont, body8)

	r.selectBlock(sixteen)
	body16 := r.newBlock(funcName + "_mvn_body16")
	r.cur.NewBr(body16)
	r.selectBlock(body16)
	x16 := r.readRegister16(r.X)
	y16 := r.readRegister16(r.Y)
	srcAddr16 := r.combineTo32(x16, srcBank)
	dstAddr16 := r.combineTo32(y16, destBank)
	r.busWrite8(dstAddr16, r.busRead8(srcAddr16))
	r.writeRegister16(r.X, r.cur.NewAdd(x16, delta16))
	r.writeRegister16(r.Y, r.cur.NewAdd(y16, delta16))
	a16 := r.readRegister16(r.A)
	newA16 := r.cur.NewSub(a16, getConstant(types.I16, 1))
	r.writeRegister16(r.A, newA16)
	done16 := r.cur.NewICmp(enum.IPredEQ, newA16, getConstant(types.I16, 0xffff))
	r.cur.NewCondBr(done16, cont, body16)

	r.setCursor(funcName, cont)
}
