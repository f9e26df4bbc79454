package recompiler

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/jvipond/smkrecomp/ast"
)

// generateCode is component D's driver: it walks the document's nodes in
// program order, maintaining one "current block" cursor per function a
// label belongs to, so that code shared by several functions (spec.md §3
// "A label may appear in multiple functions") is translated once per
// function rather than once per label.
func (r *Recompiler) generateCode() {
	r.lastBlock = make(map[string]*ir.Block)

	for _, node := range r.doc.Program {
		switch n := node.(type) {
		case ast.Label:
			r.openLabel(n)
		case ast.Instruction:
			r.emitInstructionForFuncs(n)
		}
	}

	r.closeEmptyBlocks()
}

// openLabel advances every function containing lbl to its freshly laid-out
// block, first closing the previous block with a fallthrough branch if it
// reached the label with no natural terminator (spec.md invariant 1).
func (r *Recompiler) openLabel(lbl ast.Label) {
	membership := r.doc.LabelsToFunctions[lbl.Offset]
	for funcName := range membership {
		block, ok := r.blockFor(funcName, lbl.Name)
		if !ok {
			continue
		}
		if prevBlock, ok := r.lastBlock[funcName]; ok && prevBlock.Term == nil {
			prevBlock.NewBr(block)
		}
		r.setCursor(funcName, block)
	}
}

// emitInstructionForFuncs translates inst once per function named in its
// func_names set, each picking up from that function's own cursor.
func (r *Recompiler) emitInstructionForFuncs(inst ast.Instruction) {
	for funcName := range inst.FuncNames {
		block, ok := r.lastBlock[funcName]
		if !ok {
			warn.Printf("instruction at offset %v has func_names entry %q with no open label", inst.Offset, funcName)
			continue
		}
		r.selectBlock(block)
		if r.debugTrace {
			r.emitDebugTrace(inst)
		}
		if markPC, ok := r.doc.ReturnAddressManipulationFunctions[funcName]; ok && markPC == inst.PC {
			if alloca, ok := r.returnAddrAllocas[funcName]; ok {
				r.cur.NewStore(constant.NewBool(true), alloca)
			}
		}
		r.translateInstruction(funcName, inst)
		r.setCursor(funcName, r.cur)
	}
}

// setCursor records block as the current insertion point both for the IR
// builder (r.cur) and for the named function's ongoing code-generation
// cursor (r.lastBlock), so the next instruction sharing that function
// continues from wherever control flow left off.
func (r *Recompiler) setCursor(funcName string, block *ir.Block) {
	r.cur = block
	if r.lastBlock == nil {
		r.lastBlock = make(map[string]*ir.Block)
	}
	r.lastBlock[funcName] = block
}

// closeEmptyBlocks implements invariant 2: a label block with no
// translatable instructions emits `call panic; return`. It also catches the
// last block of a function that never reached a return or other terminator.
func (r *Recompiler) closeEmptyBlocks() {
	for _, block := range r.blocks {
		if block.Term != nil {
			continue
		}
		r.emitPanicReturn(block)
	}
	for _, block := range r.lastBlock {
		if block.Term == nil {
			r.emitPanicReturn(block)
		}
	}
}

// emitDebugTrace calls romCycle and updateInstructionOutput before the
// instruction's real lowering, matching the original source's optional
// per-instruction tracing (WithDebugTrace).
func (r *Recompiler) emitDebugTrace(inst ast.Instruction) {
	offset := getConstant(types.I32, int64(inst.Offset))
	r.cur.NewCall(r.romCycle, offset, getConstant(types.I32, 1))
	if g, ok := r.instStrings[inst.Offset]; ok {
		ptr := r.cur.NewGetElementPtr(g.ContentType, g, getConstant(types.I32, 0), getConstant(types.I32, 0))
		r.cur.NewCall(r.updateInstructionOutput, offset, ptr)
	}
}

// translateInstruction lowers a single instruction inside funcName. Opcodes
// not present in the dispatch switch silently emit no code, per spec.md
// §4.D "Failure semantics" ("Unknown opcode → silently emits no code").
func (r *Recompiler) translateInstruction(funcName string, inst ast.Instruction) {
	switch inst.Opcode {

	// Immediate ALU ops on the accumulator (mode-flag M).
	case 0x69: // ADC #imm
		r.dispatchALUImmediate(funcName, inst, ModeFlagM, OpAdc8, OpAdc16, true)
	case 0xE9: // SBC #imm
		r.dispatchALUImmediate(funcName, inst, ModeFlagM, OpSbc8, OpSbc16, true)
	case 0x09: // ORA #imm
		r.dispatchALUImmediate(funcName, inst, ModeFlagM, OpOra8, OpOra16, true)
	case 0x29: // AND #imm
		r.dispatchALUImmediate(funcName, inst, ModeFlagM, OpAnd8, OpAnd16, true)
	case 0x49: // EOR #imm
		r.dispatchALUImmediate(funcName, inst, ModeFlagM, OpEor8, OpEor16, true)
	case 0x89: // BIT #imm
		r.dispatchALUImmediate(funcName, inst, ModeFlagM, OpBit8, OpBit16, false)
	case 0xC9: // CMP #imm
		r.dispatchALUImmediate(funcName, inst, ModeFlagM, OpCmp8, OpCmp16, false)
	case 0xE0: // CPX #imm
		r.dispatchCompareImmediate(funcName, inst, ModeFlagX, r.X)
	case 0xC0: // CPY #imm
		r.dispatchCompareImmediate(funcName, inst, ModeFlagX, r.Y)

	// Absolute-mode ALU ops.
	case 0x6D: // ADC addr
		r.dispatchALUBank(funcName, inst, ModeFlagM, OpAdc8, OpAdc16, nil)
	case 0xED: // SBC addr
		r.dispatchALUBank(funcName, inst, ModeFlagM, OpSbc8, OpSbc16, nil)
	case 0x0D: // ORA addr
		r.dispatchALUBank(funcName, inst, ModeFlagM, OpOra8, OpOra16, nil)
	case 0x2D: // AND addr
		r.dispatchALUBank(funcName, inst, ModeFlagM, OpAnd8, OpAnd16, nil)
	case 0x4D: // EOR addr
		r.dispatchALUBank(funcName, inst, ModeFlagM, OpEor8, OpEor16, nil)
	case 0x2C: // BIT addr
		r.dispatchALUBank(funcName, inst, ModeFlagM, OpBit8, OpBit16, nil)
	case 0xCD: // CMP addr
		r.dispatchALUBank(funcName, inst, ModeFlagM, OpCmp8, OpCmp16, nil)
	case 0x7D: // ADC addr,X
		r.dispatchALUBank(funcName, inst, ModeFlagM, OpAdc8, OpAdc16, r.X)
	case 0x79: // ADC addr,Y
		r.dispatchALUBank(funcName, inst, ModeFlagM, OpAdc8, OpAdc16, r.Y)
	case 0x1E: // ASL addr,X (read-modify-write; no accumulator operand)
		r.dispatchRMWBank(funcName, inst, OpAsl8, OpAsl16, r.X)
	case 0x0E: // ASL addr
		r.dispatchRMWBank(funcName, inst, OpAsl8, OpAsl16, nil)
	case 0x4E: // LSR addr
		r.dispatchRMWBank(funcName, inst, OpLsr8, OpLsr16, nil)
	case 0x2E: // ROL addr
		r.dispatchRMWBank(funcName, inst, OpRol8, OpRol16, nil)
	case 0x6E: // ROR addr
		r.dispatchRMWBank(funcName, inst, OpRor8, OpRor16, nil)
	case 0xCE: // DEC addr
		r.dispatchRMWBank(funcName, inst, OpDec8, OpDec16, nil)
	case 0xEE: // INC addr
		r.dispatchRMWBank(funcName, inst, OpInc8, OpInc16, nil)
	case 0x1C: // TRB addr
		r.dispatchRMWBank(funcName, inst, OpTrb8, OpTrb16, nil)
	case 0x0C: // TSB addr
		r.dispatchRMWBank(funcName, inst, OpTsb8, OpTsb16, nil)

	// Direct-page, indirect, indirect-long, long, and stack-relative ALU /
	// RMW ops (spec.md §4.D Layer 1 addressing-mode table, rows beyond
	// Immediate and absolute).
	case 0x65: // ADC dp
		r.dispatchALUAddr(funcName, inst, ModeFlagM, OpAdc8, OpAdc16, func(inst ast.Instruction) value.Value {
			return r.directOperandAddr(inst, nil)
		})
	case 0x25: // AND dp
		r.dispatchALUAddr(funcName, inst, ModeFlagM, OpAnd8, OpAnd16, func(inst ast.Instruction) value.Value {
			return r.directOperandAddr(inst, nil)
		})
	case 0xC5: // CMP dp
		r.dispatchALUAddr(funcName, inst, ModeFlagM, OpCmp8, OpCmp16, func(inst ast.Instruction) value.Value {
			return r.directOperandAddr(inst, nil)
		})
	case 0xE6: // INC dp
		r.dispatchRMWAddr(funcName, inst, OpInc8, OpInc16, func(inst ast.Instruction) value.Value {
			return r.directOperandAddr(inst, nil)
		})
	case 0xC6: // DEC dp
		r.dispatchRMWAddr(funcName, inst, OpDec8, OpDec16, func(inst ast.Instruction) value.Value {
			return r.directOperandAddr(inst, nil)
		})
	case 0x06: // ASL dp
		r.dispatchRMWAddr(funcName, inst, OpAsl8, OpAsl16, func(inst ast.Instruction) value.Value {
			return r.directOperandAddr(inst, nil)
		})

	// Accumulator-mode shifts.
	case 0x0A: // ASL A
		r.dispatchRMWAccumulator(OpAsl8, OpAsl16)
	case 0x4A: // LSR A
		r.dispatchRMWAccumulator(OpLsr8, OpLsr16)
	case 0x2A: // ROL A
		r.dispatchRMWAccumulator(OpRol8, OpRol16)
	case 0x6A: // ROR A
		r.dispatchRMWAccumulator(OpRor8, OpRor16)
	case 0x1A: // INC A
		r.dispatchRMWAccumulator(OpInc8, OpInc16)
	case 0x3A: // DEC A
		r.dispatchRMWAccumulator(OpDec8, OpDec16)

	// Load / store.
	case 0xA9: // LDA #imm
		r.dispatchLoadImmediate(funcName, inst, r.A, ModeFlagM)
	case 0xA2: // LDX #imm
		r.dispatchLoadImmediate(funcName, inst, r.X, ModeFlagX)
	case 0xA0: // LDY #imm
		r.dispatchLoadImmediate(funcName, inst, r.Y, ModeFlagX)
	case 0xAD: // LDA addr
		r.dispatchLoadBank(funcName, inst, r.A, ModeFlagM, nil)
	case 0xBD: // LDA addr,X
		r.dispatchLoadBank(funcName, inst, r.A, ModeFlagM, r.X)
	case 0xB9: // LDA addr,Y
		r.dispatchLoadBank(funcName, inst, r.A, ModeFlagM, r.Y)
	case 0xAE: // LDX addr
		r.dispatchLoadBank(funcName, inst, r.X, ModeFlagX, nil)
	case 0xAC: // LDY addr
		r.dispatchLoadBank(funcName, inst, r.Y, ModeFlagX, nil)
	case 0x8D: // STA addr
		r.dispatchStoreBank(funcName, inst, r.A, ModeFlagM, nil)
	case 0x9D: // STA addr,X
		r.dispatchStoreBank(funcName, inst, r.A, ModeFlagM, r.X)
	case 0x99: // STA addr,Y
		r.dispatchStoreBank(funcName, inst, r.A, ModeFlagM, r.Y)
	case 0x8E: // STX addr
		r.dispatchStoreBank(funcName, inst, r.X, ModeFlagX, nil)
	case 0x8C: // STY addr
		r.dispatchStoreBank(funcName, inst, r.Y, ModeFlagX, nil)
	case 0x9C: // STZ addr
		r.dispatchStoreZeroBank(funcName, inst, ModeFlagM, nil)
	case 0x9E: // STZ addr,X
		r.dispatchStoreZeroBank(funcName, inst, ModeFlagM, r.X)

	// Direct-page LDA/STA and LDX/STX/LDY/STY,index forms.
	case 0xA5: // LDA dp
		r.dispatchLoadAddr(funcName, inst, r.A, ModeFlagM, func(inst ast.Instruction) value.Value {
			return r.directOperandAddr(inst, nil)
		})
	case 0x85: // STA dp
		r.dispatchStoreAddr(funcName, inst, r.A, ModeFlagM, func(inst ast.Instruction) value.Value {
			return r.directOperandAddr(inst, nil)
		})
	case 0xB5: // LDA dp,X
		r.dispatchLoadAddr(funcName, inst, r.A, ModeFlagM, func(inst ast.Instruction) value.Value {
			return r.directOperandAddr(inst, r.X)
		})
	case 0x95: // STA dp,X
		r.dispatchStoreAddr(funcName, inst, r.A, ModeFlagM, func(inst ast.Instruction) value.Value {
			return r.directOperandAddr(inst, r.X)
		})
	case 0xB6: // LDX dp,Y
		r.dispatchLoadAddr(funcName, inst, r.X, ModeFlagX, func(inst ast.Instruction) value.Value {
			return r.directOperandAddr(inst, r.Y)
		})
	case 0x96: // STX dp,Y
		r.dispatchStoreAddr(funcName, inst, r.X, ModeFlagX, func(inst ast.Instruction) value.Value {
			return r.directOperandAddr(inst, r.Y)
		})

	// Indirect (dp): LDA/STA ($nn).
	case 0xB2: // LDA (dp)
		r.dispatchLoadAddr(funcName, inst, r.A, ModeFlagM, r.indirectOperandAddr)
	case 0x92: // STA (dp)
		r.dispatchStoreAddr(funcName, inst, r.A, ModeFlagM, r.indirectOperandAddr)

	// Indexed Indirect (dp,X): LDA/STA ($nn,X).
	case 0xA1: // LDA (dp,X)
		r.dispatchLoadAddr(funcName, inst, r.A, ModeFlagM, r.indexedIndirectOperandAddr)
	case 0x81: // STA (dp,X)
		r.dispatchStoreAddr(funcName, inst, r.A, ModeFlagM, r.indexedIndirectOperandAddr)

	// Indirect Indexed (dp),Y: LDA/STA ($nn),Y.
	case 0xB1: // LDA (dp),Y
		r.dispatchLoadAddr(funcName, inst, r.A, ModeFlagM, r.indirectIndexedOperandAddr)
	case 0x91: // STA (dp),Y
		r.dispatchStoreAddr(funcName, inst, r.A, ModeFlagM, r.indirectIndexedOperandAddr)

	// Indirect Long [dp] and [dp],Y: LDA/STA [$nn][,Y].
	case 0xA7: // LDA [dp]
		r.dispatchLoadAddr(funcName, inst, r.A, ModeFlagM, func(inst ast.Instruction) value.Value {
			return r.indirectLongOperandAddr(inst, false)
		})
	case 0x87: // STA [dp]
		r.dispatchStoreAddr(funcName, inst, r.A, ModeFlagM, func(inst ast.Instruction) value.Value {
			return r.indirectLongOperandAddr(inst, false)
		})
	case 0xB7: // LDA [dp],Y
		r.dispatchLoadAddr(funcName, inst, r.A, ModeFlagM, func(inst ast.Instruction) value.Value {
			return r.indirectLongOperandAddr(inst, true)
		})
	case 0x97: // STA [dp],Y
		r.dispatchStoreAddr(funcName, inst, r.A, ModeFlagM, func(inst ast.Instruction) value.Value {
			return r.indirectLongOperandAddr(inst, true)
		})

	// Long addr,l and addr,l,X: LDA/STA $nnnnnn[,X].
	case 0xAF: // LDA long
		r.dispatchLoadAddr(funcName, inst, r.A, ModeFlagM, func(inst ast.Instruction) value.Value {
			return r.longOperandAddr(inst, false)
		})
	case 0x8F: // STA long
		r.dispatchStoreAddr(funcName, inst, r.A, ModeFlagM, func(inst ast.Instruction) value.Value {
			return r.longOperandAddr(inst, false)
		})
	case 0xBF: // LDA long,X
		r.dispatchLoadAddr(funcName, inst, r.A, ModeFlagM, func(inst ast.Instruction) value.Value {
			return r.longOperandAddr(inst, true)
		})

	// Stack-relative sr,S and indirect stack-relative (sr,S),Y: LDA/STA.
	case 0xA3: // LDA sr,S
		r.dispatchLoadAddr(funcName, inst, r.A, ModeFlagM, r.stackOperandAddr)
	case 0x83: // STA sr,S
		r.dispatchStoreAddr(funcName, inst, r.A, ModeFlagM, r.stackOperandAddr)
	case 0xB3: // LDA (sr,S),Y
		r.dispatchLoadAddr(funcName, inst, r.A, ModeFlagM, r.indirectStackOperandAddr)
	case 0x93: // STA (sr,S),Y
		r.dispatchStoreAddr(funcName, inst, r.A, ModeFlagM, r.indirectStackOperandAddr)

	// Flag manipulation.
	case 0x18: // CLC
		r.writeFlag(r.CF, constant.NewBool(false))
	case 0x38: // SEC
		r.writeFlag(r.CF, constant.NewBool(true))
	case 0xD8: // CLD
		r.writeFlag(r.DF, constant.NewBool(false))
	case 0xF8: // SED
		r.writeFlag(r.DF, constant.NewBool(true))
	case 0x58: // CLI
		r.writeFlag(r.IF, constant.NewBool(false))
	case 0x78: // SEI
		r.writeFlag(r.IF, constant.NewBool(true))
	case 0xB8: // CLV
		r.writeFlag(r.VF, constant.NewBool(false))
	case 0xC2: // REP #imm
		r.dispatchStatusMask(inst, false)
	case 0xE2: // SEP #imm
		r.dispatchStatusMask(inst, true)

	// Register transfers.
	case 0xAA: // TAX
		r.transfer(r.A, r.X, r.XF)
	case 0xA8: // TAY
		r.transfer(r.A, r.Y, r.XF)
	case 0x8A: // TXA
		r.transfer(r.X, r.A, r.MF)
	case 0x98: // TYA
		r.transfer(r.Y, r.A, r.MF)
	case 0x9B: // TXY
		r.transfer(r.X, r.Y, r.XF)
	case 0xBB: // TYX
		r.transfer(r.Y, r.X, r.XF)
	case 0x5B: // TCD
		r.writeRegister16(r.DP, r.readRegister16(r.A))
	case 0x7B: // TDC
		r.writeRegister16(r.A, r.readRegister16(r.DP))
	case 0x1B: // TCS
		r.writeRegister16(r.SP, r.readRegister16(r.A))
		r.pinStackHighByte()
	case 0x3B: // TSC
		r.writeRegister16(r.A, r.readRegister16(r.SP))
	case 0xBA: // TSX
		r.transfer(r.SP, r.X, r.XF)
	case 0x9A: // TXS
		r.writeRegister16(r.SP, r.readRegister16(r.X))
		r.pinStackHighByte()
	case 0xEB: // XBA
		r.translateXBA()
	case 0xFB: // XCE
		r.translateXCE()

	// Stack.
	case 0x48: // PHA
		r.pushWideOrNarrow(r.A, r.MF)
	case 0xDA: // PHX
		r.pushWideOrNarrow(r.X, r.XF)
	case 0x5A: // PHY
		r.pushWideOrNarrow(r.Y, r.XF)
	case 0x08: // PHP
		r.pushByte(r.packStatusByte())
	case 0x0B: // PHD
		r.pushWord(r.readRegister16(r.DP))
	case 0x8B: // PHB
		r.pushByte(r.readRegister8(r.DB))
	case 0x4B: // PHK
		r.pushByte(r.readRegister8(r.PB))
	case 0xF4: // PEA addr
		r.translatePEA(inst)
	case 0xD4: // PEI (dp)
		r.translatePEI(inst)
	case 0x62: // PER label
		r.translatePER(inst)
	case 0x68: // PLA
		r.pullWideOrNarrow(r.A, r.MF)
	case 0xFA: // PLX
		r.pullWideOrNarrow(r.X, r.XF)
	case 0x7A: // PLY
		r.pullWideOrNarrow(r.Y, r.XF)
	case 0x28: // PLP
		status := r.pullByte()
		r.writeRegister8(r.P, status)
		r.unpackStatusByte(status)
	case 0x2B: // PLD
		r.writeRegister16(r.DP, r.pullWord())
	case 0xAB: // PLB
		r.writeRegister8(r.DB, r.pullByte())

	// Control flow.
	case 0x90: // BCC
		r.translateBranch(funcName, inst, r.CF, false)
	case 0xB0: // BCS
		r.translateBranch(funcName, inst, r.CF, true)
	case 0xF0: // BEQ
		r.translateBranch(funcName, inst, r.ZF, true)
	case 0xD0: // BNE
		r.translateBranch(funcName, inst, r.ZF, false)
	case 0x30: // BMI
		r.translateBranch(funcName, inst, r.NF, true)
	case 0x10: // BPL
		r.translateBranch(funcName, inst, r.NF, false)
	case 0x50: // BVC
		r.translateBranch(funcName, inst, r.VF, false)
	case 0x70: // BVS
		r.translateBranch(funcName, inst, r.VF, true)
	case 0x80: // BRA
		r.translateUnconditionalBranch(funcName, inst)
	case 0x82: // BRL
		r.translateUnconditionalBranch(funcName, inst)
	case 0x4C: // JMP abs
		r.translateDirectJump(funcName, inst)
	case 0x5C: // JMP long
		r.translateDirectJump(funcName, inst)
	case 0x6C: // JMP (addr)
		addr := r.indirectJumpAddr(inst, nil)
		r.translateIndirectJump(funcName, inst, addr)
	case 0x7C: // JMP (addr,X)
		addr := r.indirectJumpAddr(inst, r.X)
		r.translateIndirectJump(funcName, inst, addr)
	case 0xDC: // JMP [addr]
		addr := r.indirectJumpAddr(inst, nil)
		r.translateIndirectJump(funcName, inst, addr)
	case 0x20: // JSR abs
		r.translateCall(funcName, inst, false)
	case 0x22: // JSL long
		r.translateCall(funcName, inst, true)
	case 0xFC: // JSR (addr,X)
		addr := r.indirectJumpAddr(inst, r.X)
		r.translateIndirectCall(funcName, inst, addr)
	case 0x60: // RTS
		r.translateReturn(funcName, false)
	case 0x6B: // RTL
		r.translateReturn(funcName, true)
	case 0x40: // RTI
		r.translateRTI()

	// Block move.
	case 0x54: // MVN
		r.translateBlockMove(funcName, inst, true)
	case 0x44: // MVP
		r.translateBlockMove(funcName, inst, false)

	// No-ops / unimplemented-by-design (spec.md §4.D).
	case 0x00, 0x02, 0x42, 0xEA, 0xDB, 0xCB:
		// BRK, COP, WDM, NOP, STP, WAI: effectively no-ops in this core.

	default:
		// Unknown opcode: silently emits no code (spec.md §4.D).
	}
}

// indirectJumpAddr reads the target of an indirect jump/call through the
// pointer at the operand's bank address (honoring an optional index
// register) and returns it as a 24-bit PBPC value: the two pointer bytes
// combined with PB, or, for JMP [addr], with the pointer's third byte.
func (r *Recompiler) indirectJumpAddr(inst ast.Instruction, index *ir.Global) value.Value {
	operand := getConstant(types.I16, int64(inst.Operand))
	ptr := r.bankAddr(operand, index)
	low := r.busRead8(ptr)
	high := r.busRead8(r.cur.NewAdd(ptr, getConstant(types.I32, 1)))
	var bank value.Value
	if inst.Opcode == 0xDC {
		bank = r.busRead8(r.cur.NewAdd(ptr, getConstant(types.I32, 2)))
	} else {
		bank = r.cur.NewLoad(types.I8, r.PB)
	}
	return r.combineTo32(r.combineTo16(low, high), bank)
}
