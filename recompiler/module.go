package recompiler

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"

	"github.com/jvipond/smkrecomp/ast"
)

// registers holds the nine CPU register globals from spec.md §3.
type registers struct {
	A, X, Y, SP, DP *ir.Global // i16
	DB, PB, P       *ir.Global // i8
	PC              *ir.Global // i16
}

// flags holds the nine processor-status flag globals from spec.md §3, each
// an i1.
type flags struct {
	CF, ZF, IF, DF, XF, MF, VF, NF, EF *ir.Global
}

// helpers holds the external-linkage runtime helper declarations from
// spec.md §4.B.
type helpers struct {
	read8, write8           *ir.Func
	adc8, adc16             *ir.Func
	sbc8, sbc16             *ir.Func
	doPPUFrame              *ir.Func
	romCycle                *ir.Func
	updateInstructionOutput *ir.Func
	panicFn                 *ir.Func
}

// newModule builds the IR module, the register/flag globals, the helper
// declarations, one IR function per name in function_names, and (for the
// wasm target) the module's data layout and target triple.
func (r *Recompiler) newModule(target Target) {
	m := ir.NewModule()
	if target == TargetWasm {
		m.DataLayout = wasmDataLayout
		m.TargetTriple = wasmTargetTriple
	}
	r.m = m

	r.declareRegisters()
	r.declareHelpers()
	r.declareFunctions()
	if r.debugTrace {
		r.declareInstructionStrings()
	}
}

func extGlobal(m *ir.Module, name string, t types.Type) *ir.Global {
	g := m.NewGlobal(name, t)
	g.Linkage = enum.LinkageExternal
	return g
}

func (r *Recompiler) declareRegisters() {
	m := r.m
	r.A = extGlobal(m, "A", types.I16)
	r.X = extGlobal(m, "X", types.I16)
	r.Y = extGlobal(m, "Y", types.I16)
	r.SP = extGlobal(m, "SP", types.I16)
	r.DP = extGlobal(m, "DP", types.I16)
	r.DB = extGlobal(m, "DB", types.I8)
	r.PB = extGlobal(m, "PB", types.I8)
	r.PC = extGlobal(m, "PC", types.I16)
	r.P = extGlobal(m, "P", types.I8)

	r.CF = extGlobal(m, "CF", types.I1)
	r.ZF = extGlobal(m, "ZF", types.I1)
	r.IF = extGlobal(m, "IF", types.I1)
	r.DF = extGlobal(m, "DF", types.I1)
	r.XF = extGlobal(m, "XF", types.I1)
	r.MF = extGlobal(m, "MF", types.I1)
	r.VF = extGlobal(m, "VF", types.I1)
	r.NF = extGlobal(m, "NF", types.I1)
	r.EF = extGlobal(m, "EF", types.I1)
}

func (r *Recompiler) declareHelpers() {
	m := r.m
	extFunc := func(name string, ret types.Type, params ...*ir.Param) *ir.Func {
		f := m.NewFunc(name, ret, params...)
		f.Linkage = enum.LinkageExternal
		return f
	}
	r.read8 = extFunc("read8", types.I8, ir.NewParam("address", types.I32))
	r.write8 = extFunc("write8", types.Void, ir.NewParam("address", types.I32), ir.NewParam("value", types.I8))
	r.adc8 = extFunc("ADC8", types.I8, ir.NewParam("data", types.I8))
	r.adc16 = extFunc("ADC16", types.I16, ir.NewParam("data", types.I16))
	r.sbc8 = extFunc("SBC8", types.I8, ir.NewParam("data", types.I8))
	r.sbc16 = extFunc("SBC16", types.I16, ir.NewParam("data", types.I16))
	r.doPPUFrame = extFunc("doPPUFrame", types.Void)
	r.romCycle = extFunc("romCycle", types.Void, ir.NewParam("offset", types.I32), ir.NewParam("implemented", types.I32))
	r.updateInstructionOutput = extFunc("updateInstructionOutput", types.Void, ir.NewParam("pc", types.I32), ir.NewParam("text", types.NewPointer(types.I8)))
	r.panicFn = extFunc("panic", types.Void)
}

// declareFunctions creates one IR function per name in function_names. Its
// return type is i1 for functions in the return-address manipulation set,
// void otherwise (spec.md §4.B).
func (r *Recompiler) declareFunctions() {
	for _, name := range r.doc.FunctionNames {
		retType := types.Void
		if _, ok := r.doc.ReturnAddressManipulationFunctions[name]; ok {
			retType = types.I1
		}
		f := r.m.NewFunc(name, retType)
		f.Linkage = enum.LinkageExternal
		r.functions[name] = f
	}
}

// declareInstructionStrings emits one internal-linkage global string
// constant per instruction offset, holding its disassembled text, as the
// original source's AddInstructionStringGlobalVariables does. Only built
// when WithDebugTrace is enabled.
func (r *Recompiler) declareInstructionStrings() {
	for _, node := range r.doc.Program {
		if inst, ok := node.(ast.Instruction); ok {
			r.instStrings[inst.Offset] = r.newInstructionStringGlobal(inst.Text)
		}
	}
}

// newInstructionStringGlobal creates the internal global holding the given
// instruction's disassembled text.
func (r *Recompiler) newInstructionStringGlobal(text string) *ir.Global {
	data := constant.NewCharArrayFromString(text + "\x00")
	g := r.m.NewGlobalDef("", data)
	g.Linkage = enum.LinkageInternal
	g.Immutable = true
	return g
}

// buildEntryPoint creates the module's entry point: a void external
// function ("start") whose body initializes PC to the reset address and
// calls the reset function (spec.md §6).
func (r *Recompiler) buildEntryPoint() {
	f := r.m.NewFunc("start", types.Void)
	f.Linkage = enum.LinkageExternal
	r.startFunc = f

	entry := f.NewBlock("EntryBlock")
	r.selectBlock(entry)
	entry.NewStore(constant.NewInt(types.I16, int64(r.doc.RomResetAddr)), r.PC)

	resetFn, ok := r.functions[r.doc.RomResetFuncName]
	if !ok {
		entry.NewCall(r.panicFn)
		entry.NewRet(nil)
		return
	}
	entry.NewCall(resetFn)
	entry.NewRet(nil)
}
