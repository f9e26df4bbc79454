package ast

import (
	"encoding/json"

	"github.com/mewkiz/pkg/jsonutil"
	"github.com/mewkiz/pkg/osutil"
	"github.com/pkg/errors"

	"github.com/jvipond/smkrecomp/bin"
)

// Document is the fully materialized AST document, as produced by the
// (external) disassembler.
type Document struct {
	RomResetFuncName string
	RomResetAddr     bin.Addr
	RomNmiFuncName   string
	RomIrqFuncName   string

	FunctionNames []string

	// OffsetToFunctionName maps a call-site instruction offset to the name of
	// the function it calls.
	OffsetToFunctionName map[bin.Addr]string

	// LabelsToFunctions maps a label offset to the set of functions that
	// contain it, and whether the label is that function's entry point.
	LabelsToFunctions map[bin.Addr]map[string]bool

	// JumpTables maps an indirect jump/call instruction offset to the
	// runtime-address -> target-name table materialized at that site.
	JumpTables map[bin.Addr]map[bin.Addr]string

	// ReturnAddressManipulationFunctions maps a function name to the program
	// counter inside it at which it manipulates its own return address.
	ReturnAddressManipulationFunctions map[string]bin.Addr

	// Program is the ordered sequence of label and instruction nodes.
	Program []Node
}

// wireDocument is the raw JSON shape of Document, decoded before the
// string-keyed maps are converted to bin.Addr-keyed maps.
type wireDocument struct {
	RomResetFuncName string   `json:"rom_reset_func_name"`
	RomResetAddr     bin.Addr `json:"rom_reset_addr"`
	RomNmiFuncName   string   `json:"rom_nmi_func_name"`
	RomIrqFuncName   string   `json:"rom_irq_func_name"`

	FunctionNames []string `json:"function_names"`

	OffsetToFunctionName map[string]string `json:"offset_to_function_name"`

	LabelsToFunctions map[string]map[string]bool `json:"labels_to_functions"`

	JumpTables map[string]map[string]string `json:"jump_tables"`

	ReturnAddressManipulationFunctions map[string]bin.Addr `json:"return_address_manipulation_functions"`

	AST []json.RawMessage `json:"ast"`
}

// Load parses the AST document at path. A missing file is reported as a
// loader error rather than a raw os.Open error.
func Load(path string) (*Document, error) {
	if !osutil.Exists(path) {
		return nil, errors.Errorf("unable to locate AST file %q", path)
	}
	var w wireDocument
	if err := jsonutil.ParseFile(path, &w); err != nil {
		return nil, errors.WithStack(err)
	}
	doc, err := fromWire(&w)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

func fromWire(w *wireDocument) (*Document, error) {
	doc := &Document{
		RomResetFuncName: w.RomResetFuncName,
		RomResetAddr:     w.RomResetAddr,
		RomNmiFuncName:   w.RomNmiFuncName,
		RomIrqFuncName:   w.RomIrqFuncName,
		FunctionNames:    w.FunctionNames,
	}

	doc.OffsetToFunctionName = make(map[bin.Addr]string, len(w.OffsetToFunctionName))
	for k, v := range w.OffsetToFunctionName {
		addr, err := bin.ParseKey(k)
		if err != nil {
			return nil, errors.Wrap(err, "offset_to_function_name")
		}
		doc.OffsetToFunctionName[addr] = v
	}

	doc.LabelsToFunctions = make(map[bin.Addr]map[string]bool, len(w.LabelsToFunctions))
	for k, v := range w.LabelsToFunctions {
		addr, err := bin.ParseKey(k)
		if err != nil {
			return nil, errors.Wrap(err, "labels_to_functions")
		}
		doc.LabelsToFunctions[addr] = v
	}

	doc.JumpTables = make(map[bin.Addr]map[bin.Addr]string, len(w.JumpTables))
	for k, entries := range w.JumpTables {
		addr, err := bin.ParseKey(k)
		if err != nil {
			return nil, errors.Wrap(err, "jump_tables")
		}
		table := make(map[bin.Addr]string, len(entries))
		for ek, ev := range entries {
			eaddr, err := bin.ParseKey(ek)
			if err != nil {
				return nil, errors.Wrapf(err, "jump_tables[%v]", addr)
			}
			table[eaddr] = ev
		}
		doc.JumpTables[addr] = table
	}

	doc.ReturnAddressManipulationFunctions = w.ReturnAddressManipulationFunctions

	nodes, err := UnmarshalNodes(w.AST)
	if err != nil {
		return nil, errors.Wrap(err, "ast")
	}
	doc.Program = nodes

	return doc, nil
}

// Validate checks the required top-level keys are present. It does not
// cross-check label/function consistency — that is the translator's job,
// and inconsistencies there (a jump label or call target absent from the
// document) are lowered to a runtime `call panic; return` rather than
// failing the load (see spec §7).
func (d *Document) Validate() error {
	if d.RomResetFuncName == "" {
		return errors.New("ast: missing rom_reset_func_name")
	}
	if d.RomNmiFuncName == "" {
		return errors.New("ast: missing rom_nmi_func_name")
	}
	if d.RomIrqFuncName == "" {
		return errors.New("ast: missing rom_irq_func_name")
	}
	if len(d.FunctionNames) == 0 {
		return errors.New("ast: function_names is empty")
	}
	if len(d.Program) == 0 {
		return errors.New("ast: ast is empty")
	}
	return nil
}
