// Package ast provides a typed, in-memory representation of the
// disassembler's serialized program description: an ordered sequence of
// label and instruction nodes, plus the side metadata that links labels to
// the functions that contain them, jump tables, and return-address
// manipulation sites.
package ast

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/jvipond/smkrecomp/bin"
)

// MemoryMode is the 65816 operand-width mode for a single instruction,
// independently tracked for the accumulator/memory (M) and index (X) register
// classes.
type MemoryMode uint8

// Operand widths. The disassembler serializes 16-bit as 0 and 8-bit as 1,
// mirroring the MF/XF processor-status bits (set means 8-bit).
const (
	SixteenBit MemoryMode = 0
	EightBit   MemoryMode = 1
)

// Label names a point in the program that one or more functions branch to.
// Every Instruction belongs to the most recent preceding Label.
type Label struct {
	Name   string
	Offset bin.Addr
}

// Instruction is a single decoded 65816 instruction.
type Instruction struct {
	Offset        bin.Addr
	PC            bin.Addr
	Text          string
	Opcode        uint8
	Operand       uint32
	HasOperand    bool
	OperandSize   uint32
	MemMode       MemoryMode
	IdxMode       MemoryMode
	JumpLabel     string
	HasJumpLabel  bool
	FuncNames     map[string]bool
}

// TotalSize returns the encoded size of the instruction in bytes: the opcode
// byte plus its operand.
func (i *Instruction) TotalSize() uint32 {
	return i.OperandSize + 1
}

// Node is a single element of the program: either a Label or an Instruction.
// It is a tagged union realized as a marker-method interface rather than
// through inheritance, matching the disassembler's own Label/Instruction
// sum type.
type Node interface {
	isNode()
}

func (Label) isNode()       {}
func (Instruction) isNode() {}

// jsonNode is the wire shape of a single ast[] entry: exactly one of the two
// keys is present.
type jsonNode struct {
	Label       *jsonLabel       `json:"Label"`
	Instruction *jsonInstruction `json:"Instruction"`
}

type jsonLabel struct {
	Name   string   `json:"name"`
	Offset bin.Addr `json:"offset"`
}

type jsonInstruction struct {
	Offset              bin.Addr `json:"offset"`
	PC                  bin.Addr `json:"pc"`
	InstructionString   string   `json:"instruction_string"`
	Opcode              uint8    `json:"opcode"`
	Operand             *uint32  `json:"operand"`
	JumpLabelName       *string  `json:"jump_label_name"`
	OperandSize         uint32   `json:"operand_size"`
	MemoryMode          uint8    `json:"memory_mode"`
	IndexMode           uint8    `json:"index_mode"`
	FuncNames           []string `json:"func_names"`
}

// UnmarshalNodes decodes the ast[] array into a slice of Nodes, preserving
// program order.
func UnmarshalNodes(raw []json.RawMessage) ([]Node, error) {
	nodes := make([]Node, 0, len(raw))
	for i, r := range raw {
		var jn jsonNode
		if err := json.Unmarshal(r, &jn); err != nil {
			return nil, errors.Wrapf(err, "ast[%d]", i)
		}
		switch {
		case jn.Label != nil:
			nodes = append(nodes, Label{Name: jn.Label.Name, Offset: jn.Label.Offset})
		case jn.Instruction != nil:
			ji := jn.Instruction
			inst := Instruction{
				Offset:      ji.Offset,
				PC:          ji.PC,
				Text:        ji.InstructionString,
				Opcode:      ji.Opcode,
				OperandSize: ji.OperandSize,
				MemMode:     MemoryMode(ji.MemoryMode),
				IdxMode:     MemoryMode(ji.IndexMode),
			}
			if ji.Operand != nil {
				inst.HasOperand = true
				inst.Operand = *ji.Operand
			}
			if ji.JumpLabelName != nil {
				inst.HasJumpLabel = true
				inst.JumpLabel = *ji.JumpLabelName
			}
			if len(ji.FuncNames) > 0 {
				inst.FuncNames = make(map[string]bool, len(ji.FuncNames))
				for _, fn := range ji.FuncNames {
					inst.FuncNames[fn] = true
				}
			}
			nodes = append(nodes, inst)
		default:
			return nil, errors.Errorf("ast[%d]: neither Label nor Instruction present", i)
		}
	}
	return nodes, nil
}
