package ast

import (
	"encoding/json"
	"testing"

	"github.com/kr/pretty"
)

func TestUnmarshalNodesLabelThenInstruction(t *testing.T) {
	raw := []byte(`[
		{"Label":{"name":"Reset","offset":"0x8000"}},
		{"Instruction":{"offset":"0x8000","pc":"0x8000","instruction_string":"LDA #$42","opcode":169,"operand":66,"operand_size":1,"memory_mode":1,"index_mode":1,"func_names":["Reset"]}}
	]`)
	var msgs []json.RawMessage
	if err := json.Unmarshal(raw, &msgs); err != nil {
		t.Fatalf("unmarshal raw array: %v", err)
	}
	nodes, err := UnmarshalNodes(msgs)
	if err != nil {
		t.Fatalf("%# v", pretty.Formatter(err))
	}
	if len(nodes) != 2 {
		t.Fatalf("want 2 nodes, got %d: %# v", len(nodes), pretty.Formatter(nodes))
	}
	lbl, ok := nodes[0].(Label)
	if !ok {
		t.Fatalf("nodes[0] is not a Label: %# v", pretty.Formatter(nodes[0]))
	}
	if lbl.Name != "Reset" || lbl.Offset != 0x8000 {
		t.Errorf("unexpected label: %+v", lbl)
	}
	inst, ok := nodes[1].(Instruction)
	if !ok {
		t.Fatalf("nodes[1] is not an Instruction: %# v", pretty.Formatter(nodes[1]))
	}
	if inst.Opcode != 0xA9 || !inst.HasOperand || inst.Operand != 0x42 {
		t.Errorf("unexpected instruction: %+v", inst)
	}
	if inst.MemMode != EightBit || inst.IdxMode != EightBit {
		t.Errorf("expected 8-bit memory/index mode, got %v/%v", inst.MemMode, inst.IdxMode)
	}
	if !inst.FuncNames["Reset"] {
		t.Errorf("expected func_names to contain Reset")
	}
}

func TestUnmarshalNodesNeitherKeyPresent(t *testing.T) {
	raw := []byte(`[{"Bogus":{}}]`)
	var msgs []json.RawMessage
	if err := json.Unmarshal(raw, &msgs); err != nil {
		t.Fatalf("unmarshal raw array: %v", err)
	}
	if _, err := UnmarshalNodes(msgs); err == nil {
		t.Fatalf("expected error for node with neither Label nor Instruction")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/does-not-exist.json"); err == nil {
		t.Fatalf("expected error for missing AST file")
	}
}
