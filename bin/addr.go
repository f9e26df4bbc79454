// Package bin provides the address type shared by the AST and recompiler
// packages: a 65816 bank:offset address, widened to 32 bits.
package bin

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Addr is an address that may be specified in hexadecimal notation. It
// implements the flag.Value and encoding.TextUnmarshaler interfaces.
type Addr uint32

// Address size in number of bits.
const addrSize = 32

// String returns the hexadecimal string representation of v.
func (v Addr) String() string {
	return fmt.Sprintf("0x%08X", uint32(v))
}

// Set sets v to the numeric value represented by s.
func (v *Addr) Set(s string) error {
	x, err := parseUint32(s)
	if err != nil {
		return errors.WithStack(err)
	}
	*v = Addr(x)
	return nil
}

// UnmarshalText unmarshals the text into v.
func (v *Addr) UnmarshalText(text []byte) error {
	return v.Set(string(text))
}

// MarshalText returns the textual representation of v.
func (v Addr) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalJSON unmarshals either a quoted hexadecimal string (as produced by
// the disassembler for offsets and program counters) or a bare JSON number.
func (v *Addr) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return errors.WithStack(err)
		}
		return v.Set(s)
	}
	var x uint32
	if err := json.Unmarshal(b, &x); err != nil {
		return errors.WithStack(err)
	}
	*v = Addr(x)
	return nil
}

// ParseKey parses a JSON object key (always a string) into an Addr, used for
// the offset-keyed maps in the AST document.
func ParseKey(key string) (Addr, error) {
	var a Addr
	if err := a.Set(key); err != nil {
		return 0, err
	}
	return a, nil
}

// Addrs implements the sort.Sort interface, sorting addresses in ascending
// order.
type Addrs []Addr

func (as Addrs) Len() int           { return len(as) }
func (as Addrs) Swap(i, j int)      { as[i], as[j] = as[j], as[i] }
func (as Addrs) Less(i, j int) bool { return as[i] < as[j] }

// ### [ Helper functions ] ####################################################

// parseUint32 interprets the given string in base 10 or base 16 (if prefixed
// with `0x` or `0X`) and returns the corresponding value.
func parseUint32(s string) (uint32, error) {
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[len("0x"):]
		base = 16
	}
	x, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return uint32(x), nil
}
