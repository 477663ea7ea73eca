// Package eng001 decodes correlated USB transactions into the operations of
// the Wasatch Photonics ENG-001 command protocol.
//
// Decoding is a closed table lookup plus fixed-offset little-endian field
// extraction; no opcode carries behavior beyond interpreting bytes. The
// built-in table covers the opcodes recoverable from available material and
// can be extended from TOML files without code changes; an extension that
// collides with an existing entry is rejected rather than shadowing it.
package eng001

import (
	"errors"
	"fmt"

	"github.com/WasatchPhotonics/SharkTooth/capture"
	"github.com/WasatchPhotonics/SharkTooth/correlate"
)

// ErrOpcodeCollision is returned when a registration would redefine an
// already-known opcode.
var ErrOpcodeCollision = errors.New("opcode already registered")

// ArgSource says where a request argument's bits live.
type ArgSource uint8

const (
	ArgWValue       ArgSource = iota // the wValue word
	ArgWIndex                        // the wIndex word
	ArgWValueWIndex                  // wValue | wIndex<<16 (24/32-bit values)
	ArgWValueHigh                    // high byte of wValue
	ArgWValueLow                     // low byte of wValue
	ArgPayload                       // little-endian field in the request payload
)

// ArgSpec declares one named request argument.
type ArgSpec struct {
	Name   string
	Source ArgSource
	Offset int // ArgPayload only
	Width  int // ArgPayload only, bytes
	Unit   string
	Bool   bool // render 0/1 as off/on
}

// FieldKind selects how response bytes are interpreted.
type FieldKind uint8

const (
	FieldUint   FieldKind = iota // unsigned little-endian integer
	FieldInt                     // signed little-endian integer
	FieldASCII                   // NUL-trimmed text, Width 0 = rest of payload
	FieldPixels                  // uint16 little-endian pixel stream, value = count
)

// FieldSpec declares one named response field at a fixed offset.
type FieldSpec struct {
	Name   string
	Offset int
	Width  int // bytes; 0 with ASCII/Pixels consumes the rest
	Kind   FieldKind
	Unit   string
}

// Key identifies a table entry: the transaction shape, the bmRequestType
// namespace (so a vendor request can never shadow a standard one sharing the
// bRequest byte), and the request byte itself.
type Key struct {
	Kind    correlate.Kind
	Class   capture.RequestClass
	Request byte
}

func (k Key) String() string {
	if k.Kind == correlate.BulkCommandResponse {
		return fmt.Sprintf("bulk/0x%02X", k.Request)
	}
	return fmt.Sprintf("control/%s/0x%02X", k.Class, k.Request)
}

// Opcode is one entry of the decode table.
type Opcode struct {
	Name           string
	Args           []ArgSpec
	Response       []FieldSpec
	MinResponseLen int
	// ExpectsResponse applies to bulk commands; for control transfers the
	// setup packet's wLength and direction bit already say it.
	ExpectsResponse bool
}

// Table is a decode table. The zero value is unusable; start from Builtin().
type Table struct {
	m map[Key]Opcode
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{m: make(map[Key]Opcode)}
}

// Register adds an entry, refusing collisions.
func (t *Table) Register(k Key, op Opcode) error {
	if prev, ok := t.m[k]; ok {
		return fmt.Errorf("%w: %s is %s", ErrOpcodeCollision, k, prev.Name)
	}
	t.m[k] = op
	return nil
}

func (t *Table) mustRegister(k Key, op Opcode) {
	if err := t.Register(k, op); err != nil {
		panic(err)
	}
}

// Lookup returns the entry for a key.
func (t *Table) Lookup(k Key) (Opcode, bool) {
	op, ok := t.m[k]
	return op, ok
}

// Len reports the number of registered opcodes.
func (t *Table) Len() int {
	return len(t.m)
}
