package eng001

import (
	"fmt"
	"strings"
	"time"

	"github.com/WasatchPhotonics/SharkTooth/capture"
	"github.com/WasatchPhotonics/SharkTooth/correlate"
	"github.com/WasatchPhotonics/SharkTooth/device"
)

// Status grades one decoded operation.
type Status uint8

const (
	StatusOK Status = iota
	StatusUnknownOpcode
	StatusMalformedLength
	StatusNoResponse
)

var statusNames = [...]string{"OK", "UNKNOWN_OPCODE", "MALFORMED_LENGTH", "NO_RESPONSE"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "UNKNOWN_OPCODE"
}

// Arg is one interpreted request argument.
type Arg struct {
	Name  string
	Value int64
	Unit  string
	Bool  bool
}

func (a Arg) String() string {
	if a.Bool {
		if a.Value != 0 {
			return a.Name + "=on"
		}
		return a.Name + "=off"
	}
	if a.Unit != "" {
		return fmt.Sprintf("%s=%d%s", a.Name, a.Value, a.Unit)
	}
	return fmt.Sprintf("%s=%d", a.Name, a.Value)
}

// Field is one interpreted response field. Text carries ASCII fields;
// numeric fields use Value.
type Field struct {
	Name  string
	Value int64
	Text  string
	Unit  string
}

func (f Field) String() string {
	if f.Text != "" {
		return fmt.Sprintf("%s=%q", f.Name, f.Text)
	}
	if f.Unit != "" {
		return fmt.Sprintf("%s=%d%s", f.Name, f.Value, f.Unit)
	}
	return fmt.Sprintf("%s=%d", f.Name, f.Value)
}

// Operation is the protocol-level reading of one logical transaction.
// Derived one-way: decoding never touches the transaction it came from, and
// decoding the same transaction twice yields identical content.
type Operation struct {
	Opcode     string
	Status     Status
	Kind       correlate.Kind
	Confidence correlate.Confidence
	Device     device.Identity
	Time       time.Duration
	FirstSeq   uint64
	LastSeq    uint64
	Args       []Arg
	Response   []Field
	// RawResponse is always preserved, interpreted or not.
	RawResponse []byte
	toDevice    bool
}

// ToDevice reports whether the operation moves data host-to-device.
func (op *Operation) ToDevice() bool {
	return op.toDevice
}

// Summary renders the one-line form used by listings:
//
//	12.345678 <SET_INTEGRATION_TIME [toSpec] integration_time_ms=100ms EXACT>
func (op *Operation) Summary() string {
	dir := "fromSpec"
	if op.toDevice {
		dir = "  toSpec"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%.6f <%s [%s]", op.Time.Seconds(), op.Opcode, dir)
	for _, a := range op.Args {
		b.WriteString(" " + a.String())
	}
	for _, f := range op.Response {
		b.WriteString(" " + f.String())
	}
	if len(op.RawResponse) > 0 && len(op.Response) == 0 {
		fmt.Fprintf(&b, " %d bytes", len(op.RawResponse))
	}
	if op.Status != StatusOK {
		b.WriteString(" " + op.Status.String())
	}
	fmt.Fprintf(&b, " %s>", op.Confidence)
	return b.String()
}

// Decode maps one transaction to its ENG-001 operation. It never fails:
// unknown opcodes and malformed payloads are reported through the status
// field with the raw bytes preserved.
func (t *Table) Decode(txn *correlate.Transaction) Operation {
	op := Operation{
		Kind:        txn.Kind,
		Confidence:  txn.Confidence,
		Device:      txn.Device,
		FirstSeq:    txn.FirstSeq,
		LastSeq:     txn.LastSeq,
		RawResponse: txn.ResponsePayload(),
	}
	if len(txn.Request) > 0 {
		op.Time = txn.Request[0].Time
	} else if len(txn.Response) > 0 {
		op.Time = txn.Response[0].Time
	}

	if txn.Kind == correlate.ControlTransfer {
		t.decodeControl(txn, &op)
	} else {
		t.decodeBulk(txn, &op)
	}
	return op
}

func (t *Table) decodeControl(txn *correlate.Transaction, op *Operation) {
	setup := txn.Setup()
	if setup == nil {
		op.Opcode = "UNKNOWN"
		op.Status = StatusUnknownOpcode
		return
	}
	op.toDevice = !setup.DeviceToHost()

	spec, ok := t.Lookup(Key{
		Kind:    correlate.ControlTransfer,
		Class:   setup.Class(),
		Request: setup.BRequest,
	})
	if !ok {
		op.Opcode = fmt.Sprintf("UNKNOWN_0x%02X", setup.BRequest)
		op.Status = StatusUnknownOpcode
		return
	}
	op.Opcode = spec.Name
	op.Args = extractArgs(spec.Args, setup, txn.RequestPayload())

	expects := setup.DeviceToHost() && setup.WLength > 0
	fillResponse(op, spec, expects)
}

func (t *Table) decodeBulk(txn *correlate.Transaction, op *Operation) {
	cmd := txn.RequestPayload()
	if len(cmd) == 0 {
		// Response-only transaction: pixel data following a control-side
		// acquisition request.
		op.Opcode = SpectralDataName
		op.Response = extractFields([]FieldSpec{
			{Name: "pixel_count", Kind: FieldPixels, Unit: "pixels"},
		}, op.RawResponse)
		return
	}
	op.toDevice = true

	spec, ok := t.Lookup(Key{Kind: correlate.BulkCommandResponse, Request: cmd[0]})
	if !ok {
		op.Opcode = fmt.Sprintf("UNKNOWN_0x%02X", cmd[0])
		op.Status = StatusUnknownOpcode
		return
	}
	op.Opcode = spec.Name
	op.Args = extractArgs(spec.Args, nil, cmd)
	fillResponse(op, spec, spec.ExpectsResponse)
}

func fillResponse(op *Operation, spec Opcode, expects bool) {
	switch {
	case expects && len(op.RawResponse) == 0:
		op.Status = StatusNoResponse
	case len(op.RawResponse) < spec.MinResponseLen:
		// Interpret what fits, flag the rest.
		op.Status = StatusMalformedLength
		op.Response = extractFields(spec.Response, op.RawResponse)
	default:
		op.Response = extractFields(spec.Response, op.RawResponse)
	}
}

func extractArgs(specs []ArgSpec, setup *capture.SetupPacket, payload []byte) []Arg {
	args := make([]Arg, 0, len(specs))
	for _, as := range specs {
		var v int64
		switch as.Source {
		case ArgWValue:
			if setup == nil {
				continue
			}
			v = int64(setup.WValue)
		case ArgWIndex:
			if setup == nil {
				continue
			}
			v = int64(setup.WIndex)
		case ArgWValueWIndex:
			if setup == nil {
				continue
			}
			v = int64(setup.WValue) | int64(setup.WIndex)<<16
		case ArgWValueHigh:
			if setup == nil {
				continue
			}
			v = int64(setup.WValue >> 8)
		case ArgWValueLow:
			if setup == nil {
				continue
			}
			v = int64(setup.WValue & 0xff)
		case ArgPayload:
			u, ok := leUint(payload, as.Offset, as.Width)
			if !ok {
				continue
			}
			v = int64(u)
		default:
			continue
		}
		args = append(args, Arg{Name: as.Name, Value: v, Unit: as.Unit, Bool: as.Bool})
	}
	return args
}

func extractFields(specs []FieldSpec, payload []byte) []Field {
	fields := make([]Field, 0, len(specs))
	for _, fs := range specs {
		switch fs.Kind {
		case FieldASCII:
			end := len(payload)
			if fs.Width > 0 && fs.Offset+fs.Width < end {
				end = fs.Offset + fs.Width
			}
			if fs.Offset >= end {
				continue
			}
			text := strings.TrimRight(string(payload[fs.Offset:end]), "\x00")
			fields = append(fields, Field{Name: fs.Name, Text: text, Unit: fs.Unit})
		case FieldPixels:
			if fs.Offset > len(payload) {
				continue
			}
			n := int64(len(payload)-fs.Offset) / 2
			fields = append(fields, Field{Name: fs.Name, Value: n, Unit: fs.Unit})
		default:
			u, ok := leUint(payload, fs.Offset, fs.Width)
			if !ok {
				continue
			}
			v := int64(u)
			if fs.Kind == FieldInt {
				v = signExtend(u, fs.Width)
			}
			fields = append(fields, Field{Name: fs.Name, Value: v, Unit: fs.Unit})
		}
	}
	return fields
}

// leUint reads a little-endian unsigned integer of width bytes, reporting
// false when the field does not fit the payload.
func leUint(b []byte, off, width int) (uint64, bool) {
	if width <= 0 || width > 8 || off < 0 || off+width > len(b) {
		return 0, false
	}
	var v uint64
	for i := width - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[off+i])
	}
	return v, true
}

func signExtend(u uint64, width int) int64 {
	shift := uint(64 - 8*width)
	return int64(u<<shift) >> shift
}
