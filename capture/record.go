package capture

import (
	"fmt"
	"time"
)

// Direction is the transfer direction relative to the host.
type Direction uint8

const (
	DirOut Direction = iota // host to device
	DirIn                   // device to host
)

func (d Direction) String() string {
	if d == DirIn {
		return "IN"
	}
	return "OUT"
}

// TransferType mirrors the USB transfer type encoding used by USBPcap
// and libusb (0=isochronous, 1=interrupt, 2=control, 3=bulk).
type TransferType uint8

const (
	TransferIsochronous TransferType = 0
	TransferInterrupt   TransferType = 1
	TransferControl     TransferType = 2
	TransferBulk        TransferType = 3
)

var transferTypeNames = map[TransferType]string{
	TransferIsochronous: "isochronous",
	TransferInterrupt:   "interrupt",
	TransferControl:     "control",
	TransferBulk:        "bulk",
}

func (t TransferType) String() string {
	if s, ok := transferTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("transfer(%d)", uint8(t))
}

// Stage is the control transfer stage. Bulk and interrupt records carry
// StageNone.
type Stage uint8

const (
	StageNone Stage = iota
	StageSetup
	StageData
	StageStatus
)

var stageNames = map[Stage]string{
	StageNone:   "-",
	StageSetup:  "SETUP",
	StageData:   "DATA",
	StageStatus: "STATUS",
}

func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return fmt.Sprintf("stage(%d)", uint8(s))
}

// RequestClass is bits 5..6 of bmRequestType.
type RequestClass uint8

const (
	RequestStandard RequestClass = 0
	RequestClassReq RequestClass = 1
	RequestVendor   RequestClass = 2
	RequestReserved RequestClass = 3
)

func (c RequestClass) String() string {
	switch c {
	case RequestStandard:
		return "standard"
	case RequestClassReq:
		return "class"
	case RequestVendor:
		return "vendor"
	}
	return "reserved"
}

// SetupPacket holds the 8-byte setup stage fields of a control transfer.
type SetupPacket struct {
	BmRequestType byte
	BRequest      byte
	WValue        uint16
	WIndex        uint16
	WLength       uint16
}

// DeviceToHost reports the data stage direction encoded in bit 7.
func (s SetupPacket) DeviceToHost() bool {
	return s.BmRequestType&0x80 != 0
}

// Class returns the request type namespace (standard, class, vendor).
func (s SetupPacket) Class() RequestClass {
	return RequestClass(s.BmRequestType>>5) & 0x03
}

// Record is one USB-level event as captured on the wire. Records are built
// once by the loader and never mutated afterwards.
type Record struct {
	Seq      uint64 // capture frame number; unique and monotonic
	Time     time.Duration
	Bus      int
	Address  int
	Endpoint uint8 // endpoint number, direction bit stripped
	Dir      Direction
	Transfer TransferType
	Stage    Stage
	Setup    *SetupPacket // non-nil only for a control SETUP stage
	Payload  []byte
}

// IsSetup reports whether the record is the SETUP stage of a control transfer.
func (r *Record) IsSetup() bool {
	return r.Transfer == TransferControl && r.Stage == StageSetup && r.Setup != nil
}
