package correlate

import (
	"github.com/WasatchPhotonics/SharkTooth/capture"
	"github.com/WasatchPhotonics/SharkTooth/device"
)

// Kind distinguishes the two correlation shapes.
type Kind uint8

const (
	ControlTransfer Kind = iota
	BulkCommandResponse
)

func (k Kind) String() string {
	if k == BulkCommandResponse {
		return "BULK_COMMAND_RESPONSE"
	}
	return "CONTROL_TRANSFER"
}

// Confidence grades how certain the request/response pairing is.
//
//	EXACT     - the control stage sequence was complete and unambiguous
//	INFERRED  - pairing rests on sequence adjacency only (all bulk pairs,
//	            and control transfers with fragmented data stages)
//	AMBIGUOUS - the stage sequence was interrupted or truncated
type Confidence uint8

const (
	Exact Confidence = iota
	Inferred
	Ambiguous
)

var confidenceNames = [...]string{"EXACT", "INFERRED", "AMBIGUOUS"}

func (c Confidence) String() string {
	if int(c) < len(confidenceNames) {
		return confidenceNames[c]
	}
	return "AMBIGUOUS"
}

// Transaction is one correlated request/response unit. Records are split by
// wire direction: host-to-device records (and the SETUP stage) on the
// request side, device-to-host records on the response side. Immutable once
// emitted.
type Transaction struct {
	Kind       Kind
	Device     device.Identity
	Request    []capture.Record
	Response   []capture.Record
	Confidence Confidence
	FirstSeq   uint64
	LastSeq    uint64
}

// Setup returns the SETUP packet of a control transfer, nil otherwise.
func (t *Transaction) Setup() *capture.SetupPacket {
	for i := range t.Request {
		if t.Request[i].IsSetup() {
			return t.Request[i].Setup
		}
	}
	return nil
}

// RequestPayload concatenates the outbound data carried by the transaction:
// control DATA stages or bulk OUT payloads.
func (t *Transaction) RequestPayload() []byte {
	return payloadOf(t.Request)
}

// ResponsePayload concatenates the inbound data. Empty when the device never
// answered or the capture is truncated.
func (t *Transaction) ResponsePayload() []byte {
	return payloadOf(t.Response)
}

func payloadOf(recs []capture.Record) []byte {
	var out []byte
	for i := range recs {
		r := &recs[i]
		if r.Transfer == capture.TransferControl && r.Stage != capture.StageData {
			continue
		}
		out = append(out, r.Payload...)
	}
	return out
}

// RecordCount is the number of raw records the transaction consumed.
func (t *Transaction) RecordCount() int {
	return len(t.Request) + len(t.Response)
}

// Result is the output of correlating one device session. Every input record
// lands either in exactly one transaction or in Skipped; nothing is dropped
// silently.
type Result struct {
	Transactions []Transaction
	Skipped      []capture.Record
}
