package correlate

import (
	"bytes"
	"testing"

	"github.com/WasatchPhotonics/SharkTooth/capture"
	"github.com/WasatchPhotonics/SharkTooth/device"
)

func setupRec(seq uint64, bm, req byte, wLength uint16) capture.Record {
	sp := &capture.SetupPacket{BmRequestType: bm, BRequest: req, WLength: wLength}
	dir := capture.DirOut
	if sp.DeviceToHost() {
		dir = capture.DirIn
	}
	return capture.Record{
		Seq: seq, Address: 5,
		Transfer: capture.TransferControl, Stage: capture.StageSetup,
		Setup: sp, Dir: dir,
	}
}

func dataRec(seq uint64, dir capture.Direction, payload []byte) capture.Record {
	return capture.Record{
		Seq: seq, Address: 5,
		Transfer: capture.TransferControl, Stage: capture.StageData,
		Dir: dir, Payload: payload,
	}
}

func statusRec(seq uint64) capture.Record {
	return capture.Record{
		Seq: seq, Address: 5,
		Transfer: capture.TransferControl, Stage: capture.StageStatus,
		Dir: capture.DirIn,
	}
}

func bulkRec(seq uint64, dir capture.Direction, ep uint8, payload []byte) capture.Record {
	return capture.Record{
		Seq: seq, Address: 5, Endpoint: ep,
		Transfer: capture.TransferBulk, Dir: dir, Payload: payload,
	}
}

func session(recs ...capture.Record) *device.Session {
	return &device.Session{
		Identity: device.Identity{Bus: 1, Address: 5},
		Records:  recs,
	}
}

func TestControlTransferExact(t *testing.T) {
	res := Correlate(session(
		setupRec(1, 0xC0, 0x01, 2),
		dataRec(2, capture.DirIn, []byte{0x01, 0x05}),
		statusRec(3),
	))

	if len(res.Transactions) != 1 {
		t.Fatalf("got %d transactions, want 1", len(res.Transactions))
	}
	txn := res.Transactions[0]
	if txn.Kind != ControlTransfer || txn.Confidence != Exact {
		t.Errorf("kind=%v confidence=%v", txn.Kind, txn.Confidence)
	}
	if txn.FirstSeq != 1 || txn.LastSeq != 3 {
		t.Errorf("span = [%d,%d]", txn.FirstSeq, txn.LastSeq)
	}
	if s := txn.Setup(); s == nil || s.BRequest != 0x01 {
		t.Fatalf("setup = %v", s)
	}
	if !bytes.Equal(txn.ResponsePayload(), []byte{0x01, 0x05}) {
		t.Errorf("response payload = % x", txn.ResponsePayload())
	}
	if len(res.Skipped) != 0 {
		t.Errorf("%d records skipped", len(res.Skipped))
	}
}

func TestControlFragmentedDataIsInferred(t *testing.T) {
	res := Correlate(session(
		setupRec(1, 0xC0, 0xB4, 7),
		dataRec(2, capture.DirIn, []byte("FPGA")),
		dataRec(3, capture.DirIn, []byte("1.0")),
		statusRec(4),
	))

	txn := res.Transactions[0]
	if txn.Confidence != Inferred {
		t.Errorf("confidence = %v, want INFERRED", txn.Confidence)
	}
	if got := string(txn.ResponsePayload()); got != "FPGA1.0" {
		t.Errorf("reassembled payload = %q", got)
	}
}

func TestDanglingSetupIsAmbiguousWithEmptyResponse(t *testing.T) {
	res := Correlate(session(
		setupRec(1, 0xC0, 0x01, 2),
	))

	if len(res.Transactions) != 1 {
		t.Fatalf("got %d transactions, want 1", len(res.Transactions))
	}
	txn := res.Transactions[0]
	if txn.Confidence != Ambiguous {
		t.Errorf("confidence = %v, want AMBIGUOUS", txn.Confidence)
	}
	if len(txn.Response) != 0 || len(txn.ResponsePayload()) != 0 {
		t.Errorf("dangling SETUP must not collect a response, got %d records", len(txn.Response))
	}
	if len(txn.Request) != 1 {
		t.Errorf("request records = %d, want the SETUP alone", len(txn.Request))
	}
}

func TestNestedSetupClosesPrevious(t *testing.T) {
	res := Correlate(session(
		setupRec(1, 0xC0, 0x01, 2),
		setupRec(2, 0x40, 0xB2, 0),
		statusRec(3),
	))

	if len(res.Transactions) != 2 {
		t.Fatalf("got %d transactions, want 2", len(res.Transactions))
	}
	if res.Transactions[0].Confidence != Ambiguous {
		t.Errorf("interrupted transfer confidence = %v", res.Transactions[0].Confidence)
	}
	if res.Transactions[1].Confidence != Exact {
		t.Errorf("completed transfer confidence = %v", res.Transactions[1].Confidence)
	}
}

func TestOrphanStagesAreSkipped(t *testing.T) {
	res := Correlate(session(
		dataRec(1, capture.DirIn, []byte{0xFF}),
		statusRec(2),
	))

	if len(res.Transactions) != 0 {
		t.Errorf("got %d transactions, want 0", len(res.Transactions))
	}
	if len(res.Skipped) != 2 {
		t.Errorf("skipped = %d, want 2", len(res.Skipped))
	}
}

func TestBulkCommandResponsePair(t *testing.T) {
	res := Correlate(session(
		bulkRec(1, capture.DirOut, 1, []byte{0xB2, 0x64, 0x00}),
		bulkRec(2, capture.DirIn, 2, []byte{0x01}),
	))

	if len(res.Transactions) != 1 {
		t.Fatalf("got %d transactions, want 1", len(res.Transactions))
	}
	txn := res.Transactions[0]
	if txn.Kind != BulkCommandResponse {
		t.Errorf("kind = %v", txn.Kind)
	}
	if txn.RequestPayload()[0] != 0xB2 || txn.ResponsePayload()[0] != 0x01 {
		t.Errorf("payloads: req=% x resp=% x", txn.RequestPayload(), txn.ResponsePayload())
	}
}

func TestConsecutiveBulkCommandsNeverMerge(t *testing.T) {
	res := Correlate(session(
		bulkRec(1, capture.DirOut, 1, []byte{0xB2}),
		bulkRec(2, capture.DirOut, 1, []byte{0xBE}),
		bulkRec(3, capture.DirIn, 2, []byte{0x01}),
	))

	if len(res.Transactions) != 2 {
		t.Fatalf("got %d transactions, want 2", len(res.Transactions))
	}
	first, second := res.Transactions[0], res.Transactions[1]
	if len(first.Response) != 0 {
		t.Errorf("first command stole a response: %d records", len(first.Response))
	}
	if first.RequestPayload()[0] != 0xB2 || second.RequestPayload()[0] != 0xBE {
		t.Errorf("commands merged: req1=% x req2=% x", first.RequestPayload(), second.RequestPayload())
	}
	if len(second.Response) != 1 {
		t.Errorf("second command response records = %d", len(second.Response))
	}
}

func TestResponseOnlyBulkRead(t *testing.T) {
	pixels := make([]byte, 4096)
	res := Correlate(session(
		bulkRec(1, capture.DirIn, 2, pixels[:2048]),
		bulkRec(2, capture.DirIn, 2, pixels[2048:]),
	))

	if len(res.Transactions) != 1 {
		t.Fatalf("got %d transactions, want 1", len(res.Transactions))
	}
	txn := res.Transactions[0]
	if len(txn.Request) != 0 {
		t.Errorf("response-only read has %d request records", len(txn.Request))
	}
	if len(txn.ResponsePayload()) != 4096 {
		t.Errorf("reassembled %d bytes, want 4096", len(txn.ResponsePayload()))
	}
	if txn.Confidence != Inferred {
		t.Errorf("confidence = %v, want INFERRED", txn.Confidence)
	}
}

func TestConservation(t *testing.T) {
	recs := []capture.Record{
		setupRec(1, 0xC0, 0x01, 2),
		dataRec(2, capture.DirIn, []byte{0x01, 0x05}),
		statusRec(3),
		bulkRec(4, capture.DirOut, 1, []byte{0xB2}),
		bulkRec(5, capture.DirIn, 2, []byte{0x01}),
		{Seq: 6, Address: 5, Transfer: capture.TransferInterrupt, Dir: capture.DirIn},
		bulkRec(7, capture.DirOut, 3, []byte{0x00}), // unconfigured endpoint
	}

	res := Correlate(session(recs...))

	consumed := 0
	for _, txn := range res.Transactions {
		consumed += txn.RecordCount()
	}
	if consumed+len(res.Skipped) != len(recs) {
		t.Errorf("conservation violated: consumed=%d skipped=%d loaded=%d",
			consumed, len(res.Skipped), len(recs))
	}
	if len(res.Skipped) != 2 {
		t.Errorf("skipped = %d, want interrupt + stray bulk", len(res.Skipped))
	}
}

func TestTransactionsSortedByFirstSeq(t *testing.T) {
	// The bulk pair opens before the control transfer completes; output must
	// still come back ordered by first record.
	res := Correlate(session(
		bulkRec(1, capture.DirOut, 1, []byte{0xB2}),
		setupRec(2, 0xC0, 0x01, 2),
		dataRec(3, capture.DirIn, []byte{0x01, 0x05}),
		statusRec(4),
		bulkRec(5, capture.DirIn, 2, []byte{0x01}),
	))

	if len(res.Transactions) != 2 {
		t.Fatalf("got %d transactions, want 2", len(res.Transactions))
	}
	if res.Transactions[0].FirstSeq != 1 || res.Transactions[1].FirstSeq != 2 {
		t.Errorf("order: first=%d second=%d",
			res.Transactions[0].FirstSeq, res.Transactions[1].FirstSeq)
	}
}
