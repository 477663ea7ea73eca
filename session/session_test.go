package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WasatchPhotonics/SharkTooth/capture"
	"github.com/WasatchPhotonics/SharkTooth/config"
	"github.com/WasatchPhotonics/SharkTooth/eng001"
)

func ctrlSetup(seq uint64, addr int, bm, req byte, wLength uint16) capture.Record {
	sp := &capture.SetupPacket{BmRequestType: bm, BRequest: req, WLength: wLength}
	dir := capture.DirOut
	if sp.DeviceToHost() {
		dir = capture.DirIn
	}
	return capture.Record{
		Seq: seq, Bus: 1, Address: addr,
		Transfer: capture.TransferControl, Stage: capture.StageSetup,
		Setup: sp, Dir: dir,
	}
}

func ctrlData(seq uint64, addr int, payload []byte) capture.Record {
	return capture.Record{
		Seq: seq, Bus: 1, Address: addr,
		Transfer: capture.TransferControl, Stage: capture.StageData,
		Dir: capture.DirIn, Payload: payload,
	}
}

func ctrlStatus(seq uint64, addr int) capture.Record {
	return capture.Record{
		Seq: seq, Bus: 1, Address: addr,
		Transfer: capture.TransferControl, Stage: capture.StageStatus,
		Dir: capture.DirIn,
	}
}

func bulkIn(seq uint64, addr int, payload []byte) capture.Record {
	return capture.Record{
		Seq: seq, Bus: 1, Address: addr, Endpoint: 2,
		Transfer: capture.TransferBulk, Dir: capture.DirIn, Payload: payload,
	}
}

// twoDeviceRecords interleaves a firmware read on address 5 with an
// acquisition and spectral read on address 6, plus one interrupt record the
// correlator cannot attribute.
func twoDeviceRecords() []capture.Record {
	return []capture.Record{
		ctrlSetup(1, 5, 0xC0, eng001.ReqGetFirmwareVersion, 2),
		ctrlSetup(2, 6, 0x40, eng001.ReqAcquireSpectrum, 0),
		ctrlData(3, 5, []byte{0x01, 0x05}),
		ctrlStatus(4, 6),
		ctrlStatus(5, 5),
		bulkIn(6, 6, make([]byte, 2048)),
		bulkIn(7, 6, make([]byte, 2048)),
		{Seq: 8, Bus: 1, Address: 5, Transfer: capture.TransferInterrupt, Dir: capture.DirIn},
	}
}

func TestAnalyzeTwoDevices(t *testing.T) {
	sess, err := Analyze(twoDeviceRecords(), config.Default())
	require.NoError(t, err)

	ids := sess.Devices()
	require.Len(t, ids, 2)
	assert.Equal(t, 5, ids[0].Address)
	assert.Equal(t, 6, ids[1].Address)

	fw := sess.OperationsByOpcode("GET_FIRMWARE_VERSION")
	require.Len(t, fw, 1)
	assert.Equal(t, eng001.StatusOK, fw[0].Status)
	assert.Equal(t, 5, fw[0].Device.Address)
	require.Len(t, fw[0].Response, 2)
	assert.EqualValues(t, 1, fw[0].Response[0].Value)
	assert.EqualValues(t, 5, fw[0].Response[1].Value)

	// Interleaved traffic must not leak across devices.
	for _, op := range sess.OperationsFor(ids[0]) {
		assert.Equal(t, 5, op.Device.Address, "operation %s on wrong device", op.Opcode)
	}

	stats := sess.Stats()
	assert.Equal(t, 8, stats.Loaded)
	assert.Equal(t, stats.Loaded, stats.Consumed+stats.Skipped)
	assert.Equal(t, 1, stats.Skipped) // the interrupt record
	assert.Equal(t, 2, stats.Devices)
}

func TestOperationsOrderedBySeq(t *testing.T) {
	sess, err := Analyze(twoDeviceRecords(), config.Default())
	require.NoError(t, err)

	ops := sess.Operations()
	require.NotEmpty(t, ops)
	for i := 1; i < len(ops); i++ {
		assert.LessOrEqual(t, ops[i-1].FirstSeq, ops[i].FirstSeq)
	}
}

func TestSelectSpectrometer(t *testing.T) {
	sess, err := Analyze(twoDeviceRecords(), config.Default())
	require.NoError(t, err)

	spec, err := sess.SelectSpectrometer()
	require.NoError(t, err)
	assert.Equal(t, 6, spec.Identity().Address)

	tagged, err := sess.SelectDevice(spec.Identity().Tag())
	require.NoError(t, err)
	assert.Same(t, spec, tagged)
}

func TestSelectSpectrometerNone(t *testing.T) {
	recs := []capture.Record{
		ctrlSetup(1, 5, 0xC0, eng001.ReqGetFirmwareVersion, 2),
		ctrlData(2, 5, []byte{0x01, 0x05}),
		ctrlStatus(3, 5),
	}
	sess, err := Analyze(recs, config.Default())
	require.NoError(t, err)

	_, err = sess.SelectSpectrometer()
	assert.ErrorIs(t, err, ErrNoSpectrometer)
}

func TestSelectSpectrometerAmbiguous(t *testing.T) {
	recs := []capture.Record{
		bulkIn(1, 5, make([]byte, 4096)),
		bulkIn(2, 6, make([]byte, 4096)),
	}
	sess, err := Analyze(recs, config.Default())
	require.NoError(t, err)

	_, err = sess.SelectSpectrometer()
	assert.ErrorIs(t, err, ErrMultipleSpectrometers)
}

func TestSelectDeviceUnknownTag(t *testing.T) {
	sess, err := Analyze(twoDeviceRecords(), config.Default())
	require.NoError(t, err)

	_, err = sess.SelectDevice("bogus")
	assert.ErrorIs(t, err, ErrNoSuchDevice)
}

func TestUnknownOperations(t *testing.T) {
	recs := []capture.Record{
		ctrlSetup(1, 5, 0x40, 0xCC, 0),
		ctrlStatus(2, 5),
	}
	sess, err := Analyze(recs, config.Default())
	require.NoError(t, err)

	unknown := sess.UnknownOperations()
	require.Len(t, unknown, 1)
	assert.Equal(t, "UNKNOWN_0xCC", unknown[0].Opcode)
}

func TestOperationsInRange(t *testing.T) {
	sess, err := Analyze(twoDeviceRecords(), config.Default())
	require.NoError(t, err)

	ops := sess.OperationsInRange(1, 1)
	require.Len(t, ops, 1)
	assert.Equal(t, "GET_FIRMWARE_VERSION", ops[0].Opcode)

	assert.Empty(t, sess.OperationsInRange(100, 200))
}

// TestLoadEndToEnd drives the whole pipeline from a Wireshark-shaped export
// file: a complete GET_FIRMWARE_VERSION control transfer on one device.
func TestLoadEndToEnd(t *testing.T) {
	mkPacket := func(frame string, usb map[string]any) map[string]any {
		return map[string]any{"_source": map[string]any{"layers": map[string]any{
			"frame": map[string]any{"frame.number": frame, "frame.time_relative": "0.1"},
			"usb":   usb,
		}}}
	}
	packets := []map[string]any{
		mkPacket("1", map[string]any{
			"usb.src": "host", "usb.dst": "1.7.0",
			"usb.device_address": "7", "usb.endpoint_address": "0x80",
			"usb.transfer_type": "2", "usb.control_stage": "0",
			"usb.bmRequestType": "0xc0", "usb.setup.bRequest": "1",
			"usb.setup.wValue": "0", "usb.setup.wIndex": "0", "usb.setup.wLength": "2",
		}),
		mkPacket("2", map[string]any{
			"usb.src": "1.7.0", "usb.dst": "host",
			"usb.device_address": "7", "usb.endpoint_address": "0x80",
			"usb.transfer_type": "2", "usb.control_stage": "1",
			"usb.capdata": "01:05",
		}),
		mkPacket("3", map[string]any{
			"usb.src": "1.7.0", "usb.dst": "host",
			"usb.device_address": "7", "usb.endpoint_address": "0x80",
			"usb.transfer_type": "2", "usb.control_stage": "2",
		}),
	}
	doc, err := json.Marshal(packets)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "capture.json")
	require.NoError(t, os.WriteFile(path, doc, 0o644))

	sess, err := Load(path, config.Default())
	require.NoError(t, err)

	ops := sess.OperationsByOpcode("GET_FIRMWARE_VERSION")
	require.Len(t, ops, 1)
	assert.Equal(t, eng001.StatusOK, ops[0].Status)
	assert.Equal(t, "EXACT", ops[0].Confidence.String())

	stats := sess.Stats()
	assert.Equal(t, 3, stats.Loaded)
	assert.Equal(t, stats.Loaded, stats.Consumed+stats.Skipped)
	assert.Zero(t, stats.Skipped)
}
