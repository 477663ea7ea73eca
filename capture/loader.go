// Package capture parses Wireshark "Export Packet Dissections → As JSON"
// documents produced from a USBPcap capture into an ordered sequence of raw
// USB transfer records.
//
// The export must include packet bytes and secondary data sources; field
// values are read from the dissected "usb" layer where present and recovered
// from the raw frame bytes (USBPcap pseudo-header layout) where not.
package capture

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ulikunitz/xz"
)

// ErrCaptureFormat marks a document whose top-level shape is not a Wireshark
// packet export, or one with no usable packets at all.
var ErrCaptureFormat = errors.New("unrecognized capture export")

// USBPcap pseudo-header layout: 27 common bytes, then for control transfers
// one stage byte followed by the 8-byte setup packet.
const (
	pcapHeaderLen = 27
	pcapStageOff  = 27
	pcapSetupOff  = 28
	pcapSetupEnd  = 36
)

type options struct {
	logger *slog.Logger
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Load reads a capture export from disk. Paths ending in ".xz" are
// decompressed transparently.
func Load(path string, opts ...Option) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".xz") {
		xr, err := xz.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open xz capture: %w", err)
		}
		r = xr
	}
	return Parse(r, opts...)
}

// Parse decodes the export document and emits records strictly in frame
// order. Packets missing required USB fields are skipped with a warning;
// a document that yields zero records fails with ErrCaptureFormat.
func Parse(r io.Reader, opts ...Option) ([]Record, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	var packets []exportPacket
	dec := json.NewDecoder(r)
	if err := dec.Decode(&packets); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureFormat, err)
	}

	records := make([]Record, 0, len(packets))
	for i, pkt := range packets {
		rec, err := pkt.record()
		if err != nil {
			o.logger.Warn("skipping packet", "index", i, "reason", err)
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no usable USB packets", ErrCaptureFormat)
	}
	return records, nil
}

type exportPacket struct {
	Source struct {
		Layers map[string]any `json:"layers"`
	} `json:"_source"`
}

var (
	errNoUSBLayer  = errors.New("no usb layer")
	errNoFrameNo   = errors.New("missing frame number")
	errNoTransfer  = errors.New("missing transfer type")
	errNoAddress   = errors.New("missing device address")
	errShortFrame  = errors.New("frame bytes shorter than USBPcap header")
	errUnknownKind = errors.New("unsupported transfer type")
)

func (p exportPacket) record() (Record, error) {
	f := make(fields)
	f.collect(p.Source.Layers)
	if _, ok := f["usb.transfer_type"]; !ok {
		if _, ok := f["usb.src"]; !ok {
			return Record{}, errNoUSBLayer
		}
	}

	var rec Record

	seq, ok := f.uint("frame.number")
	if !ok {
		return Record{}, errNoFrameNo
	}
	rec.Seq = seq

	if secs, ok := f.float("frame.time_relative"); ok {
		rec.Time = time.Duration(secs * float64(time.Second))
	}

	raw := f.rawFrame()

	tt, ok := f.uint("usb.transfer_type")
	if !ok {
		return Record{}, errNoTransfer
	}
	rec.Transfer = TransferType(tt)
	switch rec.Transfer {
	case TransferControl, TransferBulk, TransferInterrupt, TransferIsochronous:
	default:
		return Record{}, errUnknownKind
	}

	bus, addr, srcEP, srcDir, addrOK := f.peerAddress()
	if v, ok := f.uint("usb.device_address"); ok {
		addr, addrOK = int(v), true
	}
	if v, ok := f.uint("usb.bus_id"); ok {
		bus = int(v)
	}
	if !addrOK {
		return Record{}, errNoAddress
	}
	rec.Bus = bus
	rec.Address = addr

	if v, ok := f.uint("usb.endpoint_address"); ok {
		rec.Endpoint = uint8(v) & 0x0f
		if v&0x80 != 0 {
			rec.Dir = DirIn
		}
	} else {
		rec.Endpoint = srcEP
		rec.Dir = srcDir
	}

	if rec.Transfer == TransferControl {
		if err := fillControl(&rec, f, raw); err != nil {
			return Record{}, err
		}
	} else {
		rec.Payload = f.payload(raw, pcapHeaderLen)
	}
	return rec, nil
}

// fillControl resolves the control stage, setup fields and payload, reading
// dissected fields first and the raw USBPcap frame as a fallback.
func fillControl(rec *Record, f fields, raw []byte) error {
	if v, ok := f.uint("usb.control_stage"); ok {
		rec.Stage = Stage(v) + 1 // USBPcap: 0=setup 1=data 2=status
	} else if len(raw) > pcapStageOff {
		rec.Stage = Stage(raw[pcapStageOff]) + 1
	} else if _, ok := f["usb.setup.bRequest"]; ok {
		rec.Stage = StageSetup
	} else {
		return errShortFrame
	}

	switch rec.Stage {
	case StageSetup:
		sp := SetupPacket{}
		if v, ok := f.uint("usb.bmRequestType"); ok {
			sp.BmRequestType = byte(v)
		}
		if v, ok := f.uint("usb.setup.bRequest"); ok {
			sp.BRequest = byte(v)
			sp.WValue = f.uint16or("usb.setup.wValue", 0)
			sp.WIndex = f.uint16or("usb.setup.wIndex", 0)
			sp.WLength = f.uint16or("usb.setup.wLength", 0)
		} else if len(raw) >= pcapSetupEnd {
			sp.BmRequestType = raw[pcapSetupOff]
			sp.BRequest = raw[pcapSetupOff+1]
			sp.WValue = uint16(raw[pcapSetupOff+2]) | uint16(raw[pcapSetupOff+3])<<8
			sp.WIndex = uint16(raw[pcapSetupOff+4]) | uint16(raw[pcapSetupOff+5])<<8
			sp.WLength = uint16(raw[pcapSetupOff+6]) | uint16(raw[pcapSetupOff+7])<<8
		} else {
			return errShortFrame
		}
		rec.Setup = &sp
		// Direction of the transfer as a whole follows the setup packet.
		if sp.DeviceToHost() {
			rec.Dir = DirIn
		} else {
			rec.Dir = DirOut
		}
	case StageData:
		rec.Payload = f.payload(raw, pcapSetupOff)
	case StageStatus:
		// no payload
	}
	return nil
}

// fields is the flattened view of one packet's dissection layers: every
// string leaf keyed by its Wireshark field name, first occurrence wins.
// "All Expanded" exports nest fields under arbitrary subtree keys, so a
// straight path lookup is not reliable.
type fields map[string]string

func (f fields) collect(v any) {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			if s, ok := child.(string); ok {
				if _, seen := f[k]; !seen {
					f[k] = s
				}
				continue
			}
			if arr, ok := child.([]any); ok {
				// _raw entries are [hexstring, offset, length, ...]
				if len(arr) > 0 {
					if s, ok := arr[0].(string); ok {
						if _, seen := f[k]; !seen {
							f[k] = s
						}
						continue
					}
				}
				for _, el := range arr {
					f.collect(el)
				}
				continue
			}
			f.collect(child)
		}
	}
}

func (f fields) uint(key string) (uint64, bool) {
	s, ok := f[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (f fields) uint16or(key string, fallback uint16) uint16 {
	if v, ok := f.uint(key); ok {
		return uint16(v)
	}
	return fallback
}

func (f fields) float(key string) (float64, bool) {
	s, ok := f[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// rawFrame decodes the frame_raw secondary data source.
func (f fields) rawFrame() []byte {
	s, ok := f["frame_raw"]
	if !ok {
		return nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return raw
}

// payload returns the transfer payload: the dissected capdata when present,
// otherwise the raw frame past the USBPcap header.
func (f fields) payload(raw []byte, rawOff int) []byte {
	for _, key := range []string{"usb.capdata", "usb.data_fragment"} {
		if s, ok := f[key]; ok {
			b, err := hex.DecodeString(strings.ReplaceAll(s, ":", ""))
			if err == nil {
				return b
			}
		}
	}
	if len(raw) > rawOff {
		return raw[rawOff:]
	}
	return nil
}

// peerAddress parses the non-host side of usb.src/usb.dst, which Wireshark
// renders as "bus.device.endpoint" (e.g. "2.7.0"). The host side tells the
// direction.
func (f fields) peerAddress() (bus, addr int, ep uint8, dir Direction, ok bool) {
	src, dst := f["usb.src"], f["usb.dst"]
	peer := src
	dir = DirIn
	if src == "host" {
		peer = dst
		dir = DirOut
	}
	parts := strings.Split(peer, ".")
	if len(parts) != 3 {
		return 0, 0, 0, DirOut, false
	}
	b, err1 := strconv.Atoi(parts[0])
	a, err2 := strconv.Atoi(parts[1])
	e, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, 0, DirOut, false
	}
	return b, a, uint8(e) & 0x0f, dir, true
}
