// Package session runs the full reconstruction pipeline — load, partition,
// correlate, decode — and exposes the result as an immutable, queryable
// model. A session is built once per capture; analyzing a changed capture
// means building a fresh session, never patching an old one.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/samber/lo"

	"github.com/WasatchPhotonics/SharkTooth/capture"
	"github.com/WasatchPhotonics/SharkTooth/config"
	"github.com/WasatchPhotonics/SharkTooth/correlate"
	"github.com/WasatchPhotonics/SharkTooth/device"
	"github.com/WasatchPhotonics/SharkTooth/eng001"
)

var (
	ErrNoSuchDevice          = errors.New("no such device")
	ErrNoSpectrometer        = errors.New("no device in the capture looks like a spectrometer")
	ErrMultipleSpectrometers = errors.New("more than one device looks like a spectrometer")
)

// spectralReadFloor is the payload size above which a bulk read is assumed
// to carry pixels rather than protocol chatter (a 1024-pixel unit sends
// 2 KiB plus framing).
const spectralReadFloor = 2048

// Device is the reconstructed view of one device lifetime.
type Device struct {
	id      device.Identity
	records []capture.Record
	ops     []eng001.Operation
	skipped []capture.Record
}

func (d *Device) Identity() device.Identity { return d.id }

// Operations returns the decoded operations in capture order. The slice is
// shared and must not be modified.
func (d *Device) Operations() []eng001.Operation { return d.ops }

// RecordCount is the number of raw records attributed to the device.
func (d *Device) RecordCount() int { return len(d.records) }

// Session is the fully decoded capture. Immutable after Analyze returns.
type Session struct {
	devices []*Device
	allOps  []eng001.Operation
	total   int
	skipped int
}

// Stats is the record accounting of a session. Consumed plus Skipped always
// equals Loaded; no record is silently lost between pipeline stages.
type Stats struct {
	Loaded       int `json:"loaded"`
	Consumed     int `json:"consumed"`
	Skipped      int `json:"skipped"`
	Devices      int `json:"devices"`
	Transactions int `json:"transactions"`
}

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

// Load reads a capture export from disk and analyzes it.
func Load(path string, cfg config.Config, opts ...Option) (*Session, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	records, err := capture.Load(path, capture.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	return Analyze(records, cfg, opts...)
}

// Analyze runs partitioning, correlation and decoding over loaded records.
func Analyze(records []capture.Record, cfg config.Config, opts ...Option) (*Session, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	table := eng001.Builtin()
	for _, path := range cfg.OpcodeExtensions {
		if err := table.LoadExtensions(path); err != nil {
			return nil, fmt.Errorf("opcode extensions: %w", err)
		}
	}

	sessions := device.Partition(records, device.WithIdleThreshold(cfg.IdleThreshold))

	s := &Session{total: len(records)}
	for _, ds := range sessions {
		res := correlate.Correlate(ds,
			correlate.WithCommandEndpoint(cfg.CommandEndpoint),
			correlate.WithResponseEndpoint(cfg.ResponseEndpoint),
			correlate.WithLogger(o.logger),
		)
		d := &Device{
			id:      ds.Identity,
			records: ds.Records,
			skipped: res.Skipped,
		}
		d.ops = make([]eng001.Operation, 0, len(res.Transactions))
		for i := range res.Transactions {
			d.ops = append(d.ops, table.Decode(&res.Transactions[i]))
		}
		s.devices = append(s.devices, d)
		s.skipped += len(res.Skipped)
		s.allOps = append(s.allOps, d.ops...)

		o.logger.Info("device reconstructed",
			"device", ds.Identity.String(),
			"records", len(ds.Records),
			"transactions", len(res.Transactions),
			"skipped", len(res.Skipped))
	}

	sort.SliceStable(s.allOps, func(i, j int) bool {
		return s.allOps[i].FirstSeq < s.allOps[j].FirstSeq
	})
	return s, nil
}

// Devices returns device identities in order of first appearance.
func (s *Session) Devices() []device.Identity {
	return lo.Map(s.devices, func(d *Device, _ int) device.Identity {
		return d.id
	})
}

// SelectDevice resolves a device by its base58 tag.
func (s *Session) SelectDevice(tag string) (*Device, error) {
	for _, d := range s.devices {
		if d.id.Tag() == tag {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoSuchDevice, tag)
}

// SelectSpectrometer finds the one device whose traffic looks like a Wasatch
// spectrometer: acquisition requests plus spectral-sized bulk reads. It
// fails when the capture shows none, or more than one.
func (s *Session) SelectSpectrometer() (*Device, error) {
	candidates := lo.Filter(s.devices, func(d *Device, _ int) bool {
		return looksLikeSpectrometer(d)
	})
	switch len(candidates) {
	case 0:
		return nil, ErrNoSpectrometer
	case 1:
		return candidates[0], nil
	default:
		return nil, fmt.Errorf("%w: %d candidates", ErrMultipleSpectrometers, len(candidates))
	}
}

func looksLikeSpectrometer(d *Device) bool {
	acquires := false
	reads := false
	for i := range d.ops {
		op := &d.ops[i]
		if op.Opcode == "ACQUIRE_SPECTRUM" {
			acquires = true
		}
		if op.Opcode == eng001.SpectralDataName && len(op.RawResponse) >= spectralReadFloor {
			reads = true
		}
	}
	return acquires || reads
}

// OperationsFor returns the operations of one device identity.
func (s *Session) OperationsFor(id device.Identity) []eng001.Operation {
	for _, d := range s.devices {
		if d.id == id {
			return d.ops
		}
	}
	return nil
}

// OperationsByOpcode filters all operations, across devices, by opcode name.
func (s *Session) OperationsByOpcode(name string) []eng001.Operation {
	return lo.Filter(s.allOps, func(op eng001.Operation, _ int) bool {
		return op.Opcode == name
	})
}

// OperationsInRange returns operations whose sequence span intersects
// [seqLo, seqHi].
func (s *Session) OperationsInRange(seqLo, seqHi uint64) []eng001.Operation {
	return lo.Filter(s.allOps, func(op eng001.Operation, _ int) bool {
		return op.LastSeq >= seqLo && op.FirstSeq <= seqHi
	})
}

// UnknownOperations returns every operation the decode table could not name.
func (s *Session) UnknownOperations() []eng001.Operation {
	return lo.Filter(s.allOps, func(op eng001.Operation, _ int) bool {
		return op.Status == eng001.StatusUnknownOpcode
	})
}

// Operations returns all operations across devices, in capture order.
func (s *Session) Operations() []eng001.Operation {
	return s.allOps
}

// Stats returns the session's record accounting.
func (s *Session) Stats() Stats {
	return Stats{
		Loaded:       s.total,
		Consumed:     s.total - s.skipped,
		Skipped:      s.skipped,
		Devices:      len(s.devices),
		Transactions: len(s.allOps),
	}
}
