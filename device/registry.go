// Package device groups raw transfer records by the physical device that
// produced them. A bus address may be reused after re-enumeration, so one
// address can yield several sessions distinguished by epoch.
package device

import (
	"time"
	"unicode/utf16"

	"github.com/WasatchPhotonics/SharkTooth/capture"
)

// Standard request and descriptor codes consumed by the re-enumeration and
// descriptor heuristics.
const (
	reqSetAddress    = 0x05
	reqGetDescriptor = 0x06

	descDevice = 0x01
	descString = 0x03

	deviceDescLen = 18
)

// Session holds all records attributable to one device lifetime, in capture
// order. Records are shared with the loader output and never mutated.
type Session struct {
	Identity Identity
	Records  []capture.Record
}

type options struct {
	idleThreshold time.Duration
}

type Option func(*options)

// WithIdleThreshold sets the quiet-time gap after which traffic on the same
// address is treated as a new device lifetime. Zero disables gap splitting.
func WithIdleThreshold(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.idleThreshold = d
		}
	}
}

type addrKey struct {
	bus, addr int
}

// Partition groups records into device sessions, ordered by first
// appearance. Epoch splitting is best-effort and deliberately conservative:
// a session is only split on a clear re-enumeration signal (SET_ADDRESS
// reassigning an address that already carried traffic) or on an idle gap
// beyond the configured threshold. Ambiguity keeps a single merged epoch.
func Partition(records []capture.Record, opts ...Option) []*Session {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var out []*Session
	open := make(map[addrKey]*Session)
	epochs := make(map[addrKey]int)
	reenum := make(map[addrKey]bool)

	for i := range records {
		rec := records[i]

		// SET_ADDRESS is sent to the default address and names the address
		// about to come alive in wValue.
		if rec.IsSetup() && rec.Setup.Class() == capture.RequestStandard &&
			rec.Setup.BRequest == reqSetAddress {
			k := addrKey{rec.Bus, int(rec.Setup.WValue)}
			if s := open[k]; s != nil && len(s.Records) > 0 {
				reenum[k] = true
			}
		}

		k := addrKey{rec.Bus, rec.Address}
		s := open[k]
		if s != nil && splitBefore(s, rec, reenum[k], o.idleThreshold) {
			delete(reenum, k)
			epochs[k]++
			s = nil
		}
		if s == nil {
			s = &Session{Identity: Identity{
				Bus:     rec.Bus,
				Address: rec.Address,
				Epoch:   epochs[k],
			}}
			open[k] = s
			out = append(out, s)
		}
		s.Records = append(s.Records, rec)
	}

	for _, s := range out {
		fillDescriptorInfo(s)
	}
	return out
}

func splitBefore(s *Session, rec capture.Record, reenumerated bool, idle time.Duration) bool {
	if reenumerated {
		return true
	}
	if idle <= 0 || len(s.Records) == 0 {
		return false
	}
	last := s.Records[len(s.Records)-1]
	return rec.Time-last.Time > idle
}

// fillDescriptorInfo recovers VID/PID and the serial string from descriptor
// fetches captured inside the session. Absent enumeration traffic the
// identity keeps zero values.
func fillDescriptorInfo(s *Session) {
	serialIdx := -1
	wantString := -1

	for i := range s.Records {
		rec := &s.Records[i]
		if rec.IsSetup() && rec.Setup.Class() == capture.RequestStandard &&
			rec.Setup.BRequest == reqGetDescriptor {
			if byte(rec.Setup.WValue>>8) == descString {
				wantString = int(rec.Setup.WValue & 0xff)
			} else {
				wantString = -1
			}
			continue
		}
		if rec.Transfer != capture.TransferControl || rec.Stage != capture.StageData ||
			rec.Dir != capture.DirIn {
			continue
		}
		p := rec.Payload
		switch {
		case len(p) >= deviceDescLen && p[0] == deviceDescLen && p[1] == descDevice:
			s.Identity.VendorID = uint16(p[8]) | uint16(p[9])<<8
			s.Identity.ProductID = uint16(p[10]) | uint16(p[11])<<8
			serialIdx = int(p[16]) // iSerialNumber
		case wantString >= 0 && wantString == serialIdx && len(p) >= 4 && p[1] == descString:
			s.Identity.Serial = decodeStringDescriptor(p)
		}
		wantString = -1
	}
}

// decodeStringDescriptor converts the UTF-16LE body of a string descriptor.
func decodeStringDescriptor(p []byte) string {
	n := int(p[0])
	if n > len(p) {
		n = len(p)
	}
	if n < 4 {
		return ""
	}
	u := make([]uint16, 0, (n-2)/2)
	for i := 2; i+1 < n; i += 2 {
		u = append(u, uint16(p[i])|uint16(p[i+1])<<8)
	}
	return string(utf16.Decode(u))
}
