// Package correlate merges a device session's raw USB records into logical
// request/response transactions.
//
// Two independent rules run over the same record stream: control transfers
// are reassembled from their SETUP/DATA/STATUS stages, and bulk traffic on
// the configured command/response endpoint pair is paired by sequence
// adjacency. The correlator groups records but never reorders them, and a
// noisy or truncated capture degrades to lower-confidence transactions
// rather than errors.
package correlate

import (
	"log/slog"
	"sort"

	"github.com/WasatchPhotonics/SharkTooth/capture"
	"github.com/WasatchPhotonics/SharkTooth/device"
)

const (
	// ENG-001 units carry bulk commands on EP1 OUT and answer on EP2 IN.
	DefaultCommandEndpoint  = 1
	DefaultResponseEndpoint = 2
)

type options struct {
	commandEP  uint8
	responseEP uint8
	logger     *slog.Logger
}

type Option func(*options)

// WithCommandEndpoint sets the bulk OUT endpoint that carries commands.
func WithCommandEndpoint(ep uint8) Option {
	return func(o *options) { o.commandEP = ep & 0x0f }
}

// WithResponseEndpoint sets the bulk IN endpoint that carries responses.
func WithResponseEndpoint(ep uint8) Option {
	return func(o *options) { o.responseEP = ep & 0x0f }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// pending is an in-flight transaction being assembled.
type pending struct {
	txn       Transaction
	dataSeen  int
	truncated bool
}

func (p *pending) add(rec capture.Record) {
	// The SETUP stage is always part of the request, whichever direction the
	// transfer as a whole runs.
	if rec.Dir == capture.DirIn && !rec.IsSetup() {
		p.txn.Response = append(p.txn.Response, rec)
	} else {
		p.txn.Request = append(p.txn.Request, rec)
	}
	if p.txn.FirstSeq == 0 || rec.Seq < p.txn.FirstSeq {
		p.txn.FirstSeq = rec.Seq
	}
	if rec.Seq > p.txn.LastSeq {
		p.txn.LastSeq = rec.Seq
	}
}

type correlator struct {
	opts    options
	id      device.Identity
	control map[uint8]*pending // open control transfer per endpoint
	bulk    *pending           // open bulk command/response pair
	out     []Transaction
	skipped []capture.Record
}

// Correlate reassembles one device session into logical transactions. The
// result lists transactions in capture order; records the rules cannot
// attribute (interrupt/isochronous traffic, bulk on unconfigured endpoints,
// orphaned control stages) are reported as skipped.
func Correlate(sess *device.Session, opts ...Option) Result {
	o := options{
		commandEP:  DefaultCommandEndpoint,
		responseEP: DefaultResponseEndpoint,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &correlator{
		opts:    o,
		id:      sess.Identity,
		control: make(map[uint8]*pending),
	}
	for i := range sess.Records {
		rec := sess.Records[i]
		switch rec.Transfer {
		case capture.TransferControl:
			c.controlRecord(rec)
		case capture.TransferBulk:
			c.bulkRecord(rec)
		default:
			c.skip(rec)
		}
	}
	c.flush()

	sort.SliceStable(c.out, func(i, j int) bool {
		return c.out[i].FirstSeq < c.out[j].FirstSeq
	})
	return Result{Transactions: c.out, Skipped: c.skipped}
}

// controlRecord advances the per-endpoint SETUP/DATA/STATUS state machine.
func (c *correlator) controlRecord(rec capture.Record) {
	ep := rec.Endpoint
	open := c.control[ep]

	switch rec.Stage {
	case capture.StageSetup:
		if open != nil {
			// Nested SETUP before the expected STATUS: emit what we have.
			open.truncated = true
			c.emit(open)
		}
		p := &pending{txn: Transaction{Kind: ControlTransfer, Device: c.id}}
		p.add(rec)
		c.control[ep] = p

	case capture.StageData:
		if open == nil {
			c.skip(rec)
			return
		}
		open.dataSeen++
		open.add(rec)

	case capture.StageStatus:
		if open == nil {
			c.skip(rec)
			return
		}
		open.add(rec)
		c.emit(open)
		delete(c.control, ep)

	default:
		c.skip(rec)
	}
}

// bulkRecord pairs command-endpoint OUT transfers with the response-endpoint
// IN transfers that follow them. Inbound data with no open command (the
// spectral-read pattern: acquisition is requested over EP0, pixels arrive on
// the bulk IN endpoint alone) forms a response-only transaction.
func (c *correlator) bulkRecord(rec capture.Record) {
	switch {
	case rec.Dir == capture.DirOut && rec.Endpoint == c.opts.commandEP:
		// A second command closes the previous one; two commands are never
		// merged into a single payload.
		c.flushBulk()
		p := &pending{txn: Transaction{Kind: BulkCommandResponse, Device: c.id}}
		p.add(rec)
		c.bulk = p

	case rec.Dir == capture.DirIn && rec.Endpoint == c.opts.responseEP:
		if c.bulk == nil {
			c.bulk = &pending{txn: Transaction{Kind: BulkCommandResponse, Device: c.id}}
		}
		c.bulk.add(rec)

	default:
		c.skip(rec)
	}
}

// emit finalizes a control transfer and grades its confidence.
func (c *correlator) emit(p *pending) {
	switch {
	case p.truncated:
		p.txn.Confidence = Ambiguous
	case p.dataSeen > 1:
		// Fragmented data stage: grouping is plausible but not provable.
		p.txn.Confidence = Inferred
	default:
		p.txn.Confidence = Exact
	}
	c.out = append(c.out, p.txn)
}

func (c *correlator) flushBulk() {
	if c.bulk == nil {
		return
	}
	c.bulk.txn.Confidence = Inferred
	c.out = append(c.out, c.bulk.txn)
	c.bulk = nil
}

// flush emits everything still open at end-of-capture. A dangling SETUP is
// reported as an ambiguous transaction with whatever stages were seen.
func (c *correlator) flush() {
	for ep, p := range c.control {
		p.txn.Confidence = Ambiguous
		c.out = append(c.out, p.txn)
		delete(c.control, ep)
	}
	c.flushBulk()
}

func (c *correlator) skip(rec capture.Record) {
	c.opts.logger.Debug("record not correlated",
		"seq", rec.Seq, "transfer", rec.Transfer.String(),
		"ep", rec.Endpoint, "dir", rec.Dir.String())
	c.skipped = append(c.skipped, rec)
}
