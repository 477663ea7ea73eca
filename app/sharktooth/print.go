package main

import (
	"errors"
	"fmt"

	"github.com/WasatchPhotonics/SharkTooth/eng001"
	"github.com/WasatchPhotonics/SharkTooth/session"
)

// printListing is the non-interactive mode: one summary line per operation,
// the format the interactive inspector also shows.
func printListing(sess *session.Session, tag, opcode string) error {
	fmt.Println(banner)

	var ops []eng001.Operation
	switch {
	case tag != "":
		d, err := sess.SelectDevice(tag)
		if err != nil {
			return err
		}
		fmt.Printf("device %s\n\n", d.Identity())
		ops = d.Operations()
	case opcode != "":
		ops = sess.OperationsByOpcode(opcode)
	default:
		// Prefer the spectrometer when one is identifiable, otherwise show
		// the whole capture.
		d, err := sess.SelectSpectrometer()
		switch {
		case err == nil:
			fmt.Printf("device %s\n\n", d.Identity())
			ops = d.Operations()
		case errors.Is(err, session.ErrNoSpectrometer),
			errors.Is(err, session.ErrMultipleSpectrometers):
			fmt.Printf("%v; listing all devices\n\n", err)
			ops = sess.Operations()
		default:
			return err
		}
	}

	if opcode != "" && tag != "" {
		ops = filterOpcode(ops, opcode)
	}
	for i := range ops {
		fmt.Printf("%6d %s\n", ops[i].FirstSeq, ops[i].Summary())
	}

	st := sess.Stats()
	fmt.Printf("\n%d records, %d transactions, %d devices, %d skipped\n",
		st.Loaded, st.Transactions, st.Devices, st.Skipped)
	return nil
}

func filterOpcode(ops []eng001.Operation, name string) []eng001.Operation {
	out := ops[:0:0]
	for _, op := range ops {
		if op.Opcode == name {
			out = append(out, op)
		}
	}
	return out
}
