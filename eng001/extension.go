package eng001

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/WasatchPhotonics/SharkTooth/capture"
	"github.com/WasatchPhotonics/SharkTooth/correlate"
)

// Opcode table extensions let a capture be decoded against vendor requests
// the built-in table does not know, without rebuilding the tool:
//
//	[[opcode]]
//	kind = "control"            # control | bulk
//	class = "vendor"            # standard | class | vendor (control only)
//	request = 0xC0
//	name = "GET_CODE_REVISION"
//	min_response_len = 4
//
//	  [[opcode.arg]]
//	  name = "mode"
//	  source = "wValue"         # wValue|wIndex|wValueWIndex|wValueHigh|wValueLow|payload
//
//	  [[opcode.response]]
//	  name = "revision"
//	  offset = 0
//	  width = 4
//	  type = "uint"             # uint | int | ascii | pixels

var ErrBadExtension = errors.New("bad opcode extension")

type extensionFile struct {
	Opcode []extensionOpcode `toml:"opcode"`
}

type extensionOpcode struct {
	Kind           string           `toml:"kind"`
	Class          string           `toml:"class"`
	Request        int64            `toml:"request"`
	Name           string           `toml:"name"`
	MinResponseLen int              `toml:"min_response_len"`
	Expects        bool             `toml:"expects_response"`
	Arg            []extensionArg   `toml:"arg"`
	Response       []extensionField `toml:"response"`
}

type extensionArg struct {
	Name   string `toml:"name"`
	Source string `toml:"source"`
	Offset int    `toml:"offset"`
	Width  int    `toml:"width"`
	Unit   string `toml:"unit"`
	Bool   bool   `toml:"bool"`
}

type extensionField struct {
	Name   string `toml:"name"`
	Offset int    `toml:"offset"`
	Width  int    `toml:"width"`
	Type   string `toml:"type"`
	Unit   string `toml:"unit"`
}

// LoadExtensions merges the entries of a TOML extension file into the table.
// A collision with any existing entry fails the whole load; nothing is
// shadowed silently.
func (t *Table) LoadExtensions(path string) error {
	var file extensionFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return fmt.Errorf("%w: %v", ErrBadExtension, err)
	}
	for _, ext := range file.Opcode {
		key, op, err := ext.compile()
		if err != nil {
			return err
		}
		if err := t.Register(key, op); err != nil {
			return err
		}
	}
	return nil
}

func (e extensionOpcode) compile() (Key, Opcode, error) {
	if e.Name == "" {
		return Key{}, Opcode{}, fmt.Errorf("%w: entry without name", ErrBadExtension)
	}
	if e.Request < 0 || e.Request > 0xff {
		return Key{}, Opcode{}, fmt.Errorf("%w: %s: request 0x%X out of range", ErrBadExtension, e.Name, e.Request)
	}

	key := Key{Request: byte(e.Request)}
	switch e.Kind {
	case "", "control":
		key.Kind = correlate.ControlTransfer
		switch e.Class {
		case "", "vendor":
			key.Class = capture.RequestVendor
		case "standard":
			key.Class = capture.RequestStandard
		case "class":
			key.Class = capture.RequestClassReq
		default:
			return Key{}, Opcode{}, fmt.Errorf("%w: %s: class %q", ErrBadExtension, e.Name, e.Class)
		}
	case "bulk":
		key.Kind = correlate.BulkCommandResponse
	default:
		return Key{}, Opcode{}, fmt.Errorf("%w: %s: kind %q", ErrBadExtension, e.Name, e.Kind)
	}

	op := Opcode{
		Name:            e.Name,
		MinResponseLen:  e.MinResponseLen,
		ExpectsResponse: e.Expects,
	}
	for _, a := range e.Arg {
		src, err := argSource(a.Source)
		if err != nil {
			return Key{}, Opcode{}, fmt.Errorf("%w: %s: %v", ErrBadExtension, e.Name, err)
		}
		op.Args = append(op.Args, ArgSpec{
			Name: a.Name, Source: src, Offset: a.Offset, Width: a.Width,
			Unit: a.Unit, Bool: a.Bool,
		})
	}
	for _, f := range e.Response {
		kind, err := fieldKind(f.Type)
		if err != nil {
			return Key{}, Opcode{}, fmt.Errorf("%w: %s: %v", ErrBadExtension, e.Name, err)
		}
		op.Response = append(op.Response, FieldSpec{
			Name: f.Name, Offset: f.Offset, Width: f.Width, Kind: kind, Unit: f.Unit,
		})
	}
	return key, op, nil
}

func argSource(s string) (ArgSource, error) {
	switch s {
	case "", "wValue":
		return ArgWValue, nil
	case "wIndex":
		return ArgWIndex, nil
	case "wValueWIndex":
		return ArgWValueWIndex, nil
	case "wValueHigh":
		return ArgWValueHigh, nil
	case "wValueLow":
		return ArgWValueLow, nil
	case "payload":
		return ArgPayload, nil
	}
	return 0, fmt.Errorf("unknown arg source %q", s)
}

func fieldKind(s string) (FieldKind, error) {
	switch s {
	case "", "uint":
		return FieldUint, nil
	case "int":
		return FieldInt, nil
	case "ascii":
		return FieldASCII, nil
	case "pixels":
		return FieldPixels, nil
	}
	return 0, fmt.Errorf("unknown field type %q", s)
}
