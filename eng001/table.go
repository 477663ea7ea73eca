package eng001

import (
	"github.com/WasatchPhotonics/SharkTooth/capture"
	"github.com/WasatchPhotonics/SharkTooth/correlate"
)

// ENG-001 vendor request bytes. The full vendor table is proprietary; these
// are the requests observed in captures of Wasatch drivers plus the layouts
// recoverable from available material.
const (
	ReqGetFirmwareVersion     = 0x01
	ReqAcquireSpectrum        = 0xAD
	ReqSetIntegrationTime     = 0xB2
	ReqGetFPGARevision        = 0xB4
	ReqSetLaserEnable         = 0xBE
	ReqGetIntegrationTime     = 0xBF
	ReqSetDetectorTECEnable   = 0xD6
	ReqGetDetectorTemperature = 0xD7
	ReqSetDetectorTECSetpoint = 0xD8
	ReqGetLaserEnable         = 0xE2
	ReqSecondTier             = 0xFF
)

// SpectralDataName labels response-only bulk transactions: pixel data that
// arrives on the read endpoint after a control-initiated acquisition.
const SpectralDataName = "SPECTRAL_DATA"

func controlVendor(req byte) Key {
	return Key{Kind: correlate.ControlTransfer, Class: capture.RequestVendor, Request: req}
}

func controlStandard(req byte) Key {
	return Key{Kind: correlate.ControlTransfer, Class: capture.RequestStandard, Request: req}
}

func bulk(cmd byte) Key {
	return Key{Kind: correlate.BulkCommandResponse, Request: cmd}
}

// Builtin returns a fresh table holding the known ENG-001 operations and the
// standard requests that show up during enumeration. Collisions here are
// programming errors, hence the panicking registration.
func Builtin() *Table {
	t := NewTable()

	t.mustRegister(controlVendor(ReqGetFirmwareVersion), Opcode{
		Name:           "GET_FIRMWARE_VERSION",
		MinResponseLen: 2,
		Response: []FieldSpec{
			{Name: "major", Offset: 0, Width: 1},
			{Name: "minor", Offset: 1, Width: 1},
		},
	})
	t.mustRegister(controlVendor(ReqAcquireSpectrum), Opcode{
		Name: "ACQUIRE_SPECTRUM",
	})
	t.mustRegister(controlVendor(ReqSetIntegrationTime), Opcode{
		Name: "SET_INTEGRATION_TIME",
		Args: []ArgSpec{
			{Name: "integration_time_ms", Source: ArgWValueWIndex, Unit: "ms"},
		},
	})
	t.mustRegister(controlVendor(ReqGetIntegrationTime), Opcode{
		Name:           "GET_INTEGRATION_TIME",
		MinResponseLen: 3,
		Response: []FieldSpec{
			{Name: "integration_time_ms", Offset: 0, Width: 3, Unit: "ms"},
		},
	})
	t.mustRegister(controlVendor(ReqGetFPGARevision), Opcode{
		Name:           "GET_FPGA_REVISION",
		MinResponseLen: 1,
		Response: []FieldSpec{
			{Name: "fpga_revision", Kind: FieldASCII},
		},
	})
	t.mustRegister(controlVendor(ReqSetLaserEnable), Opcode{
		Name: "SET_LASER_ENABLE",
		Args: []ArgSpec{
			{Name: "laser_enable", Source: ArgWValue, Bool: true},
		},
	})
	t.mustRegister(controlVendor(ReqGetLaserEnable), Opcode{
		Name:           "GET_LASER_ENABLE",
		MinResponseLen: 1,
		Response: []FieldSpec{
			{Name: "laser_enable", Offset: 0, Width: 1},
		},
	})
	t.mustRegister(controlVendor(ReqSetDetectorTECEnable), Opcode{
		Name: "SET_DETECTOR_TEC_ENABLE",
		Args: []ArgSpec{
			{Name: "tec_enable", Source: ArgWValue, Bool: true},
		},
	})
	t.mustRegister(controlVendor(ReqSetDetectorTECSetpoint), Opcode{
		Name: "SET_DETECTOR_TEC_SETPOINT",
		Args: []ArgSpec{
			{Name: "setpoint", Source: ArgWValue, Unit: "DAC"},
		},
	})
	t.mustRegister(controlVendor(ReqGetDetectorTemperature), Opcode{
		Name:           "GET_DETECTOR_TEMPERATURE",
		MinResponseLen: 2,
		Response: []FieldSpec{
			{Name: "temperature", Offset: 0, Width: 2, Unit: "ADC"},
		},
	})
	t.mustRegister(controlVendor(ReqSecondTier), Opcode{
		Name: "SECOND_TIER_COMMAND",
		Args: []ArgSpec{
			{Name: "sub_code", Source: ArgWValue},
			{Name: "page", Source: ArgWIndex},
		},
	})

	// Standard requests: enumeration traffic is part of every capture and
	// worth naming, if only to make re-enumeration visible in the session.
	t.mustRegister(controlStandard(0x00), Opcode{
		Name:           "GET_STATUS",
		MinResponseLen: 2,
		Response: []FieldSpec{
			{Name: "status", Offset: 0, Width: 2},
		},
	})
	t.mustRegister(controlStandard(0x05), Opcode{
		Name: "SET_ADDRESS",
		Args: []ArgSpec{
			{Name: "address", Source: ArgWValue},
		},
	})
	t.mustRegister(controlStandard(0x06), Opcode{
		Name: "GET_DESCRIPTOR",
		Args: []ArgSpec{
			{Name: "descriptor_type", Source: ArgWValueHigh},
			{Name: "descriptor_index", Source: ArgWValueLow},
			{Name: "language_id", Source: ArgWIndex},
		},
	})
	t.mustRegister(controlStandard(0x09), Opcode{
		Name: "SET_CONFIGURATION",
		Args: []ArgSpec{
			{Name: "configuration", Source: ArgWValue},
		},
	})

	// Bulk-framed acquisition, used by units that carry commands on the
	// bulk pair instead of EP0.
	t.mustRegister(bulk(ReqAcquireSpectrum), Opcode{
		Name:            "ACQUIRE_SPECTRUM",
		ExpectsResponse: true,
		Response: []FieldSpec{
			{Name: "pixel_count", Kind: FieldPixels, Unit: "pixels"},
		},
	})

	return t
}
