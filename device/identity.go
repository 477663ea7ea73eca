package device

import (
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// Identity names one physical device lifetime within a capture. The bus
// address alone is not stable: addresses are reused after re-enumeration, so
// the epoch counter separates lifetimes sharing an address.
type Identity struct {
	Bus     int
	Address int
	Epoch   int

	// Descriptor info recovered from in-capture GET_DESCRIPTOR responses,
	// zero when the enumeration was not captured.
	VendorID  uint16
	ProductID uint16
	Serial    string
}

// Tag returns a short, stable base58 fingerprint of the identity, used by
// the front ends to name devices.
func (id Identity) Tag() string {
	buf := make([]byte, 0, 64)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(id.Bus))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(id.Address))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(id.Epoch))
	buf = binary.LittleEndian.AppendUint16(buf, id.VendorID)
	buf = binary.LittleEndian.AppendUint16(buf, id.ProductID)
	buf = append(buf, id.Serial...)
	sum := blake2b.Sum256(buf)
	return base58.Encode(sum[:6])
}

func (id Identity) String() string {
	if id.VendorID != 0 || id.ProductID != 0 {
		return fmt.Sprintf("%d.%d#%d (%04x:%04x) %s", id.Bus, id.Address, id.Epoch, id.VendorID, id.ProductID, id.Tag())
	}
	return fmt.Sprintf("%d.%d#%d %s", id.Bus, id.Address, id.Epoch, id.Tag())
}
