package mbus

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// fixedHeaderLen is the size of the CI=0x72 data header.
const fixedHeaderLen = 12

// FixedHeader is the identification block at the start of a CI=0x72
// variable data response.
//
//	ident(4, BCD LE) manufacturer(2, LE) version(1) medium(1)
//	access no(1) status(1) signature(2)
type FixedHeader struct {
	ID           uint32 // 8 decimal digits
	Manufacturer string // 3 letters
	Version      byte
	Medium       byte
	AccessNumber byte
	Status       byte
	Signature    uint16
}

// ParseFixedHeader decodes the first 12 bytes of data.
func ParseFixedHeader(data []byte) (FixedHeader, error) {
	if len(data) < fixedHeaderLen {
		return FixedHeader{}, fmt.Errorf("%w: fixed header needs %d bytes, have %d", ErrInvalidFrame, fixedHeaderLen, len(data))
	}

	id, err := decodeBCD(data[0:4])
	if err != nil {
		return FixedHeader{}, err
	}

	return FixedHeader{
		ID:           id,
		Manufacturer: DecodeManufacturer(binary.LittleEndian.Uint16(data[4:6])),
		Version:      data[6],
		Medium:       data[7],
		AccessNumber: data[8],
		Status:       data[9],
		Signature:    binary.LittleEndian.Uint16(data[10:12]),
	}, nil
}

// MarshalBinary encodes h as the 12-byte fixed header.
func (h FixedHeader) MarshalBinary() ([]byte, error) {
	if h.ID > 99999999 {
		return nil, fmt.Errorf("%w: ident %d has more than 8 digits", ErrInvalidFrame, h.ID)
	}
	man, err := EncodeManufacturer(h.Manufacturer)
	if err != nil {
		return nil, err
	}

	b := make([]byte, fixedHeaderLen)
	encodeBCD(b[0:4], h.ID)
	binary.LittleEndian.PutUint16(b[4:6], man)
	b[6] = h.Version
	b[7] = h.Medium
	b[8] = h.AccessNumber
	b[9] = h.Status
	binary.LittleEndian.PutUint16(b[10:12], h.Signature)
	return b, nil
}

// SecondaryAddress returns the 16 hex digit secondary address: ident,
// manufacturer code, version and medium.
func (h FixedHeader) SecondaryAddress() string {
	man, _ := EncodeManufacturer(h.Manufacturer) //nolint:errcheck // decoded headers always round-trip
	return fmt.Sprintf("%08d%04X%02X%02X", h.ID, man, h.Version, h.Medium)
}

// DecodeManufacturer turns the 15-bit manufacturer code into its
// three-letter flag, e.g. 0x2C2D into "KAM".
func DecodeManufacturer(code uint16) string {
	return string([]byte{
		byte(code>>10&0x1F) + 64,
		byte(code>>5&0x1F) + 64,
		byte(code&0x1F) + 64,
	})
}

// EncodeManufacturer is the inverse of DecodeManufacturer.
func EncodeManufacturer(flag string) (uint16, error) {
	if len(flag) != 3 {
		return 0, fmt.Errorf("%w: manufacturer %q must be 3 letters", ErrInvalidRequest, flag)
	}
	flag = strings.ToUpper(flag)
	var code uint16
	for i := range 3 {
		c := flag[i]
		if c < 'A' || c > 'Z' {
			return 0, fmt.Errorf("%w: manufacturer %q must be 3 letters", ErrInvalidRequest, flag)
		}
		code = code<<5 | uint16(c-64)
	}
	return code, nil
}

func decodeBCD(b []byte) (uint32, error) {
	var v uint32
	for i := len(b) - 1; i >= 0; i-- {
		hi, lo := b[i]>>4, b[i]&0x0F
		if hi > 9 || lo > 9 {
			return 0, fmt.Errorf("%w: invalid BCD byte 0x%02X", ErrInvalidFrame, b[i])
		}
		v = v*100 + uint32(hi)*10 + uint32(lo)
	}
	return v, nil
}

func encodeBCD(dst []byte, v uint32) {
	for i := range dst {
		lo := v % 10
		v /= 10
		hi := v % 10
		v /= 10
		dst[i] = byte(hi<<4 | lo)
	}
}

var mediumNames = map[byte]string{
	0x00: "Other",
	0x01: "Oil",
	0x02: "Electricity",
	0x03: "Gas",
	0x04: "Heat (outlet)",
	0x05: "Steam",
	0x06: "Hot water",
	0x07: "Water",
	0x08: "Heat cost allocator",
	0x09: "Compressed air",
	0x0A: "Cooling (outlet)",
	0x0B: "Cooling (inlet)",
	0x0C: "Heat (inlet)",
	0x0D: "Heat / cooling",
	0x0E: "Bus / system",
	0x0F: "Unknown",
	0x15: "Hot water (>=90C)",
	0x16: "Cold water",
	0x17: "Dual water",
	0x18: "Pressure",
	0x19: "A/D converter",
}

// MediumName returns the device type name for a medium code.
func MediumName(medium byte) string {
	if name, ok := mediumNames[medium]; ok {
		return name
	}
	return fmt.Sprintf("Reserved (0x%02X)", medium)
}
