package mbus

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

const (
	idDigits      = 8
	wildcardDigit = 'F'
)

// Mask is a secondary address selection pattern. Each ID digit is 0-9 or
// F (any); 0xFFFF, 0xFF and 0xFF are wildcards for the other fields.
type Mask struct {
	ID           string
	Manufacturer uint16
	Version      byte
	Medium       byte
}

// WildcardMask matches every slave.
func WildcardMask() Mask {
	return Mask{ID: "FFFFFFFF", Manufacturer: 0xFFFF, Version: 0xFF, Medium: 0xFF}
}

// ParseMask builds a mask from user input. Empty fields are wildcards.
// manufacturer is three letters or "FFFF"; version and medium are two hex
// digits.
func ParseMask(id, manufacturer, version, medium string) (Mask, error) {
	m := WildcardMask()

	if id != "" {
		id = strings.ToUpper(id)
		if len(id) != idDigits {
			return Mask{}, fmt.Errorf("%w: id mask %q must be %d digits", ErrInvalidRequest, id, idDigits)
		}
		for _, c := range id {
			if (c < '0' || c > '9') && c != wildcardDigit {
				return Mask{}, fmt.Errorf("%w: id mask %q may only contain 0-9 and F", ErrInvalidRequest, id)
			}
		}
		m.ID = id
	}

	if manufacturer != "" && !strings.EqualFold(manufacturer, "FFFF") {
		code, err := EncodeManufacturer(manufacturer)
		if err != nil {
			return Mask{}, err
		}
		m.Manufacturer = code
	}

	var err error
	if m.Version, err = parseHexByte("version", version); err != nil {
		return Mask{}, err
	}
	if m.Medium, err = parseHexByte("medium", medium); err != nil {
		return Mask{}, err
	}
	return m, nil
}

func parseHexByte(field, s string) (byte, error) {
	if s == "" {
		return 0xFF, nil
	}
	if len(s) != 2 {
		return 0, fmt.Errorf("%w: %s mask %q must be 2 hex digits", ErrInvalidRequest, field, s)
	}
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: %s mask %q must be 2 hex digits", ErrInvalidRequest, field, s)
	}
	return byte(v), nil
}

// Encode returns the 8-byte CI=0x52 selection payload.
func (m Mask) Encode() []byte {
	b := make([]byte, 8)
	// Ident is BCD little endian; F nibbles pass through as wildcards.
	for i := range 4 {
		hi := nibble(m.ID[idDigits-2-2*i])
		lo := nibble(m.ID[idDigits-1-2*i])
		b[i] = hi<<4 | lo
	}
	binary.LittleEndian.PutUint16(b[4:6], m.Manufacturer)
	b[6] = m.Version
	b[7] = m.Medium
	return b
}

// Matches reports whether a slave with header h is selected by m.
func (m Mask) Matches(h FixedHeader) bool {
	id := fmt.Sprintf("%08d", h.ID)
	for i := range idDigits {
		if m.ID[i] != wildcardDigit && m.ID[i] != id[i] {
			return false
		}
	}
	if m.Manufacturer != 0xFFFF {
		if code, err := EncodeManufacturer(h.Manufacturer); err != nil || code != m.Manufacturer {
			return false
		}
	}
	if m.Version != 0xFF && m.Version != h.Version {
		return false
	}
	return m.Medium == 0xFF || m.Medium == h.Medium
}

// String renders the mask as 16 hex digits, like a secondary address.
func (m Mask) String() string {
	return fmt.Sprintf("%s%04X%02X%02X", m.ID, m.Manufacturer, m.Version, m.Medium)
}

// withDigit returns a copy of m with ID digit pos set to d.
func (m Mask) withDigit(pos int, d byte) Mask {
	id := []byte(m.ID)
	id[pos] = '0' + d
	m.ID = string(id)
	return m
}

func nibble(c byte) byte {
	if c == wildcardDigit {
		return 0x0F
	}
	return c - '0'
}
