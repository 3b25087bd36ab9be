package mbus

import (
	"bytes"
	"errors"
	"testing"
)

func TestManufacturerCodes(t *testing.T) {
	tests := []struct {
		flag string
		code uint16
	}{
		{"KAM", 0x2C2D},
		{"ELS", 0x1593},
		{"AAA", 0x0421},
	}
	for _, tt := range tests {
		code, err := EncodeManufacturer(tt.flag)
		if err != nil || code != tt.code {
			t.Errorf("EncodeManufacturer(%q) = 0x%04X, %v; want 0x%04X", tt.flag, code, err, tt.code)
		}
		if got := DecodeManufacturer(tt.code); got != tt.flag {
			t.Errorf("DecodeManufacturer(0x%04X) = %q, want %q", tt.code, got, tt.flag)
		}
	}

	for _, bad := range []string{"", "KA", "KAMS", "K4M"} {
		if _, err := EncodeManufacturer(bad); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("EncodeManufacturer(%q) = %v, want ErrInvalidRequest", bad, err)
		}
	}
}

func TestFixedHeader_RoundTrip(t *testing.T) {
	h := FixedHeader{
		ID:           12345678,
		Manufacturer: "KAM",
		Version:      0x19,
		Medium:       0x04,
		AccessNumber: 0x2A,
		Status:       0x00,
		Signature:    0x0000,
	}
	b, err := h.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	want := []byte{0x78, 0x56, 0x34, 0x12, 0x2D, 0x2C, 0x19, 0x04, 0x2A, 0x00, 0x00, 0x00}
	if !bytes.Equal(b, want) {
		t.Fatalf("MarshalBinary = % X, want % X", b, want)
	}

	got, err := ParseFixedHeader(b)
	if err != nil {
		t.Fatalf("ParseFixedHeader: %v", err)
	}
	if got != h {
		t.Fatalf("ParseFixedHeader = %+v, want %+v", got, h)
	}
	if sa := got.SecondaryAddress(); sa != "123456782C2D1904" {
		t.Fatalf("SecondaryAddress = %q", sa)
	}
}

func TestParseFixedHeader_Errors(t *testing.T) {
	if _, err := ParseFixedHeader(make([]byte, 11)); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("short header: %v", err)
	}
	b := make([]byte, fixedHeaderLen)
	b[0] = 0xAB
	if _, err := ParseFixedHeader(b); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("bad BCD: %v", err)
	}
	if _, err := (FixedHeader{ID: 100000000, Manufacturer: "KAM"}).MarshalBinary(); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("9-digit ident: %v", err)
	}
}

func TestMediumName(t *testing.T) {
	if got := MediumName(0x07); got != "Water" {
		t.Fatalf("MediumName(0x07) = %q", got)
	}
	if got := MediumName(0x30); got != "Reserved (0x30)" {
		t.Fatalf("MediumName(0x30) = %q", got)
	}
}

func TestParseMask(t *testing.T) {
	m, err := ParseMask("12ffffff", "kam", "", "07")
	if err != nil {
		t.Fatalf("ParseMask: %v", err)
	}
	if m.ID != "12FFFFFF" || m.Manufacturer != 0x2C2D || m.Version != 0xFF || m.Medium != 0x07 {
		t.Fatalf("ParseMask = %+v", m)
	}
	if got := m.Encode(); !bytes.Equal(got, []byte{0xFF, 0xFF, 0xFF, 0x12, 0x2D, 0x2C, 0xFF, 0x07}) {
		t.Fatalf("Encode = % X", got)
	}
	if decodeMask(m.Encode()) != m {
		t.Fatal("Encode does not round-trip")
	}

	all, err := ParseMask("", "FFFF", "", "")
	if err != nil || all != WildcardMask() {
		t.Fatalf("empty mask = %+v, %v", all, err)
	}

	bad := []struct{ id, man, ver, med string }{
		{"1234567", "", "", ""},
		{"1234567A", "", "", ""},
		{"", "KA", "", ""},
		{"", "", "1", ""},
		{"", "", "", "ZZ"},
	}
	for _, b := range bad {
		if _, err := ParseMask(b.id, b.man, b.ver, b.med); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("ParseMask(%+v) = %v, want ErrInvalidRequest", b, err)
		}
	}
}

func TestMask_Matches(t *testing.T) {
	h := FixedHeader{ID: 12345678, Manufacturer: "KAM", Version: 1, Medium: 0x07}

	tests := []struct {
		id, man, ver, med string
		want              bool
	}{
		{"", "", "", "", true},
		{"12FFFFFF", "", "", "", true},
		{"13FFFFFF", "", "", "", false},
		{"12345678", "KAM", "01", "07", true},
		{"", "ELS", "", "", false},
		{"", "", "02", "", false},
		{"", "", "", "04", false},
	}
	for _, tt := range tests {
		m, err := ParseMask(tt.id, tt.man, tt.ver, tt.med)
		if err != nil {
			t.Fatalf("ParseMask: %v", err)
		}
		if got := m.Matches(h); got != tt.want {
			t.Errorf("%s.Matches = %v, want %v", m, got, tt.want)
		}
	}
}
