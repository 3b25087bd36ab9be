package mbus

import (
	"bufio"
	"fmt"
	"io"
)

// Frame delimiters and the single-character acknowledgement (EN 13757-2).
const (
	// Ack is the single character a slave sends to confirm SND_NKE or SND_UD.
	Ack byte = 0xE5

	startShort byte = 0x10
	startLong  byte = 0x68
	stopByte   byte = 0x16
)

// Control field values.
const (
	// CtrlSndNke resets (and on 0xFD deselects) a slave.
	CtrlSndNke byte = 0x40

	// CtrlSndUd sends user data to a slave, e.g. a secondary selection.
	CtrlSndUd byte = 0x53

	// CtrlReqUd2 requests class 2 user data.
	CtrlReqUd2 byte = 0x5B

	// CtrlRspUd is a slave's user data response. Bits 4 and 5 carry
	// DFC/ACD and are masked off when matching.
	CtrlRspUd byte = 0x08

	ctrlRspUdMask byte = 0xCF
)

// Special addresses.
const (
	// MaxPrimaryAddress is the highest assignable primary address.
	MaxPrimaryAddress = 250

	// AddrNetworkLayer addresses the slave selected by secondary address.
	AddrNetworkLayer byte = 0xFD

	// AddrBroadcastReply reaches every slave; all of them answer.
	AddrBroadcastReply byte = 0xFE

	// AddrBroadcast reaches every slave; none answers.
	AddrBroadcast byte = 0xFF
)

// Control information field values.
const (
	// CISelect selects a slave by secondary address mask.
	CISelect byte = 0x52

	// CIRspVariable is a variable data response with the 12-byte fixed header.
	CIRspVariable byte = 0x72

	// CIRspVariableNoHeader is a variable data response without a header.
	CIRspVariableNoHeader byte = 0x78

	// CIRspVariableShort is a variable data response with the 4-byte short header.
	CIRspVariableShort byte = 0x7A
)

// maxLongData is the largest payload a long frame can carry (L is one byte
// and covers C, A and CI).
const maxLongData = 252

// FrameKind distinguishes the four M-Bus frame formats.
type FrameKind int

const (
	FrameAck FrameKind = iota
	FrameShort
	FrameControl
	FrameLong
)

// String returns the frame kind name.
func (k FrameKind) String() string {
	switch k {
	case FrameAck:
		return "ack"
	case FrameShort:
		return "short"
	case FrameControl:
		return "control"
	case FrameLong:
		return "long"
	default:
		return fmt.Sprintf("FrameKind(%d)", int(k))
	}
}

// Frame is one M-Bus link layer frame.
//
// Wire formats:
//
//	ack:     E5
//	short:   10 C A CS 16
//	control: 68 03 03 68 C A CI CS 16
//	long:    68 L L 68 C A CI data... CS 16   (L = 3 + len(data))
type Frame struct {
	Kind    FrameKind
	Control byte
	Address byte
	CI      byte
	Data    []byte
}

// ShortFrame returns a short frame.
func ShortFrame(control, address byte) Frame {
	return Frame{Kind: FrameShort, Control: control, Address: address}
}

// LongFrame returns a long frame, or a control frame when data is empty.
func LongFrame(control, address, ci byte, data []byte) Frame {
	if len(data) == 0 {
		return Frame{Kind: FrameControl, Control: control, Address: address, CI: ci}
	}
	return Frame{Kind: FrameLong, Control: control, Address: address, CI: ci, Data: data}
}

// IsUserDataResponse reports whether f is an RSP_UD frame.
func (f Frame) IsUserDataResponse() bool {
	return f.Kind == FrameLong && f.Control&ctrlRspUdMask == CtrlRspUd
}

// Encode returns the wire bytes of f.
func (f Frame) Encode() ([]byte, error) {
	switch f.Kind {
	case FrameAck:
		return []byte{Ack}, nil
	case FrameShort:
		return []byte{startShort, f.Control, f.Address, checksum(f.Control, f.Address), stopByte}, nil
	case FrameControl, FrameLong:
		if len(f.Data) > maxLongData {
			return nil, fmt.Errorf("%w: %d data bytes exceeds %d", ErrInvalidFrame, len(f.Data), maxLongData)
		}
		if f.Kind == FrameControl && len(f.Data) > 0 {
			return nil, fmt.Errorf("%w: control frame with data", ErrInvalidFrame)
		}
		l := byte(3 + len(f.Data))
		buf := make([]byte, 0, 9+len(f.Data))
		buf = append(buf, startLong, l, l, startLong, f.Control, f.Address, f.CI)
		buf = append(buf, f.Data...)
		buf = append(buf, checksum(buf[4:]...), stopByte)
		return buf, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %v", ErrInvalidFrame, f.Kind)
	}
}

// ReadFrame reads exactly one frame from r.
//
// A structurally complete frame with a wrong checksum returns ErrChecksum
// after consuming all of its bytes, which is how overlapping answers from
// several slaves usually show up.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	start, err := r.ReadByte()
	if err != nil {
		return Frame{}, err
	}

	switch start {
	case Ack:
		return Frame{Kind: FrameAck}, nil

	case startShort:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Frame{}, err
		}
		if b[3] != stopByte {
			return Frame{}, fmt.Errorf("%w: short frame stop byte 0x%02X", ErrInvalidFrame, b[3])
		}
		if checksum(b[0], b[1]) != b[2] {
			return Frame{}, ErrChecksum
		}
		return ShortFrame(b[0], b[1]), nil

	case startLong:
		var hdr [3]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return Frame{}, err
		}
		l := int(hdr[0])
		if hdr[0] != hdr[1] || hdr[2] != startLong || l < 3 {
			return Frame{}, fmt.Errorf("%w: bad long frame header % X", ErrInvalidFrame, hdr)
		}

		body := make([]byte, l+2)
		if _, err := io.ReadFull(r, body); err != nil {
			return Frame{}, err
		}
		if body[l+1] != stopByte {
			return Frame{}, fmt.Errorf("%w: long frame stop byte 0x%02X", ErrInvalidFrame, body[l+1])
		}
		if checksum(body[:l]...) != body[l] {
			return Frame{}, ErrChecksum
		}

		var data []byte
		if l > 3 {
			data = append([]byte(nil), body[3:l]...)
		}
		return LongFrame(body[0], body[1], body[2], data), nil

	default:
		return Frame{}, fmt.Errorf("%w: unexpected start byte 0x%02X", ErrInvalidFrame, start)
	}
}

// checksum is the arithmetic sum of b modulo 256.
func checksum(b ...byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}
