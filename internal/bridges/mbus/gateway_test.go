package mbus

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

// fakeSlave is one meter on the simulated bus.
type fakeSlave struct {
	addr     byte
	header   FixedHeader
	selected bool
}

// fakeGateway answers M-Bus frames the way a TCP gateway with the given
// slaves would. Several slaves answering at once produce a frame with a
// broken checksum.
type fakeGateway struct {
	mu       sync.Mutex
	slaves   []*fakeSlave
	hold     map[byte]chan struct{} // primary addresses whose answer waits
	requests []Frame
	wg       sync.WaitGroup
}

func newFakeGateway(slaves ...*fakeSlave) *fakeGateway {
	return &fakeGateway{slaves: slaves, hold: make(map[byte]chan struct{})}
}

func slave(addr byte, id uint32, man string, medium byte) *fakeSlave {
	return &fakeSlave{addr: addr, header: FixedHeader{
		ID: id, Manufacturer: man, Version: 0x01, Medium: medium, AccessNumber: 0x2A,
	}}
}

// holdAddress makes REQ_UD2 to addr block until the returned func is called.
func (g *fakeGateway) holdAddress(addr byte) func() {
	ch := make(chan struct{})
	g.mu.Lock()
	g.hold[addr] = ch
	g.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (g *fakeGateway) serve(conn net.Conn) {
	defer g.wg.Done()
	defer conn.Close()

	rd := bufio.NewReader(conn)
	for {
		f, err := ReadFrame(rd)
		if err != nil {
			return
		}
		out := g.handle(f)
		if out == nil {
			continue
		}
		if _, err := conn.Write(out); err != nil {
			return
		}
	}
}

func (g *fakeGateway) handle(f Frame) []byte {
	g.mu.Lock()
	g.requests = append(g.requests, f)
	hold := g.hold[f.Address]
	g.mu.Unlock()

	if hold != nil && f.Control == CtrlReqUd2 {
		<-hold
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	switch {
	case f.Kind == FrameShort && f.Control == CtrlSndNke && f.Address == AddrNetworkLayer:
		for _, s := range g.slaves {
			s.selected = false
		}
		return []byte{Ack}

	case f.Kind == FrameLong && f.Control == CtrlSndUd && f.Address == AddrNetworkLayer && f.CI == CISelect:
		mask := decodeMask(f.Data)
		n := 0
		for _, s := range g.slaves {
			s.selected = mask.Matches(s.header)
			if s.selected {
				n++
			}
		}
		switch n {
		case 0:
			return nil
		case 1:
			return []byte{Ack}
		default:
			return garbled()
		}

	case f.Kind == FrameShort && f.Control == CtrlReqUd2:
		var answering []*fakeSlave
		for _, s := range g.slaves {
			if (f.Address == AddrNetworkLayer && s.selected) || s.addr == f.Address {
				answering = append(answering, s)
			}
		}
		switch len(answering) {
		case 0:
			return nil
		case 1:
			return answering[0].response()
		default:
			return garbled()
		}
	}
	return nil
}

func (g *fakeGateway) requestCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func (s *fakeSlave) response() []byte {
	hdr, err := s.header.MarshalBinary()
	if err != nil {
		panic(err)
	}
	// One data record: 32-bit energy in Wh.
	data := append(hdr, 0x04, 0x03, 0x39, 0x30, 0x00, 0x00)
	b, err := LongFrame(CtrlRspUd, s.addr, CIRspVariable, data).Encode()
	if err != nil {
		panic(err)
	}
	return b
}

// garbled is what overlapping answers look like: a well-formed frame with
// a wrong checksum.
func garbled() []byte {
	b, _ := LongFrame(CtrlRspUd, 0x00, CIRspVariable, make([]byte, fixedHeaderLen)).Encode() //nolint:errcheck // fixed input
	b[len(b)-2] ^= 0xFF
	return b
}

func decodeMask(b []byte) Mask {
	id := make([]byte, idDigits)
	for i := range 4 {
		for j, n := range []byte{b[i] >> 4, b[i] & 0x0F} {
			c := byte(wildcardDigit)
			if n <= 9 {
				c = '0' + n
			}
			id[idDigits-2-2*i+j] = c
		}
	}
	return Mask{
		ID:           string(id),
		Manufacturer: uint16(b[4]) | uint16(b[5])<<8,
		Version:      b[6],
		Medium:       b[7],
	}
}

// pipeDialer connects masters to a fakeGateway over net.Pipe.
type pipeDialer struct {
	gw    *fakeGateway
	fail  error
	mu    sync.Mutex
	dials int
}

func (d *pipeDialer) DialContext(_ context.Context, network, _ string) (net.Conn, error) {
	if network != "tcp" {
		return nil, errors.New("unexpected network " + network)
	}
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()
	if d.fail != nil {
		return nil, d.fail
	}
	client, server := net.Pipe()
	d.gw.wg.Add(1)
	go d.gw.serve(server)
	return client, nil
}

// testMaster returns a master connected to gw with a short response timeout.
func testMaster(t *testing.T, gw *fakeGateway) *Master {
	t.Helper()
	m, err := Open(context.Background(), &pipeDialer{gw: gw}, MasterConfig{
		Address:         "gateway:10001",
		ResponseTimeout: 30 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		m.Close() //nolint:errcheck // test cleanup
		gw.wg.Wait()
	})
	return m
}
