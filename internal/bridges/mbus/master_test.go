package mbus

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestMaster_RequestUserData(t *testing.T) {
	gw := newFakeGateway(slave(5, 12345678, "KAM", 0x04))
	m := testMaster(t, gw)
	ctx := context.Background()

	f, err := m.RequestUserData(ctx, 5)
	if err != nil {
		t.Fatalf("RequestUserData(5): %v", err)
	}
	d, err := DeviceFromFrame(f)
	if err != nil {
		t.Fatalf("DeviceFromFrame: %v", err)
	}
	if d.PrimaryAddress != 5 || d.ID != "12345678" || d.Manufacturer != "KAM" || d.Medium != "Heat (outlet)" || !d.HeaderKnown {
		t.Fatalf("device = %+v", d)
	}

	if _, err := m.RequestUserData(ctx, 6); !errors.Is(err, ErrNoResponse) {
		t.Fatalf("RequestUserData(6) = %v, want ErrNoResponse", err)
	}

	// The master keeps working after a timeout.
	if _, err := m.RequestUserData(ctx, 5); err != nil {
		t.Fatalf("RequestUserData(5) after timeout: %v", err)
	}
}

func TestMaster_RequestUserDataCollision(t *testing.T) {
	gw := newFakeGateway(slave(5, 11111111, "KAM", 0x04), slave(5, 22222222, "KAM", 0x04))
	m := testMaster(t, gw)

	if _, err := m.RequestUserData(context.Background(), 5); !errors.Is(err, ErrChecksum) {
		t.Fatalf("RequestUserData = %v, want ErrChecksum", err)
	}
}

func TestMaster_Probe(t *testing.T) {
	gw := newFakeGateway(slave(1, 12345678, "KAM", 0x07), slave(2, 12999999, "ELS", 0x07))
	m := testMaster(t, gw)
	ctx := context.Background()

	tests := []struct {
		id   string
		want ProbeResult
	}{
		{"12345678", ProbeSingle},
		{"12FFFFFF", ProbeCollision},
		{"99FFFFFF", ProbeNone},
	}
	for _, tt := range tests {
		mask, err := ParseMask(tt.id, "", "", "")
		if err != nil {
			t.Fatal(err)
		}
		got, f, err := m.Probe(ctx, mask)
		if err != nil {
			t.Fatalf("Probe(%s): %v", tt.id, err)
		}
		if got != tt.want {
			t.Fatalf("Probe(%s) = %s, want %s", tt.id, got, tt.want)
		}
		if got == ProbeSingle && f.Address != 1 {
			t.Fatalf("Probe(%s) answered from %d", tt.id, f.Address)
		}
	}
}

func TestMaster_WildcardSearch(t *testing.T) {
	gw := newFakeGateway(
		slave(1, 12345678, "KAM", 0x07),
		slave(2, 13000000, "KAM", 0x07),
		slave(3, 87654321, "ELS", 0x04),
	)
	m := testMaster(t, gw)
	ctx := context.Background()

	if err := m.Deselect(ctx); err != nil {
		t.Fatalf("Deselect: %v", err)
	}

	var ids []string
	err := m.WildcardSearch(ctx, WildcardMask(), func(f Frame) {
		d, err := DeviceFromFrame(f)
		if err != nil {
			t.Errorf("DeviceFromFrame: %v", err)
			return
		}
		ids = append(ids, d.ID)
	})
	if err != nil {
		t.Fatalf("WildcardSearch: %v", err)
	}
	want := []string{"12345678", "13000000", "87654321"}
	if !slices.Equal(ids, want) {
		t.Fatalf("found %v, want %v", ids, want)
	}
}

func TestMaster_WildcardSearchDeepCollision(t *testing.T) {
	gw := newFakeGateway(
		slave(1, 12345678, "KAM", 0x07),
		slave(2, 12345679, "KAM", 0x07),
		slave(3, 99999999, "KAM", 0x07),
	)
	m := testMaster(t, gw)

	mask, err := ParseMask("1234567F", "", "", "")
	if err != nil {
		t.Fatal(err)
	}

	var addrs []byte
	if err := m.WildcardSearch(context.Background(), mask, func(f Frame) { addrs = append(addrs, f.Address) }); err != nil {
		t.Fatalf("WildcardSearch: %v", err)
	}
	if !slices.Equal(addrs, []byte{1, 2}) {
		t.Fatalf("found addresses %v, want [1 2]", addrs)
	}
}

func TestMaster_WildcardSearchUnresolvable(t *testing.T) {
	// Same ident, different manufacturer: the ID digits cannot split them.
	gw := newFakeGateway(slave(1, 12345678, "KAM", 0x07), slave(2, 12345678, "ELS", 0x07))
	m := testMaster(t, gw)

	mask, err := ParseMask("1234567F", "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	found := 0
	if err := m.WildcardSearch(context.Background(), mask, func(Frame) { found++ }); err != nil {
		t.Fatalf("WildcardSearch: %v", err)
	}
	if found != 0 {
		t.Fatalf("found %d, want 0", found)
	}
}

func TestMaster_ContextCancelInterruptsRead(t *testing.T) {
	gw := newFakeGateway(slave(5, 12345678, "KAM", 0x04))
	m, err := Open(context.Background(), &pipeDialer{gw: gw}, MasterConfig{
		Address:         "gateway:10001",
		ResponseTimeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	release := gw.holdAddress(5)
	t.Cleanup(func() {
		m.Close() //nolint:errcheck // test cleanup
		release()
		gw.wg.Wait()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = m.RequestUserData(ctx, 5)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RequestUserData = %v, want context.Canceled", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("cancel did not interrupt the read")
	}
}

func TestMaster_Closed(t *testing.T) {
	gw := newFakeGateway()
	m := testMaster(t, gw)

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := m.RequestUserData(context.Background(), 1); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("RequestUserData after Close = %v, want ErrNotConnected", err)
	}
}

func TestOpen_DialFailure(t *testing.T) {
	d := &pipeDialer{fail: errors.New("connection refused")}
	_, err := Open(context.Background(), d, MasterConfig{Address: "gw:1"})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Open = %v, want ErrConnectionFailed", err)
	}
}

func TestResponseTimeout(t *testing.T) {
	if got := ResponseTimeout(time.Second, 50*time.Millisecond, 0); got != 1050*time.Millisecond {
		t.Fatalf("no rate: %v", got)
	}
	// 261 chars * 11 bits at 2871 bit/s is exactly one second.
	if got := ResponseTimeout(0, 0, 2871); got != time.Second {
		t.Fatalf("2871 bit/s: %v", got)
	}
}
