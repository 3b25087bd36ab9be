package mbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/nerrad567/gray-logic-mbus/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mbus/internal/resource"
	"github.com/nerrad567/gray-logic-mbus/internal/workpool"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// eventLog records progress seen by the notifier.
type eventLog struct {
	mu     sync.Mutex
	events []resource.Event
}

func (l *eventLog) Notify(e resource.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) progress(id string) []resource.Progress {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []resource.Progress
	for _, e := range l.events {
		if e.ResourceID != id || (e.Kind != resource.EventProgress && e.Kind != resource.EventFinished) {
			continue
		}
		out = append(out, e.Snapshot.(resource.Snapshot[ScanResult]).Progress)
	}
	return out
}

// fastBus keeps empty addresses cheap; slowBus makes a held answer stall the scan.
const (
	fastBus = 20 * time.Millisecond
	slowBus = 10 * time.Second
)

type scanHarness struct {
	registry *resource.Registry[ScanResult]
	runner   *resource.Runner[ScanResult]
	scanner  *Scanner
	dialer   *pipeDialer
	events   *eventLog
}

func newScanHarness(t *testing.T, gw *fakeGateway, responseTimeout time.Duration) *scanHarness {
	t.Helper()

	pool := workpool.New(2, 4)
	if err := pool.Start(); err != nil {
		t.Fatalf("pool.Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool.Stop(ctx) //nolint:errcheck // test cleanup
		gw.wg.Wait()
	})

	events := &eventLog{}
	dialer := &pipeDialer{gw: gw}
	return &scanHarness{
		registry: resource.NewRegistry[ScanResult](config.ScanConfig{
			DefaultExpiry:  time.Minute,
			DefaultTimeout: time.Minute,
			SweepInterval:  time.Second,
		}, events),
		runner:  resource.NewRunner[ScanResult](pool),
		scanner: NewScanner(config.MBusConfig{DefaultPort: 10001, ResponseTimeout: responseTimeout}, dialer),
		dialer:  dialer,
		events:  events,
	}
}

func (h *scanHarness) start(t *testing.T, req ScanRequest, timeout time.Duration) *resource.Resource[ScanResult] {
	t.Helper()
	if err := h.scanner.Prepare(req); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	work, err := h.scanner.Work(req)
	if err != nil {
		t.Fatalf("Work: %v", err)
	}
	res, err := h.registry.Create(context.Background(), resource.CreateOptions{
		Type:    ResourceType,
		OwnerID: "usr-test",
		Timeout: timeout,
	}, h.runner.Factory(work))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return res
}

func waitTerminal(t *testing.T, res *resource.Resource[ScanResult]) resource.Snapshot[ScanResult] {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s := res.Snapshot(); s.Status.Terminal() {
			return s
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("scan %s still %s", res.ID(), res.Status())
	return resource.Snapshot[ScanResult]{}
}

func addressScan(first, last int) *AddressScanRequest {
	return &AddressScanRequest{
		Connection:   Connection{Host: "gateway", transport: TransportTCP},
		FirstAddress: first,
		LastAddress:  last,
	}
}

func TestAddressScan_EmptyBus(t *testing.T) {
	h := newScanHarness(t, newFakeGateway(), fastBus)
	res := h.start(t, addressScan(10, 15), 0)

	snap := waitTerminal(t, res)
	if snap.Status != resource.StatusSuccess {
		t.Fatalf("status = %s, error = %+v", snap.Status, snap.Error)
	}
	if snap.Result.Devices == nil || len(snap.Result.Devices) != 0 {
		t.Fatalf("devices = %#v, want empty", snap.Result.Devices)
	}
	if snap.Progress != (resource.Progress{Position: 6, Maximum: 6}) {
		t.Fatalf("progress = %+v, want (6,6)", snap.Progress)
	}

	// One update per address plus the initial one, each advancing by one.
	got := h.events.progress(res.ID())
	if len(got) != 7 {
		t.Fatalf("progress updates = %v, want 7", got)
	}
	for i, p := range got {
		if p.Position != i || p.Maximum != 6 {
			t.Fatalf("update %d = %+v, want (%d,6)", i, p, i)
		}
	}
}

func TestAddressScan_FindsDevices(t *testing.T) {
	gw := newFakeGateway(
		slave(11, 12345678, "KAM", 0x04),
		slave(13, 87654321, "ELS", 0x07),
		slave(40, 11111111, "KAM", 0x07),
	)
	h := newScanHarness(t, gw, fastBus)
	res := h.start(t, addressScan(10, 15), 0)

	snap := waitTerminal(t, res)
	if snap.Status != resource.StatusSuccess {
		t.Fatalf("status = %s, error = %+v", snap.Status, snap.Error)
	}
	devs := snap.Result.Devices
	if len(devs) != 2 || devs[0].PrimaryAddress != 11 || devs[1].PrimaryAddress != 13 {
		t.Fatalf("devices = %+v", devs)
	}
	if devs[1].Manufacturer != "ELS" || devs[1].Medium != "Water" || devs[1].SecondaryAddress != "8765432115930107" {
		t.Fatalf("device 13 = %+v", devs[1])
	}
	if DevicesFound(snap) != 2 {
		t.Fatalf("DevicesFound = %d", DevicesFound(snap))
	}
	h.dialer.mu.Lock()
	dials := h.dialer.dials
	h.dialer.mu.Unlock()
	if dials != 1 {
		t.Fatalf("dials = %d, want 1", dials)
	}
}

func TestAddressScan_GarbledAnswerIsSkipped(t *testing.T) {
	gw := newFakeGateway(slave(3, 11111111, "KAM", 0x04), slave(3, 22222222, "KAM", 0x04), slave(4, 33333333, "KAM", 0x04))
	h := newScanHarness(t, gw, fastBus)
	res := h.start(t, addressScan(3, 4), 0)

	snap := waitTerminal(t, res)
	if snap.Status != resource.StatusSuccess || len(snap.Result.Devices) != 1 || snap.Result.Devices[0].PrimaryAddress != 4 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestSecondaryScan(t *testing.T) {
	gw := newFakeGateway(
		slave(1, 12345678, "KAM", 0x07),
		slave(2, 12999999, "KAM", 0x07),
		slave(3, 55555555, "ELS", 0x04),
	)
	h := newScanHarness(t, gw, fastBus)

	req := &SecondaryAddressScanRequest{
		Connection:   Connection{Host: "gateway", transport: TransportTCP},
		ID:           "12FFFFFF",
		Manufacturer: "KAM",
	}
	res := h.start(t, req, 0)

	snap := waitTerminal(t, res)
	if snap.Status != resource.StatusSuccess {
		t.Fatalf("status = %s, error = %+v", snap.Status, snap.Error)
	}
	if len(snap.Result.Devices) != 2 {
		t.Fatalf("devices = %+v", snap.Result.Devices)
	}
	if snap.Progress != (resource.Progress{Position: 1, Maximum: 1}) {
		t.Fatalf("progress = %+v, want (1,1)", snap.Progress)
	}

	got := h.events.progress(res.ID())
	if got[0] != (resource.Progress{Position: 0, Maximum: 1}) {
		t.Fatalf("first update = %+v, want (0,1)", got[0])
	}
}

func TestScan_ConnectionFailureThenRecovery(t *testing.T) {
	gw := newFakeGateway()
	h := newScanHarness(t, gw, fastBus)
	h.dialer.fail = errors.New("connection refused")

	res := h.start(t, addressScan(1, 2), 0)
	snap := waitTerminal(t, res)
	if snap.Status != resource.StatusError || snap.Error == nil || snap.Error.Code != resource.CodeInternal {
		t.Fatalf("snapshot = %+v", snap)
	}

	h.dialer.fail = nil
	res = h.start(t, addressScan(1, 2), 0)
	if snap := waitTerminal(t, res); snap.Status != resource.StatusSuccess {
		t.Fatalf("scan after failure: %s %+v", snap.Status, snap.Error)
	}
}

func TestScan_CancelStopsMidRange(t *testing.T) {
	gw := newFakeGateway(
		slave(10, 10000010, "KAM", 0x07),
		slave(11, 10000011, "KAM", 0x07),
		slave(12, 10000012, "KAM", 0x07),
	)
	release := gw.holdAddress(13)
	h := newScanHarness(t, gw, slowBus)
	t.Cleanup(release)

	res := h.start(t, addressScan(10, 20), 0)

	deadline := time.Now().Add(3 * time.Second)
	for res.Snapshot().Progress.Position < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("scan never reached address 13: %+v", res.Snapshot())
		}
		time.Sleep(2 * time.Millisecond)
	}

	start := time.Now()
	if !res.Cancel() {
		t.Fatal("Cancel() = false on a running scan")
	}
	snap := waitTerminal(t, res)
	if snap.Status != resource.StatusCancelled || snap.Progress != (resource.Progress{Position: 3, Maximum: 11}) {
		t.Fatalf("snapshot = %+v", snap)
	}
	if len(snap.Result.Devices) != 3 {
		t.Fatalf("devices = %+v", snap.Result.Devices)
	}
	if res.Cancel() {
		t.Fatal("second Cancel() = true")
	}

	// The worker must have left the blocked read; a second scan gets a worker.
	res = h.start(t, addressScan(10, 10), 0)
	if snap := waitTerminal(t, res); snap.Status != resource.StatusSuccess {
		t.Fatalf("follow-up scan: %s %+v", snap.Status, snap.Error)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("cancel did not interrupt the bus read")
	}
}

func TestScan_TimeoutWhileWaitingOnBus(t *testing.T) {
	gw := newFakeGateway(slave(1, 10000001, "KAM", 0x07))
	release := gw.holdAddress(2)
	h := newScanHarness(t, gw, slowBus)
	t.Cleanup(release)

	res := h.start(t, addressScan(1, 5), 100*time.Millisecond)
	snap := waitTerminal(t, res)
	if snap.Status != resource.StatusTimedOut {
		t.Fatalf("status = %s, want TIMED_OUT", snap.Status)
	}
	if snap.Progress.Position != 1 {
		t.Fatalf("progress = %+v, want position 1", snap.Progress)
	}
}

func TestScanner_WorkUnknownRequest(t *testing.T) {
	s := NewScanner(config.MBusConfig{}, nil)
	if _, err := s.Work(nil); !errors.Is(err, ErrUnknownRequestType) {
		t.Fatalf("Work(nil) = %v", err)
	}
}

func TestDeviceList_CopyOnWrite(t *testing.T) {
	var l DeviceList
	if l.Snapshot() == nil {
		t.Fatal("Snapshot of empty list is nil")
	}
	first := l.Append(DeviceScanResult{PrimaryAddress: 1})
	second := l.Append(DeviceScanResult{PrimaryAddress: 2})
	if len(first) != 1 || len(second) != 2 || l.Len() != 2 {
		t.Fatalf("first=%v second=%v", first, second)
	}
	second[0].PrimaryAddress = 99
	if first[0].PrimaryAddress != 1 {
		t.Fatal("snapshots share a backing array")
	}
}

func TestScanResult_MarshalsEmptyDevices(t *testing.T) {
	b, err := ScanResult{}.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"devices":[]}` {
		t.Fatalf("MarshalJSON = %s", b)
	}
}
