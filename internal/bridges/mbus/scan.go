package mbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-mbus/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mbus/internal/resource"
)

// ResourceType tags M-Bus scan resources.
const ResourceType = "MBUS"

// Scanner turns scan requests into resource work.
type Scanner struct {
	cfg    config.MBusConfig
	dialer Dialer
	logger Logger
}

// NewScanner returns a scanner using cfg for defaults. A nil dialer dials
// TCP directly.
func NewScanner(cfg config.MBusConfig, dialer Dialer) *Scanner {
	return &Scanner{cfg: cfg, dialer: dialer, logger: noopLogger{}}
}

// SetLogger sets the logger for scans and the masters they open.
func (s *Scanner) SetLogger(logger Logger) {
	s.logger = logger
}

// Prepare fills defaults into req and validates it.
func (s *Scanner) Prepare(req ScanRequest) error {
	if req == nil {
		return fmt.Errorf("%w: empty request", ErrInvalidRequest)
	}
	c := req.Conn()
	if c.Port == 0 && c.Transport() == TransportTCP {
		c.Port = s.cfg.DefaultPort
	}
	return req.Validate()
}

// Work returns the resource work for req. The request kind is resolved
// here, once; req must have passed Prepare.
func (s *Scanner) Work(req ScanRequest) (resource.Work[ScanResult], error) {
	switch r := req.(type) {
	case *AddressScanRequest:
		return resource.WorkFunc[ScanResult](func(ctx context.Context, sink resource.Sink[ScanResult], token *resource.Token) error {
			return s.addressScan(ctx, sink, token, r)
		}), nil
	case *SecondaryAddressScanRequest:
		mask, err := r.Mask()
		if err != nil {
			return nil, err
		}
		return resource.WorkFunc[ScanResult](func(ctx context.Context, sink resource.Sink[ScanResult], token *resource.Token) error {
			return s.secondaryScan(ctx, sink, token, r.Connection, mask)
		}), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownRequestType, req)
	}
}

func (s *Scanner) open(ctx context.Context, c Connection) (*Master, error) {
	m, err := Open(ctx, s.dialer, MasterConfig{
		Address:         c.Address(),
		DialTimeout:     s.cfg.DialTimeout,
		ResponseTimeout: ResponseTimeout(s.cfg.ResponseTimeout, c.TimeoutOffset(), c.BitsPerSecond),
	})
	if err != nil {
		return nil, err
	}
	m.SetLogger(s.logger)
	return m, nil
}

// addressScan sends REQ_UD2 to every address in range. Progress is
// (0, n) up front, (i, n) after the i-th address and (n, n) on completion.
func (s *Scanner) addressScan(ctx context.Context, sink resource.Sink[ScanResult], token *resource.Token, req *AddressScanRequest) error {
	m, err := s.open(ctx, req.Connection)
	if err != nil {
		return err
	}
	defer m.Close() //nolint:errcheck // nothing to do on close failure

	var devices DeviceList
	n := req.Size()
	if err := sink.ReportProgress(ScanResult{Devices: devices.Snapshot()}, 0, n); err != nil {
		return err
	}

	s.logger.Info("mbus address scan started",
		"gateway", req.Address(),
		"first", req.FirstAddress,
		"last", req.LastAddress,
	)

	for i := 1; i <= n; i++ {
		addr := req.FirstAddress + i - 1

		f, err := m.RequestUserData(ctx, byte(addr))
		switch {
		case err == nil:
			d, derr := DeviceFromFrame(f)
			if derr != nil {
				s.logger.Warn("undecodable mbus response", "address", addr, "error", derr)
				break
			}
			devices.Append(d)
			s.logger.Debug("mbus device found", "address", addr, "secondary_address", d.SecondaryAddress)
		case errors.Is(err, ErrNoResponse):
		case errors.Is(err, ErrInvalidFrame), errors.Is(err, ErrUnexpectedFrame):
			s.logger.Warn("invalid mbus response", "address", addr, "error", err)
		case token.Cancelled():
			return nil
		default:
			return fmt.Errorf("scanning address %d: %w", addr, err)
		}

		if token.Cancelled() {
			return nil
		}
		if i < n {
			if err := sink.ReportProgress(ScanResult{Devices: devices.Snapshot()}, i, n); err != nil {
				return err
			}
		}
	}

	s.logger.Info("mbus address scan finished", "gateway", req.Address(), "devices", devices.Len())
	return sink.Complete(ScanResult{Devices: devices.Snapshot()})
}

// secondaryScan runs one wildcard search. Progress is (0, 1) until the
// search ends, with the result refreshed as slaves are found, then (1, 1).
func (s *Scanner) secondaryScan(ctx context.Context, sink resource.Sink[ScanResult], token *resource.Token, c Connection, mask Mask) error {
	m, err := s.open(ctx, c)
	if err != nil {
		return err
	}
	defer m.Close() //nolint:errcheck // nothing to do on close failure

	var devices DeviceList
	if err := sink.ReportProgress(ScanResult{Devices: devices.Snapshot()}, 0, 1); err != nil {
		return err
	}

	s.logger.Info("mbus secondary address scan started", "gateway", c.Address(), "mask", mask.String())

	if err := m.Deselect(ctx); err != nil && !token.Cancelled() {
		return fmt.Errorf("deselecting slaves: %w", err)
	}

	err = m.WildcardSearch(ctx, mask, func(f Frame) {
		d, derr := DeviceFromFrame(f)
		if derr != nil {
			s.logger.Warn("undecodable mbus response", "mask", mask.String(), "error", derr)
			return
		}
		snap := devices.Append(d)
		sink.ReportProgress(ScanResult{Devices: snap}, 0, 1) //nolint:errcheck // terminal resources ignore progress
	})
	if token.Cancelled() {
		return nil
	}
	if err != nil {
		return fmt.Errorf("wildcard search: %w", err)
	}

	s.logger.Info("mbus secondary address scan finished", "gateway", c.Address(), "devices", devices.Len())
	return sink.Complete(ScanResult{Devices: devices.Snapshot()})
}
