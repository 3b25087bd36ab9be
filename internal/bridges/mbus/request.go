package mbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Request type discriminators accepted in the "type" field.
const (
	TypeTCPAddressScan             = "MBusTcpIpAddressScanRequest"
	TypeSerialAddressScan          = "MBusAddressScanRequest"
	TypeTCPSecondaryAddressScan    = "MBusTcpIpSecondaryAddressScanRequest"
	TypeSerialSecondaryAddressScan = "MBusSecondaryAddressScanRequest"
)

// Transport is how the scan reaches the bus.
type Transport string

const (
	TransportTCP    Transport = "tcp"
	TransportSerial Transport = "serial"
)

// Connection holds the fields common to every scan request.
type Connection struct {
	// DataSourceXID names the data source that owns this bus. The scan is
	// refused while that data source is running.
	DataSourceXID string `json:"data_source_xid,omitempty"`

	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	// PortName is the serial device for serial requests.
	PortName string `json:"port_name,omitempty"`

	// BitsPerSecond is the bus speed behind the gateway; it lengthens the
	// response timeout on slow buses.
	BitsPerSecond int `json:"bits_per_second,omitempty"`

	// ResponseTimeoutOffset is extra wait per answer, in milliseconds.
	ResponseTimeoutOffset int `json:"response_timeout_offset,omitempty"`

	transport Transport
}

// Transport returns the transport implied by the request type.
func (c Connection) Transport() Transport {
	return c.transport
}

// Address returns "host:port".
func (c Connection) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// TimeoutOffset returns ResponseTimeoutOffset as a duration.
func (c Connection) TimeoutOffset() time.Duration {
	return time.Duration(c.ResponseTimeoutOffset) * time.Millisecond
}

func (c Connection) validate() error {
	if c.transport == TransportSerial {
		return fmt.Errorf("%w: serial port %q; use a TCP gateway", ErrUnsupportedTransport, c.PortName)
	}
	if c.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidRequest)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range 1-65535", ErrInvalidRequest, c.Port)
	}
	if c.BitsPerSecond < 0 {
		return fmt.Errorf("%w: bits_per_second must not be negative", ErrInvalidRequest)
	}
	if c.ResponseTimeoutOffset < 0 {
		return fmt.Errorf("%w: response_timeout_offset must not be negative", ErrInvalidRequest)
	}
	return nil
}

// ScanRequest is one of *AddressScanRequest or *SecondaryAddressScanRequest.
type ScanRequest interface {
	// Type returns the request's discriminator.
	Type() string
	// Conn returns the connection fields.
	Conn() *Connection
	// Validate checks the request. Errors wrap ErrInvalidRequest.
	Validate() error

	scanRequest()
}

// AddressScanRequest sweeps the inclusive primary address range
// [FirstAddress, LastAddress].
type AddressScanRequest struct {
	Connection
	FirstAddress int `json:"first_address"`
	LastAddress  int `json:"last_address"`
}

// Type implements ScanRequest.
func (r *AddressScanRequest) Type() string {
	if r.transport == TransportSerial {
		return TypeSerialAddressScan
	}
	return TypeTCPAddressScan
}

// Conn implements ScanRequest.
func (r *AddressScanRequest) Conn() *Connection { return &r.Connection }

// Size returns the number of addresses scanned.
func (r *AddressScanRequest) Size() int {
	return r.LastAddress - r.FirstAddress + 1
}

// Validate implements ScanRequest.
func (r *AddressScanRequest) Validate() error {
	if err := r.validate(); err != nil {
		return err
	}
	for _, a := range []int{r.FirstAddress, r.LastAddress} {
		if a < 0 || a > MaxPrimaryAddress {
			return fmt.Errorf("%w: address %d out of range 0-%d", ErrInvalidRequest, a, MaxPrimaryAddress)
		}
	}
	if r.FirstAddress > r.LastAddress {
		return fmt.Errorf("%w: first_address %d is after last_address %d", ErrInvalidRequest, r.FirstAddress, r.LastAddress)
	}
	return nil
}

func (*AddressScanRequest) scanRequest() {}

// SecondaryAddressScanRequest runs a wildcard search for slaves whose
// secondary address matches the given masks.
type SecondaryAddressScanRequest struct {
	Connection
	ID           string `json:"id,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Version      string `json:"version,omitempty"`
	Medium       string `json:"medium,omitempty"`
}

// Type implements ScanRequest.
func (r *SecondaryAddressScanRequest) Type() string {
	if r.transport == TransportSerial {
		return TypeSerialSecondaryAddressScan
	}
	return TypeTCPSecondaryAddressScan
}

// Conn implements ScanRequest.
func (r *SecondaryAddressScanRequest) Conn() *Connection { return &r.Connection }

// Mask returns the selection mask described by the request.
func (r *SecondaryAddressScanRequest) Mask() (Mask, error) {
	return ParseMask(r.ID, r.Manufacturer, r.Version, r.Medium)
}

// Validate implements ScanRequest.
func (r *SecondaryAddressScanRequest) Validate() error {
	if err := r.validate(); err != nil {
		return err
	}
	_, err := r.Mask()
	return err
}

func (*SecondaryAddressScanRequest) scanRequest() {}

// DecodeScanRequest decodes a JSON scan request, choosing the concrete
// type from its "type" field. It does not validate.
func DecodeScanRequest(data []byte) (ScanRequest, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	var (
		req       ScanRequest
		transport = TransportTCP
	)
	switch probe.Type {
	case TypeTCPAddressScan:
		req = &AddressScanRequest{}
	case TypeSerialAddressScan:
		req, transport = &AddressScanRequest{}, TransportSerial
	case TypeTCPSecondaryAddressScan:
		req = &SecondaryAddressScanRequest{}
	case TypeSerialSecondaryAddressScan:
		req, transport = &SecondaryAddressScanRequest{}, TransportSerial
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrUnknownRequestType)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRequestType, probe.Type)
	}

	if err := json.Unmarshal(data, req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, fmt.Errorf("%w: field %s: %w", ErrInvalidRequest, typeErr.Field, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	req.Conn().transport = transport
	return req, nil
}

// MarshalJSON adds the type discriminator.
func (r *AddressScanRequest) MarshalJSON() ([]byte, error) {
	type plain AddressScanRequest
	return json.Marshal(struct {
		Type string `json:"type"`
		*plain
	}{r.Type(), (*plain)(r)})
}

// MarshalJSON adds the type discriminator.
func (r *SecondaryAddressScanRequest) MarshalJSON() ([]byte, error) {
	type plain SecondaryAddressScanRequest
	return json.Marshal(struct {
		Type string `json:"type"`
		*plain
	}{r.Type(), (*plain)(r)})
}
