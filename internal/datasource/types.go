package datasource

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"time"
)

// Type is the driver a data source uses.
type Type string

const (
	TypeMBus    Type = "MBUS"
	TypeSerial  Type = "SERIAL"
	TypeVMStat  Type = "VMSTAT"
	TypeEnvCan  Type = "ENVCAN"
	TypeVirtual Type = "VIRTUAL"
)

// AllTypes lists every known driver type.
func AllTypes() []Type {
	return []Type{TypeMBus, TypeSerial, TypeVMStat, TypeEnvCan, TypeVirtual}
}

// xidPattern matches exported identifiers such as "DS_mbus_boiler".
var xidPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,100}$`)

// Config is the driver-specific configuration stored as JSON.
type Config map[string]any

// DataSource is one configured acquisition source.
type DataSource struct {
	ID        string    `json:"id"`
	XID       string    `json:"xid"`
	Name      string    `json:"name"`
	Type      Type      `json:"type"`
	Enabled   bool      `json:"enabled"`
	Config    Config    `json:"config,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the fields required before storing.
func (d *DataSource) Validate() error {
	if !xidPattern.MatchString(d.XID) {
		return fmt.Errorf("%w: xid %q must be 1-100 letters, digits, '_', '.' or '-'", ErrInvalid, d.XID)
	}
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if !slices.Contains(AllTypes(), d.Type) {
		return fmt.Errorf("%w: unknown type %q", ErrInvalid, d.Type)
	}
	return nil
}

// Clone returns a copy that shares no maps with d. Nested values in
// Config are shallow-copied; drivers store flat JSON objects.
func (d *DataSource) Clone() *DataSource {
	if d == nil {
		return nil
	}
	cpy := *d
	cpy.Config = maps.Clone(d.Config)
	return &cpy
}

// Status is a data source together with its runtime state.
type Status struct {
	DataSource
	Running bool `json:"running"`
}
