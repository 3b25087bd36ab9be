package datasource

import "errors"

// Sentinel errors for data-source operations.
var (
	// ErrNotFound is returned when no data source has the given XID.
	ErrNotFound = errors.New("datasource: not found")

	// ErrExists is returned when creating a data source whose XID is taken.
	ErrExists = errors.New("datasource: xid already exists")

	// ErrInvalid is returned by Validate; the wrapped message says why.
	ErrInvalid = errors.New("datasource: invalid data source")
)
