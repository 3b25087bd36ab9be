// Package resource implements temporary resources: in-memory records of
// long-running background operations (device scans) that callers create,
// poll, cancel and remove.
//
// A Resource moves from RUNNING to exactly one terminal status (SUCCESS,
// ERROR, CANCELLED, TIMED_OUT) and is frozen afterwards. The Registry owns
// every Resource for the process lifetime; nothing is persisted. A Runner
// submits the actual work to an Executor (see internal/workpool) and wires
// a cancellation token into the Resource. Every state change is pushed to a
// Notifier.
//
//	registry := resource.NewRegistry[mbus.ScanResult](cfg.Scan, notifier)
//	runner := resource.NewRunner[mbus.ScanResult](pool)
//
//	res, err := registry.Create(ctx, resource.CreateOptions{
//	    Type:    "MBUS",
//	    OwnerID: user.ID,
//	}, runner.Factory(scan))
//
// Work reports through the Sink it is handed and polls its Token at safe
// points. Errors and panics from work never escape the runner; they end up
// in the resource's error payload.
package resource
