// Package mbus implements M-Bus device discovery through a TCP gateway.
//
// It covers the link layer (EN 13757-2 frames, see frame.go), the fixed
// data header used to identify slaves, secondary address masks, and the
// two discovery strategies exposed as scan resources:
//
//   - Primary address scan: REQ_UD2 to every address in a range, one
//     progress step per address.
//   - Secondary address scan: wildcard search over the ident digits,
//     expanding a digit only where slaves collide.
//
// A scan is resource.Work: it reports progress into the resource, polls
// the cancellation token after every bus exchange and always closes its
// gateway connection.
//
//	req, _ := mbus.DecodeScanRequest(body)
//	scanner.Prepare(req)
//	work, _ := scanner.Work(req)
//	registry.Create(ctx, opts, runner.Factory(work))
//
// Serial connections are not supported; requests naming one decode but
// fail validation.
package mbus
