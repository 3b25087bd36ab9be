// Package api implements the HTTP REST API and WebSocket server for the
// Gray Logic M-Bus scan service.
//
// This package provides:
//   - Scan endpoints under /api/v1/mbus-data-sources/scan (create, list,
//     get, cancel, remove) backed by the temporary resource registry
//   - Data source endpoints for the enable/disable workflow that guards scans
//   - A WebSocket hub that pushes resource changes to their owners and admins
//   - JWT authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// Handlers are thin: a POST decodes the request, checks the target data
// source is not running, and hands the scan to the registry. The scan itself
// runs on the worker pool and reports back into its resource; clients poll
// GET /scan/{id} or subscribe to "temporary_resource.MBUS" on the WebSocket.
//
// # Security
//
// Every scan endpoint applies the owner-or-admin visibility rule. WebSocket
// connections use single-use tickets so the JWT never appears in a URL.
package api
