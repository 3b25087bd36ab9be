// Package audit records who did what to scans, data sources and users.
//
// Entries are written to the audit_logs table. Request handlers enqueue
// entries on a Writer, which persists them serially in the background so
// a slow disk never holds up an HTTP response.
package audit
