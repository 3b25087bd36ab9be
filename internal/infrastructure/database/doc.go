// Package database provides SQLite connectivity for the M-Bus service.
//
// It owns the connection lifecycle (WAL mode, busy timeout, single writer)
// and a small forward-only migration runner. Users, data sources and the
// audit trail live here; temporary scan resources never do.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive-only. New columns must be NULLABLE or carry a
// DEFAULT, and each file pair is named YYYYMMDD_HHMMSS_name.up.sql and
// YYYYMMDD_HHMMSS_name.down.sql.
package database
