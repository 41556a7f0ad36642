// Package database opens the stores that back resource graph persistence.
//
// Two drivers are supported, selected by database.driver in config.yaml:
//   - sqlite: a single STRICT-mode SQLite file holding the resources table
//     and the audit log, with embedded schema migrations
//   - badger: an embedded Badger key-value directory holding resources only
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The SQLite file is chmod 0600 after opening
//
// Usage:
//
//	db, err := database.Open(database.ConfigFrom(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations:
//
// Files are named YYYYMMDD_HHMMSS_description.up.sql with a matching
// .down.sql, and are embedded by the top-level migrations package. New
// columns must be NULLABLE or carry a DEFAULT.
package database
