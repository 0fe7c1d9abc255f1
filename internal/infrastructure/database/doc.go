// Package database provides SQLite connectivity for devicelink.
//
// Each audit store is its own small SQLite file opened through Open and
// brought up to date with Migrate. Durability comes from the journal mode and
// synchronous pragma chosen in Config: the audit logger opens with
// synchronous=FULL so a committed row survives power loss.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: path, Synchronous: "FULL"})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive-only .up.sql files named YYYYMMDD_HHMMSS_name.up.sql.
package database
