package postgres

import (
	"database/sql"
	"fmt"

	"curtailsync/config"

	_ "github.com/lib/pq"
)

// CreateDatabase creates the configured database if it doesn't exist yet.
// It connects through the maintenance 'postgres' database because the
// target may not exist on a fresh server.
func CreateDatabase(cfg config.PostgresConfig) error {
	admin := cfg
	admin.DBName = "postgres"

	db, err := sql.Open("postgres", admin.DSN("dev"))
	if err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	defer db.Close()

	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1);`
	if err := db.QueryRow(query, cfg.DBName).Scan(&exists); err != nil {
		return fmt.Errorf("check db exists failed: %w", err)
	}
	if exists {
		return nil
	}

	_, err = db.Exec(fmt.Sprintf("CREATE DATABASE %q", cfg.DBName))
	if err != nil {
		return fmt.Errorf("create db failed: %w", err)
	}

	return nil
}
