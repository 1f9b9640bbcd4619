package main

import (
	"fmt"
	"io"

	"github.com/banshee-data/spectrometer/internal/db"
)

// runMigrate handles `spectrometer migrate up|down|version`.
func runMigrate(args []string, dbPath string, out io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: spectrometer migrate up|down|version")
	}

	database, err := db.OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	switch args[0] {
	case "up":
		if err := database.MigrateUp(); err != nil {
			return err
		}
	case "down":
		if err := database.MigrateDown(); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("unknown migrate action %q", args[0])
	}

	version, dirty, err := database.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "schema version %d (dirty=%t)\n", version, dirty)
	return nil
}
