package store

import (
	"fmt"
	"strings"
)

// Open selects a Store implementation: memory, postgres (lib/pq), gorm-postgres or gorm-sqlite.
func Open(driver, databaseURL, sqlitePath string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "memory":
		return NewMemory(), nil
	case "postgres":
		return NewPostgres(databaseURL)
	case "gorm-postgres":
		return NewGorm("postgres", databaseURL)
	case "gorm-sqlite":
		return NewGorm("sqlite", sqlitePath)
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", driver)
	}
}
