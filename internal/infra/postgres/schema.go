package postgres

import "fmt"

func reservationsDDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	resource_key TEXT PRIMARY KEY,
	id TEXT NOT NULL,
	holder_id TEXT NOT NULL,
	claimed_at TIMESTAMPTZ NOT NULL
)`, quoteIdent(table))
}

func booksDDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	author TEXT NOT NULL DEFAULT '',
	image_url TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT ''
)`, quoteIdent(table))
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}
