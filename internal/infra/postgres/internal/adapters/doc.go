// Package adapters hides the difference between the pgx pool and a database/sql handle
// opened through sqlx, so the postgres stores can run on either.
package adapters
