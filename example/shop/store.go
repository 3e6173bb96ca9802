// Package shop is a small member/order application showing how propagation decides what is
// persisted when nested repository calls fail.
package shop

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/oligo/txprop"
	"github.com/oligo/txprop/sqlxpool"
)

type (
	Manager  = txprop.TxManager[*sqlxpool.Tx]
	TxStatus = txprop.Status[*sqlxpool.Tx]
)

const schema = `
CREATE TABLE IF NOT EXISTS member (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS log (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	message TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS orders (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	username   TEXT NOT NULL,
	pay_status TEXT NOT NULL DEFAULT ''
);
`

// DSN builds a modernc sqlite DSN for path with WAL and a busy timeout.
func DSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	return "file:" + path + "?" + q.Encode()
}

// Open opens the sqlite database at path and creates the tables.
func Open(ctx context.Context, path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("shop: open %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("shop: migrate: %w", err)
	}
	return db, nil
}
