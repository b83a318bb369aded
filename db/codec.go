//go:build codec

package db

import "strings"

// OpenEncrypted opens path and applies passphrase through the key pragma
// before anything else touches the database, then proves the key by
// reading the schema. The pragma only has effect when the linked SQLite
// carries an encryption extension; this build tag keeps the entry point
// out of stock builds entirely.
func OpenEncrypted(path, passphrase string, opts *Options) (*Database, error) {
	database, err := Open(path, opts)
	if err != nil {
		return nil, err
	}
	if err := database.Exec("PRAGMA key = " + quoteLiteral(passphrase)); err != nil {
		database.Close()
		return nil, err
	}
	if err := database.Exec("SELECT count(*) FROM sqlite_master"); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// quoteLiteral makes a SQL string literal; pragmas cannot take bound
// parameters.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
