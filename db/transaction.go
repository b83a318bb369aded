package db

// TxMode selects the locking behavior of BEGIN.
type TxMode int

const (
	TxDeferred TxMode = iota
	TxImmediate
	TxExclusive
)

func (mode TxMode) String() string {
	switch mode {
	case TxImmediate:
		return "IMMEDIATE"
	case TxExclusive:
		return "EXCLUSIVE"
	}
	return "DEFERRED"
}

// Transaction pairs a BEGIN with exactly one COMMIT or ROLLBACK. The
// intended shape is
//
//	txn, err := database.Begin(db.TxDeferred)
//	if err != nil {
//	    return err
//	}
//	defer txn.Rollback()
//	...
//	return txn.Commit()
//
// Rollback after Commit is a no-op, so the deferred call only fires on
// early returns. The deferred site discards the rollback error; that is
// the one place this package lets a failure go unreported.
type Transaction struct {
	database *Database
	open     bool
}

// Begin starts a transaction in the given mode.
func (d *Database) Begin(mode TxMode) (*Transaction, error) {
	if err := d.Exec("BEGIN " + mode.String()); err != nil {
		return nil, err
	}
	return &Transaction{database: d, open: true}, nil
}

// Commit ends the transaction. On an already ended transaction it is a
// no-op; the flag clears before COMMIT is issued so no second owner can
// end the same BEGIN.
func (txn *Transaction) Commit() error {
	if !txn.open {
		return nil
	}
	txn.open = false
	return txn.database.Exec("COMMIT")
}

// Rollback undoes the transaction if it is still open and the database
// has not been closed underneath it; otherwise it is a no-op.
func (txn *Transaction) Rollback() error {
	if !txn.open || !txn.database.IsOpen() {
		return nil
	}
	txn.open = false
	return txn.database.Exec("ROLLBACK")
}
