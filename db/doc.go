// Package db is a thin, type-safe veneer over SQLite for StepDB.
//
// The Database type owns one native connection. Statements, result sets
// and transactions all borrow from it through reference-counted handles,
// so resources are released exactly once and in the right order no
// matter how the pieces go out of scope. Using a closed database or a
// finalized statement fails fast with ErrClosed or ErrFinalized instead
// of crashing in the library.
//
// # Database Usage
//
//	database, err := db.OpenMemory(nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer database.Close()
//
//	err = database.Exec("CREATE TABLE users (id INTEGER, name TEXT)")
//	err = database.Exec("INSERT INTO users VALUES (?, ?)", 1, "ada")
//
// # Statements and Result Sets
//
// Prepare compiles once; ExecArgs rebinds and steps per iteration:
//
//	statement, err := database.Prepare("INSERT INTO users VALUES (?, ?)")
//	defer statement.Finalize()
//	for i, name := range names {
//	    err = statement.ExecArgs(i, name)
//	}
//
// Queries stream through iterators or the range form:
//
//	rs, err := database.Query("SELECT id, name FROM users")
//	defer rs.Close()
//	for cursor := range rs.All() {
//	    fmt.Println(cursor.Int(0), cursor.Text(1))
//	}
//	err = rs.Err()
//
// # Transactions
//
//	txn, err := database.Begin(db.TxDeferred)
//	defer txn.Rollback()
//	...
//	err = txn.Commit()
//
// # Concurrency
//
// A Database and everything borrowed from it belong to one goroutine.
// Run one Database per goroutine, even over the same file, and let the
// library's locking and the busy timeout arbitrate between them.
package db
