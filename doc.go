// Package StepDB provides a SQLite database layer with a Git-backed snapshot archive.
//
// StepDB wraps a native SQLite connection with explicit statement,
// cursor and transaction handling, and archives point-in-time images of
// the database as Git commits. Every saved snapshot is a commit, which
// provides built-in version control, history tracking, and the ability
// to restore the database to any archived state.
//
// # Quick Start
//
// Open a database and an archive:
//
//	database, _ := db.Open("app.db", nil)
//	persistence, _ := ps.NewFilePersistence("/var/lib/stepdb/archive", nil)
//	instance := StepDB.Open(database, &persistence)
//
//	database.Exec("CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)")
//	database.Exec("INSERT INTO users (name) VALUES (?)", "Alice")
//
//	archive := instance.Archive(core.Identity{Name: "App", Email: "app@example.com"})
//	archive.Save("nightly", "before upgrade")
//
// Query with prepared statements and iterators:
//
//	rs, _ := database.Query("SELECT id, name FROM users WHERE id > ?", 0)
//	defer rs.Close()
//	for cursor := range rs.All() {
//	    fmt.Println(cursor.Int64(0), cursor.Text(1))
//	}
//
// Roll the database back to an archived image:
//
//	archive.Restore("nightly")
//
// # Layers
//
//   - db: the SQLite wrapper (connections, statements, cursors,
//     transactions, schema versioning)
//   - ps: the Git-backed snapshot archive
//   - op: operations connecting the two (save, restore, import, export)
//   - core: shared value types (Identity, Snapshot)
package StepDB
