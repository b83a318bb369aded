// Package sql provides lexical scanning of SQLite scripts.
//
// The scanner does not parse SQL; the database does that. It tracks
// just enough lexical state to find statement boundaries: string
// literals with doubled-quote escapes, identifiers quoted with double
// quotes, backticks or brackets, and both comment forms. That is
// enough to split a script into statements and to decide whether
// interactive input is complete before handing it to the database.
//
// # Splitting Scripts
//
//	for _, stmt := range sql.Split(script) {
//	    if sql.IsQuery(stmt) {
//	        // runs through the query path
//	    }
//	}
//
// # Interactive Input
//
//	if sql.Terminated(buffer.String()) {
//	    execute(buffer.String())
//	}
package sql
