package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nickyhof/StepDB"
	"github.com/nickyhof/StepDB/core"
	"github.com/nickyhof/StepDB/db"
	"github.com/nickyhof/StepDB/ps"
)

func setupTestCLI(t *testing.T) *CLI {
	database, err := db.OpenMemory(nil)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	persistence, err := ps.NewMemoryPersistence()
	if err != nil {
		t.Fatalf("Failed to create persistence: %v", err)
	}

	instance := StepDB.Open(database, &persistence)
	archive := instance.Archive(core.Identity{
		Name:  "test",
		Email: "test@test.com",
	})

	return &CLI{
		database: database,
		archive:  archive,
		history:  make([]string, 0),
	}
}

func TestCLICreateTableAndInsert(t *testing.T) {
	cli := setupTestCLI(t)

	if err := cli.database.Exec("CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)"); err != nil {
		t.Fatalf("CREATE TABLE failed: %v", err)
	}

	if err := cli.database.Exec("INSERT INTO users (name) VALUES ('Alice')"); err != nil {
		t.Fatalf("INSERT failed: %v", err)
	}

	rs, err := cli.database.Query("SELECT * FROM users")
	if err != nil {
		t.Fatalf("SELECT failed: %v", err)
	}
	result, err := db.Collect(rs)
	rs.Close()
	if err != nil {
		t.Fatalf("Failed to collect results: %v", err)
	}

	if result.RecordsRead != 1 {
		t.Errorf("Expected 1 record, got %d", result.RecordsRead)
	}
}

func TestCLIAddToHistory(t *testing.T) {
	cli := setupTestCLI(t)

	cli.addToHistory("SELECT * FROM test")
	cli.addToHistory("INSERT INTO test VALUES (1)")

	if len(cli.history) != 2 {
		t.Errorf("Expected 2 history entries, got %d", len(cli.history))
	}

	// Adding duplicate of last command should not increase count
	cli.addToHistory("INSERT INTO test VALUES (1)")
	if len(cli.history) != 2 {
		t.Errorf("Expected 2 history entries after duplicate, got %d", len(cli.history))
	}
}

func TestCLIHistoryLimit(t *testing.T) {
	cli := setupTestCLI(t)

	// Add more than 1000 entries
	for i := 0; i < 1100; i++ {
		cli.addToHistory("SELECT " + string(rune(i)))
	}

	if len(cli.history) > 1000 {
		t.Errorf("Expected history to be limited to 1000, got %d", len(cli.history))
	}
}

func TestCLIGetPrompt(t *testing.T) {
	cli := setupTestCLI(t)

	// Normal prompt
	prompt := cli.getPrompt(false)
	if !strings.Contains(prompt, "stepdb") {
		t.Error("Expected prompt to contain 'stepdb'")
	}

	// In-memory databases have no file part
	if strings.Contains(prompt, "(") {
		t.Error("Expected no file name for an in-memory database")
	}

	// Multi-line prompt
	prompt = cli.getPrompt(true)
	if !strings.Contains(prompt, "...>") {
		t.Error("Expected multi-line prompt to contain '...>'")
	}

	// A file-backed database shows its file name
	fileDatabase, err := db.Open(filepath.Join(t.TempDir(), "orders.db"), nil)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer fileDatabase.Close()

	fileCli := &CLI{database: fileDatabase}
	prompt = fileCli.getPrompt(false)
	if !strings.Contains(prompt, "orders.db") {
		t.Error("Expected prompt to contain the database file name")
	}
}

func TestCLIHandleCommand(t *testing.T) {
	cli := setupTestCLI(t)

	tests := []struct {
		command  string
		expected bool // should return true (command handled)
	}{
		{".help", true},
		{".version", true},
		{".history", true},
		{".tables", true},
		{".snapshots", true},
		{".conflicts", true},
		{".attachments", true},
		{".queries", true},
		{".prune", true},  // Missing argument prints usage
		{".verify", true}, // Missing argument prints usage
		{".unknown", true}, // Unknown commands are still handled (with error message)
	}

	for _, test := range tests {
		result := cli.handleCommand(test.command)
		if result != test.expected {
			t.Errorf("handleCommand(%s) = %v, expected %v", test.command, result, test.expected)
		}
	}
}

func TestCLISnapshotCommand(t *testing.T) {
	cli := setupTestCLI(t)

	if err := cli.database.Exec("CREATE TABLE t (id INTEGER)"); err != nil {
		t.Fatalf("CREATE TABLE failed: %v", err)
	}

	if !cli.handleCommand(".snapshot nightly first cut") {
		t.Error("Expected .snapshot to be handled")
	}

	snapshots, err := cli.archive.List()
	if err != nil {
		t.Fatalf("Failed to list snapshots: %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatalf("Expected 1 snapshot, got %d", len(snapshots))
	}
	if snapshots[0].Name != "nightly" {
		t.Errorf("Expected snapshot 'nightly', got '%s'", snapshots[0].Name)
	}
	if snapshots[0].Comment != "first cut" {
		t.Errorf("Expected comment 'first cut', got '%s'", snapshots[0].Comment)
	}
}

func TestCLIPruneCommand(t *testing.T) {
	cli := setupTestCLI(t)

	if err := cli.database.Exec("CREATE TABLE t (id INTEGER)"); err != nil {
		t.Fatalf("CREATE TABLE failed: %v", err)
	}
	for _, name := range []string{"first", "second", "third"} {
		if !cli.handleCommand(".snapshot " + name) {
			t.Error("Expected .snapshot to be handled")
		}
	}

	if !cli.handleCommand(".prune 1") {
		t.Error("Expected .prune to be handled")
	}

	snapshots, err := cli.archive.List()
	if err != nil {
		t.Fatalf("Failed to list snapshots: %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatalf("Expected 1 snapshot after pruning, got %d", len(snapshots))
	}
	if snapshots[0].Name != "third" {
		t.Errorf("Expected newest snapshot 'third' to survive, got '%s'", snapshots[0].Name)
	}
}

func TestCLIQueryCommands(t *testing.T) {
	cli := setupTestCLI(t)

	if err := cli.database.Exec("CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)"); err != nil {
		t.Fatalf("CREATE TABLE failed: %v", err)
	}

	if !cli.handleCommand(".query-save user-count SELECT count(*)  FROM users") {
		t.Error("Expected .query-save to be handled")
	}

	query, err := cli.archive.Persistence.GetQuery("user-count")
	if err != nil {
		t.Fatalf("Failed to get query: %v", err)
	}
	if query.SQL != "SELECT count(*)  FROM users" {
		t.Errorf("Expected stored SQL to keep its spacing, got '%s'", query.SQL)
	}

	if !cli.handleCommand(".query user-count") {
		t.Error("Expected .query to be handled")
	}
	if !cli.handleCommand(".queries") {
		t.Error("Expected .queries to be handled")
	}

	if !cli.handleCommand(".query-drop user-count") {
		t.Error("Expected .query-drop to be handled")
	}
	if _, err := cli.archive.Persistence.GetQuery("user-count"); err == nil {
		t.Error("Expected query to be gone after .query-drop")
	}
}

func TestCLIMergeCommand(t *testing.T) {
	cli := setupTestCLI(t)

	if err := cli.database.Exec("CREATE TABLE t (id INTEGER)"); err != nil {
		t.Fatalf("CREATE TABLE failed: %v", err)
	}
	if !cli.handleCommand(".snapshot base") {
		t.Error("Expected .snapshot to be handled")
	}
	if !cli.handleCommand(".branch feature") {
		t.Error("Expected .branch to be handled")
	}
	if !cli.handleCommand(".checkout feature") {
		t.Error("Expected .checkout to be handled")
	}

	if err := cli.database.Exec("INSERT INTO t VALUES (1)"); err != nil {
		t.Fatalf("INSERT failed: %v", err)
	}
	if !cli.handleCommand(".snapshot extra") {
		t.Error("Expected .snapshot to be handled")
	}

	if !cli.handleCommand(".checkout master") {
		t.Error("Expected .checkout to be handled")
	}
	if !cli.handleCommand(".merge feature") {
		t.Error("Expected .merge to be handled")
	}

	snapshots, err := cli.archive.List()
	if err != nil {
		t.Fatalf("Failed to list snapshots: %v", err)
	}
	if len(snapshots) != 2 {
		t.Errorf("Expected 2 snapshots after merge, got %d", len(snapshots))
	}
}

func TestCLIMergeResolveCommand(t *testing.T) {
	cli := setupTestCLI(t)

	if err := cli.database.Exec("CREATE TABLE t (id INTEGER)"); err != nil {
		t.Fatalf("CREATE TABLE failed: %v", err)
	}
	if !cli.handleCommand(".snapshot shared base") {
		t.Error("Expected .snapshot to be handled")
	}
	if !cli.handleCommand(".branch feature") {
		t.Error("Expected .branch to be handled")
	}

	// Save diverging versions of the same snapshot on both branches
	if !cli.handleCommand(".checkout feature") {
		t.Error("Expected .checkout to be handled")
	}
	if err := cli.database.Exec("INSERT INTO t VALUES (1)"); err != nil {
		t.Fatalf("INSERT failed: %v", err)
	}
	if !cli.handleCommand(".snapshot shared feature edit") {
		t.Error("Expected .snapshot to be handled")
	}
	featureImage, _, err := cli.archive.Persistence.GetSnapshot("shared")
	if err != nil {
		t.Fatalf("Failed to read snapshot: %v", err)
	}

	if !cli.handleCommand(".checkout master") {
		t.Error("Expected .checkout to be handled")
	}
	if err := cli.database.Exec("INSERT INTO t VALUES (2)"); err != nil {
		t.Fatalf("INSERT failed: %v", err)
	}
	if !cli.handleCommand(".snapshot shared master edit") {
		t.Error("Expected .snapshot to be handled")
	}

	if !cli.handleCommand(".merge feature manual") {
		t.Error("Expected .merge to be handled")
	}
	pending := cli.archive.Persistence.GetPendingMerge()
	if pending == nil {
		t.Fatal("Expected a pending merge")
	}
	if len(pending.Unresolved) != 1 {
		t.Fatalf("Expected 1 unresolved conflict, got %d", len(pending.Unresolved))
	}
	if !cli.handleCommand(".conflicts") {
		t.Error("Expected .conflicts to be handled")
	}

	// Resolving the last conflict completes the merge
	if !cli.handleCommand(".resolve shared source") {
		t.Error("Expected .resolve to be handled")
	}
	if cli.archive.Persistence.GetPendingMerge() != nil {
		t.Error("Expected pending merge to be cleared")
	}

	merged, _, err := cli.archive.Persistence.GetSnapshot("shared")
	if err != nil {
		t.Fatalf("Failed to read merged snapshot: %v", err)
	}
	if !bytes.Equal(merged, featureImage) {
		t.Error("Expected the source version of the snapshot after resolving")
	}
}

func TestVersionVariable(t *testing.T) {
	// Test that Version variable exists and has a default value
	if Version == "" {
		t.Error("Version should not be empty")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input    string
		max      int
		expected string
	}{
		{"short", 10, "short"},
		{"this is a long string", 10, "this is..."},
		{"exact", 5, "exact"},
		{"ab", 10, "ab"},
	}

	for _, test := range tests {
		result := truncate(test.input, test.max)
		if result != test.expected {
			t.Errorf("truncate(%q, %d) = %q, expected %q", test.input, test.max, result, test.expected)
		}
	}
}

func TestShortId(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"0123456789abcdef", "01234567"},
		{"abc", "abc"},
		{"", ""},
	}

	for _, test := range tests {
		result := shortId(test.input)
		if result != test.expected {
			t.Errorf("shortId(%q) = %q, expected %q", test.input, result, test.expected)
		}
	}
}

func TestReadFile(t *testing.T) {
	cli := setupTestCLI(t)

	script := `CREATE TABLE products (id INTEGER PRIMARY KEY, name TEXT, price REAL);

INSERT INTO products (name, price) VALUES ('Keyboard', 49.99);
INSERT INTO products (name, price) VALUES ('Mouse', 19.99);
INSERT INTO products (name, price) VALUES ('Monitor', 199.99);

-- verify the load
SELECT count(*) FROM products;
`
	path := filepath.Join(t.TempDir(), "products.sql")
	if err := os.WriteFile(path, []byte(script), 0644); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}

	if err := cli.readFile(path); err != nil {
		t.Fatalf("readFile failed: %v", err)
	}

	// Verify data was loaded
	rs, err := cli.database.Query("SELECT count(*) FROM products")
	if err != nil {
		t.Fatalf("SELECT failed: %v", err)
	}
	result, err := db.Collect(rs)
	rs.Close()
	if err != nil {
		t.Fatalf("Failed to collect results: %v", err)
	}

	if result.Rows[0][0] != "3" {
		t.Errorf("Expected 3 products, got %s", result.Rows[0][0])
	}
}

func TestReadFileNotFound(t *testing.T) {
	cli := setupTestCLI(t)

	err := cli.readFile("nonexistent.sql")
	if err == nil {
		t.Error("Expected error for non-existent file")
	}
}

func TestReadCommand(t *testing.T) {
	cli := setupTestCLI(t)

	// .read without a file name prints usage but is still handled
	result := cli.handleCommand(".read")
	if !result {
		t.Error("Expected .read to be handled")
	}
}
