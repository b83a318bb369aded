package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nickyhof/StepDB"
	"github.com/nickyhof/StepDB/core"
	"github.com/nickyhof/StepDB/db"
	"github.com/nickyhof/StepDB/op"
	"github.com/nickyhof/StepDB/ps"
	"github.com/nickyhof/StepDB/sql"
)

const (
	PromptColor  = "\033[36m" // Cyan
	ErrorColor   = "\033[31m" // Red
	SuccessColor = "\033[32m" // Green
	ResetColor   = "\033[0m"
	BoldColor    = "\033[1m"
)

// Version is set at build time via -ldflags
var Version = "dev"

// CLI holds the CLI state
type CLI struct {
	database    *db.Database
	archive     *op.ArchiveOp
	auth        *ps.RemoteAuth
	history     []string
	historyFile string
}

func main() {
	dbPath := flag.String("db", "", "Database file (empty for in-memory)")
	archiveDir := flag.String("archive", "", "Snapshot archive directory (empty for in-memory)")
	gitUrl := flag.String("gitUrl", "", "Git URL to clone the archive from")
	timeout := flag.Duration("timeout", 5*time.Second, "Busy timeout for the database")
	readOnly := flag.Bool("readonly", false, "Open the database read-only")
	sqlFile := flag.String("sqlFile", "", "SQL file to execute (non-interactive)")
	userName := flag.String("name", "StepDB", "User name for archive commits")
	userEmail := flag.String("email", "cli@stepdb.local", "User email for archive commits")
	token := flag.String("token", "", "Token for authenticated push and pull")
	flag.Parse()

	printBanner()

	var database *db.Database
	var err error

	options := &db.Options{BusyTimeout: *timeout, ReadOnly: *readOnly}
	if *dbPath == "" {
		fmt.Printf("%sUsing in-memory database%s\n", SuccessColor, ResetColor)
		database, err = db.OpenMemory(options)
	} else {
		fmt.Printf("%sUsing database: %s%s\n", SuccessColor, *dbPath, ResetColor)
		database, err = db.Open(*dbPath, options)
	}
	if err != nil {
		fmt.Printf("%sError: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	defer database.Close()

	var persistence ps.Persistence
	if *archiveDir == "" {
		fmt.Printf("%sUsing in-memory archive%s\n", SuccessColor, ResetColor)
		persistence, err = ps.NewMemoryPersistence()
	} else {
		fmt.Printf("%sUsing archive: %s%s\n", SuccessColor, *archiveDir, ResetColor)
		var gitUrlPtr *string
		if *gitUrl != "" {
			gitUrlPtr = gitUrl
		}
		persistence, err = ps.NewFilePersistence(*archiveDir, gitUrlPtr)
	}
	if err != nil {
		fmt.Printf("%sError: %v%s\n", ErrorColor, err, ResetColor)
		return
	}

	instance := StepDB.Open(database, &persistence)
	archive := instance.Archive(core.Identity{
		Name:  *userName,
		Email: *userEmail,
	})

	var auth *ps.RemoteAuth
	if *token != "" {
		auth = &ps.RemoteAuth{Type: ps.AuthTypeToken, Token: *token}
	}

	cli := &CLI{
		database:    database,
		archive:     archive,
		auth:        auth,
		history:     make([]string, 0),
		historyFile: getHistoryPath(),
	}

	cli.loadHistory()

	// Execute SQL file if provided
	if *sqlFile != "" {
		err := cli.readFile(*sqlFile)
		if err != nil {
			fmt.Printf("%sError reading file: %v%s\n", ErrorColor, err, ResetColor)
			os.Exit(1)
		}
		return
	}

	cli.run()
}

func printBanner() {
	fmt.Println()
	bannerWidth := 39 // inner width of the banner box
	versionLine := fmt.Sprintf("StepDB v%s", Version)
	padding := bannerWidth - len(versionLine) - 2 // -2 for "  " margins
	if padding < 0 {
		padding = 0
	}
	leftPad := padding / 2
	rightPad := padding - leftPad

	fmt.Printf("%s%s╔═══════════════════════════════════════╗%s\n", BoldColor, PromptColor, ResetColor)
	fmt.Printf("%s%s║ %*s%s%*s ║%s\n", BoldColor, PromptColor, leftPad, "", versionLine, rightPad, "", ResetColor)
	fmt.Printf("%s%s║   SQLite with Git-backed Snapshots    ║%s\n", BoldColor, PromptColor, ResetColor)
	fmt.Printf("%s%s╚═══════════════════════════════════════╝%s\n", BoldColor, PromptColor, ResetColor)
	fmt.Println()
	fmt.Println("Type .help for commands, .quit to exit")
	fmt.Println()
}

func (cli *CLI) run() {
	reader := bufio.NewReader(os.Stdin)
	var multiLineBuffer strings.Builder

	for {
		// Show prompt
		prompt := cli.getPrompt(multiLineBuffer.Len() > 0)
		fmt.Print(prompt)

		// Read input
		input, err := reader.ReadString('\n')
		if err != nil {
			fmt.Printf("\n%sGoodbye!%s\n", SuccessColor, ResetColor)
			return
		}

		input = strings.TrimSuffix(input, "\n")
		input = strings.TrimSuffix(input, "\r")

		// Handle empty input
		if strings.TrimSpace(input) == "" {
			continue
		}

		// Check for special commands (only when not in multi-line mode)
		if multiLineBuffer.Len() == 0 && strings.HasPrefix(input, ".") {
			if cli.handleCommand(input) {
				continue
			}
		}

		// Multi-line support: accumulate until the buffer holds a
		// terminated statement. The scanner ignores semicolons inside
		// strings and comments.
		multiLineBuffer.WriteString(input)

		if !sql.Terminated(multiLineBuffer.String()) {
			multiLineBuffer.WriteString("\n")
			continue
		}

		script := strings.TrimSpace(multiLineBuffer.String())
		multiLineBuffer.Reset()

		statements := sql.Split(script)
		if len(statements) == 0 {
			continue
		}

		// Add to history
		cli.addToHistory(script)

		for _, stmt := range statements {
			cli.execute(stmt)
		}
	}
}

func (cli *CLI) getPrompt(multiLine bool) string {
	if multiLine {
		return fmt.Sprintf("%s   ...>%s ", PromptColor, ResetColor)
	}

	dbPart := ""
	if !cli.database.InMemory() {
		dbPart = fmt.Sprintf(" (%s)", filepath.Base(cli.database.Path()))
	}

	return fmt.Sprintf("%sstepdb%s>%s ", PromptColor, dbPart, ResetColor)
}

// execute runs one SQL statement and prints its outcome
func (cli *CLI) execute(stmt string) {
	if sql.IsQuery(stmt) {
		rs, err := cli.database.Query(stmt)
		if err != nil {
			fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
			return
		}
		result, err := db.Collect(rs)
		rs.Close()
		if err != nil {
			fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
			return
		}
		result.Display()
		return
	}

	start := time.Now()
	if err := cli.database.Exec(stmt); err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}

	changes := 0
	if conn, err := cli.database.Handle(); err == nil {
		changes = conn.Changes()
	}
	fmt.Printf("%s✓ OK, %d rows affected (%s)%s\n", SuccessColor, changes, elapsed(start), ResetColor)
}

// elapsed formats the time since start for status lines
func elapsed(start time.Time) string {
	d := time.Since(start)
	if d < time.Millisecond {
		return "<1ms"
	}
	return d.Round(time.Millisecond).String()
}

func (cli *CLI) handleCommand(input string) bool {
	parts := strings.Fields(strings.TrimSpace(input))

	if len(parts) == 0 {
		return true
	}

	switch strings.ToLower(parts[0]) {
	case ".quit", ".exit", ".q":
		fmt.Printf("%sGoodbye!%s\n", SuccessColor, ResetColor)
		cli.saveHistory()
		os.Exit(0)

	case ".help", ".h", ".?":
		cli.printHelp()

	case ".tables":
		cli.showTables()

	case ".schema":
		name := ""
		if len(parts) > 1 {
			name = parts[1]
		}
		cli.showSchema(name)

	case ".version":
		fmt.Printf("StepDB version %s\n", Version)
		if version, err := cli.database.Version(); err == nil {
			fmt.Printf("Schema version %d\n", version)
		}

	case ".migrate":
		if len(parts) > 1 {
			cli.migrate(parts[1])
		} else {
			fmt.Printf("%s✗ Usage: .migrate <version>%s\n", ErrorColor, ResetColor)
		}

	case ".timeout":
		if len(parts) > 1 {
			cli.setTimeout(parts[1])
		} else {
			fmt.Printf("%s✗ Usage: .timeout <duration>%s\n", ErrorColor, ResetColor)
		}

	case ".read":
		if len(parts) > 1 {
			err := cli.readFile(parts[1])
			if err != nil {
				fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
			}
		} else {
			fmt.Printf("%s✗ Usage: .read <file.sql>%s\n", ErrorColor, ResetColor)
		}

	case ".snapshot":
		if len(parts) > 1 {
			comment := strings.Join(parts[2:], " ")
			cli.saveSnapshot(parts[1], comment)
		} else {
			fmt.Printf("%s✗ Usage: .snapshot <name> [comment]%s\n", ErrorColor, ResetColor)
		}

	case ".snapshots":
		cli.showSnapshots()

	case ".restore":
		switch len(parts) {
		case 2:
			cli.restore(parts[1], "")
		case 3:
			cli.restore(parts[1], parts[2])
		default:
			fmt.Printf("%s✗ Usage: .restore <name> [transaction]%s\n", ErrorColor, ResetColor)
		}

	case ".delete":
		if len(parts) > 1 {
			if _, err := cli.archive.Delete(parts[1]); err != nil {
				fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
			} else {
				fmt.Printf("%s✓ Deleted snapshot: %s%s\n", SuccessColor, parts[1], ResetColor)
			}
		} else {
			fmt.Printf("%s✗ Usage: .delete <name>%s\n", ErrorColor, ResetColor)
		}

	case ".prune":
		if len(parts) > 1 {
			cli.prune(parts[1])
		} else {
			fmt.Printf("%s✗ Usage: .prune <keep>%s\n", ErrorColor, ResetColor)
		}

	case ".verify":
		if len(parts) > 1 {
			if err := cli.archive.Verify(parts[1]); err != nil {
				fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
			} else {
				fmt.Printf("%s✓ Snapshot %s verified%s\n", SuccessColor, parts[1], ResetColor)
			}
		} else {
			fmt.Printf("%s✗ Usage: .verify <name>%s\n", ErrorColor, ResetColor)
		}

	case ".log":
		cli.showLog()

	case ".tag":
		switch len(parts) {
		case 2:
			cli.tag(parts[1], "")
		case 3:
			cli.tag(parts[1], parts[2])
		default:
			fmt.Printf("%s✗ Usage: .tag <name> [transaction]%s\n", ErrorColor, ResetColor)
		}

	case ".tags":
		cli.showTags()

	case ".branch":
		if len(parts) > 1 {
			if err := cli.archive.Persistence.Branch(parts[1], nil); err != nil {
				fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
			} else {
				fmt.Printf("%s✓ Created branch: %s%s\n", SuccessColor, parts[1], ResetColor)
			}
		} else {
			fmt.Printf("%s✗ Usage: .branch <name>%s\n", ErrorColor, ResetColor)
		}

	case ".branches":
		cli.showBranches()

	case ".checkout":
		if len(parts) > 1 {
			if err := cli.archive.Persistence.Checkout(parts[1]); err != nil {
				fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
			} else {
				fmt.Printf("%s✓ Switched to branch: %s%s\n", SuccessColor, parts[1], ResetColor)
			}
		} else {
			fmt.Printf("%s✗ Usage: .checkout <branch>%s\n", ErrorColor, ResetColor)
		}

	case ".merge":
		switch len(parts) {
		case 2:
			cli.merge(parts[1], "")
		case 3:
			cli.merge(parts[1], parts[2])
		default:
			fmt.Printf("%s✗ Usage: .merge <branch> [newest|manual|ff-only]%s\n", ErrorColor, ResetColor)
		}

	case ".conflicts":
		cli.showConflicts()

	case ".resolve":
		if len(parts) > 2 {
			cli.resolve(parts[1], parts[2])
		} else {
			fmt.Printf("%s✗ Usage: .resolve <name> <head|source>%s\n", ErrorColor, ResetColor)
		}

	case ".abort-merge":
		if err := cli.archive.Persistence.AbortMerge(); err != nil {
			fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		} else {
			fmt.Printf("%s✓ Merge aborted%s\n", SuccessColor, ResetColor)
		}

	case ".export":
		if len(parts) > 2 {
			if err := cli.archive.Export(parts[1], parts[2], nil); err != nil {
				fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
			} else {
				fmt.Printf("%s✓ Exported %s to %s%s\n", SuccessColor, parts[1], parts[2], ResetColor)
			}
		} else {
			fmt.Printf("%s✗ Usage: .export <name> <dest>%s\n", ErrorColor, ResetColor)
		}

	case ".import":
		if len(parts) > 2 {
			var cfg *op.RemoteConfig
			if cli.auth != nil && cli.auth.Token != "" {
				cfg = &op.RemoteConfig{BearerToken: cli.auth.Token}
			}
			if _, err := cli.archive.Import(parts[1], parts[2], "", cfg); err != nil {
				fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
			} else {
				fmt.Printf("%s✓ Imported %s from %s%s\n", SuccessColor, parts[1], parts[2], ResetColor)
			}
		} else {
			fmt.Printf("%s✗ Usage: .import <name> <src>%s\n", ErrorColor, ResetColor)
		}

	case ".push":
		remote := ""
		if len(parts) > 1 {
			remote = parts[1]
		}
		if err := cli.archive.Push(remote, "", cli.auth); err != nil {
			fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		} else {
			fmt.Printf("%s✓ Pushed archive%s\n", SuccessColor, ResetColor)
		}

	case ".pull":
		remote := ""
		if len(parts) > 1 {
			remote = parts[1]
		}
		if err := cli.archive.Pull(remote, "", cli.auth); err != nil {
			fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		} else {
			fmt.Printf("%s✓ Pulled archive%s\n", SuccessColor, ResetColor)
		}

	case ".attach":
		if len(parts) > 2 {
			if err := cli.archive.Persistence.Attach(parts[1], parts[2], cli.auth, cli.archive.Identity); err != nil {
				fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
			} else {
				fmt.Printf("%s✓ Attached %s%s\n", SuccessColor, parts[1], ResetColor)
			}
		} else {
			fmt.Printf("%s✗ Usage: .attach <name> <url>%s\n", ErrorColor, ResetColor)
		}

	case ".attachments":
		cli.showAttachments()

	case ".detach":
		if len(parts) > 1 {
			if err := cli.archive.Persistence.Detach(parts[1], cli.archive.Identity); err != nil {
				fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
			} else {
				fmt.Printf("%s✓ Detached %s%s\n", SuccessColor, parts[1], ResetColor)
			}
		} else {
			fmt.Printf("%s✗ Usage: .detach <name>%s\n", ErrorColor, ResetColor)
		}

	case ".sync":
		if len(parts) > 1 {
			if err := cli.archive.Persistence.SyncAttachment(parts[1], cli.auth); err != nil {
				fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
			} else {
				fmt.Printf("%s✓ Synced %s%s\n", SuccessColor, parts[1], ResetColor)
			}
		} else {
			fmt.Printf("%s✗ Usage: .sync <name>%s\n", ErrorColor, ResetColor)
		}

	case ".copy":
		if len(parts) > 2 {
			if txn, err := cli.archive.CopyFrom(parts[1], parts[2]); err != nil {
				fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
			} else {
				fmt.Printf("%s✓ Copied %s from %s (%s)%s\n", SuccessColor, parts[2], parts[1], shortId(txn.Id), ResetColor)
			}
		} else {
			fmt.Printf("%s✗ Usage: .copy <attachment> <snapshot>%s\n", ErrorColor, ResetColor)
		}

	case ".query-save":
		if len(parts) > 2 {
			// Slice the raw input so the SQL keeps its spacing
			rest := strings.TrimSpace(input)
			rest = strings.TrimSpace(strings.TrimPrefix(rest, parts[0]))
			rest = strings.TrimSpace(strings.TrimPrefix(rest, parts[1]))
			cli.saveQuery(parts[1], rest)
		} else {
			fmt.Printf("%s✗ Usage: .query-save <name> <sql>%s\n", ErrorColor, ResetColor)
		}

	case ".query":
		if len(parts) > 1 {
			cli.runQuery(parts[1])
		} else {
			fmt.Printf("%s✗ Usage: .query <name>%s\n", ErrorColor, ResetColor)
		}

	case ".queries":
		cli.showQueries()

	case ".query-drop":
		if len(parts) > 1 {
			if _, err := cli.archive.Persistence.DeleteQuery(parts[1], cli.archive.Identity); err != nil {
				fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
			} else {
				fmt.Printf("%s✓ Dropped query: %s%s\n", SuccessColor, parts[1], ResetColor)
			}
		} else {
			fmt.Printf("%s✗ Usage: .query-drop <name>%s\n", ErrorColor, ResetColor)
		}

	case ".clear", ".cls":
		fmt.Print("\033[H\033[2J")

	case ".history":
		cli.printHistory()

	default:
		fmt.Printf("%s✗ Unknown command: %s (type .help for commands)%s\n", ErrorColor, parts[0], ResetColor)
	}

	return true
}

func (cli *CLI) printHelp() {
	fmt.Println()
	fmt.Printf("%s%sDatabase Commands:%s\n", BoldColor, PromptColor, ResetColor)
	fmt.Println("  .tables               List tables")
	fmt.Println("  .schema [name]        Show schema, optionally for one object")
	fmt.Println("  .migrate <version>    Move the schema version")
	fmt.Println("  .timeout <duration>   Set the busy timeout (e.g. 30s)")
	fmt.Println("  .read <file>          Execute SQL statements from a file")
	fmt.Println()
	fmt.Printf("%s%sArchive Commands:%s\n", BoldColor, PromptColor, ResetColor)
	fmt.Println("  .snapshot <name> [comment]   Save the database to the archive")
	fmt.Println("  .snapshots                   List archived snapshots")
	fmt.Println("  .restore <name> [txn]        Replace the database with a snapshot")
	fmt.Println("  .delete <name>               Delete a snapshot")
	fmt.Println("  .prune <keep>                Delete all but the newest snapshots")
	fmt.Println("  .verify <name>               Run an integrity check on a snapshot")
	fmt.Println("  .log                         Show archive history")
	fmt.Println("  .tag <name> [txn]            Name a restore point")
	fmt.Println("  .tags                        List restore points")
	fmt.Println("  .branch <name>               Create an archive branch")
	fmt.Println("  .branches                    List archive branches")
	fmt.Println("  .checkout <branch>           Switch archive branch")
	fmt.Println("  .merge <branch> [strategy]   Merge a branch (newest, manual, ff-only)")
	fmt.Println("  .conflicts                   List unresolved merge conflicts")
	fmt.Println("  .resolve <name> <side>       Resolve a conflict (head or source)")
	fmt.Println("  .abort-merge                 Abort the pending merge")
	fmt.Println("  .export <name> <dest>        Export an image (path, file://, s3://)")
	fmt.Println("  .import <name> <src>         Import an image (path, http(s)://, s3://)")
	fmt.Println("  .push [remote]               Push archive history")
	fmt.Println("  .pull [remote]               Pull archive history")
	fmt.Println("  .attach <name> <url>         Attach a peer archive read-only")
	fmt.Println("  .attachments                 List attached archives")
	fmt.Println("  .detach <name>               Remove an attached archive")
	fmt.Println("  .sync <name>                 Pull the latest history into an attachment")
	fmt.Println("  .copy <attachment> <snap>    Copy a snapshot from an attached archive")
	fmt.Println("  .query-save <name> <sql>     Store a named query in the archive")
	fmt.Println("  .query <name>                Run a stored query")
	fmt.Println("  .queries                     List stored queries")
	fmt.Println("  .query-drop <name>           Delete a stored query")
	fmt.Println()
	fmt.Printf("%s%sGeneral:%s\n", BoldColor, PromptColor, ResetColor)
	fmt.Println("  .help, .h        Show this help message")
	fmt.Println("  .version         Show version info")
	fmt.Println("  .history         Show command history")
	fmt.Println("  .clear           Clear the screen")
	fmt.Println("  .quit, .exit     Exit the CLI")
	fmt.Println()
	fmt.Println("Everything else is executed as SQL, terminated by a semicolon.")
	fmt.Println()
}

func (cli *CLI) showTables() {
	rs, err := cli.database.Query(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	defer rs.Close()

	result, err := db.Collect(rs)
	if err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	result.Display()
}

func (cli *CLI) showSchema(name string) {
	query := "SELECT sql FROM sqlite_master WHERE sql IS NOT NULL"
	args := []any{}
	if name != "" {
		query += " AND name = ?"
		args = append(args, name)
	}

	rs, err := cli.database.Query(query, args...)
	if err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	defer rs.Close()

	count := 0
	for cursor := range rs.All() {
		fmt.Printf("%s;\n", cursor.Text(0))
		count++
	}
	if err := rs.Err(); err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	if count == 0 {
		fmt.Println("No schema objects found")
	}
}

func (cli *CLI) migrate(arg string) {
	version, err := strconv.ParseInt(arg, 10, 32)
	if err != nil {
		fmt.Printf("%s✗ Invalid version: %s%s\n", ErrorColor, arg, ResetColor)
		return
	}
	if err := cli.database.SetVersion(int32(version)); err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	fmt.Printf("%s✓ Schema version is now %d%s\n", SuccessColor, version, ResetColor)
}

func (cli *CLI) setTimeout(arg string) {
	timeout, err := time.ParseDuration(arg)
	if err != nil {
		fmt.Printf("%s✗ Invalid duration: %s%s\n", ErrorColor, arg, ResetColor)
		return
	}
	if err := cli.database.SetBusyTimeout(timeout); err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	fmt.Printf("%s✓ Busy timeout is now %s%s\n", SuccessColor, timeout, ResetColor)
}

func (cli *CLI) saveSnapshot(name, comment string) {
	txn, err := cli.archive.Save(name, comment)
	if err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	fmt.Printf("%s✓ Saved snapshot %s (%s)%s\n", SuccessColor, name, shortId(txn.Id), ResetColor)
}

func (cli *CLI) showSnapshots() {
	start := time.Now()
	snapshots, err := cli.archive.List()
	if err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}

	rows := make([][]string, 0, len(snapshots))
	for _, snapshot := range snapshots {
		rows = append(rows, []string{
			snapshot.Name,
			humanize.IBytes(uint64(snapshot.Size)),
			fmt.Sprintf("%d", snapshot.SchemaVersion),
			snapshot.CreatedAt.Format(time.DateTime),
			snapshot.By.Name,
			snapshot.Comment,
		})
	}

	result := db.QueryResult{
		Columns:       []string{"name", "size", "version", "created", "by", "comment"},
		Rows:          rows,
		RecordsRead:   len(rows),
		ExecutionTime: time.Since(start),
	}
	result.Display()
}

func (cli *CLI) prune(arg string) {
	keep, err := strconv.Atoi(arg)
	if err != nil {
		fmt.Printf("%s✗ Invalid keep count: %s%s\n", ErrorColor, arg, ResetColor)
		return
	}
	txn, deleted, err := cli.archive.Prune(keep)
	if err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	if deleted == 0 {
		fmt.Printf("%s✓ Nothing to prune%s\n", SuccessColor, ResetColor)
		return
	}
	fmt.Printf("%s✓ Pruned %d snapshots (%s)%s\n", SuccessColor, deleted, shortId(txn.Id), ResetColor)
}

func (cli *CLI) restore(name, txnId string) {
	var err error
	if txnId == "" {
		err = cli.archive.Restore(name)
	} else {
		err = cli.archive.RestoreAt(name, ps.Transaction{Id: txnId})
	}
	if err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	fmt.Printf("%s✓ Restored snapshot: %s%s\n", SuccessColor, name, ResetColor)
}

func (cli *CLI) showLog() {
	start := time.Now()
	history := cli.archive.History()

	rows := make([][]string, 0, len(history))
	for _, txn := range history {
		rows = append(rows, []string{
			shortId(txn.Id),
			txn.When.Format(time.DateTime),
			txn.Author,
		})
	}

	result := db.QueryResult{
		Columns:       []string{"transaction", "when", "author"},
		Rows:          rows,
		RecordsRead:   len(rows),
		ExecutionTime: time.Since(start),
	}
	result.Display()
}

func (cli *CLI) tag(name, txnId string) {
	var asof *ps.Transaction
	if txnId != "" {
		asof = &ps.Transaction{Id: txnId}
	}
	if err := cli.archive.Tag(name, asof); err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	fmt.Printf("%s✓ Tagged: %s%s\n", SuccessColor, name, ResetColor)
}

func (cli *CLI) showTags() {
	tags, err := cli.archive.Persistence.ListTags()
	if err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	if len(tags) == 0 {
		fmt.Println("No restore points")
		return
	}
	for _, tag := range tags {
		fmt.Printf("  %s\n", tag)
	}
}

func (cli *CLI) showBranches() {
	branches, err := cli.archive.Persistence.ListBranches()
	if err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	current, _ := cli.archive.Persistence.CurrentBranch()
	for _, branch := range branches {
		marker := " "
		if branch == current {
			marker = "*"
		}
		fmt.Printf("  %s %s\n", marker, branch)
	}
}

func (cli *CLI) merge(branch, strategy string) {
	opts := ps.DefaultMergeOptions()
	switch strategy {
	case "", "newest":
	case "manual":
		opts.Strategy = ps.MergeManual
	case "ff-only":
		opts.Strategy = ps.MergeFastForwardOnly
	default:
		fmt.Printf("%s✗ Unknown strategy %q (use newest, manual or ff-only)%s\n", ErrorColor, strategy, ResetColor)
		return
	}

	result, err := cli.archive.Persistence.MergeWithOptions(branch, cli.archive.Identity, opts)
	if err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}

	switch {
	case result.Pending:
		fmt.Printf("%s✗ %d conflicts need resolution, see .conflicts and .resolve%s\n",
			ErrorColor, len(result.Unresolved), ResetColor)
	case result.FastForward:
		fmt.Printf("%s✓ Fast-forwarded to %s%s\n", SuccessColor, shortId(result.Transaction.Id), ResetColor)
	default:
		fmt.Printf("%s✓ Merged %s (%d snapshots, %d conflicts resolved) at %s%s\n",
			SuccessColor, branch, result.Merged, len(result.Conflicts), shortId(result.Transaction.Id), ResetColor)
	}
}

func (cli *CLI) showConflicts() {
	pending := cli.archive.Persistence.GetPendingMerge()
	if pending == nil {
		fmt.Println("No pending merge")
		return
	}

	fmt.Printf("Merging %s, %d unresolved:\n", pending.SourceBranch, len(pending.Unresolved))
	for _, conflict := range pending.Unresolved {
		fmt.Printf("  %s%s%s\n", BoldColor, conflict.Name, ResetColor)
		fmt.Printf("    head:   %s\n", describeConflictSide(conflict.Head))
		fmt.Printf("    source: %s\n", describeConflictSide(conflict.Source))
	}
}

func describeConflictSide(snapshot *core.Snapshot) string {
	if snapshot == nil {
		return "(deleted)"
	}
	desc := fmt.Sprintf("%s, %s", humanize.IBytes(uint64(snapshot.Size)), snapshot.CreatedAt.Format(time.DateTime))
	if snapshot.Comment != "" {
		desc += ", " + snapshot.Comment
	}
	return desc
}

func (cli *CLI) saveQuery(name, sqlText string) {
	query := core.SavedQuery{Name: name, SQL: sqlText}
	txn, err := cli.archive.Persistence.SaveQuery(query, cli.archive.Identity)
	if err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	fmt.Printf("%s✓ Saved query %s (%s)%s\n", SuccessColor, name, shortId(txn.Id), ResetColor)
}

func (cli *CLI) runQuery(name string) {
	query, err := cli.archive.Persistence.GetQuery(name)
	if err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	for _, stmt := range sql.Split(query.SQL) {
		cli.execute(stmt)
	}
}

func (cli *CLI) showQueries() {
	start := time.Now()
	queries, err := cli.archive.Persistence.ListQueries()
	if err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}

	rows := make([][]string, 0, len(queries))
	for _, query := range queries {
		rows = append(rows, []string{
			query.Name,
			truncate(query.SQL, 40),
			query.UpdatedAt.Format(time.DateTime),
			query.By.Name,
		})
	}

	result := db.QueryResult{
		Columns:       []string{"name", "sql", "updated", "by"},
		Rows:          rows,
		RecordsRead:   len(rows),
		ExecutionTime: time.Since(start),
	}
	result.Display()
}

func (cli *CLI) showAttachments() {
	attachments, err := cli.archive.Persistence.ListAttachments()
	if err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	if len(attachments) == 0 {
		fmt.Println("No attached archives")
		return
	}
	for _, attachment := range attachments {
		fmt.Printf("  %s%s%s  %s\n", BoldColor, attachment.Name, ResetColor, attachment.URL)
	}
}

func (cli *CLI) resolve(name, side string) {
	if err := cli.archive.Persistence.ResolveConflict(name, ps.MergeSide(side)); err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}

	pending := cli.archive.Persistence.GetPendingMerge()
	if pending != nil && len(pending.Unresolved) > 0 {
		fmt.Printf("%s✓ Resolved %s, %d conflicts remaining%s\n", SuccessColor, name, len(pending.Unresolved), ResetColor)
		return
	}

	txn, err := cli.archive.Persistence.CompleteMerge(cli.archive.Identity)
	if err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	fmt.Printf("%s✓ Resolved %s, merge completed at %s%s\n", SuccessColor, name, shortId(txn.Id), ResetColor)
}

// shortId abbreviates a transaction id for display
func shortId(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (cli *CLI) addToHistory(cmd string) {
	// Don't add duplicates of the last command
	if len(cli.history) > 0 && cli.history[len(cli.history)-1] == cmd {
		return
	}
	cli.history = append(cli.history, cmd)

	// Limit history size
	if len(cli.history) > 1000 {
		cli.history = cli.history[len(cli.history)-1000:]
	}
}

func (cli *CLI) printHistory() {
	if len(cli.history) == 0 {
		fmt.Println("No command history")
		return
	}

	start := 0
	if len(cli.history) > 20 {
		start = len(cli.history) - 20
	}

	for i := start; i < len(cli.history); i++ {
		fmt.Printf("  %3d  %s\n", i+1, cli.history[i])
	}
}

func getHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".stepdb_history")
}

func (cli *CLI) loadHistory() {
	if cli.historyFile == "" {
		return
	}

	file, err := os.Open(cli.historyFile)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		cli.history = append(cli.history, scanner.Text())
	}
}

func (cli *CLI) saveHistory() {
	if cli.historyFile == "" {
		return
	}

	file, err := os.Create(cli.historyFile)
	if err != nil {
		return
	}
	defer file.Close()

	// Save last 1000 entries
	start := 0
	if len(cli.history) > 1000 {
		start = len(cli.history) - 1000
	}

	for i := start; i < len(cli.history); i++ {
		_, _ = file.WriteString(cli.history[i] + "\n")
	}
}

// readFile reads and executes SQL statements from a file
func (cli *CLI) readFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	statements := sql.Split(string(data))

	successCount := 0
	errorCount := 0

	for i, stmt := range statements {
		if sql.IsQuery(stmt) {
			rs, err := cli.database.Query(stmt)
			if err == nil {
				var result db.QueryResult
				result, err = db.Collect(rs)
				rs.Close()
				if err == nil {
					fmt.Printf("%s[%d] ✓ %s (%d rows)%s\n", SuccessColor, i+1, truncate(stmt, 50), result.RecordsRead, ResetColor)
					successCount++
					continue
				}
			}
			fmt.Printf("%s[%d] ✗ %s%s\n", ErrorColor, i+1, truncate(stmt, 50), ResetColor)
			fmt.Printf("      Error: %v\n", err)
			errorCount++
			continue
		}

		if err := cli.database.Exec(stmt); err != nil {
			fmt.Printf("%s[%d] ✗ %s%s\n", ErrorColor, i+1, truncate(stmt, 50), ResetColor)
			fmt.Printf("      Error: %v\n", err)
			errorCount++
		} else {
			fmt.Printf("%s[%d] ✓ %s%s\n", SuccessColor, i+1, truncate(stmt, 50), ResetColor)
			successCount++
		}
	}

	fmt.Printf("\n%s✓ Read complete: %d succeeded, %d failed%s\n",
		SuccessColor, successCount, errorCount, ResetColor)

	return nil
}

// truncate shortens a string to max length with ellipsis
func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
