package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nickyhof/StepDB"
	"github.com/nickyhof/StepDB/core"
	"github.com/nickyhof/StepDB/db"
	"github.com/nickyhof/StepDB/ps"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	port := flag.Int("port", 8080, "HTTP port to listen on")
	dbPath := flag.String("db", "", "Database file (empty for in-memory)")
	archiveDir := flag.String("archive", "", "Snapshot archive directory (empty for in-memory)")
	gitUrl := flag.String("gitUrl", "", "Git URL to clone the archive from")
	timeout := flag.Duration("timeout", 5*time.Second, "Busy timeout for the database")
	userName := flag.String("name", "StepDB Server", "Default identity name for commits")
	userEmail := flag.String("email", "server@stepdb.local", "Default identity email for commits")
	jwtSecret := flag.String("jwtSecret", "", "Require bearer tokens signed with this HS256 secret")
	jwtIssuer := flag.String("jwtIssuer", "", "Expected issuer claim in bearer tokens")
	certFile := flag.String("cert", "", "TLS certificate file")
	keyFile := flag.String("key", "", "TLS key file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("StepDB Snapshot Server v%s\n", Version)
		return
	}

	options := &db.Options{BusyTimeout: *timeout}
	var database *db.Database
	var err error
	if *dbPath == "" {
		log.Println("Using in-memory database")
		database, err = db.OpenMemory(options)
	} else {
		log.Printf("Using database: %s", *dbPath)
		database, err = db.Open(*dbPath, options)
	}
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	var persistence ps.Persistence
	if *archiveDir == "" {
		log.Println("Using in-memory archive")
		persistence, err = ps.NewMemoryPersistence()
	} else {
		log.Printf("Using archive: %s", *archiveDir)
		var gitUrlPtr *string
		if *gitUrl != "" {
			gitUrlPtr = gitUrl
		}
		persistence, err = ps.NewFilePersistence(*archiveDir, gitUrlPtr)
	}
	if err != nil {
		log.Fatalf("Failed to open archive: %v", err)
	}

	instance := StepDB.Open(database, &persistence)

	var server *Server
	if *jwtSecret != "" {
		server = NewServerWithAuth(instance, &AuthConfig{
			Enabled:   true,
			JWTSecret: *jwtSecret,
			Issuer:    *jwtIssuer,
		})
	} else {
		server = NewServer(instance, core.Identity{
			Name:  *userName,
			Email: *userEmail,
		})
	}

	addr := fmt.Sprintf(":%d", *port)
	if *certFile != "" || *keyFile != "" {
		err = server.StartTLS(addr, *certFile, *keyFile)
	} else {
		err = server.Start(addr)
	}
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	// Print banner
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Printf("║   StepDB Snapshot Server v%-11s ║\n", Version)
	fmt.Println("║   SQLite with Git-backed Snapshots    ║")
	fmt.Println("╚═══════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Listening on port %d\n", *port)
	fmt.Println("GET /snapshots, PUT /snapshots/{name}, POST /save, POST /restore/{name}")
	fmt.Println()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	server.Stop()
	log.Println("Server stopped")
}
