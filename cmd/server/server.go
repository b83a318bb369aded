package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/nickyhof/StepDB"
	"github.com/nickyhof/StepDB/core"
	"github.com/nickyhof/StepDB/op"
	"github.com/nickyhof/StepDB/ps"
)

// Server exposes a StepDB database and its snapshot archive over HTTP.
type Server struct {
	instance   *StepDB.Instance
	identity   core.Identity
	authConfig *AuthConfig
	httpServer *http.Server
	listener   net.Listener
	tlsEnabled bool
	mu         sync.Mutex
}

// NewServer creates a server whose commits carry the given identity.
func NewServer(instance *StepDB.Instance, identity core.Identity) *Server {
	return &Server{
		instance: instance,
		identity: identity,
	}
}

// NewServerWithAuth creates a server that derives the commit identity
// of each request from its bearer token.
func NewServerWithAuth(instance *StepDB.Instance, authConfig *AuthConfig) *Server {
	return &Server{
		instance:   instance,
		authConfig: authConfig,
	}
}

func (s *Server) routes() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/snapshots", s.requireAuth(s.handleListSnapshots)).Methods("GET")
	router.HandleFunc("/snapshots/{name}", s.requireAuth(s.handleGetSnapshot)).Methods("GET")
	router.HandleFunc("/snapshots/{name}", s.requireAuth(s.handlePutSnapshot)).Methods("PUT")
	router.HandleFunc("/snapshots/{name}", s.requireAuth(s.handleDeleteSnapshot)).Methods("DELETE")
	router.HandleFunc("/snapshots/{name}/meta", s.requireAuth(s.handleSnapshotMeta)).Methods("GET")
	router.HandleFunc("/save", s.requireAuth(s.handleSave)).Methods("POST")
	router.HandleFunc("/restore/{name}", s.requireAuth(s.handleRestore)).Methods("POST")
	router.HandleFunc("/history", s.requireAuth(s.handleHistory)).Methods("GET")
	return router
}

// Start begins serving requests on the specified address.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{Handler: s.routes()}

	log.Printf("Snapshot server listening on %s", listener.Addr())

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Serve error: %v", err)
		}
	}()
	return nil
}

// StartTLS begins serving requests over TLS with the given certificate.
func (s *Server) StartTLS(addr, certFile, keyFile string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = listener
	s.tlsEnabled = true
	s.httpServer = &http.Server{Handler: s.routes()}

	log.Printf("Snapshot server listening on %s (TLS)", listener.Addr())

	go func() {
		if err := s.httpServer.ServeTLS(listener, certFile, keyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Serve error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// TLSEnabled returns true if the server terminates TLS.
func (s *Server) TLSEnabled() bool {
	return s.tlsEnabled
}

// archive returns the archive operations bound to the request identity.
func (s *Server) archive(r *http.Request) *op.ArchiveOp {
	return s.instance.Archive(s.requestIdentity(r))
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	snapshots, err := s.archive(r).List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if snapshots == nil {
		snapshots = []core.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	data, _, err := s.instance.Persistence.GetSnapshot(name)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		log.Printf("Failed to send snapshot %s: %v", name, err)
	}
}

func (s *Server) handleSnapshotMeta(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	_, info, err := s.instance.Persistence.GetSnapshot(name)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handlePutSnapshot(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("failed to read image: %w", err))
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("empty snapshot image"))
		return
	}

	txn, err := s.archive(r).SaveImage(name, data, r.URL.Query().Get("comment"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, SaveResponse{
		Name:        name,
		Size:        int64(len(data)),
		Transaction: txn.Id,
	})
}

func (s *Server) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	txn, err := s.archive(r).Delete(name)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, TransactionRecord{Id: txn.Id, When: txn.When, Author: txn.Author})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var req SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	// The live database holds a single connection
	s.mu.Lock()
	txn, err := s.archive(r).Save(req.Name, req.Comment)
	s.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, SaveResponse{Name: req.Name, Transaction: txn.Id})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	s.mu.Lock()
	err := s.archive(r).Restore(name)
	s.mu.Unlock()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, RestoreResponse{Name: name, Restored: true})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history := s.archive(r).History()

	records := make([]TransactionRecord, 0, len(history))
	for _, txn := range history {
		records = append(records, TransactionRecord{Id: txn.Id, When: txn.When, Author: txn.Author})
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// statusFor maps archive errors to HTTP status codes.
func statusFor(err error) int {
	if errors.Is(err, ps.ErrSnapshotNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
