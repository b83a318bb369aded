//go:build perf

package tests

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nickyhof/StepDB/db"
	"github.com/nickyhof/StepDB/op"
	"github.com/nickyhof/StepDB/ps"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// PerfConfig holds configurable test parameters
type PerfConfig struct {
	// Thresholds (can be overridden via environment variables)
	P99ThresholdMs int           // STEPDB_PERF_P99_MS
	SnapshotP99Ms  int           // STEPDB_PERF_SNAPSHOT_P99_MS
	MaxErrorRate   float64       // STEPDB_PERF_MAX_ERROR_RATE
	TestDuration   time.Duration // STEPDB_PERF_DURATION_SEC
}

func loadPerfConfig() PerfConfig {
	cfg := PerfConfig{
		P99ThresholdMs: 50,
		SnapshotP99Ms:  500,
		MaxErrorRate:   0.001, // 0.1%
		TestDuration:   10 * time.Second,
	}

	if v := os.Getenv("STEPDB_PERF_P99_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.P99ThresholdMs = n
		}
	}
	if v := os.Getenv("STEPDB_PERF_SNAPSHOT_P99_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SnapshotP99Ms = n
		}
	}
	if v := os.Getenv("STEPDB_PERF_MAX_ERROR_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MaxErrorRate = f
		}
	}
	if v := os.Getenv("STEPDB_PERF_DURATION_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TestDuration = time.Duration(n) * time.Second
		}
	}

	return cfg
}

// =============================================================================
// METRICS
// =============================================================================

// PerfMetrics collects performance measurements
type PerfMetrics struct {
	mu            sync.Mutex
	Latencies     []time.Duration
	Errors        int64
	TotalRequests int64
	StartTime     time.Time
	EndTime       time.Time
}

func NewPerfMetrics() *PerfMetrics {
	return &PerfMetrics{
		Latencies: make([]time.Duration, 0, 10000),
		StartTime: time.Now(),
	}
}

func (m *PerfMetrics) Record(latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalRequests++
	if err != nil {
		m.Errors++
	} else {
		m.Latencies = append(m.Latencies, latency)
	}
}

func (m *PerfMetrics) Finalize() {
	m.EndTime = time.Now()
}

func (m *PerfMetrics) P50() time.Duration {
	return m.percentile(50)
}

func (m *PerfMetrics) P95() time.Duration {
	return m.percentile(95)
}

func (m *PerfMetrics) P99() time.Duration {
	return m.percentile(99)
}

func (m *PerfMetrics) percentile(p int) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.Latencies) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(m.Latencies))
	copy(sorted, m.Latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := (p * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func (m *PerfMetrics) Throughput() float64 {
	duration := m.EndTime.Sub(m.StartTime).Seconds()
	if duration == 0 {
		return 0
	}
	return float64(m.TotalRequests) / duration
}

func (m *PerfMetrics) ErrorRate() float64 {
	if m.TotalRequests == 0 {
		return 0
	}
	return float64(m.Errors) / float64(m.TotalRequests)
}

func (m *PerfMetrics) Print(t *testing.T, workerCount int, duration time.Duration) {
	t.Logf("Performance Results:")
	t.Logf("├── Workers:     %d", workerCount)
	t.Logf("├── Duration:    %s", duration)
	t.Logf("├── Operations:  %d", m.TotalRequests)
	t.Logf("├── Throughput:  %.1f op/s", m.Throughput())
	t.Logf("├── Latency:")
	t.Logf("│   ├── p50:     %s", m.P50())
	t.Logf("│   ├── p95:     %s", m.P95())
	t.Logf("│   └── p99:     %s", m.P99())
	t.Logf("└── Errors:      %d (%.2f%%)", m.Errors, m.ErrorRate()*100)
}

// =============================================================================
// SETUP
// =============================================================================

// setupPerfDatabase seeds a WAL database file and returns its path.
// Workers open their own connections against the same file.
func setupPerfDatabase(t *testing.T, rows int) string {
	path := filepath.Join(t.TempDir(), "perf.db")
	database, err := db.Open(path, nil)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	if err := database.Exec("CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, age INTEGER)"); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}

	insert, err := database.Prepare("INSERT INTO users (id, name, age) VALUES (?, ?, ?)")
	if err != nil {
		t.Fatalf("Failed to prepare insert: %v", err)
	}
	txn, err := database.Begin(db.TxDeferred)
	if err != nil {
		t.Fatalf("Failed to begin: %v", err)
	}
	for i := 1; i <= rows; i++ {
		if err := insert.ExecArgs(i, "User"+strconv.Itoa(i), 20+i%50); err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}
	insert.Finalize()

	if err := database.Close(); err != nil {
		t.Fatalf("Failed to close database: %v", err)
	}
	return path
}

func openReader(path string) (*db.Database, error) {
	return db.Open(path, &db.Options{ReadOnly: true, BusyTimeout: 5 * time.Second})
}

func openWriter(path string) (*db.Database, error) {
	return db.Open(path, &db.Options{BusyTimeout: 10 * time.Second})
}

func readUsers(database *db.Database) error {
	rs, err := database.Query("SELECT id, name, age FROM users WHERE age > ? LIMIT 10", 30)
	if err != nil {
		return err
	}
	for cursor := range rs.All() {
		_ = cursor.Int(0)
		_ = cursor.Text(1)
	}
	if err := rs.Err(); err != nil {
		rs.Close()
		return err
	}
	return rs.Close()
}

// =============================================================================
// PERFORMANCE TESTS
// =============================================================================

// TestPerfConcurrentReads measures SELECT latency with many reader connections
func TestPerfConcurrentReads(t *testing.T) {
	cfg := loadPerfConfig()
	path := setupPerfDatabase(t, 1000)

	const numWorkers = 50
	metrics := NewPerfMetrics()
	var wg sync.WaitGroup

	// Run for configured duration
	done := make(chan struct{})
	go func() {
		time.Sleep(cfg.TestDuration)
		close(done)
	}()

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			database, err := openReader(path)
			if err != nil {
				metrics.Record(0, err)
				return
			}
			defer database.Close()

			for {
				select {
				case <-done:
					return
				default:
				}

				start := time.Now()
				err := readUsers(database)
				metrics.Record(time.Since(start), err)
			}
		}()
	}

	wg.Wait()
	metrics.Finalize()
	metrics.Print(t, numWorkers, cfg.TestDuration)

	// Validate thresholds
	p99Ms := float64(metrics.P99()) / float64(time.Millisecond)
	if p99Ms > float64(cfg.P99ThresholdMs) {
		t.Errorf("p99 latency %.1fms exceeds threshold %dms", p99Ms, cfg.P99ThresholdMs)
	}
	if metrics.ErrorRate() > cfg.MaxErrorRate {
		t.Errorf("error rate %.2f%% exceeds threshold %.2f%%", metrics.ErrorRate()*100, cfg.MaxErrorRate*100)
	}
}

// TestPerfConcurrentWrites measures INSERT latency with contending writer connections
func TestPerfConcurrentWrites(t *testing.T) {
	cfg := loadPerfConfig()
	path := setupPerfDatabase(t, 100)

	const numWorkers = 8
	metrics := NewPerfMetrics()
	var wg sync.WaitGroup
	var counter int64

	done := make(chan struct{})
	go func() {
		time.Sleep(cfg.TestDuration)
		close(done)
	}()

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			database, err := openWriter(path)
			if err != nil {
				metrics.Record(0, err)
				return
			}
			defer database.Close()

			insert, err := database.Prepare("INSERT INTO users (id, name, age) VALUES (?, ?, ?)")
			if err != nil {
				metrics.Record(0, err)
				return
			}
			defer insert.Finalize()

			for {
				select {
				case <-done:
					return
				default:
				}

				id := atomic.AddInt64(&counter, 1)
				start := time.Now()
				err := insert.ExecArgs(1000+id, fmt.Sprintf("NewUser%d", id), 25)
				metrics.Record(time.Since(start), err)
			}
		}()
	}

	wg.Wait()
	metrics.Finalize()
	metrics.Print(t, numWorkers, cfg.TestDuration)

	// Write threshold is more lenient
	writeThreshold := cfg.P99ThresholdMs * 2
	p99Ms := float64(metrics.P99()) / float64(time.Millisecond)
	if p99Ms > float64(writeThreshold) {
		t.Errorf("p99 latency %.1fms exceeds threshold %dms", p99Ms, writeThreshold)
	}
	if metrics.ErrorRate() > cfg.MaxErrorRate {
		t.Errorf("error rate %.2f%% exceeds threshold %.2f%%", metrics.ErrorRate()*100, cfg.MaxErrorRate*100)
	}
}

// TestPerfMixedWorkload runs a realistic mixed read/write workload
func TestPerfMixedWorkload(t *testing.T) {
	cfg := loadPerfConfig()
	path := setupPerfDatabase(t, 1000)

	const numWorkers = 20
	const readPct = 70
	metrics := NewPerfMetrics()
	var wg sync.WaitGroup
	var counter int64

	done := make(chan struct{})
	go func() {
		time.Sleep(cfg.TestDuration)
		close(done)
	}()

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			reads := workerID*100/numWorkers < readPct
			var database *db.Database
			var err error
			if reads {
				database, err = openReader(path)
			} else {
				database, err = openWriter(path)
			}
			if err != nil {
				metrics.Record(0, err)
				return
			}
			defer database.Close()

			for {
				select {
				case <-done:
					return
				default:
				}

				start := time.Now()
				if reads {
					err = readUsers(database)
				} else {
					id := atomic.AddInt64(&counter, 1)
					err = database.Exec("INSERT INTO users (id, name, age) VALUES (?, ?, ?)",
						10000+id, fmt.Sprintf("User%d", id), 30)
				}
				metrics.Record(time.Since(start), err)
			}
		}(i)
	}

	wg.Wait()
	metrics.Finalize()
	metrics.Print(t, numWorkers, cfg.TestDuration)

	// Mixed threshold: between read and write
	mixedThreshold := int(float64(cfg.P99ThresholdMs) * 1.5)
	p99Ms := float64(metrics.P99()) / float64(time.Millisecond)
	if p99Ms > float64(mixedThreshold) {
		t.Errorf("p99 latency %.1fms exceeds threshold %dms", p99Ms, mixedThreshold)
	}
	if metrics.ErrorRate() > cfg.MaxErrorRate {
		t.Errorf("error rate %.2f%% exceeds threshold %.2f%%", metrics.ErrorRate()*100, cfg.MaxErrorRate*100)
	}
}

// TestPerfConnectionChurn tests rapid open/query/close cycles
func TestPerfConnectionChurn(t *testing.T) {
	cfg := loadPerfConfig()
	path := setupPerfDatabase(t, 100)

	const numWorkers = 10
	metrics := NewPerfMetrics()
	var wg sync.WaitGroup

	// Track goroutines before and after
	goroutinesBefore := runtime.NumGoroutine()

	done := make(chan struct{})
	go func() {
		time.Sleep(cfg.TestDuration)
		close(done)
	}()

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for {
				select {
				case <-done:
					return
				default:
				}

				// Each iteration opens a fresh connection
				start := time.Now()
				database, err := openReader(path)
				if err != nil {
					metrics.Record(0, err)
					continue
				}
				err = readUsers(database)
				database.Close()
				metrics.Record(time.Since(start), err)
			}
		}()
	}

	wg.Wait()
	metrics.Finalize()

	// Give goroutines time to clean up
	time.Sleep(100 * time.Millisecond)

	goroutinesAfter := runtime.NumGoroutine()

	t.Logf("Connection Churn Results:")
	t.Logf("├── Connections:     %d", metrics.TotalRequests)
	t.Logf("├── Throughput:      %.1f conn/s", metrics.Throughput())
	t.Logf("├── Goroutines:")
	t.Logf("│   ├── Before:      %d", goroutinesBefore)
	t.Logf("│   └── After:       %d", goroutinesAfter)
	t.Logf("└── Errors:          %d", metrics.Errors)

	// Check for goroutine leaks (allow some buffer for test infrastructure)
	if goroutinesAfter > goroutinesBefore+10 {
		t.Errorf("possible goroutine leak: before=%d, after=%d", goroutinesBefore, goroutinesAfter)
	}
}

// TestPerfSnapshotLatency measures archive save latency while the database grows
func TestPerfSnapshotLatency(t *testing.T) {
	cfg := loadPerfConfig()
	path := setupPerfDatabase(t, 1000)

	database, err := openWriter(path)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	persistence, err := ps.NewMemoryPersistence()
	if err != nil {
		t.Fatalf("Failed to create persistence: %v", err)
	}
	archive := op.NewArchive(database, &persistence, testIdentity)

	metrics := NewPerfMetrics()
	done := make(chan struct{})
	go func() {
		time.Sleep(cfg.TestDuration)
		close(done)
	}()

	id := 10000
loop:
	for {
		select {
		case <-done:
			break loop
		default:
		}

		id++
		if err := database.Exec("INSERT INTO users (id, name, age) VALUES (?, ?, ?)", id, fmt.Sprintf("User%d", id), 30); err != nil {
			t.Fatalf("Insert error: %v", err)
		}

		start := time.Now()
		_, err := archive.Save("perf", fmt.Sprintf("row %d", id))
		metrics.Record(time.Since(start), err)
	}

	metrics.Finalize()
	metrics.Print(t, 1, cfg.TestDuration)

	p99Ms := float64(metrics.P99()) / float64(time.Millisecond)
	if p99Ms > float64(cfg.SnapshotP99Ms) {
		t.Errorf("p99 save latency %.1fms exceeds threshold %dms", p99Ms, cfg.SnapshotP99Ms)
	}
	if metrics.ErrorRate() > cfg.MaxErrorRate {
		t.Errorf("error rate %.2f%% exceeds threshold %.2f%%", metrics.ErrorRate()*100, cfg.MaxErrorRate*100)
	}
}

// TestPerfSustainedLoad runs a long-duration soak test with periodic snapshots
func TestPerfSustainedLoad(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping soak test in short mode")
	}

	cfg := loadPerfConfig()
	// Override for soak test: 10 minutes
	soakDuration := 10 * time.Minute
	if v := os.Getenv("STEPDB_PERF_SOAK_DURATION_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			soakDuration = time.Duration(n) * time.Minute
		}
	}

	path := setupPerfDatabase(t, 1000)

	const numWorkers = 12
	metrics := NewPerfMetrics()
	var wg sync.WaitGroup
	var counter int64

	// Sample memory periodically
	var memSamples []uint64
	memTicker := time.NewTicker(30 * time.Second)
	defer memTicker.Stop()

	go func() {
		for range memTicker.C {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			memSamples = append(memSamples, m.HeapAlloc)
		}
	}()

	done := make(chan struct{})
	go func() {
		time.Sleep(soakDuration)
		close(done)
	}()

	// Periodic saver exercises the archive alongside the query load
	wg.Add(1)
	go func() {
		defer wg.Done()
		database, err := openWriter(path)
		if err != nil {
			metrics.Record(0, err)
			return
		}
		defer database.Close()

		persistence, err := ps.NewMemoryPersistence()
		if err != nil {
			metrics.Record(0, err)
			return
		}
		archive := op.NewArchive(database, &persistence, testIdentity)

		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				start := time.Now()
				_, err := archive.Save("soak", time.Now().Format(time.RFC3339))
				metrics.Record(time.Since(start), err)
			}
		}
	}()

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			reads := workerID%2 == 0
			var database *db.Database
			var err error
			if reads {
				database, err = openReader(path)
			} else {
				database, err = openWriter(path)
			}
			if err != nil {
				metrics.Record(0, err)
				return
			}
			defer database.Close()

			for {
				select {
				case <-done:
					return
				default:
				}

				start := time.Now()
				if reads {
					err = readUsers(database)
				} else {
					id := atomic.AddInt64(&counter, 1)
					err = database.Exec("INSERT INTO users (id, name, age) VALUES (?, ?, ?)",
						100000+id, fmt.Sprintf("User%d", id), 30)
				}
				metrics.Record(time.Since(start), err)
			}
		}(i)
	}

	wg.Wait()
	metrics.Finalize()

	t.Logf("Soak Test Results:")
	t.Logf("├── Duration:       %s", soakDuration)
	t.Logf("├── Operations:     %d", metrics.TotalRequests)
	t.Logf("├── Throughput:     %.1f op/s", metrics.Throughput())
	t.Logf("├── Latency p99:    %s", metrics.P99())
	t.Logf("└── Errors:         %d (%.4f%%)", metrics.Errors, metrics.ErrorRate()*100)

	if len(memSamples) >= 2 {
		first := memSamples[0]
		last := memSamples[len(memSamples)-1]
		growth := float64(last-first) / float64(first) * 100

		t.Logf("Memory:")
		t.Logf("├── Start:          %.1f MB", float64(first)/1024/1024)
		t.Logf("├── End:            %.1f MB", float64(last)/1024/1024)
		t.Logf("└── Growth:         %.1f%%", growth)

		// Warn if memory grew more than 50%
		if growth > 50 {
			t.Errorf("memory grew %.1f%% during soak test", growth)
		}
	}

	if metrics.ErrorRate() > cfg.MaxErrorRate {
		t.Errorf("error rate %.4f%% exceeds threshold %.4f%%", metrics.ErrorRate()*100, cfg.MaxErrorRate*100)
	}
}
