package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/portscan/internal/model"
)

// FileName is the database file name inside the database directory.
const FileName = "portscan.db"

// ErrNilResult is returned when SaveScanResult is given no result.
var ErrNilResult = errors.New("nil scan result")

// ScanDB stores finalized host results for history and comparison.
type ScanDB struct {
	db     *sql.DB
	dbPath string
}

// Options configures ScanDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a ScanDB in dbDir.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*ScanDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(dbDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// mode=rw refuses to create a missing file.
	dsn := dbPath + "?mode=rwc"
	if !opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rw"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	sdb := &ScanDB{db: db, dbPath: dbPath}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if _, err := db.ExecContext(context.Background(), "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := sdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return sdb, nil
}

// Path returns the database file path.
func (sdb *ScanDB) Path() string {
	return sdb.dbPath
}

// Close closes the database connection.
func (sdb *ScanDB) Close() error {
	return sdb.db.Close()
}

func (sdb *ScanDB) createTables() error {
	schema := `
	-- One row per host per run, with the full result as JSON
	CREATE TABLE IF NOT EXISTS scan_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		host TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		scan_type TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		cancelled INTEGER NOT NULL DEFAULT 0,
		host_down INTEGER NOT NULL DEFAULT 0,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		result_json TEXT NOT NULL,
		summary_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_results_host ON scan_results(host);
	CREATE INDEX IF NOT EXISTS idx_results_name ON scan_results(name);
	CREATE INDEX IF NOT EXISTS idx_results_run ON scan_results(run_id);
	CREATE INDEX IF NOT EXISTS idx_results_finished ON scan_results(finished_at);

	-- Flattened port states for per-port queries
	CREATE TABLE IF NOT EXISTS port_states (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		result_id INTEGER NOT NULL REFERENCES scan_results(id) ON DELETE CASCADE,
		host TEXT NOT NULL,
		port INTEGER NOT NULL,
		transport TEXT NOT NULL,
		status TEXT NOT NULL,
		error_kind TEXT NOT NULL DEFAULT '',
		protocol TEXT NOT NULL DEFAULT '',
		confidence INTEGER NOT NULL DEFAULT 0,
		rtt_us INTEGER NOT NULL DEFAULT 0,
		digest TEXT NOT NULL DEFAULT '',
		finished_at INTEGER NOT NULL,
		UNIQUE(result_id, port)
	);

	CREATE INDEX IF NOT EXISTS idx_ports_host_port ON port_states(host, port);
	CREATE INDEX IF NOT EXISTS idx_ports_status ON port_states(status);
	`

	_, err := sdb.db.ExecContext(context.Background(), schema)
	return err
}

// SaveScanResult stores a finalized host result and its port rows in one
// transaction and returns the new row id.
func (sdb *ScanDB) SaveScanResult(ctx context.Context, result *model.ScanResult) (int64, error) {
	if result == nil {
		return 0, ErrNilResult
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize result: %w", err)
	}
	summaryJSON, err := json.Marshal(result.Summary())
	if err != nil {
		return 0, fmt.Errorf("failed to serialize summary: %w", err)
	}

	tx, err := sdb.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	host := result.Host.String()
	finished := result.FinishedAt.UnixNano()

	res, err := tx.ExecContext(ctx, `
	INSERT INTO scan_results (run_id, host, name, scan_type, started_at, finished_at, cancelled, host_down, result_json, summary_json)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		result.RunID,
		host,
		result.Name,
		result.ScanType.String(),
		result.StartedAt.UnixNano(),
		finished,
		result.Cancelled,
		result.HostDown,
		string(resultJSON),
		string(summaryJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save scan result: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read result id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO port_states (result_id, host, port, transport, status, error_kind, protocol, confidence, rtt_us, digest, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare port insert: %w", err)
	}
	defer stmt.Close()

	transport := result.ScanType.Transport().String()
	for _, pr := range result.Ports {
		protocol := ""
		if !pr.Detection.IsUnknown() {
			protocol = pr.Detection.Protocol
		}
		if _, err := stmt.ExecContext(ctx,
			id,
			host,
			int(pr.Port),
			transport,
			pr.Outcome.Status.String(),
			pr.Outcome.ErrorKind.String(),
			protocol,
			pr.Detection.Confidence,
			pr.Outcome.RTT.Microseconds(),
			pr.Outcome.Digest,
			finished,
		); err != nil {
			return 0, fmt.Errorf("failed to save port %d: %w", pr.Port, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit scan result: %w", err)
	}
	return id, nil
}

// hostFilter matches a host by address or by the name it was resolved from.
const hostFilter = `(host = ? OR name = ?)`

// GetLatestScanResult retrieves the most recent result for host, an address
// or a resolved name. It returns nil if the host was never scanned.
func (sdb *ScanDB) GetLatestScanResult(ctx context.Context, host string) (*model.ScanResult, error) {
	query := `
	SELECT result_json FROM scan_results
	WHERE ` + hostFilter + `
	ORDER BY finished_at DESC, id DESC
	LIMIT 1
	`

	var resultJSON string
	err := sdb.db.QueryRowContext(ctx, query, host, host).Scan(&resultJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan result: %w", err)
	}
	return decodeResult(resultJSON)
}

// GetScanHistory retrieves every result for host, newest first.
func (sdb *ScanDB) GetScanHistory(ctx context.Context, host string) ([]*model.ScanResult, error) {
	query := `
	SELECT result_json FROM scan_results
	WHERE ` + hostFilter + `
	ORDER BY finished_at DESC, id DESC
	`

	rows, err := sdb.db.QueryContext(ctx, query, host, host)
	if err != nil {
		return nil, fmt.Errorf("failed to get scan history: %w", err)
	}
	defer rows.Close()

	var results []*model.ScanResult
	for rows.Next() {
		var resultJSON string
		if err := rows.Scan(&resultJSON); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		result, err := decodeResult(resultJSON)
		if err != nil {
			continue // Skip malformed rows
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// ScanMetadata describes a stored result without loading its ports.
type ScanMetadata struct {
	ID         int64
	RunID      string
	Host       string
	Name       string
	ScanType   string
	FinishedAt time.Time
	Cancelled  bool
	HostDown   bool

	// SavedAt is when the row was written.
	SavedAt time.Time

	Summary model.Summary
}

// GetScanHistoryWithMetadata retrieves result metadata for host, newest first.
func (sdb *ScanDB) GetScanHistoryWithMetadata(ctx context.Context, host string) ([]ScanMetadata, error) {
	query := `
	SELECT id, run_id, host, name, scan_type, finished_at, cancelled, host_down, timestamp, summary_json
	FROM scan_results
	WHERE ` + hostFilter + `
	ORDER BY finished_at DESC, id DESC
	`

	rows, err := sdb.db.QueryContext(ctx, query, host, host)
	if err != nil {
		return nil, fmt.Errorf("failed to get scan history: %w", err)
	}
	defer rows.Close()

	var results []ScanMetadata
	for rows.Next() {
		var (
			meta        ScanMetadata
			finished    int64
			timestamp   string
			summaryJSON sql.NullString
		)
		if err := rows.Scan(&meta.ID, &meta.RunID, &meta.Host, &meta.Name, &meta.ScanType,
			&finished, &meta.Cancelled, &meta.HostDown, &timestamp, &summaryJSON); err != nil {
			return nil, fmt.Errorf("failed to scan metadata: %w", err)
		}

		meta.FinishedAt = time.Unix(0, finished).UTC()
		meta.SavedAt = parseTimestamp(timestamp)
		if summaryJSON.Valid && summaryJSON.String != "" {
			if err := json.Unmarshal([]byte(summaryJSON.String), &meta.Summary); err != nil {
				meta.Summary = model.Summary{Host: meta.Host}
			}
		}
		results = append(results, meta)
	}
	return results, rows.Err()
}

// GetScanResultByID retrieves a result by its row id, or nil if absent.
func (sdb *ScanDB) GetScanResultByID(ctx context.Context, id int64) (*model.ScanResult, error) {
	var resultJSON string
	err := sdb.db.QueryRowContext(ctx, `SELECT result_json FROM scan_results WHERE id = ?`, id).Scan(&resultJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan result: %w", err)
	}
	return decodeResult(resultJSON)
}

// ListScannedHosts returns every stored host address, sorted.
func (sdb *ScanDB) ListScannedHosts(ctx context.Context) ([]string, error) {
	rows, err := sdb.db.QueryContext(ctx, `SELECT DISTINCT host FROM scan_results ORDER BY host`)
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	defer rows.Close()

	var hosts []string
	for rows.Next() {
		var host string
		if err := rows.Scan(&host); err != nil {
			return nil, fmt.Errorf("failed to scan host: %w", err)
		}
		hosts = append(hosts, host)
	}
	return hosts, rows.Err()
}

// PortState is one stored observation of a port.
type PortState struct {
	ResultID   int64
	Port       uint16
	Transport  string
	Status     model.Status
	ErrorKind  string
	Protocol   string
	Confidence int
	RTT        time.Duration
	Digest     string
	FinishedAt time.Time
}

// GetPortHistory returns the observations of one port on host, newest first.
func (sdb *ScanDB) GetPortHistory(ctx context.Context, host string, port uint16) ([]PortState, error) {
	query := `
	SELECT p.result_id, p.port, p.transport, p.status, p.error_kind, p.protocol, p.confidence, p.rtt_us, p.digest, p.finished_at
	FROM port_states p
	JOIN scan_results r ON r.id = p.result_id
	WHERE (r.host = ? OR r.name = ?) AND p.port = ?
	ORDER BY p.finished_at DESC, p.id DESC
	`

	rows, err := sdb.db.QueryContext(ctx, query, host, host, int(port))
	if err != nil {
		return nil, fmt.Errorf("failed to get port history: %w", err)
	}
	defer rows.Close()

	var states []PortState
	for rows.Next() {
		var (
			ps       PortState
			p        int
			status   string
			rttUS    int64
			finished int64
		)
		if err := rows.Scan(&ps.ResultID, &p, &ps.Transport, &status, &ps.ErrorKind,
			&ps.Protocol, &ps.Confidence, &rttUS, &ps.Digest, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan port state: %w", err)
		}
		st, err := model.ParseStatus(status)
		if err != nil {
			return nil, fmt.Errorf("port %d: %w", p, err)
		}
		ps.Port = uint16(p) //nolint:gosec // stored from a uint16
		ps.Status = st
		ps.RTT = time.Duration(rttUS) * time.Microsecond
		ps.FinishedAt = time.Unix(0, finished).UTC()
		states = append(states, ps)
	}
	return states, rows.Err()
}

func decodeResult(resultJSON string) (*model.ScanResult, error) {
	var result model.ScanResult
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return nil, fmt.Errorf("failed to parse result: %w", err)
	}
	return &result, nil
}

// timestampFormats contains the timestamp formats that SQLite may return.
var timestampFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999",
}

// parseTimestamp tries each SQLite timestamp format and returns the zero
// time if none matches.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
