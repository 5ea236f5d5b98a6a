package collcomm

import (
	"database/sql"
	"os"
	"time"

	// Registers the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/pkg/errors"
	"github.com/rs/xid"
	"github.com/unixpickle/ringsync/fault"
	"github.com/unixpickle/ringsync/simulator"
)

// SQLiteRecorder stores bandwidth and per-epoch traffic in
// a SQLite database. Every recorder gets its own run ID, so
// several runs can share one file.
type SQLiteRecorder struct {
	db    *sql.DB
	runID string
}

// OpenSQLiteRecorder opens (or creates) the database at
// path and starts a new run.
func OpenSQLiteRecorder(path string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fault.IOFailure("open", path, err)
	}
	r := &SQLiteRecorder{db: db, runID: xid.New().String()}
	if err := r.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	host, _ := os.Hostname()
	_, err = db.Exec("INSERT INTO runs (id, host, started_at) VALUES (?, ?, ?)",
		r.runID, host, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "insert run")
	}
	return r, nil
}

// RunID returns the ID rows of this run are stored under.
func (r *SQLiteRecorder) RunID() string {
	return r.runID
}

// RecordBandwidth stores the upper triangle of bw.
func (r *SQLiteRecorder) RecordBandwidth(bw *simulator.ConnMat) error {
	return r.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare("INSERT INTO bandwidth (run_id, src, dst, gbps) VALUES (?, ?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for src := 0; src < bw.NumNodes(); src++ {
			for dst := src + 1; dst < bw.NumNodes(); dst++ {
				if _, err := stmt.Exec(r.runID, src, dst, bw.Get(src, dst)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// RecordEpoch stores the epoch summary and every non-zero
// traffic cell.
func (r *SQLiteRecorder) RecordEpoch(result *EpochResult) error {
	return r.inTx(func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO epochs (run_id, epoch, steps, overflows, duration, total_bytes) "+
			"VALUES (?, ?, ?, ?, ?, ?)", r.runID, result.Epoch, result.Steps, result.Overflows,
			result.Duration, int64(result.Traffic.Total()))
		if err != nil {
			return err
		}
		stmt, err := tx.Prepare("INSERT INTO traffic (run_id, epoch, src, dst, bytes) VALUES (?, ?, ?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()
		n := result.Traffic.NumNodes()
		for src := 0; src < n; src++ {
			for dst := 0; dst < n; dst++ {
				bytes := result.Traffic.Get(src, dst)
				if bytes == 0 {
					continue
				}
				if _, err := stmt.Exec(r.runID, result.Epoch, src, dst, int64(bytes)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// EpochTraffic reads back the traffic matrix stored for an
// epoch of this run.
func (r *SQLiteRecorder) EpochTraffic(epoch, numNodes int) (*TrafficMat, error) {
	rows, err := r.db.Query("SELECT src, dst, bytes FROM traffic WHERE run_id = ? AND epoch = ?",
		r.runID, epoch)
	if err != nil {
		return nil, errors.Wrap(err, "query traffic")
	}
	defer rows.Close()

	res := NewTrafficMat(numNodes)
	for rows.Next() {
		var src, dst int
		var bytes int64
		if err := rows.Scan(&src, &dst, &bytes); err != nil {
			return nil, errors.Wrap(err, "scan traffic")
		}
		if src < 0 || dst < 0 || src >= numNodes || dst >= numNodes {
			return nil, fault.Errorf("stored edge %d->%d outside %d nodes", src, dst, numNodes)
		}
		res.Add(src, dst, uint64(bytes))
	}
	return res, errors.Wrap(rows.Err(), "read traffic")
}

// Close closes the database.
func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}

func (r *SQLiteRecorder) createTables() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			host TEXT,
			started_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS bandwidth (
			run_id TEXT,
			src INTEGER,
			dst INTEGER,
			gbps REAL
		)`,
		`CREATE TABLE IF NOT EXISTS epochs (
			run_id TEXT,
			epoch INTEGER,
			steps INTEGER,
			overflows INTEGER,
			duration REAL,
			total_bytes INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS traffic (
			run_id TEXT,
			epoch INTEGER,
			src INTEGER,
			dst INTEGER,
			bytes INTEGER
		)`,
	}
	for _, s := range statements {
		if _, err := r.db.Exec(s); err != nil {
			return errors.Wrap(err, "create tables")
		}
	}
	return nil
}

func (r *SQLiteRecorder) inTx(f func(tx *sql.Tx) error) error {
	tx, err := r.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	if err := f(tx); err != nil {
		tx.Rollback()
		return errors.Wrap(err, "record")
	}
	return errors.Wrap(tx.Commit(), "commit")
}
