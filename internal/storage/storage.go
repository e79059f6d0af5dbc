package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for jobs and evaluation runs.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// busyTimeoutMillis bounds how long a writer waits on a locked database.
const busyTimeoutMillis = 5000

// New opens (or creates) the database at path and ensures schema. All
// callers share a single connection in WAL mode.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)", path, sep, busyTimeoutMillis)
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS processing_jobs (
            id TEXT PRIMARY KEY,
            job_type TEXT NOT NULL,
            status TEXT NOT NULL,
            input_path TEXT,
            output_path TEXT,
            options_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS job_results (
            job_id TEXT,
            meta_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS evaluation_runs (
            id TEXT PRIMARY KEY,
            category TEXT NOT NULL,
            input_dir TEXT NOT NULL,
            reference TEXT,
            output_dir TEXT,
            status TEXT NOT NULL,
            pair_count INTEGER DEFAULT 0,
            started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS pair_scores (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            run_id TEXT NOT NULL,
            map_type TEXT NOT NULL,
            comparison TEXT NOT NULL,
            class TEXT NOT NULL,
            file1 TEXT,
            file2 TEXT,
            metric TEXT NOT NULL,
            value REAL
        );`,
		`CREATE TABLE IF NOT EXISTS summary_stats (
            run_id TEXT NOT NULL,
            map_type TEXT NOT NULL,
            comparison TEXT NOT NULL,
            class TEXT NOT NULL,
            metric TEXT NOT NULL,
            mean REAL,
            p2_5 REAL,
            p97_5 REAL,
            min REAL,
            max REAL,
            std REAL,
            n INTEGER,
            diagnostic_power BOOLEAN DEFAULT FALSE,
            PRIMARY KEY (run_id, map_type, comparison, metric)
        );`,
		`CREATE TABLE IF NOT EXISTS significance (
            run_id TEXT NOT NULL,
            category TEXT NOT NULL,
            map_type TEXT NOT NULL,
            metric TEXT NOT NULL,
            baseline TEXT,
            target TEXT,
            tier TEXT NOT NULL,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_pair_scores_run ON pair_scores(run_id, map_type, comparison);`,
		`CREATE INDEX IF NOT EXISTS idx_significance_run ON significance(run_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// JobRecord captures persisted job info.
type JobRecord struct {
	ID          string
	JobType     string
	Status      string
	InputPath   string
	OutputPath  string
	OptionsJSON string
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Run is one evaluation of an experiment directory.
type Run struct {
	ID          string
	Category    string
	InputDir    string
	Reference   string
	OutputDir   string
	Status      string
	Pairs       int
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// Score is one metric value of one evaluated pair.
type Score struct {
	Map        string
	Comparison string
	Class      string
	File1      string
	File2      string
	Metric     string
	Value      float64
}

// SummaryRecord mirrors one Summary_Stats.csv row plus the spread columns.
type SummaryRecord struct {
	Map             string
	Comparison      string
	Class           string
	Metric          string
	Mean            float64
	P2_5            float64
	P97_5           float64
	Min             float64
	Max             float64
	Std             float64
	N               int
	DiagnosticPower bool
}

// Significance is the separation tier of one metric on one map type.
type Significance struct {
	Category string
	Map      string
	Metric   string
	Baseline string
	Target   string
	Tier     string
}

// RecordJobQueued inserts a pending job.
func (s *Store) RecordJobQueued(rec JobRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO processing_jobs (id, job_type, status, input_path, output_path, options_json) VALUES (?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.JobType, rec.Status, rec.InputPath, rec.OutputPath, rec.OptionsJSON)
	return err
}

// RecordJobStart marks a job as running.
func (s *Store) RecordJobStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE processing_jobs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordJobResult finalizes a job with status and meta.
func (s *Store) RecordJobResult(id string, status string, meta map[string]any, errMsg string) error {
	if s == nil {
		return nil
	}
	metaJSON, _ := json.Marshal(meta)
	_, err := s.DB.Exec(`UPDATE processing_jobs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`, status, errMsg, id)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT INTO job_results (job_id, meta_json) VALUES (?, ?);`, id, string(metaJSON))
	return err
}

// RecentJobs returns the latest jobs up to limit.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, job_type, status, input_path, output_path, options_json, created_at, started_at, completed_at, error_message FROM processing_jobs ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		var rec JobRecord
		var created time.Time
		var started, completed sql.NullTime
		var errorMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.JobType, &rec.Status, &rec.InputPath, &rec.OutputPath, &rec.OptionsJSON, &created, &started, &completed, &errorMsg); err != nil {
			return nil, err
		}
		rec.CreatedAt = created
		if started.Valid {
			rec.StartedAt = &started.Time
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		if errorMsg.Valid {
			rec.Error = errorMsg.String
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// JobMeta fetches the last meta blob for a job.
func (s *Store) JobMeta(id string) (map[string]any, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var metaJSON string
	err := s.DB.QueryRow(`SELECT meta_json FROM job_results WHERE job_id=? ORDER BY created_at DESC, rowid DESC LIMIT 1;`, id).Scan(&metaJSON)
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}

// RecordRunStart inserts a running evaluation and returns its id. An empty
// run.ID is replaced by a fresh UUID.
func (s *Store) RecordRunStart(run Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if s == nil {
		return run.ID, nil
	}
	_, err := s.DB.Exec(`INSERT INTO evaluation_runs (id, category, input_dir, reference, output_dir, status) VALUES (?, ?, ?, ?, ?, 'running');`,
		run.ID, run.Category, run.InputDir, run.Reference, run.OutputDir)
	return run.ID, err
}

// RecordRunResult finalizes a run.
func (s *Store) RecordRunResult(id, status string, pairs int, errMsg string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE evaluation_runs SET status=?, pair_count=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`,
		status, pairs, errMsg, id)
	return err
}

// RecordScores inserts pair scores in a single transaction.
func (s *Store) RecordScores(runID string, scores []Score) error {
	if s == nil || len(scores) == 0 {
		return nil
	}
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO pair_scores (run_id, map_type, comparison, class, file1, file2, metric, value) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, sc := range scores {
		if _, err := stmt.Exec(runID, sc.Map, sc.Comparison, sc.Class, sc.File1, sc.File2, sc.Metric, nullable(sc.Value)); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert score %s/%s: %w", sc.Comparison, sc.Metric, err)
		}
	}
	return tx.Commit()
}

// RecordSummary stores the summary rows of a run.
func (s *Store) RecordSummary(runID string, rows []SummaryRecord) error {
	if s == nil || len(rows) == 0 {
		return nil
	}
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	for _, r := range rows {
		_, err := tx.Exec(`INSERT OR REPLACE INTO summary_stats (run_id, map_type, comparison, class, metric, mean, p2_5, p97_5, min, max, std, n, diagnostic_power)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			runID, r.Map, r.Comparison, r.Class, r.Metric,
			nullable(r.Mean), nullable(r.P2_5), nullable(r.P97_5), nullable(r.Min), nullable(r.Max), nullable(r.Std),
			r.N, r.DiagnosticPower)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// RecordSignificance stores significance tiers for a run.
func (s *Store) RecordSignificance(runID string, results []Significance) error {
	if s == nil {
		return nil
	}
	for _, r := range results {
		_, err := s.DB.Exec(`INSERT INTO significance (run_id, category, map_type, metric, baseline, target, tier) VALUES (?, ?, ?, ?, ?, ?, ?);`,
			runID, r.Category, r.Map, r.Metric, r.Baseline, r.Target, r.Tier)
		if err != nil {
			return err
		}
	}
	return nil
}

// RecentRuns returns the latest evaluation runs up to limit.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, category, input_dir, reference, output_dir, status, pair_count, started_at, completed_at, error_message FROM evaluation_runs ORDER BY started_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var reference, outputDir, errorMsg sql.NullString
		var completed sql.NullTime
		if err := rows.Scan(&run.ID, &run.Category, &run.InputDir, &reference, &outputDir, &run.Status, &run.Pairs, &run.StartedAt, &completed, &errorMsg); err != nil {
			return nil, err
		}
		run.Reference = reference.String
		run.OutputDir = outputDir.String
		run.Error = errorMsg.String
		if completed.Valid {
			run.CompletedAt = &completed.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunSummary loads the summary rows stored for a run.
func (s *Store) RunSummary(runID string) ([]SummaryRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT map_type, comparison, class, metric, mean, p2_5, p97_5, min, max, std, n, diagnostic_power FROM summary_stats WHERE run_id=? ORDER BY rowid;`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SummaryRecord
	for rows.Next() {
		var r SummaryRecord
		var mean, lo, hi, mn, mx, std sql.NullFloat64
		if err := rows.Scan(&r.Map, &r.Comparison, &r.Class, &r.Metric, &mean, &lo, &hi, &mn, &mx, &std, &r.N, &r.DiagnosticPower); err != nil {
			return nil, err
		}
		r.Mean, r.P2_5, r.P97_5 = fromNull(mean), fromNull(lo), fromNull(hi)
		r.Min, r.Max, r.Std = fromNull(mn), fromNull(mx), fromNull(std)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountScores reports how many pair scores a run stored.
func (s *Store) CountScores(runID string) (int, error) {
	if s == nil {
		return 0, errors.New("store not initialized")
	}
	var n int
	err := s.DB.QueryRow(`SELECT COUNT(*) FROM pair_scores WHERE run_id=?;`, runID).Scan(&n)
	return n, err
}

// nullable stores NaN and infinities as NULL.
func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func fromNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
