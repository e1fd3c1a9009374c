package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"playproof/pkg/pipeline"
	"playproof/pkg/structlog"
)

const auditQueueDepth = 256

// ScoreAuditor persists an audit trail of issued verdicts to Postgres.
// Writes go through a bounded queue drained by a single worker;
// recording is best-effort and never blocks or fails the scoring path.
type ScoreAuditor struct {
	db   *sql.DB
	log  *structlog.Logger
	jobs chan pipeline.Result
	wg   sync.WaitGroup
	once sync.Once
}

// NewScoreAuditor connects to Postgres, ensures the audit schema and
// starts the write worker.
func NewScoreAuditor(dbURL string, log *structlog.Logger) (*ScoreAuditor, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := migrateAudit(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return newScoreAuditor(db, log), nil
}

func newScoreAuditor(db *sql.DB, log *structlog.Logger) *ScoreAuditor {
	a := &ScoreAuditor{db: db, log: log, jobs: make(chan pipeline.Result, auditQueueDepth)}
	a.wg.Add(1)
	go a.worker()
	return a
}

func migrateAudit(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS score_audit (
		id SERIAL PRIMARY KEY,
		result_id VARCHAR(64) NOT NULL,
		session_id VARCHAR(255) NOT NULL,
		verdict VARCHAR(20) NOT NULL,
		raw_probability FLOAT NOT NULL,
		confidence FLOAT NOT NULL,
		details JSONB,
		calculated_at TIMESTAMP WITH TIME ZONE NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_score_audit_session_id ON score_audit(session_id);
	CREATE INDEX IF NOT EXISTS idx_score_audit_created_at ON score_audit(created_at);`

	_, err := db.Exec(query)
	return err
}

// Record queues one audit row. A full queue drops the row rather than
// stalling a request.
func (a *ScoreAuditor) Record(res pipeline.Result) {
	select {
	case a.jobs <- res:
	default:
		a.log.Warn("audit queue full, dropping record", structlog.Fields{"result_id": res.ID})
	}
}

func (a *ScoreAuditor) worker() {
	defer a.wg.Done()
	for res := range a.jobs {
		a.insert(res)
	}
}

func (a *ScoreAuditor) insert(res pipeline.Result) {
	detailsJSON, _ := json.Marshal(res.Details)

	_, err := a.db.Exec(`
	INSERT INTO score_audit (result_id, session_id, verdict, raw_probability, confidence, details, calculated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		res.ID, res.SessionID, res.Verdict.String(),
		res.RawProbability, res.Confidence, string(detailsJSON), res.CalculatedAt)
	if err != nil {
		a.log.Error("audit insert failed", structlog.Fields{
			"result_id": res.ID,
			"error":     err.Error(),
		})
	}
}

// Close drains queued writes, then releases the database pool.
func (a *ScoreAuditor) Close() error {
	a.once.Do(func() { close(a.jobs) })
	a.wg.Wait()
	return a.db.Close()
}
