package main

import (
	"fmt"
	"io"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"playproof/pkg/decision"
	"playproof/pkg/pipeline"
	"playproof/pkg/structlog"
)

func auditResult(i int) pipeline.Result {
	return pipeline.Result{
		ID:           fmt.Sprintf("res-%d", i),
		SessionID:    "sess-audit",
		Verdict:      decision.VerdictPass,
		Confidence:   0.95,
		CalculatedAt: time.Now(),
	}
}

func TestScoreAuditorDrainsQueueOnClose(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		mock.ExpectExec("INSERT INTO score_audit").WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectClose()

	a := newScoreAuditor(db, structlog.New("audit-test", structlog.LevelError, io.Discard))
	for i := 0; i < 3; i++ {
		a.Record(auditResult(i))
	}
	require.NoError(t, a.Close())
	require.NoError(t, mock.ExpectationsWereMet(), "queued rows must be written before shutdown")
}

func TestScoreAuditorRecordNeverBlocks(t *testing.T) {
	// No worker draining and a single-slot queue: the second Record
	// must drop, not stall the caller.
	a := &ScoreAuditor{
		log:  structlog.New("audit-test", structlog.LevelError, io.Discard),
		jobs: make(chan pipeline.Result, 1),
	}
	a.Record(auditResult(0))

	done := make(chan struct{})
	go func() {
		a.Record(auditResult(1))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue")
	}
}
