package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"playproof/pkg/decision"
)

func newTestRedisStore(t *testing.T, cfg Config) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rs, err := NewRedisStore(context.Background(), client, cfg)
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	t.Cleanup(func() { rs.Close() })
	return rs, mr
}

func TestRedisGetOrCreate_FreshSession(t *testing.T) {
	rs, _ := newTestRedisStore(t, Config{})
	ctx := context.Background()

	sess, err := rs.GetOrCreate(ctx, "r1")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if sess.ID != "r1" {
		t.Errorf("id = %s, want r1", sess.ID)
	}
	if len(sess.Events) != 0 || sess.RegenerateCount != 0 || sess.State != decision.StateInitial {
		t.Error("fresh session should have empty state")
	}
}

func TestRedisAppend_RetentionCapAcrossRoundTrips(t *testing.T) {
	rs, _ := newTestRedisStore(t, Config{RetentionCap: 5})
	ctx := context.Background()

	var sess Session
	var err error
	for i := 0; i < 20; i++ {
		sess, err = rs.Append(ctx, "r1", beacon(float64(i)))
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if len(sess.Events) > 5 {
			t.Fatalf("history length %d exceeds retention cap after append", len(sess.Events))
		}
	}

	if sess.Events[0].Timestamp != 15 || sess.Events[4].Timestamp != 19 {
		t.Errorf("window = [%g..%g], want [15..19]", sess.Events[0].Timestamp, sess.Events[4].Timestamp)
	}
	if sess.ClockFloor != 19 {
		t.Errorf("clock floor = %g, want 19", sess.ClockFloor)
	}
}

func TestRedisUpdate_TerminalSessionRederived(t *testing.T) {
	rs, _ := newTestRedisStore(t, Config{})
	ctx := context.Background()

	_, err := rs.Update(ctx, "r1", func(s *Session) error {
		s.Append(beacon(1), rs.RetentionCap())
		s.State = decision.StateTerminal
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	sess, err := rs.GetOrCreate(ctx, "r1")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if sess.State != decision.StateInitial || len(sess.Events) != 0 {
		t.Error("terminal session should be re-derived fresh on next access")
	}
}

func TestRedisUpdate_ExpiredKeyStartsFresh(t *testing.T) {
	rs, mr := newTestRedisStore(t, Config{TTL: time.Minute})
	ctx := context.Background()

	if _, err := rs.Append(ctx, "r1", beacon(1)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	sess, err := rs.GetOrCreate(ctx, "r1")
	if err != nil {
		t.Fatalf("GetOrCreate after expiry failed: %v", err)
	}
	if len(sess.Events) != 0 {
		t.Errorf("expired session should start fresh, got %d events", len(sess.Events))
	}
}

func TestRedisUpdate_CorruptStateStartsFresh(t *testing.T) {
	rs, mr := newTestRedisStore(t, Config{})
	ctx := context.Background()

	if err := mr.Set("playproof:session:r1", "{not json"); err != nil {
		t.Fatalf("seeding corrupt state: %v", err)
	}

	sess, err := rs.GetOrCreate(ctx, "r1")
	if err != nil {
		t.Fatalf("GetOrCreate on corrupt state failed: %v", err)
	}
	if sess.ID != "r1" || len(sess.Events) != 0 {
		t.Error("corrupt state should be replaced by a fresh session")
	}
}

func TestRedisUpdate_ErrorDiscardsMutation(t *testing.T) {
	rs, _ := newTestRedisStore(t, Config{})
	ctx := context.Background()

	if _, err := rs.Append(ctx, "r1", beacon(1)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	_, err := rs.Update(ctx, "r1", func(s *Session) error {
		s.Append(beacon(2), rs.RetentionCap())
		return errors.New("callback failed")
	})
	if err == nil {
		t.Fatal("Update should surface the callback error")
	}

	sess, err := rs.GetOrCreate(ctx, "r1")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if len(sess.Events) != 1 {
		t.Errorf("failed mutation persisted: %d events, want 1", len(sess.Events))
	}
}
