package txn

import (
	"context"
	"testing"
)

func TestMemorySession_CommitDiscardsUndos(t *testing.T) {
	sess, err := NewMemoryProvider().Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	defer sess.End()

	ran := false
	sess.OnRollback(func() { ran = true })

	if err := sess.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	sess.End()
	if ran {
		t.Error("rollback compensation ran after commit")
	}
}

func TestMemorySession_AbortRunsUndosInReverse(t *testing.T) {
	sess, _ := NewMemoryProvider().Begin(context.Background())
	defer sess.End()

	var order []int
	sess.OnRollback(func() { order = append(order, 1) })
	sess.OnRollback(func() { order = append(order, 2) })

	if err := sess.Abort(); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Errorf("expected undos in reverse order, got %v", order)
	}
}

func TestMemorySession_EndWithoutCommitAborts(t *testing.T) {
	sess, _ := NewMemoryProvider().Begin(context.Background())

	ran := false
	sess.OnRollback(func() { ran = true })

	sess.End()
	if !ran {
		t.Error("End without commit should roll back")
	}

	// End is idempotent.
	sess.End()
}

func TestMemorySession_DoubleCommit(t *testing.T) {
	sess, _ := NewMemoryProvider().Begin(context.Background())
	defer sess.End()

	if err := sess.Commit(); err != nil {
		t.Fatalf("first Commit failed: %v", err)
	}
	if err := sess.Commit(); err != ErrSessionFinished {
		t.Errorf("second Commit: got %v, want ErrSessionFinished", err)
	}
	if err := sess.Abort(); err != ErrSessionFinished {
		t.Errorf("Abort after Commit: got %v, want ErrSessionFinished", err)
	}
}

func TestTx_NonSQLSession(t *testing.T) {
	sess, _ := NewMemoryProvider().Begin(context.Background())
	defer sess.End()

	if _, ok := Tx(sess); ok {
		t.Error("Tx should not extract a *sql.Tx from a memory session")
	}
	if _, ok := Tx(nil); ok {
		t.Error("Tx(nil) should report false")
	}
}
