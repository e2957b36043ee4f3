package repo

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/DavidJBarnes/wanly-api/internal/domain"
	"github.com/DavidJBarnes/wanly-api/internal/infra"
	"github.com/DavidJBarnes/wanly-api/internal/sqlinline"
)

type call struct {
	query string
	args  []any
}

type stubExecutor struct {
	calls   []call
	execErr error
	tag     pgconn.CommandTag
	row     stubRow
	rows    [][]any
}

func (s *stubExecutor) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.calls = append(s.calls, call{query, args})
	return s.tag, s.execErr
}

func (s *stubExecutor) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	s.calls = append(s.calls, call{query, args})
	return s.row
}

func (s *stubExecutor) Query(_ context.Context, query string, args ...any) (pgx.Rows, error) {
	s.calls = append(s.calls, call{query, args})
	return &stubRows{data: s.rows, pos: -1}, nil
}

func (s *stubExecutor) WithTx(_ context.Context, fn func(exec infra.SQLExecutor) error) error {
	return fn(s)
}

// assign copies values into Scan destinations; nil leaves the zero value.
func assign(dest []any, values []any) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(values))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		if values[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		v := reflect.ValueOf(values[i])
		if !v.Type().AssignableTo(target.Type()) {
			v = v.Convert(target.Type())
		}
		target.Set(v)
	}
	return nil
}

type stubRow struct {
	values []any
	err    error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(dest, r.values)
}

type stubRows struct {
	data [][]any
	pos  int
}

func (r *stubRows) Close()                                       {}
func (r *stubRows) Err() error                                   { return nil }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Next() bool                                   { r.pos++; return r.pos < len(r.data) }
func (r *stubRows) Scan(dest ...any) error                       { return assign(dest, r.data[r.pos]) }
func (r *stubRows) Values() ([]any, error)                       { return r.data[r.pos], nil }
func (r *stubRows) RawValues() [][]byte                          { return nil }
func (r *stubRows) Conn() *pgx.Conn                              { return nil }

func segmentValues(id string, loras []byte) []any {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var none *string
	var noTime *time.Time
	return []any{
		id, "job-1", 2, "prompt", none, 5.0, 1.0, none, loras,
		false, none, none, none, none, none,
		true, domain.SegmentStatusPending, none, none, none, none, none, none,
		created, noTime, noTime,
	}
}

func withTx(t *testing.T, exec *stubExecutor, fn func(tx domain.Tx)) {
	t.Helper()
	store := NewStore(exec)
	if err := store.WithTx(context.Background(), func(tx domain.Tx) error {
		fn(tx)
		return nil
	}); err != nil {
		t.Fatalf("WithTx error: %v", err)
	}
}

func TestLockNextClaimableUsesSkipLockedQuery(t *testing.T) {
	exec := &stubExecutor{row: stubRow{values: segmentValues("seg-1", []byte(`[{"lora_id":"m1","high_weight":0.5},{"name":"legacy"}]`))}}
	withTx(t, exec, func(tx domain.Tx) {
		seg, err := tx.LockNextClaimable(context.Background())
		if err != nil {
			t.Fatalf("LockNextClaimable error: %v", err)
		}
		if seg.ID != "seg-1" || seg.Index != 2 || !seg.AutoFinalize {
			t.Fatalf("segment = %+v", seg)
		}
		if len(seg.Modifiers) != 2 || !seg.Modifiers[0].IsCatalog() || seg.Modifiers[1].IsCatalog() {
			t.Fatalf("modifiers = %+v", seg.Modifiers)
		}
	})
	if exec.calls[0].query != sqlinline.QLockNextClaimable {
		t.Fatalf("unexpected query %q", exec.calls[0].query)
	}
}

func TestLockNextClaimableNoRowsIsNoWork(t *testing.T) {
	exec := &stubExecutor{row: stubRow{err: pgx.ErrNoRows}}
	withTx(t, exec, func(tx domain.Tx) {
		if _, err := tx.LockNextClaimable(context.Background()); !errors.Is(err, domain.ErrNoWork) {
			t.Fatalf("expected ErrNoWork, got %v", err)
		}
	})
}

func TestGetJobNotFound(t *testing.T) {
	exec := &stubExecutor{row: stubRow{err: pgx.ErrNoRows}}
	withTx(t, exec, func(tx domain.Tx) {
		if _, err := tx.GetJob(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestInsertJobConflict(t *testing.T) {
	exec := &stubExecutor{execErr: &pgconn.PgError{Code: "23505"}}
	withTx(t, exec, func(tx domain.Tx) {
		err := tx.InsertJob(context.Background(), &domain.Job{ID: "job-1"})
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})
}

func TestMaxPriorityTakesOwnerLock(t *testing.T) {
	exec := &stubExecutor{row: stubRow{values: []any{3}}}
	withTx(t, exec, func(tx domain.Tx) {
		max, err := tx.MaxPriority(context.Background(), "u1")
		if err != nil {
			t.Fatalf("MaxPriority error: %v", err)
		}
		if max != 3 {
			t.Fatalf("max = %d, want 3", max)
		}
	})
	if len(exec.calls) != 2 || exec.calls[0].query != sqlinline.QLockOwner || exec.calls[1].query != sqlinline.QMaxPriority {
		t.Fatalf("calls = %+v", exec.calls)
	}
}

func TestReindexRunsShiftThenRenumber(t *testing.T) {
	exec := &stubExecutor{tag: pgconn.NewCommandTag("UPDATE 3")}
	withTx(t, exec, func(tx domain.Tx) {
		if err := tx.ReindexSegments(context.Background(), "job-1"); err != nil {
			t.Fatalf("ReindexSegments error: %v", err)
		}
	})
	if len(exec.calls) != 2 ||
		exec.calls[0].query != sqlinline.QReindexSegmentsShift ||
		exec.calls[1].query != sqlinline.QReindexSegmentsRenumber {
		t.Fatalf("calls = %+v", exec.calls)
	}
}

func TestUpdateSegmentMissingRow(t *testing.T) {
	exec := &stubExecutor{tag: pgconn.NewCommandTag("UPDATE 0")}
	withTx(t, exec, func(tx domain.Tx) {
		err := tx.UpdateSegment(context.Background(), &domain.Segment{ID: "gone"})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
	if loras := exec.calls[0].args[7]; loras != nil && len(loras.([]byte)) != 0 {
		t.Fatalf("nil modifiers should be stored as NULL, got %s", loras)
	}
}

func TestReclaimStaleReturnsAffectedRows(t *testing.T) {
	exec := &stubExecutor{tag: pgconn.NewCommandTag("UPDATE 2")}
	cutoff := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	withTx(t, exec, func(tx domain.Tx) {
		n, err := tx.ReclaimStale(context.Background(), cutoff)
		if err != nil || n != 2 {
			t.Fatalf("ReclaimStale = %d, %v", n, err)
		}
	})
	if exec.calls[0].args[0] != cutoff {
		t.Fatalf("cutoff arg = %v", exec.calls[0].args[0])
	}
}

func TestListSegmentsScansRows(t *testing.T) {
	exec := &stubExecutor{rows: [][]any{segmentValues("a", nil), segmentValues("b", []byte("null"))}}
	withTx(t, exec, func(tx domain.Tx) {
		segments, err := tx.ListSegments(context.Background(), "job-1")
		if err != nil {
			t.Fatalf("ListSegments error: %v", err)
		}
		if len(segments) != 2 || segments[0].ID != "a" || segments[1].Modifiers != nil {
			t.Fatalf("segments = %+v", segments)
		}
	})
}

func TestLookupOptionLists(t *testing.T) {
	exec := &stubExecutor{rows: [][]any{{"style", []string{"noir", "pastel"}}}}
	store := NewStore(exec)
	lists, err := store.LookupOptionLists(context.Background(), []string{"style", "missing"})
	if err != nil {
		t.Fatalf("LookupOptionLists error: %v", err)
	}
	if len(lists) != 1 || len(lists["style"]) != 2 {
		t.Fatalf("lists = %v", lists)
	}

	empty, err := store.LookupOptionLists(context.Background(), nil)
	if err != nil || len(empty) != 0 || len(exec.calls) != 1 {
		t.Fatalf("empty lookup should not query: %v, %v", empty, err)
	}
}
