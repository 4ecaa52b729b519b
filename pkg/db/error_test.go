package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestWrapUnavailableKeepsCause(t *testing.T) {
	cause := &pgconn.PgError{Code: "40001"}
	err := WrapUnavailable(fmt.Errorf("increment: %w", cause))

	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable")
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "40001" {
		t.Fatalf("expected pg error to remain reachable")
	}
	if WrapUnavailable(err) != err {
		t.Fatalf("expected double wrap to be a no-op")
	}
	if WrapUnavailable(nil) != nil {
		t.Fatalf("expected nil for nil")
	}
}

func TestWrapUnavailableContextDeadline(t *testing.T) {
	err := WrapUnavailable(context.DeadlineExceeded)
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected both deadline and unavailable, got %v", err)
	}
}

func TestClassifyError(t *testing.T) {
	cases := map[string]error{
		"deadline_exceeded":     context.DeadlineExceeded,
		"not_found":             gorm.ErrRecordNotFound,
		"unique_violation":      errors.New("UNIQUE constraint failed: usage_events.reverses_event_id"),
		"lock_timeout":          &pgconn.PgError{Code: "55P03"},
		"serialization_failure": &pgconn.PgError{Code: "40001"},
		"db":                    &pgconn.PgError{Code: "08006"},
		"unknown":               errors.New("boom"),
	}
	for want, err := range cases {
		if got := ClassifyError(err); got != want {
			t.Fatalf("ClassifyError(%v) = %q, want %q", err, got, want)
		}
	}
}

type codedErr int

func (e codedErr) Error() string { return fmt.Sprintf("sqlite error (%d)", int(e)) }
func (e codedErr) Code() int     { return int(e) }

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&pgconn.PgError{Code: "40001"}, true},
		{&pgconn.PgError{Code: "40P01"}, true},
		{&pgconn.PgError{Code: "23505"}, false},
		{fmt.Errorf("update: %w", codedErr(5)), true},
		{codedErr(517), true},
		{codedErr(6), true},
		{codedErr(19), false},
		{errors.New("Error 1213: Deadlock found when trying to get lock"), true},
		{gorm.ErrRecordNotFound, false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
	if got := ClassifyError(codedErr(5)); got != "busy" {
		t.Fatalf("ClassifyError(busy) = %q", got)
	}
}
