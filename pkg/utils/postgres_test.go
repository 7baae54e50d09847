package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestHealthCheck(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectPing()
	if err := HealthCheck(context.Background(), db, time.Second); err != nil {
		t.Fatalf("expected healthy, got %v", err)
	}

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	if err := HealthCheck(context.Background(), db, time.Second); err == nil {
		t.Fatalf("expected ping failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresPoolConfig_Defaults(t *testing.T) {
	got := PostgresPoolConfig{MaxOpenConns: 5}.withDefaults()
	if got.MaxOpenConns != 5 || got.MaxIdleConns != 5 || got.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected defaults: %+v", got)
	}
	got = PostgresPoolConfig{MaxOpenConns: 4, MaxIdleConns: 9}.withDefaults()
	if got.MaxIdleConns != 4 {
		t.Fatalf("idle conns should be clamped to open limit, got %d", got.MaxIdleConns)
	}
}
