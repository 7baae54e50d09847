package migration

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	if err != nil {
		t.Fatalf("read embedded: %v", err)
	}
	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected file %s", name)
		}
	}
	if len(ups) == 0 {
		t.Fatalf("expected migrations")
	}
	for v := range ups {
		if !downs[v] {
			t.Fatalf("missing down migration for %s", v)
		}
	}
}

func TestSource_FirstVersion(t *testing.T) {
	src, err := Source()
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	v, err := src.First()
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if v != 1 {
		t.Fatalf("expected first version 1, got %d", v)
	}
}

func TestCallRecordsSchemaEnforcesInvariants(t *testing.T) {
	b, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000001_call_records.up.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	sql := string(b)
	for _, want := range []string{"call_records_done_chk", "call_records_error_chk", "call_records_provider_recording_uq"} {
		if !strings.Contains(sql, want) {
			t.Fatalf("schema missing %s", want)
		}
	}
}
