package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestEventSource_LoadRecords(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	table := fmt.Sprintf("provider_status_events_test_%d", time.Now().UnixNano())
	if _, err := db.Exec(fmt.Sprintf(`CREATE TABLE %s (
	provider_id TEXT NOT NULL,
	event_time TIMESTAMP NOT NULL,
	detail TEXT,
	source TEXT
)`, table)); err != nil {
		t.Fatalf("create table: %v", err)
	}
	defer func() { _, _ = db.Exec("DROP TABLE " + table) }()

	day := time.Date(2017, time.September, 1, 0, 0, 0, 0, time.UTC)
	seed := []struct {
		provider string
		at       time.Time
		detail   any
		source   any
	}{
		{"p2", day.Add(9 * time.Hour), nil, "Action on Job"},
		{"p1", day.Add(10 * time.Hour), "status True", nil},
		{"p1", day.AddDate(0, 0, 1).Add(8 * time.Hour), "status False", ""},
	}
	for _, row := range seed {
		if _, err := db.Exec(fmt.Sprintf(`INSERT INTO %s VALUES ($1, $2, $3, $4)`, table),
			row.provider, row.at, row.detail, row.source); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	source := NewEventSource(db, WithTable(table))
	ctx := context.Background()

	all, err := source.LoadRecords(ctx, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(all) != 3 || all[0].ProviderID != "p1" || all[2].ProviderID != "p2" {
		t.Fatalf("unexpected records %+v", all)
	}
	if all[2].Source != "Action on Job" || all[2].Detail != "" {
		t.Fatalf("expected null detail as empty string, got %+v", all[2])
	}

	window, err := source.LoadRecords(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("load window: %v", err)
	}
	if len(window) != 2 {
		t.Fatalf("expected 2 records in window, got %d", len(window))
	}
}
