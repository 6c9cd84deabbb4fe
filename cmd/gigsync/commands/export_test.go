package commands

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gigsync/gigsync-go/pkg/log"
)

// createTestLogFile writes events to a temporary event log.
func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.glog")

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

func TestExportToJSONL(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)
	events := []log.Event{
		{
			Timestamp:    ts,
			ConnectionID: "abc12345",
			Layer:        log.LayerCollection,
			Category:     log.CategoryFetch,
			Collection:   "songs",
			EntityType:   "songs",
			Fetch:        &log.FetchEvent{Source: log.FetchSourceNetwork, Seq: 3, Rows: 12},
		},
		{
			Timestamp: ts.Add(time.Second),
			Layer:     log.LayerConnection,
			Category:  log.CategoryState,
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityConnection,
				OldState: "CONNECTING",
				NewState: "CONNECTED",
			},
		},
	}

	path := createTestLogFile(t, events)

	outPath := filepath.Join(t.TempDir(), "out.jsonl")
	if err := RunExport(path, "jsonl", outPath); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line 1 is not valid JSON: %v", err)
	}
	if first["Collection"] != "songs" {
		t.Errorf("expected collection songs, got %v", first["Collection"])
	}
	fetch, ok := first["Fetch"].(map[string]any)
	if !ok {
		t.Fatalf("expected Fetch object, got %v", first["Fetch"])
	}
	if fetch["Rows"] != float64(12) {
		t.Errorf("expected 12 rows, got %v", fetch["Rows"])
	}
}

func TestExportToCSV(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 0, time.UTC)
	events := []log.Event{
		{
			Timestamp:    ts,
			Layer:        log.LayerSubscription,
			Category:     log.CategoryNotification,
			Collection:   "requests",
			EntityType:   "requests",
			Notification: &log.NotificationEvent{Op: "UPDATE", Key: "r1", Subscribers: 2},
		},
		{
			Timestamp:  ts,
			Layer:      log.LayerCollection,
			Category:   log.CategoryError,
			Collection: "requests",
			Error:      &log.ErrorEventData{Layer: log.LayerCollection, Message: "read timeout"},
		},
	}

	path := createTestLogFile(t, events)

	var buf bytes.Buffer
	if err := exportTo(path, "csv", &buf); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(records))
	}
	if records[0][0] != "timestamp" || records[0][7] != "detail" {
		t.Errorf("unexpected header: %v", records[0])
	}
	if records[1][2] != "SUBSCRIPTION" || records[1][6] != "Notification" || records[1][7] != "UPDATE" {
		t.Errorf("unexpected notification row: %v", records[1])
	}
	if records[2][3] != "ERROR" || records[2][7] != "read timeout" {
		t.Errorf("unexpected error row: %v", records[2])
	}
}

func TestExportUnknownFormat(t *testing.T) {
	path := createTestLogFile(t, []log.Event{{Timestamp: time.Now()}})

	var buf bytes.Buffer
	err := exportTo(path, "xml", &buf)
	if err == nil {
		t.Fatal("expected error for unknown format")
	}
	if !strings.Contains(err.Error(), "unknown format") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestExportMissingFile(t *testing.T) {
	err := RunExport(filepath.Join(t.TempDir(), "missing.glog"), "jsonl", "")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
