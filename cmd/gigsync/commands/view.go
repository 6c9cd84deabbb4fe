package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gigsync/gigsync-go/pkg/log"
)

// LogCmd groups the event log subcommands.
type LogCmd struct {
	View   LogViewCmd   `cmd:"" help:"View an event log in human-readable form"`
	Stats  LogStatsCmd  `cmd:"" help:"Show statistics about an event log"`
	Export LogExportCmd `cmd:"" help:"Export an event log to JSONL or CSV"`
	Filter LogFilterCmd `cmd:"" help:"Filter an event log into a new file"`
}

// LogViewCmd implements 'log view'.
type LogViewCmd struct {
	Path       string `arg:"" help:"Event log file" type:"existingfile"`
	Layer      string `help:"Filter by layer (connection, subscription, collection, breaker, optimistic)"`
	Category   string `help:"Filter by category (state, notification, fetch, error)"`
	Collection string `help:"Filter by collection name"`
}

func (v *LogViewCmd) Run(g *Global) error {
	var filter ViewFilter
	if v.Layer != "" {
		l, err := ParseLayerFlag(v.Layer)
		if err != nil {
			return err
		}
		filter.Layer = &l
	}
	if v.Category != "" {
		c, err := ParseCategoryFlag(v.Category)
		if err != nil {
			return err
		}
		filter.Category = &c
	}
	filter.Collection = v.Collection
	return RunView(v.Path, filter, g.stdout())
}

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer      *log.Layer
	Category   *log.Category
	Collection string
}

func (f ViewFilter) matches(event log.Event) bool {
	if f.Layer != nil && event.Layer != *f.Layer {
		return false
	}
	if f.Category != nil && event.Category != *f.Category {
		return false
	}
	if f.Collection != "" && event.Collection != f.Collection {
		return false
	}
	return true
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [conn:id] LAYER Type collection/entity
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")

	fmt.Fprintf(w, "%s [conn:%s] %s %s", ts, shortID(event.ConnectionID), event.Layer, eventType(event))
	if event.Collection != "" {
		fmt.Fprintf(w, " %s", event.Collection)
	}
	if event.EntityType != "" && event.EntityType != event.Collection {
		fmt.Fprintf(w, " (%s)", event.EntityType)
	}
	fmt.Fprintln(w)

	switch {
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Notification != nil:
		formatNotificationDetails(w, event.Notification)
	case event.Fetch != nil:
		formatFetchDetails(w, event.Fetch)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w) // Blank line between events
}

// eventType returns the label of the event payload.
func eventType(event log.Event) string {
	switch {
	case event.StateChange != nil:
		return "State"
	case event.Notification != nil:
		return "Notification"
	case event.Fetch != nil:
		return "Fetch"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// shortID returns the first 8 characters of an ID.
func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity)
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatNotificationDetails(w io.Writer, n *log.NotificationEvent) {
	fmt.Fprintf(w, "  Op: %s", n.Op)
	if n.Key != "" {
		fmt.Fprintf(w, "  Key: %s", n.Key)
	}
	fmt.Fprintf(w, "  Subscribers: %d\n", n.Subscribers)
}

func formatFetchDetails(w io.Writer, f *log.FetchEvent) {
	fmt.Fprintf(w, "  Source: %s  Seq: %d  Rows: %d", f.Source, f.Seq, f.Rows)
	if f.Dropped > 0 {
		fmt.Fprintf(w, "  Dropped: %d", f.Dropped)
	}
	fmt.Fprintln(w)
	if f.Duration > 0 {
		fmt.Fprintf(w, "  Duration: %s\n", formatDuration(f.Duration))
	}
	if f.Bypass {
		fmt.Fprintln(w, "  Cache bypassed")
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer)
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Code != nil {
		fmt.Fprintf(w, "  Code: %d\n", *err.Code)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
	if err.Attempt > 0 {
		fmt.Fprintf(w, "  Attempt: %d\n", err.Attempt)
	}
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// ParseLayerFlag parses a layer name (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "connection":
		return log.LayerConnection, nil
	case "subscription":
		return log.LayerSubscription, nil
	case "collection":
		return log.LayerCollection, nil
	case "breaker":
		return log.LayerBreaker, nil
	case "optimistic":
		return log.LayerOptimistic, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be connection, subscription, collection, breaker, or optimistic)", s)
	}
}

// ParseCategoryFlag parses a category name (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "state":
		return log.CategoryState, nil
	case "notification":
		return log.CategoryNotification, nil
	case "fetch":
		return log.CategoryFetch, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be state, notification, fetch, or error)", s)
	}
}

// RunView executes the view command.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if !filter.matches(event) {
			continue
		}
		formatEvent(output, event)
	}

	return nil
}
