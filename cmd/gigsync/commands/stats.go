package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/gigsync/gigsync-go/pkg/log"
)

// LogStatsCmd implements 'log stats'.
type LogStatsCmd struct {
	Path string `arg:"" help:"Event log file" type:"existingfile"`
}

func (s *LogStatsCmd) Run(g *Global) error {
	return RunStats(s.Path, g.stdout())
}

// Stats holds aggregate statistics about an event log.
type Stats struct {
	TotalEvents      int
	EventsByLayer    map[log.Layer]int
	EventsByCategory map[log.Category]int
	Collections      map[string]*CollectionStats
	Connections      map[string]*ConnectionStats
	Errors           int
	TimeRange        struct {
		Start time.Time
		End   time.Time
	}
}

// CollectionStats holds statistics for one collection.
type CollectionStats struct {
	NetworkFetches int
	CacheHits      int
	Rows           int // rows of the last delivery
	Dropped        int
	Notifications  int
	Errors         int
	TotalFetchTime time.Duration
}

// ConnectionStats holds statistics for one push connection.
type ConnectionStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:    make(map[log.Layer]int),
		EventsByCategory: make(map[log.Category]int),
		Collections:      make(map[string]*CollectionStats),
		Connections:      make(map[string]*ConnectionStats),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}

	printStats(w, stats)
	return nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	if event.ConnectionID != "" {
		conn, ok := s.Connections[event.ConnectionID]
		if !ok {
			conn = &ConnectionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
			s.Connections[event.ConnectionID] = conn
		}
		conn.Events++
		if event.Timestamp.After(conn.LastSeen) {
			conn.LastSeen = event.Timestamp
		}
	}

	if event.Error != nil {
		s.Errors++
	}

	if event.Collection == "" {
		return
	}
	coll, ok := s.Collections[event.Collection]
	if !ok {
		coll = &CollectionStats{}
		s.Collections[event.Collection] = coll
	}
	switch {
	case event.Fetch != nil:
		if event.Fetch.Source == log.FetchSourceCache {
			coll.CacheHits++
		} else {
			coll.NetworkFetches++
			coll.TotalFetchTime += event.Fetch.Duration
		}
		coll.Rows = event.Fetch.Rows
		coll.Dropped += event.Fetch.Dropped
	case event.Notification != nil:
		coll.Notifications++
	case event.Error != nil:
		coll.Errors++
	}
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== gigsync Event Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerConnection, log.LayerSubscription, log.LayerCollection, log.LayerBreaker, log.LayerOptimistic} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-14s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryState, log.CategoryNotification, log.CategoryFetch, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-14s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if len(stats.Collections) > 0 {
		names := make([]string, 0, len(stats.Collections))
		for name := range stats.Collections {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Fprintln(w, "Collections:")
		for _, name := range names {
			c := stats.Collections[name]
			fmt.Fprintf(w, "  %s: %d fetches, %d cache hits, %d notifications, %d rows",
				name, c.NetworkFetches, c.CacheHits, c.Notifications, c.Rows)
			if c.NetworkFetches > 0 && c.TotalFetchTime > 0 {
				fmt.Fprintf(w, ", avg fetch %s", formatDuration(c.TotalFetchTime/time.Duration(c.NetworkFetches)))
			}
			if c.Dropped > 0 {
				fmt.Fprintf(w, ", %d dropped", c.Dropped)
			}
			if c.Errors > 0 {
				fmt.Fprintf(w, ", %d errors", c.Errors)
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))
	if len(stats.Connections) > 0 {
		type connInfo struct {
			id    string
			stats *ConnectionStats
		}
		conns := make([]connInfo, 0, len(stats.Connections))
		for id, cs := range stats.Connections {
			conns = append(conns, connInfo{id, cs})
		}
		sort.Slice(conns, func(i, j int) bool {
			return conns[i].stats.FirstSeen.Before(conns[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, c := range conns {
			duration := c.stats.LastSeen.Sub(c.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, duration %s\n", shortID(c.id), c.stats.Events, duration)
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
