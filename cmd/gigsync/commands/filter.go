package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/gigsync/gigsync-go/pkg/log"
)

// LogFilterCmd implements 'log filter'.
type LogFilterCmd struct {
	Path       string `arg:"" help:"Event log file" type:"existingfile"`
	Output     string `short:"o" required:"" help:"Output file"`
	ConnID     string `name:"conn-id" help:"Filter by connection ID"`
	Collection string `help:"Filter by collection name"`
	TimeStart  string `name:"time-start" help:"Filter by start time (RFC3339)"`
	TimeEnd    string `name:"time-end" help:"Filter by end time (RFC3339)"`
	Layer      string `help:"Filter by layer"`
	Category   string `help:"Filter by category"`
}

func (f *LogFilterCmd) Run(g *Global) error {
	n, err := RunFilter(f.Path, FilterOptions{
		Output:     f.Output,
		ConnID:     f.ConnID,
		Collection: f.Collection,
		TimeStart:  f.TimeStart,
		TimeEnd:    f.TimeEnd,
		Layer:      f.Layer,
		Category:   f.Category,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(g.stdout(), "Filtered %d events to %s\n", n, f.Output)
	return nil
}

// FilterOptions specifies filtering criteria for the filter command.
type FilterOptions struct {
	Output     string
	ConnID     string
	Collection string
	TimeStart  string
	TimeEnd    string
	Layer      string
	Category   string
}

// RunFilter writes the events of path matching opts to opts.Output and
// returns how many were written.
func RunFilter(path string, opts FilterOptions) (int, error) {
	filter := log.Filter{
		ConnectionID: opts.ConnID,
		Collection:   opts.Collection,
	}

	if opts.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeStart)
		if err != nil {
			return 0, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}
	if opts.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeEnd)
		if err != nil {
			return 0, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}
	if opts.Layer != "" {
		l, err := ParseLayerFlag(opts.Layer)
		if err != nil {
			return 0, err
		}
		filter.Layer = &l
	}
	if opts.Category != "" {
		c, err := ParseCategoryFlag(opts.Category)
		if err != nil {
			return 0, err
		}
		filter.Category = &c
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	logger, err := log.NewFileLogger(opts.Output)
	if err != nil {
		return 0, fmt.Errorf("failed to create output logger: %w", err)
	}
	defer logger.Close()

	count := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to read event: %w", err)
		}
		logger.Log(event)
		count++
	}
	return count, nil
}
