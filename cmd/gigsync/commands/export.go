package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/gigsync/gigsync-go/pkg/log"
)

// LogExportCmd implements 'log export'.
type LogExportCmd struct {
	Path   string `arg:"" help:"Event log file" type:"existingfile"`
	Format string `short:"f" help:"Output format (jsonl, csv)" default:"jsonl" enum:"jsonl,csv"`
	Output string `short:"o" help:"Output file (default: stdout)"`
}

func (e *LogExportCmd) Run(g *Global) error {
	if e.Output == "" {
		return exportTo(e.Path, e.Format, g.stdout())
	}
	return RunExport(e.Path, e.Format, e.Output)
}

// RunExport exports the log file to the specified format. An empty output
// writes to stdout.
func RunExport(path, format, output string) error {
	if output == "" {
		return exportTo(path, format, os.Stdout)
	}
	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()
	return exportTo(path, format, f)
}

func exportTo(path, format string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	switch format {
	case "jsonl":
		return exportJSONL(reader, w)
	case "csv":
		return exportCSV(reader, w)
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}
}

func exportJSONL(reader *log.Reader, w io.Writer) error {
	encoder := json.NewEncoder(w)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return nil
}

func exportCSV(reader *log.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"timestamp", "connection_id", "layer", "category", "collection", "entity_type", "type", "detail"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		var detail string
		switch {
		case event.StateChange != nil:
			detail = event.StateChange.Entity.String() + ":" + event.StateChange.NewState
		case event.Notification != nil:
			detail = event.Notification.Op
		case event.Fetch != nil:
			detail = event.Fetch.Source.String() + ":" + strconv.Itoa(event.Fetch.Rows)
		case event.Error != nil:
			detail = event.Error.Message
		}

		row := []string{
			event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
			event.ConnectionID,
			event.Layer.String(),
			event.Category.String(),
			event.Collection,
			event.EntityType,
			eventType(event),
			detail,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	return nil
}
