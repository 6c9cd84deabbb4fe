// Package commands implements the gigsync CLI commands.
package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/gigsync/gigsync-go/internal/config"
)

// Global carries state shared by every command.
type Global struct {
	Logger *slog.Logger
	Stdout io.Writer
}

func (g *Global) logger() *slog.Logger {
	if g == nil || g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}

func (g *Global) stdout() io.Writer {
	if g == nil || g.Stdout == nil {
		return os.Stdout
	}
	return g.Stdout
}

// CLI is the root command.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path (optional)"`
	EnvFile []string         `name:"env-file" help:"Dotenv files to load" default:".env"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Watch    WatchCmd    `cmd:"" help:"Synchronize the gig catalog and report changes"`
	Discover DiscoverCmd `cmd:"" help:"Browse the local network for gig feeds"`
	Announce AnnounceCmd `cmd:"" help:"Advertise a gig feed over mDNS"`
	Log      LogCmd      `cmd:"" help:"Inspect sync event logs"`
}

// AfterApply sets the default logger before any command runs.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

// LoadConfig loads the configuration named by the global flags.
func (c *CLI) LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.Config, c.EnvFile...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if c.Verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}
