package commands

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gigsync/gigsync-go/pkg/discovery"
)

// DiscoverCmd implements the 'discover' command.
type DiscoverCmd struct {
	Timeout   time.Duration `short:"t" help:"How long to browse" default:"5s"`
	Interface string        `help:"Network interface to browse on"`
}

func (d *DiscoverCmd) Run(g *Global, _ *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	browser := discovery.NewBrowser(discovery.BrowserConfig{
		Interface: d.Interface,
		Timeout:   d.Timeout,
		Logger:    g.logger(),
	})
	feeds := browser.FindAll(ctx)
	return writeFeeds(g.stdout(), feeds)
}

func writeFeeds(w io.Writer, feeds []*discovery.Feed) error {
	if len(feeds) == 0 {
		fmt.Fprintln(w, "No feeds found")
		return nil
	}
	fmt.Fprintf(w, "Found %d feed(s):\n", len(feeds))
	for _, f := range feeds {
		fmt.Fprintf(w, "\n  %s\n", f.Instance)
		if f.Band != "" {
			fmt.Fprintf(w, "    Band:      %s\n", f.Band)
		}
		fmt.Fprintf(w, "    URL:       %s\n", f.URL())
		if f.Subject != "" {
			fmt.Fprintf(w, "    Subject:   %s\n", f.Subject)
		}
		if len(f.Addresses) > 0 {
			fmt.Fprintf(w, "    Addresses: %s\n", strings.Join(f.Addresses, ", "))
		}
	}
	return nil
}
