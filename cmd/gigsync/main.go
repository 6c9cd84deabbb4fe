// Command gigsync keeps a live gig catalog (songs, audience requests and
// set lists) in sync with the backend.
//
// Usage:
//
//	gigsync [flags] <command> [args]
//
// Commands:
//
//	watch      Synchronize the catalog and report changes
//	discover   Browse the local network for gig feeds
//	announce   Advertise a gig feed over mDNS
//	log        Inspect sync event logs (view, stats, export, filter)
//
// Examples:
//
//	# Try it without a backend
//	gigsync watch --demo -i
//
//	# Sync against a configured backend, recording an event log
//	GIGSYNC_EVENT_LOG=gig.glog gigsync -c gigsync.yaml watch
//
//	# Show only fetches of the requests collection
//	gigsync log view --category fetch --collection requests gig.glog
package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/gigsync/gigsync-go/cmd/gigsync/commands"
)

var version = "dev"

func main() {
	var cli commands.CLI
	kctx := kong.Parse(&cli,
		kong.Name("gigsync"),
		kong.Description("Live gig catalog synchronization"),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)
	err := kctx.Run(&commands.Global{Logger: slog.Default(), Stdout: os.Stdout}, &cli)
	kctx.FatalIfErrorf(err)
}
