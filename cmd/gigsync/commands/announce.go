package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gigsync/gigsync-go/pkg/discovery"
)

// AnnounceCmd implements the 'announce' command. It advertises a feed
// served by another process until interrupted.
type AnnounceCmd struct {
	Venue     string `arg:"" help:"Venue name (becomes the mDNS instance name)"`
	Band      string `help:"Band name"`
	Protocol  string `short:"p" help:"Feed protocol (ws, wss, nats)" default:"ws" enum:"ws,wss,nats"`
	Port      uint16 `help:"Feed port" default:"8787"`
	Path      string `help:"WebSocket path" default:"/feed"`
	Subject   string `help:"NATS subject prefix"`
	Interface string `help:"Network interface to announce on"`
}

// FeedInfo returns the announcement described by the flags.
func (a *AnnounceCmd) FeedInfo() discovery.FeedInfo {
	return discovery.FeedInfo{
		Venue:    a.Venue,
		Band:     a.Band,
		Protocol: discovery.Protocol(a.Protocol),
		Port:     a.Port,
		Path:     a.Path,
		Subject:  a.Subject,
	}
}

func (a *AnnounceCmd) Run(g *Global, _ *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	adv := discovery.NewAdvertiser(discovery.AdvertiserConfig{Interface: a.Interface})
	if err := adv.Announce(a.FeedInfo()); err != nil {
		return fmt.Errorf("announce: %w", err)
	}
	defer adv.Stop()

	g.logger().Info("announcing feed", "venue", a.Venue, "protocol", a.Protocol, "port", a.Port)
	<-ctx.Done()
	return nil
}
