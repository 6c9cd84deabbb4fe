package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// AdvertiserConfig configures the feed announcement.
type AdvertiserConfig struct {
	// Interface restricts announcements to one network interface.
	// Empty means all interfaces.
	Interface string

	// TTL of the records. Zero keeps the zeroconf default.
	TTL time.Duration
}

// Advertiser announces one feed.
type Advertiser struct {
	config AdvertiserConfig

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an advertiser.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	return &Advertiser{config: config}
}

// Announce starts advertising info, replacing a previous announcement.
func (a *Advertiser) Announce(info FeedInfo) error {
	instance, err := InstanceName(info.Venue)
	if err != nil {
		return err
	}
	if !info.Protocol.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidProtocol, info.Protocol)
	}
	port := int(info.Port)
	if port == 0 {
		port = DefaultPort
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	server, err := zeroconf.Register(
		instance,
		ServiceType,
		Domain,
		port,
		TXTRecordsToStrings(EncodeFeedTXT(&info)),
		interfaces(a.config.Interface),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to register feed service: %w", err)
	}
	a.server = server
	return nil
}

// Update replaces the TXT records of the running announcement.
func (a *Advertiser) Update(info FeedInfo) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return ErrNotAnnounced
	}
	a.server.SetText(TXTRecordsToStrings(EncodeFeedTXT(&info)))
	return nil
}

// Stop withdraws the announcement.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// BrowserConfig configures browsing.
type BrowserConfig struct {
	// Interface restricts browsing to one network interface.
	Interface string

	// Timeout bounds Find and FindAll. Default: BrowseTimeout.
	Timeout time.Duration

	Logger *slog.Logger `yaml:"-"`
}

// source pushes sightings until ctx is done.
type source func(ctx context.Context, found, lost chan<- *Feed)

// Browser finds feeds.
type Browser struct {
	config BrowserConfig
	logger *slog.Logger
	source source
}

// NewBrowser creates a browser.
func NewBrowser(config BrowserConfig) *Browser {
	if config.Timeout <= 0 {
		config.Timeout = BrowseTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	b := &Browser{config: config, logger: config.Logger}
	b.source = b.browseZeroconf
	return b
}

// Browse streams feeds as they are discovered. Services are aggregated by
// instance name: addresses seen on several interfaces are merged into one
// entry and each feed is emitted once. The channel is closed when ctx is
// done.
func (b *Browser) Browse(ctx context.Context) <-chan *Feed {
	out := make(chan *Feed)
	found := make(chan *Feed)
	lost := make(chan *Feed)

	go func() {
		defer close(out)

		feeds := make(map[string]*Feed)
		for {
			select {
			case feed := <-found:
				existing, ok := feeds[feed.Instance]
				if ok {
					existing.Addresses = mergeAddresses(existing.Addresses, feed.Addresses)
					continue
				}
				feeds[feed.Instance] = feed
				emitted := *feed
				emitted.Addresses = append([]string(nil), feed.Addresses...)
				select {
				case out <- &emitted:
				case <-ctx.Done():
					return
				}

			case feed := <-lost:
				if existing, ok := feeds[feed.Instance]; ok {
					existing.Addresses = removeAddresses(existing.Addresses, feed.Addresses)
					if len(existing.Addresses) == 0 {
						delete(feeds, feed.Instance)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	go b.source(ctx, found, lost)
	return out
}

// Find returns the first feed, or the one announced for venue when venue
// is not empty.
func (b *Browser) Find(ctx context.Context, venue string) (*Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	for feed := range b.Browse(ctx) {
		if venue == "" || feed.Instance == venue {
			return feed, nil
		}
	}
	return nil, ErrNotFound
}

// FindAll collects every feed seen within the browse timeout.
func (b *Browser) FindAll(ctx context.Context) []*Feed {
	ctx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	var feeds []*Feed
	for feed := range b.Browse(ctx) {
		feeds = append(feeds, feed)
	}
	return feeds
}

func (b *Browser) browseZeroconf(ctx context.Context, found, lost chan<- *Feed) {
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				feed, err := feedFromEntry(entry)
				if err != nil {
					b.logger.Debug("ignoring feed service", "instance", entry.Instance, "error", err)
					continue
				}
				select {
				case found <- feed:
				case <-ctx.Done():
					return
				}

			case entry, ok := <-removed:
				if !ok {
					removed = nil
					continue
				}
				select {
				case lost <- &Feed{Instance: entry.Instance, Addresses: entryAddresses(entry)}:
				case <-ctx.Done():
					return
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	var opts []zeroconf.ClientOption
	if ifaces := interfaces(b.config.Interface); ifaces != nil {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}
	if err := zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, opts...); err != nil {
		b.logger.Warn("mDNS browse failed", "error", err)
	}
}

func feedFromEntry(entry *zeroconf.ServiceEntry) (*Feed, error) {
	feed, err := DecodeFeedTXT(StringsToTXTRecords(entry.Text))
	if err != nil {
		return nil, err
	}
	feed.Instance = entry.Instance
	feed.Host = entry.HostName
	feed.Port = uint16(entry.Port)
	feed.Addresses = entryAddresses(entry)
	return feed, nil
}

func entryAddresses(entry *zeroconf.ServiceEntry) []string {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return addrs
}

// interfaces returns nil (all interfaces) unless name resolves.
func interfaces(name string) []net.Interface {
	if name == "" {
		return nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

// mergeAddresses adds new addresses to existing list, avoiding duplicates.
func mergeAddresses(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range add {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses drops every address in gone.
func removeAddresses(addresses, gone []string) []string {
	toRemove := make(map[string]bool, len(gone))
	for _, addr := range gone {
		toRemove[addr] = true
	}
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !toRemove[addr] {
			result = append(result, addr)
		}
	}
	return result
}
