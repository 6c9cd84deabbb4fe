package discovery

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"
)

// Service constants.
const (
	// ServiceType is the DNS-SD service type of a gig feed.
	ServiceType = "_gigsync._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is used when FeedInfo.Port is zero.
	DefaultPort = 8787

	// DefaultPath is the WebSocket path when none is announced.
	DefaultPath = "/feed"

	// TXTVersion is the current TXT record format version.
	TXTVersion = "1"

	// BrowseTimeout bounds Find and FindAll.
	BrowseTimeout = 5 * time.Second

	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63
)

// TXT record keys.
const (
	TXTKeyVersion  = "v"
	TXTKeyProtocol = "proto"
	TXTKeyPath     = "path"
	TXTKeySubject  = "subj"
	TXTKeyBand     = "band"
)

// Protocol is the feed transport.
type Protocol string

const (
	ProtocolWebSocket       Protocol = "ws"
	ProtocolSecureWebSocket Protocol = "wss"
	ProtocolNATS            Protocol = "nats"
)

// Valid reports whether p is a known protocol.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolWebSocket, ProtocolSecureWebSocket, ProtocolNATS:
		return true
	}
	return false
}

// Errors.
var (
	ErrNotFound           = errors.New("no feed found")
	ErrMissingRequired    = errors.New("missing required TXT record")
	ErrUnsupportedVersion = errors.New("unsupported TXT version")
	ErrInvalidProtocol    = errors.New("invalid feed protocol")
	ErrEmptyVenue         = errors.New("venue name required")
	ErrNotAnnounced       = errors.New("feed not announced")
)

// FeedInfo is what a feed host announces.
type FeedInfo struct {
	// Venue becomes the instance name.
	Venue    string
	Band     string
	Protocol Protocol
	Port     uint16
	Path     string
	Subject  string
}

// Feed is a discovered feed.
type Feed struct {
	Instance  string
	Host      string
	Port      uint16
	Addresses []string

	Protocol Protocol
	Path     string
	Subject  string
	Band     string
}

// URL returns the dial URL of the feed using the first address, or the
// host name when no address was resolved.
func (f *Feed) URL() string {
	host := strings.TrimSuffix(f.Host, ".")
	if len(f.Addresses) > 0 {
		host = f.Addresses[0]
	}
	hostPort := net.JoinHostPort(host, strconv.Itoa(int(f.Port)))

	switch f.Protocol {
	case ProtocolNATS:
		return "nats://" + hostPort
	default:
		path := f.Path
		if path == "" {
			path = DefaultPath
		}
		return string(f.Protocol) + "://" + hostPort + path
	}
}
