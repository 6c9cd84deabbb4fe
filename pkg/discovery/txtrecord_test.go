package discovery

import (
	"errors"
	"strings"
	"testing"
)

func TestFeedTXTRoundTrip(t *testing.T) {
	info := &FeedInfo{Venue: "Blue Moon", Band: "The Strays", Protocol: ProtocolNATS, Subject: "gigsync"}

	strs := TXTRecordsToStrings(EncodeFeedTXT(info))
	feed, err := DecodeFeedTXT(StringsToTXTRecords(strs))
	if err != nil {
		t.Fatalf("DecodeFeedTXT: %v", err)
	}
	if feed.Protocol != ProtocolNATS || feed.Subject != "gigsync" || feed.Band != "The Strays" {
		t.Errorf("decoded %+v", feed)
	}
	if feed.Path != "" {
		t.Errorf("Path = %q, want empty", feed.Path)
	}
}

func TestDecodeFeedTXTErrors(t *testing.T) {
	tests := []struct {
		name string
		txt  TXTRecordMap
		want error
	}{
		{"missing version", TXTRecordMap{TXTKeyProtocol: "ws"}, ErrMissingRequired},
		{"future version", TXTRecordMap{TXTKeyVersion: "2", TXTKeyProtocol: "ws"}, ErrUnsupportedVersion},
		{"missing protocol", TXTRecordMap{TXTKeyVersion: "1"}, ErrMissingRequired},
		{"unknown protocol", TXTRecordMap{TXTKeyVersion: "1", TXTKeyProtocol: "mqtt"}, ErrInvalidProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFeedTXT(tt.txt)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStringsToTXTRecords(t *testing.T) {
	txt := StringsToTXTRecords([]string{"v=1", "path=/a=b", "flag", ""})
	if txt["v"] != "1" {
		t.Errorf("v = %q", txt["v"])
	}
	if txt["path"] != "/a=b" {
		t.Errorf("path = %q", txt["path"])
	}
	if v, ok := txt["flag"]; !ok || v != "" {
		t.Errorf("flag = %q, %v", v, ok)
	}
	if len(txt) != 3 {
		t.Errorf("len = %d, want 3", len(txt))
	}
}

func TestInstanceName(t *testing.T) {
	if _, err := InstanceName("  "); !errors.Is(err, ErrEmptyVenue) {
		t.Errorf("err = %v, want ErrEmptyVenue", err)
	}
	name, err := InstanceName(strings.Repeat("x", 80))
	if err != nil {
		t.Fatal(err)
	}
	if len(name) != MaxInstanceNameLen {
		t.Errorf("len = %d, want %d", len(name), MaxInstanceNameLen)
	}
}

func TestFeedURL(t *testing.T) {
	tests := []struct {
		name string
		feed Feed
		want string
	}{
		{"websocket default path", Feed{Host: "pi.local.", Port: 8787, Protocol: ProtocolWebSocket}, "ws://pi.local:8787/feed"},
		{"websocket address", Feed{Addresses: []string{"192.168.1.20"}, Port: 80, Protocol: ProtocolSecureWebSocket, Path: "/live"}, "wss://192.168.1.20:80/live"},
		{"ipv6", Feed{Addresses: []string{"fe80::1"}, Port: 4222, Protocol: ProtocolNATS}, "nats://[fe80::1]:4222"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.feed.URL(); got != tt.want {
				t.Errorf("URL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAdvertiserValidation(t *testing.T) {
	a := NewAdvertiser(AdvertiserConfig{})
	if err := a.Announce(FeedInfo{Protocol: ProtocolWebSocket}); !errors.Is(err, ErrEmptyVenue) {
		t.Errorf("err = %v, want ErrEmptyVenue", err)
	}
	if err := a.Announce(FeedInfo{Venue: "Blue Moon", Protocol: "mqtt"}); !errors.Is(err, ErrInvalidProtocol) {
		t.Errorf("err = %v, want ErrInvalidProtocol", err)
	}
	if err := a.Update(FeedInfo{Venue: "Blue Moon", Protocol: ProtocolWebSocket}); !errors.Is(err, ErrNotAnnounced) {
		t.Errorf("err = %v, want ErrNotAnnounced", err)
	}
	a.Stop()
}
