// Package discovery finds a gig feed on the local network via mDNS/DNS-SD.
//
// A host that relays the change feed (a WebSocket endpoint or a NATS server)
// announces one _gigsync._tcp service. Clients browse for it instead of
// being configured with a URL.
//
// # Instance Names
//
// The instance name is the user-facing venue name, truncated to 63 bytes.
//
// # TXT Records
//
//   - v: TXT format version (required, currently "1")
//   - proto: "ws", "wss" or "nats" (required)
//   - path: WebSocket path (optional, default "/feed")
//   - subj: NATS subject prefix (optional)
//   - band: band or project name (optional)
//
// A service whose TXT records do not parse is ignored while browsing.
package discovery
