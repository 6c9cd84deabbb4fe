package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/gigsync/gigsync-go/pkg/catalog"
	"github.com/gigsync/gigsync-go/pkg/syncerr"
)

// Console is the interactive prompt of "gigsync watch --interactive".
type Console struct {
	rt  *Runtime
	rl  *readline.Instance
	out io.Writer
}

// newReadline opens the terminal prompt. It is created before the
// runtime so log output can go through rl.Stderr().
func newReadline() (*readline.Instance, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "gigsync> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return rl, nil
}

// NewConsole creates a console reading from rl.
func NewConsole(rl *readline.Instance, rt *Runtime) *Console {
	return &Console{rt: rt, rl: rl, out: rl.Stdout()}
}

// Stdout returns a writer that does not clobber the prompt.
func (c *Console) Stdout() io.Writer {
	return c.out
}

// Run reads commands until quit, EOF or ctx ends.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if !c.Exec(ctx, line) {
			cancel()
			return
		}
	}
}

// Exec runs one command line. It returns false when the console should
// exit.
func (c *Console) Exec(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()

	case "status", "s":
		writeStatus(c.out, c.rt)

	case "songs":
		c.cmdSongs()

	case "requests", "r":
		c.cmdRequests()

	case "sets", "setlists":
		c.cmdSetLists()

	case "lock", "unlock":
		c.cmdLock(ctx, cmd == "lock", args)

	case "refetch", "f":
		bypass := len(args) == 0 || args[0] != "cache"
		c.rt.Catalog.Refetch(bypass)
		fmt.Fprintf(c.out, "Refetch requested (bypass cache: %t)\n", bypass)

	case "reconnect":
		if c.rt.Catalog.Reconnect(ctx) {
			fmt.Fprintln(c.out, "Reconnected")
		} else {
			fmt.Fprintf(c.out, "Reconnect failed: %v\n", c.rt.Conn.LastError())
		}

	case "online", "offline":
		c.rt.Conn.SetOnline(cmd == "online")
		fmt.Fprintf(c.out, "Network %s\n", cmd)

	case "show", "hide":
		c.rt.Catalog.SetVisible(cmd == "show")
		fmt.Fprintf(c.out, "Visibility: %s\n", cmd)

	case "request":
		c.cmdRequest(args)

	case "drop":
		if c.rt.Demo == nil {
			fmt.Fprintln(c.out, "drop requires the mem transport")
			break
		}
		c.rt.Demo.Hub.DropAll(errors.New("dropped from console"))
		fmt.Fprintln(c.out, "Push connection dropped")

	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Exiting...")
		return false

	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `Commands:
  status, s             Show connection and collection status
  songs                 List songs
  requests, r           List requests (with the locked one marked)
  sets, setlists        List set lists
  lock <id>             Mark a request as being played
  unlock <id>           Clear the lock on a request
  refetch [cache]       Refresh every collection ("cache" allows cache hits)
  reconnect             Reset failures and redial the push connection
  online | offline      Simulate the host network state
  show | hide           Simulate app visibility
  request <song> [by]   Add a request (mem transport only)
  drop                  Drop the push connection (mem transport only)
  quit, exit, q         Exit`)
}

func (c *Console) cmdSongs() {
	songs := c.rt.Catalog.Songs.Items()
	if len(songs) == 0 {
		fmt.Fprintln(c.out, "No songs")
		return
	}
	for _, s := range songs {
		fmt.Fprintf(c.out, "  %-8s %-28s %-22s %-4s %s\n",
			s.ID, s.Title, s.Artist, s.Key, formatSeconds(s.DurationSec))
	}
}

func (c *Console) cmdRequests() {
	requests := c.rt.Catalog.Requests.Items()
	if len(requests) == 0 {
		fmt.Fprintln(c.out, "No requests")
		return
	}
	titles := c.songTitles()
	pending, hasPending := c.rt.Catalog.RequestLock.Pending()
	for _, r := range requests {
		mark := " "
		if r.IsLocked {
			mark = "*"
		}
		suffix := ""
		if hasPending && pending.ItemID == r.ID && !pending.Acknowledged {
			suffix = " (pending)"
		}
		fmt.Fprintf(c.out, "%s %-8s %-28s %s%s\n", mark, shortID(r.ID), songTitle(titles, r.SongID), r.RequestedBy, suffix)
	}
}

func (c *Console) cmdSetLists() {
	lists := c.rt.Catalog.SetLists.Items()
	if len(lists) == 0 {
		fmt.Fprintln(c.out, "No set lists")
		return
	}
	titles := c.songTitles()
	for _, l := range lists {
		fmt.Fprintf(c.out, "  %s (%d songs)\n", l.Name, len(l.SongIDs))
		for i, id := range l.SongIDs {
			fmt.Fprintf(c.out, "    %2d. %s\n", i+1, songTitle(titles, id))
		}
	}
}

func (c *Console) cmdLock(ctx context.Context, lock bool, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: lock|unlock <request-id>")
		return
	}
	id := c.resolveRequestID(args[0])

	var err error
	verb := "locked"
	if lock {
		err = c.rt.Catalog.LockRequest(ctx, id)
	} else {
		verb = "unlocked"
		err = c.rt.Catalog.UnlockRequest(ctx, id)
	}

	var merr *syncerr.MutationError
	switch {
	case err == nil:
		fmt.Fprintf(c.out, "Request %s %s\n", shortID(id), verb)
	case errors.As(err, &merr):
		fmt.Fprintf(c.out, "Rejected: %v\n", merr.Err)
	default:
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
}

func (c *Console) cmdRequest(args []string) {
	if c.rt.Demo == nil {
		fmt.Fprintln(c.out, "request requires the mem transport")
		return
	}
	if len(args) == 0 {
		fmt.Fprintln(c.out, "Usage: request <song-id> [requested by]")
		return
	}
	by := strings.Join(args[1:], " ")
	id, err := c.rt.Demo.AddRequest(args[0], by)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Request %s added\n", shortID(id))
}

// resolveRequestID expands a unique id prefix, as printed by "requests".
func (c *Console) resolveRequestID(prefix string) string {
	var match string
	for _, r := range c.rt.Catalog.Requests.Items() {
		if r.ID == prefix {
			return r.ID
		}
		if strings.HasPrefix(r.ID, prefix) {
			if match != "" {
				return prefix
			}
			match = r.ID
		}
	}
	if match == "" {
		return prefix
	}
	return match
}

func (c *Console) songTitles() map[string]string {
	titles := make(map[string]string)
	for _, s := range c.rt.Catalog.Songs.Items() {
		titles[s.ID] = s.Title
	}
	return titles
}

func songTitle(titles map[string]string, id string) string {
	if t, ok := titles[id]; ok {
		return t
	}
	return "? " + id
}

// writeStatus prints the connection and per-collection status.
func writeStatus(w io.Writer, rt *Runtime) {
	conn := rt.Conn
	fmt.Fprintf(w, "Connection: %s (online: %t, channels: %d)\n",
		conn.State(), conn.Online(), rt.Subs.Channels())
	if err := conn.LastError(); err != nil {
		fmt.Fprintf(w, "  Last error: %v\n", err)
	}

	statuses := rt.Catalog.Statuses()
	for _, name := range rt.Catalog.Names() {
		st := statuses[name]
		fmt.Fprintf(w, "  %-10s quality=%-7s loading=%-5t retry=%d reconnects=%d",
			name, st.Quality, st.IsLoading, st.RetryAttempt, st.ReconnectAttempts)
		if !st.LastSuccessAt.IsZero() {
			fmt.Fprintf(w, " synced=%s", st.LastSuccessAt.Format(time.TimeOnly))
		}
		if st.Degraded() {
			fmt.Fprint(w, " DEGRADED")
		}
		if st.LastError != nil {
			fmt.Fprintf(w, " error=%q", st.LastError.Error())
		}
		fmt.Fprintln(w)
	}
	if locked, ok := catalog.LockedRequest(rt.Catalog.Requests.Items()); ok {
		fmt.Fprintf(w, "  Playing: request %s\n", shortID(locked.ID))
	}
}

func formatSeconds(sec int) string {
	if sec <= 0 {
		return ""
	}
	return fmt.Sprintf("%d:%02d", sec/60, sec%60)
}
