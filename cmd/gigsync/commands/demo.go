package commands

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gigsync/gigsync-go/pkg/catalog"
	"github.com/gigsync/gigsync-go/pkg/query"
	"github.com/gigsync/gigsync-go/pkg/transport/memfeed"
)

// Demo is the in-process backend behind the "mem" transport.
type Demo struct {
	Hub     *memfeed.Hub
	Backend *query.MemoryBackend
}

// NewDemo creates an empty demo backend.
func NewDemo() *Demo {
	hub := memfeed.NewHub()
	return &Demo{Hub: hub, Backend: query.NewMemoryBackend(hub)}
}

var demoSongs = []query.Record{
	{"id": "s1", "title": "Superstition", "artist": "Stevie Wonder", "key": "Ebm", "duration_sec": 245},
	{"id": "s2", "title": "September", "artist": "Earth, Wind & Fire", "key": "A", "duration_sec": 215},
	{"id": "s3", "title": "Valerie", "artist": "Amy Winehouse", "key": "Eb", "duration_sec": 233},
	{"id": "s4", "title": "Uptown Funk", "artist": "Bruno Mars", "key": "Dm", "duration_sec": 270},
}

// Seed loads a small repertoire, two requests and one set list.
func (d *Demo) Seed() error {
	for _, rec := range demoSongs {
		if err := d.Backend.Put(catalog.EntitySongs, rec); err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	for i, songID := range []string{"s2", "s3"} {
		rec := query.Record{
			"id":           fmt.Sprintf("r%d", i+1),
			"song_id":      songID,
			"requested_by": "table " + fmt.Sprint(i+4),
			"is_locked":    false,
			"created_at":   now.Add(time.Duration(i) * time.Minute).Format(time.RFC3339Nano),
		}
		if err := d.Backend.Put(catalog.EntityRequests, rec); err != nil {
			return err
		}
	}
	return d.Backend.Put(catalog.EntitySetLists, query.Record{
		"id":         "l1",
		"name":       "First set",
		"song_ids":   []string{"s1", "s4", "s2"},
		"updated_at": now.Format(time.RFC3339Nano),
	})
}

// AddRequest inserts an audience request for songID and returns its id.
func (d *Demo) AddRequest(songID, by string) (string, error) {
	id := uuid.NewString()
	err := d.Backend.Put(catalog.EntityRequests, query.Record{
		"id":           id,
		"song_id":      songID,
		"requested_by": by,
		"is_locked":    false,
		"created_at":   time.Now().UTC().Format(time.RFC3339Nano),
	})
	return id, err
}
