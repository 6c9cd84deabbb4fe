package catalog

import "time"

// Entity types.
const (
	EntitySongs    = "songs"
	EntityRequests = "requests"
	EntitySetLists = "set_lists"

	// LockField is the exclusive flag on requests.
	LockField = "is_locked"
)

// Song is a song in the band's repertoire.
type Song struct {
	ID          string `cbor:"1,keyasint" json:"id"`
	Title       string `cbor:"2,keyasint" json:"title"`
	Artist      string `cbor:"3,keyasint,omitempty" json:"artist,omitempty"`
	Key         string `cbor:"4,keyasint,omitempty" json:"key,omitempty"`
	DurationSec int    `cbor:"5,keyasint,omitempty" json:"duration_sec,omitempty"`
}

// Request is an audience song request.
type Request struct {
	ID          string    `cbor:"1,keyasint" json:"id"`
	SongID      string    `cbor:"2,keyasint" json:"song_id"`
	RequestedBy string    `cbor:"3,keyasint,omitempty" json:"requested_by,omitempty"`
	Note        string    `cbor:"4,keyasint,omitempty" json:"note,omitempty"`
	IsLocked    bool      `cbor:"5,keyasint" json:"is_locked"`
	CreatedAt   time.Time `cbor:"6,keyasint,omitempty" json:"created_at,omitempty"`
}

// SetList is an ordered list of songs.
type SetList struct {
	ID        string    `cbor:"1,keyasint" json:"id"`
	Name      string    `cbor:"2,keyasint" json:"name"`
	SongIDs   []string  `cbor:"3,keyasint" json:"song_ids"`
	UpdatedAt time.Time `cbor:"4,keyasint,omitempty" json:"updated_at,omitempty"`
}

// LockedRequest returns the request currently holding the lock.
func LockedRequest(requests []Request) (Request, bool) {
	for _, r := range requests {
		if r.IsLocked {
			return r, true
		}
	}
	return Request{}, false
}
