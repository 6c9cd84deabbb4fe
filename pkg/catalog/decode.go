package catalog

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/gigsync/gigsync-go/pkg/query"
	"github.com/gigsync/gigsync-go/pkg/syncerr"
)

// DecodeSong converts a songs row.
func DecodeSong(rec query.Record) (Song, error) {
	d := decoder{entity: EntitySongs, rec: rec}
	s := Song{
		ID:          d.str("id", true),
		Title:       d.str("title", true),
		Artist:      d.str("artist", false),
		Key:         d.str("key", false),
		DurationSec: d.integer("duration_sec"),
	}
	return s, d.err
}

// DecodeRequest converts a requests row.
func DecodeRequest(rec query.Record) (Request, error) {
	d := decoder{entity: EntityRequests, rec: rec}
	r := Request{
		ID:          d.str("id", true),
		SongID:      d.str("song_id", true),
		RequestedBy: d.str("requested_by", false),
		Note:        d.str("note", false),
		IsLocked:    d.boolean(LockField),
		CreatedAt:   d.timestamp("created_at"),
	}
	return r, d.err
}

// DecodeSetList converts a set_lists row.
func DecodeSetList(rec query.Record) (SetList, error) {
	d := decoder{entity: EntitySetLists, rec: rec}
	s := SetList{
		ID:        d.str("id", true),
		Name:      d.str("name", true),
		SongIDs:   d.strings("song_ids"),
		UpdatedAt: d.timestamp("updated_at"),
	}
	return s, d.err
}

// decoder reads typed fields and keeps the first error.
type decoder struct {
	entity string
	rec    query.Record
	err    error
}

func (d *decoder) fail(field, format string, args ...any) {
	if d.err == nil {
		d.err = &syncerr.DataShapeError{EntityType: d.entity, Field: field, Reason: fmt.Sprintf(format, args...)}
	}
}

func (d *decoder) str(field string, required bool) string {
	v, ok := d.rec[field]
	if !ok || v == nil {
		if required {
			d.fail(field, "missing")
		}
		return ""
	}
	s, ok := v.(string)
	if !ok {
		d.fail(field, "want string, got %T", v)
		return ""
	}
	if required && s == "" {
		d.fail(field, "empty")
	}
	return s
}

func (d *decoder) integer(field string) int {
	v, ok := d.rec[field]
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		if n != math.Trunc(n) {
			d.fail(field, "want integer, got %v", n)
			return 0
		}
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			d.fail(field, "want integer, got %q", n.String())
			return 0
		}
		return int(i)
	default:
		d.fail(field, "want integer, got %T", v)
		return 0
	}
}

func (d *decoder) boolean(field string) bool {
	v, ok := d.rec[field]
	if !ok || v == nil {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		d.fail(field, "want bool, got %T", v)
	}
	return b
}

func (d *decoder) timestamp(field string) time.Time {
	v, ok := d.rec[field]
	if !ok || v == nil {
		return time.Time{}
	}
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			d.fail(field, "bad timestamp %q", t)
		}
		return parsed
	default:
		d.fail(field, "want timestamp, got %T", v)
		return time.Time{}
	}
}

func (d *decoder) strings(field string) []string {
	v, ok := d.rec[field]
	if !ok || v == nil {
		return []string{}
	}
	switch list := v.(type) {
	case []string:
		return append([]string{}, list...)
	case []any:
		out := make([]string, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				d.fail(field, "element %d: want string, got %T", i, item)
				return nil
			}
			out = append(out, s)
		}
		return out
	default:
		d.fail(field, "want list, got %T", v)
		return nil
	}
}
