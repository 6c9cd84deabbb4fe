package query

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigsync/gigsync-go/pkg/syncerr"
	"github.com/gigsync/gigsync-go/pkg/transport"
)

type recordingPublisher struct {
	events []transport.Event
}

func (p *recordingPublisher) Publish(ev transport.Event) {
	p.events = append(p.events, ev)
}

func TestMemoryBackendRead(t *testing.T) {
	b := NewMemoryBackend(nil)
	require.NoError(t, b.Put("requests", Record{"id": "r2", "gig_id": "g1"}))
	require.NoError(t, b.Put("requests", Record{"id": "r1", "gig_id": "g1"}))
	require.NoError(t, b.Put("requests", Record{"id": "r3", "gig_id": "g2"}))

	rows, err := b.Read(context.Background(), "requests", transport.Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "r1", rows[0]["id"])

	rows, err = b.Read(context.Background(), "requests", transport.Filter{Field: "gig_id", Value: "g1"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = b.Read(context.Background(), "songs", transport.Filter{})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)

	assert.Equal(t, 3, b.Reads())
}

func TestMemoryBackendFailReads(t *testing.T) {
	b := NewMemoryBackend(nil)
	boom := errors.New("boom")
	b.FailReads(2, boom)

	_, err := b.Read(context.Background(), "songs", transport.Filter{})
	assert.ErrorIs(t, err, boom)
	_, err = b.Read(context.Background(), "songs", transport.Filter{})
	assert.ErrorIs(t, err, boom)
	_, err = b.Read(context.Background(), "songs", transport.Filter{})
	assert.NoError(t, err)
}

func TestMemoryBackendExclusive(t *testing.T) {
	pub := &recordingPublisher{}
	b := NewMemoryBackend(pub)
	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, b.Put("requests", Record{"id": id, "is_locked": id == "r1"}))
	}
	pub.events = nil

	require.NoError(t, b.ClaimExclusive(context.Background(), "requests", "is_locked", "r2"))

	rows, _ := b.Read(context.Background(), "requests", transport.Filter{})
	locked := map[string]bool{}
	for _, r := range rows {
		locked[r["id"].(string)] = r["is_locked"].(bool)
	}
	assert.Equal(t, map[string]bool{"r1": false, "r2": true, "r3": false}, locked)
	assert.Len(t, pub.events, 2, "only r1 and r2 changed")

	require.NoError(t, b.ReleaseExclusive(context.Background(), "requests", "is_locked", "r2"))
	rows, _ = b.Read(context.Background(), "requests", transport.Filter{})
	for _, r := range rows {
		assert.False(t, r["is_locked"].(bool))
	}

	assert.ErrorIs(t, b.ClaimExclusive(context.Background(), "requests", "is_locked", "nope"), ErrNotFound)

	b.SetMutationError(errors.New("rejected"))
	assert.Error(t, b.ClaimExclusive(context.Background(), "requests", "is_locked", "r1"))
}

func TestMemoryBackendPublishesChanges(t *testing.T) {
	pub := &recordingPublisher{}
	b := NewMemoryBackend(pub)

	require.NoError(t, b.Put("songs", Record{"id": "s1", "title": "Jolene"}))
	require.NoError(t, b.Put("songs", Record{"id": "s1", "title": "Jolene (live)"}))
	b.Delete("songs", "s1")
	b.Delete("songs", "s1")

	require.Len(t, pub.events, 3)
	assert.Equal(t, transport.OpInsert, pub.events[0].Op)
	assert.Equal(t, transport.OpUpdate, pub.events[1].Op)
	assert.Equal(t, transport.OpDelete, pub.events[2].Op)
	assert.Equal(t, "s1", pub.events[2].Key)
}

func TestHTTPClientRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/requests", r.URL.Path)
		assert.Equal(t, "eq.g1", r.URL.Query().Get("gig_id"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode([]map[string]any{{"id": "r1"}, {"id": "r2"}})
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL + "/rest/", Token: "secret"}, nil)
	rows, err := c.Read(context.Background(), "requests", transport.Filter{Field: "gig_id", Value: "g1"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "r2", rows[1]["id"])
}

func TestHTTPClientDropsMalformedRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"a","title":"Jolene"}, 42, null, "x", {"id":"b","title":"Hurt"}]`))
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL}, nil)
	rows, err := c.Read(context.Background(), "songs", transport.Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Jolene", rows[0]["title"])
	assert.Equal(t, "b", rows[1]["id"])
}

func TestHTTPClientEmptyAndInvalidBody(t *testing.T) {
	body := "null"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()
	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL}, nil)

	rows, err := c.Read(context.Background(), "songs", transport.Filter{})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)

	body = `{"id":"a"}`
	_, err = c.Read(context.Background(), "songs", transport.Filter{})
	var fe *syncerr.FetchError
	require.ErrorAs(t, err, &fe)
}

func TestDecodeRow(t *testing.T) {
	_, err := decodeRow("songs", json.RawMessage(`42`))
	var shape *syncerr.DataShapeError
	require.ErrorAs(t, err, &shape)
	assert.Equal(t, "songs", shape.EntityType)

	_, err = decodeRow("songs", json.RawMessage(`null`))
	require.ErrorAs(t, err, &shape)

	rec, err := decodeRow("songs", json.RawMessage(`{"id":"s1"}`))
	require.NoError(t, err)
	assert.Equal(t, "s1", rec["id"])
}

func TestHTTPClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL}, nil)
	_, err := c.Read(context.Background(), "songs", transport.Filter{})

	var fe *syncerr.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusServiceUnavailable, fe.StatusCode)
	assert.Contains(t, err.Error(), "overloaded")
}

func TestHTTPClientMutations(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var args exclusiveArgs
		require.NoError(t, json.NewDecoder(r.Body).Decode(&args))
		got = append(got, r.URL.Path+" "+args.Entity+"/"+args.ID+"."+args.Field)
		if args.ID == "bad" {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL}, nil)
	require.NoError(t, c.ClaimExclusive(context.Background(), "requests", "is_locked", "r1"))
	require.NoError(t, c.ReleaseExclusive(context.Background(), "requests", "is_locked", "r1"))

	err := c.ClaimExclusive(context.Background(), "requests", "is_locked", "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 409")

	assert.Equal(t, []string{
		"/rpc/claim_exclusive requests/r1.is_locked",
		"/rpc/release_exclusive requests/r1.is_locked",
		"/rpc/claim_exclusive requests/bad.is_locked",
	}, got)
}
