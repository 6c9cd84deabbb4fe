package commands

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportStatus(t *testing.T) {
	rt := startRuntime(t, testConfig())

	var buf bytes.Buffer
	reportStatus(slog.New(slog.NewTextHandler(&buf, nil)), rt)
	out := buf.String()

	assert.Contains(t, out, "state=CONNECTED")
	assert.Contains(t, out, "channels=3")
	for _, name := range []string{"songs", "requests", "set_lists"} {
		assert.Contains(t, out, "collection="+name)
	}
	assert.NotContains(t, out, "collection degraded")
}

func TestSchedulerRunsVacuum(t *testing.T) {
	s, err := NewScheduler(discardLogger())
	require.NoError(t, err)

	ran := make(chan struct{}, 1)
	id, err := s.ScheduleVacuum(10*time.Millisecond, func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	s.Start()
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(eventually):
		t.Fatal("vacuum job did not run")
	}
}
