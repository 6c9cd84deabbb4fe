package collection

import (
	"context"

	"github.com/gigsync/gigsync-go/pkg/breaker"
	"github.com/gigsync/gigsync-go/pkg/connection"
	"github.com/gigsync/gigsync-go/pkg/log"
	"github.com/gigsync/gigsync-go/pkg/subscription"
	"github.com/gigsync/gigsync-go/pkg/transport"
	"github.com/gigsync/gigsync-go/pkg/watchdog"
)

// subscribe creates one subscription per watched entity type once the
// settle delay has passed.
func (c *Controller[T]) subscribe(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.running {
		c.mu.Unlock()
		return
	}
	c.settleTmr = nil
	c.mu.Unlock()

	var ids []subscription.ID
	for _, entity := range c.cfg.Watch {
		var filter transport.Filter
		if entity == c.cfg.Entity {
			filter = c.cfg.Filter
		}
		id, err := c.subs.Create(entity, c.onNotification, filter)
		if err != nil {
			c.logger.Warn("subscribe failed", "entity", entity, "error", err)
			continue
		}
		ids = append(ids, id)
	}

	c.mu.Lock()
	if gen != c.gen || !c.running {
		c.mu.Unlock()
		for _, id := range ids {
			c.subs.Remove(id)
		}
		return
	}
	c.subIDs = append(c.subIDs, ids...)
	c.mu.Unlock()
}

func (c *Controller[T]) onNotification(ev transport.Event) {
	c.logger.Debug("change notification", "entity", ev.EntityType, "op", ev.Op, "key", ev.Key)
	c.requestFetch(true, true)
}

// connectionStateChanged mirrors the online signal and catches up on
// changes missed while disconnected.
func (c *Controller[T]) connectionStateChanged(state connection.State, _ error) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	prev := c.connState
	c.connState = state
	c.status.IsOnline = c.conn.Online()
	catchUp := state == connection.StateConnected && prev != connection.StateConnected
	if catchUp {
		c.connectedAt = c.clock.Now()
	}
	c.mu.Unlock()

	c.emitStatus()
	if catchUp {
		c.requestFetch(true, false)
	}
}

func (c *Controller[T]) qualityChanged(oldQuality, newQuality watchdog.Quality) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.status.Quality = newQuality
	probe := newQuality == watchdog.QualityPoor && c.cfg.ProbeWhenPoor
	c.mu.Unlock()

	c.metrics.SetQuality(c.cfg.Name, newQuality.String())
	c.eventLog.Log(log.Event{
		Timestamp:  c.clock.Now(),
		Layer:      log.LayerCollection,
		Category:   log.CategoryState,
		Collection: c.cfg.Name,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityQuality,
			OldState: oldQuality.String(),
			NewState: newQuality.String(),
		},
	})
	c.emitStatus()
	if probe {
		c.requestFetch(true, false)
	}
}

// stalled forces a reconnect of the push connection, unless the connection
// is already being renewed or was renewed within the stall window. Then a
// catch-up fetch is enough.
func (c *Controller[T]) stalled() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	renewing := c.connState == connection.StateConnecting ||
		(!c.connectedAt.IsZero() && c.clock.Since(c.connectedAt) < c.cfg.Watchdog.StalledAfter)
	if renewing {
		state := c.connState
		c.mu.Unlock()
		c.logger.Debug("collection stalled, connection already renewed", "state", state)
		c.requestFetch(true, false)
		return
	}
	c.status.ReconnectAttempts++
	attempts := c.status.ReconnectAttempts
	c.mu.Unlock()

	c.logger.Warn("collection stalled, forcing reconnect", "reconnect_attempts", attempts)
	c.emitStatus()
	// The connection is shared, so the attempt outlives this collection.
	go c.conn.Reconnect(context.Background())
}

// Compile-time interface satisfaction checks.
var (
	_ Circuit    = (*breaker.Registry)(nil)
	_ Connection = (*connection.Manager)(nil)
	_ Subscriber = (*subscription.Registry)(nil)
)
