package collection

import (
	"context"
	"errors"
	"time"

	"github.com/gigsync/gigsync-go/pkg/log"
	"github.com/gigsync/gigsync-go/pkg/metrics"
	"github.com/gigsync/gigsync-go/pkg/query"
	"github.com/gigsync/gigsync-go/pkg/syncerr"
)

// requestFetch applies the in-flight and debounce guards and then fetches.
// notified marks a request triggered by a change notification; those are
// remembered when rejected by the in-flight guard.
func (c *Controller[T]) requestFetch(bypass, notified bool) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	if c.inFlight {
		if notified {
			c.pendingRefresh = true
		}
		c.mu.Unlock()
		return
	}
	if c.debounceTmr != nil {
		c.deferredBypass = c.deferredBypass || bypass
		c.mu.Unlock()
		return
	}
	if !c.lastCompletion.IsZero() {
		if wait := c.cfg.Debounce - c.clock.Since(c.lastCompletion); wait > 0 {
			gen := c.gen
			c.deferredBypass = bypass
			c.debounceTmr = c.clock.AfterFunc(wait, func() { c.fireDeferred(gen) })
			c.mu.Unlock()
			return
		}
	}
	run := c.beginLocked(bypass)
	c.mu.Unlock()
	run()
}

// fireDeferred runs the single fetch deferred by the debounce window.
func (c *Controller[T]) fireDeferred(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.running {
		c.mu.Unlock()
		return
	}
	c.debounceTmr = nil
	bypass := c.deferredBypass
	c.deferredBypass = false
	if c.inFlight {
		c.pendingRefresh = c.pendingRefresh || bypass
		c.mu.Unlock()
		return
	}
	run := c.beginLocked(bypass)
	c.mu.Unlock()
	run()
}

// retryFire runs a scheduled retry.
func (c *Controller[T]) retryFire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.running {
		c.mu.Unlock()
		return
	}
	c.retryTmr = nil
	c.mu.Unlock()
	c.requestFetch(true, false)
}

// beginLocked starts a fetch and returns the work to run once mu is
// released. Caller holds mu.
func (c *Controller[T]) beginLocked(bypass bool) func() {
	gen := c.gen

	if !bypass {
		if items, e, ok := c.cached.Get(); ok {
			return func() { c.deliverCache(gen, items, e.Seq, e.StoredAt) }
		}
	}

	if c.retryTmr != nil {
		c.retryTmr.Stop()
		c.retryTmr = nil
	}
	c.inFlight = true
	c.seq++
	seq := c.seq
	readCtx, cancel := context.WithTimeout(c.ctx, c.cfg.ReadTimeout)
	c.readCancel = cancel
	c.status.IsLoading = true

	var paint func()
	if !c.delivered {
		if items, e, ok := c.cached.Get(); ok {
			paint = func() { c.deliverCache(gen, items, e.Seq, e.StoredAt) }
		}
	}

	c.wg.Add(1)
	return func() {
		c.emitStatus()
		if paint != nil {
			paint()
		}
		go c.read(readCtx, cancel, gen, seq, bypass)
	}
}

func (c *Controller[T]) deliverCache(gen uint64, items []T, seq uint64, storedAt time.Time) {
	if !c.deliver(gen, items, Meta{Source: SourceCache, Seq: seq, StoredAt: storedAt}) {
		return
	}
	c.metrics.IncCacheDelivery(c.cfg.Name)
	c.logFetch(log.FetchSourceCache, seq, len(items), 0, 0, false)
}

// read performs one network read through the circuit breaker.
func (c *Controller[T]) read(ctx context.Context, cancel context.CancelFunc, gen, seq uint64, bypass bool) {
	defer c.wg.Done()
	defer cancel()

	start := c.clock.Now()
	var rows []query.Record
	err := c.circuit.Execute(ctx, c.service, func(ctx context.Context) error {
		var err error
		rows, err = c.reader.Read(ctx, c.cfg.Entity, c.cfg.Filter)
		return err
	})
	c.complete(gen, seq, bypass, rows, c.classify(err), c.clock.Since(start))
}

// classify maps a read error onto the error taxonomy.
func (c *Controller[T]) classify(err error) error {
	if err == nil || syncerr.IsAbort(err) || syncerr.IsCircuitOpen(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &syncerr.FetchError{Collection: c.service, Timeout: true, Err: err}
	}
	var fe *syncerr.FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &syncerr.FetchError{Collection: c.service, Err: err}
}

// complete handles the end of a read. Late completions are discarded.
func (c *Controller[T]) complete(gen, seq uint64, bypass bool, rows []query.Record, err error, elapsed time.Duration) {
	c.mu.Lock()
	if gen != c.gen || !c.running {
		c.mu.Unlock()
		return
	}
	c.inFlight = false
	c.readCancel = nil
	c.lastCompletion = c.clock.Now()
	c.status.IsLoading = false
	pending := c.pendingRefresh
	c.pendingRefresh = false

	if err != nil {
		if c.failLocked(gen, err) {
			// The retry covers the missed notification.
			pending = false
		}
		c.mu.Unlock()

		c.recordFailure(err, elapsed)
		c.emitStatus()
		if pending {
			c.requestFetch(true, false)
		}
		return
	}

	c.schedule.Reset()
	c.status.RetryAttempt = 0
	c.status.LastError = nil
	c.status.LastSuccessAt = c.clock.Now()
	c.mu.Unlock()
	c.wd.Touch()

	items, dropped := c.decodeRows(rows)
	if !c.cached.Set(items, seq) {
		c.logger.Debug("cache kept newer entry", "seq", seq)
	}
	c.metrics.ObserveFetch(c.cfg.Name, elapsed, metrics.FetchSuccess)
	if c.deliver(gen, items, Meta{Source: SourceNetwork, Seq: seq, Dropped: dropped}) {
		c.logFetch(log.FetchSourceNetwork, seq, len(items), dropped, elapsed, bypass)
	}
	c.emitStatus()

	if pending {
		c.requestFetch(true, false)
	}
}

// failLocked feeds a failure into the retry schedule and reports whether a
// retry was scheduled. Caller holds mu.
func (c *Controller[T]) failLocked(gen uint64, err error) bool {
	if syncerr.IsAbort(err) {
		return false
	}
	if syncerr.IsCircuitOpen(err) {
		c.status.LastError = err
	}

	delay, ok := c.schedule.Failure()
	c.status.RetryAttempt = c.schedule.Attempt()
	if !ok {
		c.status.LastError = &syncerr.RetriesExhaustedError{
			Collection: c.service,
			Attempts:   c.schedule.Attempt(),
			Last:       err,
		}
		c.metrics.IncRetryExhausted(c.cfg.Name)
		c.logger.Error("giving up on reads", "attempts", c.schedule.Attempt(), "error", err)
		return false
	}

	c.metrics.IncRetry(c.cfg.Name)
	c.retryTmr = c.clock.AfterFunc(delay, func() { c.retryFire(gen) })
	c.logger.Debug("read retry scheduled", "delay", delay, "attempt", c.schedule.Attempt())
	return true
}

func (c *Controller[T]) decodeRows(rows []query.Record) ([]T, int) {
	items := make([]T, 0, len(rows))
	dropped := 0
	for _, row := range rows {
		item, err := c.decode(row)
		if err != nil {
			dropped++
			c.logger.Warn("dropping malformed row", "error", err)
			continue
		}
		items = append(items, item)
	}
	if dropped > 0 {
		c.metrics.IncDroppedRows(c.cfg.Name, dropped)
	}
	return items, dropped
}

func (c *Controller[T]) recordFailure(err error, elapsed time.Duration) {
	result := metrics.FetchFailed
	switch {
	case syncerr.IsAbort(err):
		c.metrics.ObserveFetch(c.cfg.Name, elapsed, metrics.FetchAborted)
		return
	case syncerr.IsCircuitOpen(err):
		result = metrics.FetchCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		result = metrics.FetchTimeout
	}
	c.metrics.ObserveFetch(c.cfg.Name, elapsed, result)
	c.logger.Warn("read failed", "error", err, "attempt", c.schedule.Attempt())

	data := &log.ErrorEventData{
		Layer:   log.LayerCollection,
		Message: err.Error(),
		Context: "read " + c.cfg.Entity,
		Attempt: c.schedule.Attempt(),
	}
	var fe *syncerr.FetchError
	if errors.As(err, &fe) && fe.StatusCode != 0 {
		code := fe.StatusCode
		data.Code = &code
	}
	c.eventLog.Log(log.Event{
		Timestamp:  c.clock.Now(),
		Layer:      log.LayerCollection,
		Category:   log.CategoryError,
		Collection: c.cfg.Name,
		EntityType: c.cfg.Entity,
		Error:      data,
	})
}

func (c *Controller[T]) logFetch(source log.FetchSource, seq uint64, rows, dropped int, elapsed time.Duration, bypass bool) {
	c.eventLog.Log(log.Event{
		Timestamp:  c.clock.Now(),
		Layer:      log.LayerCollection,
		Category:   log.CategoryFetch,
		Collection: c.cfg.Name,
		EntityType: c.cfg.Entity,
		Fetch: &log.FetchEvent{
			Source:   source,
			Seq:      seq,
			Rows:     rows,
			Dropped:  dropped,
			Duration: elapsed,
			Bypass:   bypass,
		},
	})
}
