package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/chzyer/readline"

	"github.com/gigsync/gigsync-go/internal/config"
	"github.com/gigsync/gigsync-go/pkg/collection"
)

// WatchCmd implements the 'watch' command.
type WatchCmd struct {
	Interactive bool   `short:"i" help:"Start the interactive console"`
	Demo        bool   `help:"Use the in-memory demo backend (same as GIGSYNC_TRANSPORT=mem)"`
	MetricsAddr string `name:"metrics-addr" help:"Serve Prometheus metrics on this address (overrides config)"`
}

func (w *WatchCmd) Run(g *Global, root *CLI) error {
	if w.Demo {
		if err := os.Setenv(config.EnvTransport, string(config.TransportMemory)); err != nil {
			return err
		}
	}
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	if w.MetricsAddr != "" {
		cfg.Metrics.Addr = w.MetricsAddr
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	out := g.stdout()
	logOut := io.Writer(os.Stderr)
	var rl *readline.Instance
	if w.Interactive {
		rl, err = newReadline()
		if err != nil {
			return err
		}
		out, logOut = rl.Stdout(), rl.Stderr()
	}
	logger := cfg.Logging.NewLogger(logOut)

	rt, err := NewRuntime(ctx, cfg, logger)
	if err != nil {
		if rl != nil {
			rl.Close()
		}
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()

	printer := &syncWriter{w: out}
	printDeliveries(rt.Catalog.Songs, printer)
	printDeliveries(rt.Catalog.Requests, printer)
	printDeliveries(rt.Catalog.SetLists, printer)

	if cfg.Metrics.Addr != "" {
		stop := serveMetrics(cfg.Metrics.Addr, rt)
		defer stop()
	}

	sched, err := NewScheduler(logger)
	if err != nil {
		return err
	}
	if cfg.Status.Interval > 0 {
		if _, err := sched.ScheduleStatusReport(cfg.Status.Interval, rt); err != nil {
			return err
		}
	}
	if rt.Vacuum != nil {
		if _, err := sched.ScheduleVacuum(VacuumInterval, rt.Vacuum); err != nil {
			return err
		}
	}
	sched.Start()
	defer func() {
		if err := sched.Stop(); err != nil {
			logger.Warn("scheduler shutdown", "error", err)
		}
	}()

	logger.Info("starting sync", "transport", cfg.Transport.Kind, "collections", rt.Catalog.Names())
	rt.Start(ctx)

	if rl != nil {
		NewConsole(rl, rt).Run(ctx, cancel)
		return nil
	}
	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}

// printDeliveries writes one line per delivery of c.
func printDeliveries[T any](c *collection.Controller[T], w io.Writer) {
	name := c.Name()
	c.OnData(func(items []T, meta collection.Meta) {
		line := fmt.Sprintf("%s %-10s %3d items  source=%s seq=%d",
			time.Now().Format(time.TimeOnly), name, len(items), meta.Source, meta.Seq)
		if meta.Dropped > 0 {
			line += fmt.Sprintf(" dropped=%d", meta.Dropped)
		}
		fmt.Fprintln(w, line)
	})
}

func serveMetrics(addr string, rt *Runtime) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		rt.Logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.Logger.Error("metrics server", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// syncWriter serializes writes from delivery callbacks.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
