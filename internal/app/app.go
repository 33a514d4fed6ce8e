// Package app wires configuration, storage, senders and the scheduler into
// the fanoutd process, for both one-shot commands and serve mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"digestfanout/internal/config"
	"digestfanout/internal/eventbus"
	"digestfanout/internal/fanout"
	"digestfanout/internal/metrics"
	"digestfanout/internal/runlog"
	"digestfanout/internal/runtime/supervisor"
	"digestfanout/internal/trigger"
	"digestfanout/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	metrics *metrics.Metrics
	w       *wiring
	orch    atomic.Pointer[fanout.Orchestrator]

	sup *supervisor.Supervisor

	cronMu sync.Mutex
	cron   *cron.Cron
	tickID cron.EntryID

	shutdownTracing func(context.Context) error
}

// New loads the config at cfgPath (defaults when empty) and builds the app.
// Nothing runs until Start; one-shot commands use the Runner methods directly.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error { return config.Validate(c) })

	var cfg *config.Config
	if strings.TrimSpace(cfgPath) == "" {
		cfg = config.Default()
		cfgm.Commit(cfg)
	} else {
		var err error
		if cfg, err = cfgm.Load(ctx); err != nil {
			return nil, err
		}
	}

	logs, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log)
	log = log.With(logx.String("comp", "app"))

	shutdownTracing, err := setupTracing(ctx, cfg.Tracing)
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("tracing: %w", err)
	}

	w, err := buildWiring(ctx, cfg, log)
	if err != nil {
		_ = shutdownTracing(ctx)
		_ = logs.Close()
		return nil, err
	}

	a := &App{
		cfgm:            cfgm,
		log:             log,
		logs:            logs,
		bus:             eventbus.New(),
		metrics:         metrics.New(),
		w:               w,
		shutdownTracing: shutdownTracing,
	}
	orch, err := newOrchestrator(cfg, w, a.bus, logs.Logger())
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.orch.Store(orch)
	return a, nil
}

func (a *App) current() *fanout.Orchestrator { return a.orch.Load() }

func (a *App) Tick(ctx context.Context, opts fanout.Options) fanout.Result {
	return a.current().Tick(ctx, opts)
}

func (a *App) Status(ctx context.Context, tail int) fanout.Status {
	return a.current().Status(ctx, tail)
}

func (a *App) Unmute(ctx context.Context, ch, key string) (bool, error) {
	return a.current().Unmute(ctx, ch, key)
}

func (a *App) Month(ctx context.Context, yyyymm string) ([]runlog.Entry, error) {
	return a.current().Month(ctx, yyyymm)
}

// Done is closed when serve mode stops.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err is the first fatal error of serve mode.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs serve mode: the in-process ticker, the trigger server, metrics
// and config hot reload.
func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.sup.Go0("metrics", func(c context.Context) { a.metrics.Run(c, a.bus) })
	a.sup.Go0("eventbus.log", a.logEvents)

	if err := a.applyScheduler(cfg); err != nil {
		return err
	}

	if cfg.Trigger.Enabled {
		rt, err := config.ParseDurationOrDefault("trigger.read_timeout", cfg.Trigger.ReadTimeout, 10*time.Second)
		if err != nil {
			return err
		}
		// A tick may take minutes; the write timeout has to cover the lease.
		wt, err := config.ParseDurationOrDefault("trigger.write_timeout", cfg.Trigger.WriteTimeout, config.DefaultLease)
		if err != nil {
			return err
		}
		addr := strings.TrimSpace(cfg.Trigger.Addr)
		if addr == "" {
			addr = config.DefaultTriggerAddr
		}
		srv := trigger.New(trigger.Config{
			Addr:         addr,
			Token:        cfg.TriggerToken(),
			ReadTimeout:  rt,
			WriteTimeout: wt,
			Pprof:        cfg.Trigger.Pprof,
		}, a, a.metrics.Handler(), a.logs.Logger())
		a.sup.Go("trigger", srv.Serve)
	}

	if a.cfgm.Path() != "" {
		a.startReload()
		a.sup.GoRestart("config.watch", time.Second, 30*time.Second, a.cfgm.Watch)
	}

	a.startWatchdog()
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("fanoutd started", logx.Bool("scheduler", cfg.Scheduler.Enabled), logx.Bool("trigger", cfg.Trigger.Enabled))
	return nil
}

// applyScheduler (re)registers the in-process tick for cfg.
func (a *App) applyScheduler(cfg *config.Config) error {
	sched, err := cfg.ResolveScheduler()
	if err != nil {
		return err
	}
	a.cronMu.Lock()
	defer a.cronMu.Unlock()

	if a.cron != nil {
		a.cron.Remove(a.tickID)
	}
	if !sched.Enabled {
		if a.cron != nil {
			a.cron.Stop()
			a.cron = nil
			a.log.Info("scheduler disabled")
		}
		return nil
	}
	if a.cron == nil {
		a.cron = newTicker(a.log.With(logx.String("comp", "cron")))
		a.cron.Start()
	}
	runCtx := a.sup.Context()
	id, err := a.cron.AddFunc(sched.Tick, func() {
		res := a.Tick(runCtx, fanout.Options{})
		if !res.OK {
			a.log.Warn("tick failed", logx.String("reason", res.Reason))
		}
	})
	if err != nil {
		return fmt.Errorf("scheduler.tick: %w", err)
	}
	a.tickID = id
	a.log.Info("scheduler ticking", logx.String("tick", sched.Tick))
	return nil
}

func (a *App) logEvents(c context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-c.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

func (a *App) startReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
}

func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if rr := config.RestartRequired(sections); len(rr) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.Strs("sections", rr))
	}
	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLogConfig(next))
		case "scheduler":
			orch, err := newOrchestrator(next, a.w, a.bus, a.logs.Logger())
			if err != nil {
				a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
				continue
			}
			a.orch.Store(orch)
			if err := a.applyScheduler(next); err != nil {
				a.log.Warn("scheduler reschedule failed", logx.Err(err))
			}
		}
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) startWatchdog() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}

// Stop shuts serve mode down, waiting for an in-flight tick within ctx, and
// releases every resource.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.step(ctx, "ticker", 30*time.Second, func(c context.Context) error {
		a.cronMu.Lock()
		cr := a.cron
		a.cron = nil
		a.cronMu.Unlock()
		if cr == nil {
			return nil
		}
		select {
		case <-cr.Stop().Done():
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	if a.sup != nil {
		a.step(ctx, "supervisor", 6*time.Second, a.sup.Stop)
	}
	a.log.Info("stopped")
	return a.Close(ctx)
}

// Close releases storage, tracing and logging. It is enough for one-shot
// commands that never called Start.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.w != nil && a.w.store != nil {
		errs = append(errs, a.w.store.Close())
	}
	if a.shutdownTracing != nil {
		errs = append(errs, a.shutdownTracing(ctx))
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}

// step runs one shutdown step bounded by max without extending ctx.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
