package app

import (
	"context"
	"fmt"
	"strings"

	"digestfanout/internal/blobstore"
	"digestfanout/internal/channel"
	"digestfanout/internal/config"
	"digestfanout/internal/cronexpr"
	"digestfanout/internal/eventbus"
	"digestfanout/internal/fanout"
	"digestfanout/internal/retry"
	"digestfanout/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alert: logx.AlertConfig{
			Enabled:    l.Alert.Enabled,
			WebhookURL: cfg.AlertWebhookURL(),
			MinLevel:   l.Alert.MinLevel,
			RatePerSec: l.Alert.RatePerSec,
		},
	}
}

func mapRetryPolicy(r config.Retry) retry.Policy {
	p := retry.DefaultPolicy()
	if r.MaxAttempts > 0 {
		p.MaxAttempts = r.MaxAttempts
	}
	if r.BaseDelay > 0 {
		p.BaseDelay = r.BaseDelay
	}
	if r.MaxDelay > 0 {
		p.MaxDelay = r.MaxDelay
	}
	if r.MaxTotal > 0 {
		p.MaxTotal = r.MaxTotal
	}
	p.Jitter = r.Jitter
	return p
}

// wiring holds what is built once per process and shared across reloads.
type wiring struct {
	store        blobstore.Store
	senders      channel.Senders
	resolver     *channel.Resolver
	authenticate func(ctx context.Context) error
}

func buildWiring(ctx context.Context, cfg *config.Config, log logx.Logger) (*wiring, error) {
	if err := channel.LoadEnvFile(cfg.Channels.SecretsEnvFile); err != nil {
		return nil, err
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := blobstore.Open(ctx, sc, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	sched, err := cfg.ResolveScheduler()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	w := &wiring{store: store, resolver: channel.NewResolver()}
	poster := channel.NewHTTPPoster(sched.CallTimeout)
	w.senders = channel.Senders{Slack: poster, Webhook: poster}

	ec := cfg.Channels.Email
	switch strings.ToLower(strings.TrimSpace(ec.Driver)) {
	case "ses":
		ses, err := channel.NewSES(ctx, channel.SESConfig{
			From:             ec.From,
			Region:           ec.Region,
			Endpoint:         ec.Endpoint,
			ConfigurationSet: ec.ConfigurationSet,
		})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		w.senders.Email = ses
		w.authenticate = ses.CheckCredentials
	default:
		w.senders.Email = channel.LogSender{Log: log.With(logx.String("comp", "email"))}
	}
	if n := cfg.Channels.RatePerSec; n > 0 {
		w.senders = channel.RateLimited(w.senders, n)
	}
	log.Info("wiring ready",
		logx.String("storage", sc.Driver),
		logx.String("email", emailDriverName(ec.Driver)),
		logx.Int("rate_per_sec", cfg.Channels.RatePerSec),
	)
	return w, nil
}

func emailDriverName(d string) string {
	if strings.EqualFold(strings.TrimSpace(d), "ses") {
		return "ses"
	}
	return "log"
}

// newOrchestrator builds an orchestrator for the scheduler section of cfg.
func newOrchestrator(cfg *config.Config, w *wiring, bus eventbus.Bus, log logx.Logger) (*fanout.Orchestrator, error) {
	sched, err := cfg.ResolveScheduler()
	if err != nil {
		return nil, err
	}
	var eval cronexpr.Evaluator = cronexpr.UTC{}
	if sched.TimezoneAware {
		eval = cronexpr.Zoned{}
	}
	return fanout.New(fanout.Deps{
		Blobs:                 w.store,
		Senders:               w.senders,
		Resolver:              w.resolver,
		Evaluator:             eval,
		Bus:                   bus,
		Log:                   log,
		Retry:                 mapRetryPolicy(sched.Retry),
		CallTimeout:           sched.CallTimeout,
		Lease:                 sched.Lease,
		MaxTailLines:          sched.MaxTailLines,
		MaxRouteReportsPerRun: sched.MaxRouteReportsPerRun,
		Authenticate:          w.authenticate,
	}), nil
}
