package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/StrathCole/oracle-trust/pkg/aggregator"
	"github.com/StrathCole/oracle-trust/pkg/alerts"
	"github.com/StrathCole/oracle-trust/pkg/certmonitor"
	"github.com/StrathCole/oracle-trust/pkg/config"
	"github.com/StrathCole/oracle-trust/pkg/kv"
	"github.com/StrathCole/oracle-trust/pkg/logging"
	"github.com/StrathCole/oracle-trust/pkg/pinstore"
	"github.com/StrathCole/oracle-trust/pkg/publisher"
	"github.com/StrathCole/oracle-trust/pkg/publisher/cas"
	"github.com/StrathCole/oracle-trust/pkg/publisher/mirror"
	"github.com/StrathCole/oracle-trust/pkg/resolver"
	"github.com/StrathCole/oracle-trust/pkg/signer"
	"github.com/StrathCole/oracle-trust/pkg/sources"
	"github.com/StrathCole/oracle-trust/pkg/submitter"
)

// trust bundles the pin store and the resolver built on it.
type trust struct {
	store     kv.Store
	pins      *pinstore.Store
	resolver  *resolver.Resolver
	providers []resolver.Provider
}

func (t *trust) Close() error { return t.store.Close() }

func newTrust(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*trust, error) {
	store, err := kv.Open(ctx, cfg.Store.Backend, cfg.Store.Path, cfg.Store.DSN, cfg.Store.Table)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	bootstrap := make(map[string][]string, len(cfg.Resolver.Providers))
	providers := make([]resolver.Provider, 0, len(cfg.Resolver.Providers))
	for _, p := range cfg.Resolver.Providers {
		bootstrap[p.ID] = p.Pins
		providers = append(providers, resolver.Provider{ID: p.ID, URL: p.URL, Address: p.Address})
	}
	pins := pinstore.New(store, cfg.Store.Namespace, bootstrap, logger)

	res := resolver.New(resolver.Config{
		Providers:  providers,
		Attempts:   cfg.Resolver.Attempts,
		Backoff:    cfg.Resolver.BackoffSchedule(),
		Timeout:    cfg.Resolver.Timeout.ToDuration(),
		CacheTTL:   cfg.Resolver.CacheTTL.ToDuration(),
		MaxHistory: cfg.Resolver.MaxHistory,
	}, pins, logger)

	return &trust{store: store, pins: pins, resolver: res, providers: providers}, nil
}

func newMonitor(cfg *config.Config, t *trust, logger *logging.Logger) *certmonitor.Monitor {
	webhooks := make([]alerts.Webhook, 0, len(cfg.Monitor.Webhooks))
	for _, w := range cfg.Monitor.Webhooks {
		webhooks = append(webhooks, alerts.Webhook{Type: w.Type, URLEnv: w.URLEnv})
	}
	alerter := alerts.Multi{alerts.NewLogAlerter(logger), alerts.NewWebhookAlerter(webhooks, logger)}

	return certmonitor.New(certmonitor.Config{
		Providers:        t.providers,
		Namespace:        cfg.Store.Namespace + "_monitor",
		Timeout:          cfg.Monitor.Timeout.ToDuration(),
		MaxHistory:       cfg.Resolver.MaxHistory,
		HistoryRetention: cfg.Monitor.HistoryRetention,
	}, t.pins, t.store, alerter, logger)
}

func newAggregator(cfg *config.Config, t *trust, logger *logging.Logger) (*aggregator.Aggregator, error) {
	sig, err := signer.FromEnv(cfg.Aggregator.Signer.Algorithm, cfg.Aggregator.Signer.SeedEnv, cfg.Aggregator.Signer.Ephemeral)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	var client *http.Client
	if cfg.Aggregator.HardenDNS && t != nil {
		client = t.resolver.HTTPClient(cfg.Aggregator.Timeout.ToDuration())
	}

	tokens := make(map[string][]aggregator.Source, len(cfg.Aggregator.Tokens))
	for _, tok := range cfg.Aggregator.Tokens {
		for _, sc := range tok.Sources {
			adapter, err := sources.New(sources.Config{
				Name:       sc.Name,
				Preset:     sc.Preset,
				Endpoint:   sc.Endpoint,
				PricePath:  sc.PricePath,
				AuthHeader: sc.AuthHeader,
				AuthValue:  os.Getenv(sc.AuthEnv),
			}, client, logger)
			if err != nil {
				return nil, fmt.Errorf("token %s: %w", tok.ID, err)
			}
			tokens[tok.ID] = append(tokens[tok.ID], aggregator.Source{Adapter: adapter, Symbol: sc.Symbol})
		}
	}

	return aggregator.New(aggregator.Config{
		Threshold: cfg.Aggregator.Threshold,
		Decimals:  *cfg.Aggregator.Decimals,
		Estimator: cfg.Aggregator.Estimator,
		Timeout:   cfg.Aggregator.Timeout.ToDuration(),
	}, tokens, sig, logger)
}

func newPublisher(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*publisher.Publisher, error) {
	pc := cfg.Publisher

	var primary cas.Store
	switch pc.Primary.Type {
	case "http":
		primary = cas.NewHTTPStore(cas.HTTPConfig{
			Endpoint: pc.Primary.Endpoint,
			Gateway:  pc.Primary.Gateway,
			UnpinURL: pc.Primary.UnpinURL,
			Token:    os.Getenv(pc.Primary.TokenEnv),
			CIDPath:  pc.Primary.CIDPath,
		}, &http.Client{Timeout: pc.Timeout.ToDuration()})
	case "local":
		local, err := cas.NewLocalStore(nil, pc.Primary.Path)
		if err != nil {
			return nil, err
		}
		primary = local
	}

	var m mirror.Store
	switch pc.Mirror.Type {
	case "s3":
		s3, err := mirror.NewS3Store(ctx, mirror.S3Config{
			Bucket:    pc.Mirror.Bucket,
			Region:    pc.Mirror.Region,
			Endpoint:  pc.Mirror.Endpoint,
			AccessKey: os.Getenv(pc.Mirror.AccessKeyEnv),
			SecretKey: os.Getenv(pc.Mirror.SecretKeyEnv),
			PublicURL: pc.Mirror.PublicURL,
		})
		if err != nil {
			return nil, err
		}
		m = s3
	case "fs":
		fs, err := mirror.NewFSStore(nil, pc.Mirror.Path, pc.Mirror.PublicURL)
		if err != nil {
			return nil, err
		}
		m = fs
	}

	return publisher.New(publisher.Config{
		Prefix:       pc.Prefix,
		ExpectedKeys: pc.ExpectedKeys,
		CleanupLimit: pc.CleanupLimit,
		Timeout:      pc.Timeout.ToDuration(),
	}, primary, m, logger)
}

// newSubmitter returns the dry-run submitter, the only type config validation accepts.
func newSubmitter(_ *config.Config, logger *logging.Logger) submitter.Submitter {
	return submitter.NewLogSubmitter(logger)
}
