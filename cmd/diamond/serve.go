package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/diamond_layer/internal/config"
	"github.com/R3E-Network/diamond_layer/internal/diamond"
	"github.com/R3E-Network/diamond_layer/internal/diamond/events"
	"github.com/R3E-Network/diamond_layer/internal/diamond/metrics"
	"github.com/R3E-Network/diamond_layer/internal/facets/script"
	"github.com/R3E-Network/diamond_layer/internal/httpapi"
	"github.com/R3E-Network/diamond_layer/internal/logging"
	"github.com/R3E-Network/diamond_layer/internal/selector"
	"github.com/R3E-Network/diamond_layer/internal/storage"
	"github.com/R3E-Network/diamond_layer/internal/storage/migrations"
	"github.com/R3E-Network/diamond_layer/internal/storage/pgstore"
	"github.com/R3E-Network/diamond_layer/internal/storage/redisstore"
)

func serve(envFile string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	log := logging.New("diamond", cfg.LogLevel, cfg.LogFormat)

	manifest, err := config.LoadManifest(cfg.Manifest)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	audit := events.NewRingBuffer(cfg.EventBuffer)
	if cfg.AuditLog != "" {
		f, err := os.OpenFile(cfg.AuditLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		defer f.Close()
		defer audit.Subscribe(events.NewZerologSink(f))()
	}

	collector := metrics.NewCollector("diamond")
	d, err := deploy(ctx, cfg, manifest, backend, audit, collector, log)
	if err != nil {
		return err
	}

	var publicKey interface{}
	if cfg.JWTPublicKey != "" {
		if publicKey, err = httpapi.LoadPublicKey(cfg.JWTPublicKey); err != nil {
			return err
		}
	}
	if cfg.TrustSenderHeader {
		log.Warn("trusting unverified sender headers; do not use outside development")
	} else if publicKey == nil {
		log.Warn("no jwt public key configured; every request is anonymous")
	}

	api := httpapi.NewHandler(d, httpapi.Options{
		Metrics:           collector,
		Logger:            log,
		CallRate:          cfg.CallRate,
		CallBurst:         cfg.CallBurst,
		PublicKey:         publicKey,
		TrustSenderHeader: cfg.TrustSenderHeader,
	})
	api.StartCleanup(ctx, time.Minute, cfg.LimiterIdle)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("diamond API listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}

	log.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown error")
	}
	return nil
}

func openBackend(ctx context.Context, cfg *config.Config) (storage.Backend, func(), error) {
	switch cfg.Storage {
	case config.StorageRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		return redisstore.New(client, cfg.RedisPrefix), func() { _ = client.Close() }, nil

	case config.StoragePostgres:
		db, err := pgstore.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := migrations.Apply(ctx, db.DB); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return pgstore.New(db), func() { _ = db.Close() }, nil

	default:
		return storage.NewMemory(), func() {}, nil
	}
}

// deploy creates the diamond, deploys the manifest's script facets and, for
// a diamond without facets yet, applies the manifest's cut.
func deploy(
	ctx context.Context,
	cfg *config.Config,
	manifest *config.Manifest,
	backend storage.Backend,
	audit events.EventLogger,
	collector *metrics.Collector,
	log *logging.Logger,
) (*diamond.Diamond, error) {
	addr, err := manifest.Address()
	if err != nil {
		return nil, err
	}
	owner, err := manifest.Owner()
	if err != nil {
		return nil, err
	}
	ctx = diamond.WithSender(ctx, owner)

	host := diamond.NewHost()
	d, err := diamond.New(ctx, diamond.Config{
		Address: addr,
		Owner:   owner,
		Env:     host,
		Backend: backend,
		Events:  audit,
		Metrics: collector,
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}

	handles := make(map[string]util.Uint160, len(manifest.Facets))
	for _, f := range manifest.Facets {
		src, err := os.ReadFile(f.Script)
		if err != nil {
			return nil, fmt.Errorf("facet %s: %w", f.Name, err)
		}
		facet, err := script.Compile(f.Name, string(src), script.Options{
			Timeout: cfg.ScriptTimeout,
			Logger:  log,
			Diamond: d,
		})
		if err != nil {
			return nil, err
		}
		h, err := host.Deploy(f.Name, facet)
		if err != nil {
			return nil, err
		}
		if f.Namespace != "" {
			if _, err := d.ClaimNamespace(f.Namespace, f.Name); err != nil {
				return nil, fmt.Errorf("facet %s: %w", f.Name, err)
			}
		}
		handles[f.Name] = h
		log.WithFields(map[string]interface{}{"facet": f.Name, "handle": "0x" + h.StringLE()}).Info("facet deployed")
	}

	if len(d.FacetAddresses(ctx)) > 1 {
		log.Info("registry restored from storage, manifest cut skipped")
		return d, nil
	}

	cuts, err := manifest.Cuts(handles)
	if err != nil {
		return nil, err
	}
	var (
		init     util.Uint160
		calldata []byte
	)
	if manifest.Init != nil {
		init = handles[manifest.Init.Facet]
		calldata = manifest.Init.Calldata
	}
	if len(cuts) > 0 || manifest.Init != nil {
		if err := d.ApplyCut(ctx, cuts, init, calldata); err != nil {
			return nil, fmt.Errorf("manifest cut: %w", err)
		}
	}
	for _, id := range manifest.Interfaces {
		sel, err := selector.Parse(id)
		if err != nil {
			return nil, err
		}
		if err := d.SetSupportedInterface(ctx, sel, true); err != nil {
			return nil, err
		}
	}
	return d, nil
}
