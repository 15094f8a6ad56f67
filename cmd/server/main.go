package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"attesta/internal/certificate"
	certmetrics "attesta/internal/certificate/metrics"
	"attesta/internal/idempotency"
	"attesta/internal/platform/config"
	"attesta/internal/platform/httpserver"
	"attesta/internal/platform/logger"
	"attesta/internal/platform/postgres"
	platformredis "attesta/internal/platform/redis"
	"attesta/internal/provider"
	"attesta/internal/registry"
	httptransport "attesta/internal/transport/http"
	audit "attesta/pkg/platform/audit"
	auditkafka "attesta/pkg/platform/audit/sink/kafka"
	auditmemory "attesta/pkg/platform/audit/store/memory"
	auditpostgres "attesta/pkg/platform/audit/store/postgres"
	auditworker "attesta/pkg/platform/audit/worker"
	"attesta/pkg/platform/circuit"
)

// main wires dependencies and keeps the server lifecycle small. Business
// logic lives in the internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Stores: postgres when configured, in-memory otherwise.
	var (
		certStore certificate.Store   = certificate.NewInMemoryStore()
		txRunner  certificate.TxRunner = certificate.NoopTxRunner{}
		auditTx   audit.Store          = auditmemory.New()
	)
	if cfg.PostgresDSN != "" {
		db, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			log.Error("open postgres", "error", err)
			return
		}
		defer db.Close()
		certStore = certificate.NewPostgres(db)
		txRunner = newCertificatePostgresTx(db)
		auditTx = auditpostgres.New(db)
	}

	var idemStore idempotency.Store = idempotency.NewInMemoryStore()
	if cfg.RedisURL != "" {
		redisClient, err := platformredis.New(cfg.RedisURL)
		if err != nil {
			log.Error("connect redis", "error", err)
			return
		}
		defer redisClient.Close()
		idemStore = idempotency.NewRedisStore(redisClient.Client)
	}
	ledger := idempotency.NewLedger(idemStore, cfg.IdempotencyTTL, log)

	// Audit: transactional writes go to the tx-aware store; the async side
	// drains a channel into kafka when brokers are configured, otherwise
	// into the same store.
	txAuditor := audit.NewStorePublisher(auditTx, log)
	asyncSink := auditTx
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink, err := auditkafka.New(cfg.KafkaBrokers, cfg.KafkaAuditTopic)
		if err != nil {
			log.Error("connect kafka", "error", err)
			return
		}
		defer kafkaSink.Close()
		asyncSink = kafkaSink
	}
	asyncAuditor := audit.NewChannelPublisher(256, log)
	worker := auditworker.New(asyncSink, asyncAuditor.Inbox(), log)

	// One breaker per gateway: registry and provider fail independently.
	breakerOpts := func(extra ...circuit.Option) []circuit.Option {
		return append([]circuit.Option{
			circuit.WithFailureThreshold(cfg.Breaker.FailureThreshold),
			circuit.WithSuccessThreshold(cfg.Breaker.SuccessThreshold),
			circuit.WithCallTimeout(cfg.Breaker.CallTimeout),
			circuit.WithResetTimeout(cfg.Breaker.ResetTimeout),
		}, extra...)
	}
	registryGateway := registry.NewClient(cfg.Registry.BaseURL, cfg.Registry.APIKey,
		circuit.New("registry", breakerOpts(circuit.WithFailureFilter(registryFailureFilter))...))
	providerGateway := provider.NewClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.RequesterCode,
		circuit.New("provider", breakerOpts()...))

	certService := certificate.NewService(
		certStore, txRunner, registryGateway, providerGateway,
		newSplitAuditor(txAuditor, asyncAuditor),
		certmetrics.New(prometheus.DefaultRegisterer), log)

	handler := httptransport.NewHandler(certService, ledger, log)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting attesta gateway", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return ignoreCancel(worker.Run(gctx)) })
	g.Go(func() error { return ignoreCancel(ledger.RunSweeper(gctx, cfg.IdempotencySweepInterval)) })
	for i := 0; i < cfg.SubmissionWorkers; i++ {
		g.Go(func() error { return ignoreCancel(certService.RunSubmitter(gctx)) })
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("gateway terminated", "error", err)
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
