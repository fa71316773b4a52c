package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/IJaes/jeogiyo-server-sub000/internal/domain"
	healthcheck "github.com/IJaes/jeogiyo-server-sub000/internal/health"
	"github.com/IJaes/jeogiyo-server-sub000/internal/messaging/bus"
	"github.com/IJaes/jeogiyo-server-sub000/internal/messaging/kafka"
	"github.com/IJaes/jeogiyo-server-sub000/internal/metrics"
	"github.com/IJaes/jeogiyo-server-sub000/internal/service/order"
	"github.com/IJaes/jeogiyo-server-sub000/internal/service/outbox"
	"github.com/IJaes/jeogiyo-server-sub000/internal/service/settlement"
	"github.com/IJaes/jeogiyo-server-sub000/internal/version"
)

// maxHealthyOutboxBacklog — порог бэклога outbox, после которого /healthz
// показывает degraded.
const maxHealthyOutboxBacklog = 1000

// Run собирает все компоненты и блокируется до отмены контекста.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	gatewayClient := initGatewayClient(cfg, logger)
	settlementMetrics := metrics.NewSettlementMetrics()

	scheduler := settlement.NewRetryScheduler(
		settlement.WithRetryDelay(cfg.SettlementRetryDelay),
		settlement.WithMaxRetries(cfg.SettlementMaxRetries),
		settlement.WithSchedulerLogger(logger.WithField("component", "retry-scheduler")),
	)

	orchestrator := settlement.NewOrchestrator(
		deps.orders,
		deps.payments,
		gatewayClient,
		settlement.WithScheduler(scheduler),
		settlement.WithOutbox(deps.outboxRepo),
		settlement.WithTimeline(deps.timelineRepo),
		settlement.WithMetrics(settlementMetrics),
		settlement.WithOrchestratorMaxRetries(cfg.SettlementMaxRetries),
		settlement.WithLogger(logger.WithField("component", "settlement-orchestrator")),
	)
	scheduler.Bind(orchestrator)

	eventBus := bus.New(
		bus.WithBufferSize(cfg.BusBufferSize),
		bus.WithLogger(logger.WithField("component", "event-bus")),
	)
	eventBus.Subscribe(orchestrator)

	orderService := order.NewService(
		deps.orders,
		deps.payments,
		eventBus,
		order.WithOutbox(deps.outboxRepo),
		order.WithTimeline(deps.timelineRepo),
		order.WithLogger(logger.WithField("component", "order-service")),
	)

	// Kafka опционален: без brokers приложение работает на внутренней шине.
	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(kafkaProducer, logger)

	// Без producer воркер отключает себя сам и пишет warning.
	var outboxPublisher, dlqPublisher domain.OutboxPublisher
	if kafkaProducer != nil {
		outboxPublisher = kafka.NewOutboxPublisher(kafkaProducer)
		dlqPublisher = kafka.NewOutboxPublisherForTopic(kafkaProducer, kafka.TopicDeadLetterQueue)
	}
	outboxWorker := outbox.NewWorker(
		deps.outboxRepo,
		outboxPublisher,
		outbox.WithDLQPublisher(dlqPublisher),
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)

	expiryWorker := settlement.NewExpiryWorker(
		deps.payments,
		settlement.WithExpiryLogger(logger.WithField("component", "payment-expiry")),
		settlement.WithExpiryInterval(cfg.PaymentExpiryInterval),
		settlement.WithExpiryTTL(cfg.PaymentExpiryTTL),
		settlement.WithExpiryBatchSize(cfg.PaymentExpiryBatchSize),
	)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	var workers sync.WaitGroup
	workers.Add(3)
	go func() {
		defer workers.Done()
		eventBus.Run(workerCtx)
	}()
	go func() {
		defer workers.Done()
		outboxWorker.Run(workerCtx)
	}()
	go func() {
		defer workers.Done()
		expiryWorker.Run(workerCtx)
	}()

	consumer, _ := initOrderRequestConsumer(cfg, orderService, kafkaProducer, logger)
	if consumer != nil {
		if err := consumer.Start(workerCtx); err != nil {
			logger.WithError(err).Warn("failed to start kafka consumer")
			consumer = nil
		}
	}

	healthHandler := healthcheck.NewHandler(version.String())
	if deps.store != nil {
		healthHandler.Register("postgres", func(checkCtx context.Context) error {
			return deps.store.Ping(checkCtx)
		})
	}
	// Растущий бэклог outbox означает, что события заказов не доходят до
	// внешних потребителей; сервис при этом остаётся работоспособным.
	healthHandler.RegisterOptional("outbox-backlog", func(context.Context) error {
		stats, err := deps.outboxRepo.Stats()
		if err != nil {
			return err
		}
		if stats.PendingCount > maxHealthyOutboxBacklog {
			return fmt.Errorf("outbox backlog %d exceeds %d", stats.PendingCount, maxHealthyOutboxBacklog)
		}
		return nil
	})

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	grpcMetrics := promgrpc.NewServerMetrics()
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	grpcMetrics.InitializeMetrics(grpcServer)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gRPC сервер слушает %s", cfg.GRPCAddr)
		errCh <- grpcServer.Serve(lis)
	}()

	shutdown := func() {
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

		if consumer != nil {
			if err := consumer.Stop(); err != nil {
				logger.WithError(err).Warn("failed to stop kafka consumer")
			}
		}

		cancelWorkers()
		workers.Wait()
		scheduler.Stop()

		shutdownHTTP(metricsSrv, logger)
	}

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем сервис")
		stoppedCh := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stoppedCh)
		}()
		select {
		case <-stoppedCh:
		case <-time.After(5 * time.Second):
			logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
			grpcServer.Stop()
		}
		shutdown()
		return ctx.Err()

	case err := <-errCh:
		shutdown()
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
