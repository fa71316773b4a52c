package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/IJaes/jeogiyo-server-sub000/internal/domain"
	"github.com/IJaes/jeogiyo-server-sub000/internal/storage/memory"
	"github.com/IJaes/jeogiyo-server-sub000/internal/storage/postgres"
)

// runtimeDependencies содержит хранилища, выбранные по конфигурации.
type runtimeDependencies struct {
	orders       domain.OrderRepository
	payments     domain.PaymentRepository
	outboxRepo   domain.OutboxRepository
	timelineRepo domain.TimelineRepository

	// store не nil только для postgres-драйвера.
	store *postgres.Store
}

func (d *runtimeDependencies) Close() {
	if d.store != nil {
		_ = d.store.Close()
	}
}

// initRuntimeDependencies создаёт хранилища по выбранному драйверу.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			orders:       memory.NewOrderRepository(),
			payments:     memory.NewPaymentRepository(),
			outboxRepo:   memory.NewOutboxRepository(),
			timelineRepo: memory.NewTimelineRepository(),
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres storage requires JEOGIYO_DATABASE_URL")
		}

		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres storage: %w", err)
		}

		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}

		logger.Info("using postgres storage")
		return &runtimeDependencies{
			orders:       postgres.NewOrderRepository(store),
			payments:     postgres.NewPaymentRepository(store),
			outboxRepo:   postgres.NewOutboxRepository(store),
			timelineRepo: postgres.NewTimelineRepository(store),
			store:        store,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}
}
