package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/figures/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/figures/internal/metrics"
	"github.com/vladislavdragonenkov/figures/internal/service/saga"
)

// createOrchestrator создаёт оркестратор резервирования. События в Kafka
// публикуются напрямую, только если producer настроен.
func createOrchestrator(
	cfg Config,
	deps *runtimeDependencies,
	kafkaProducer *kafka.Producer,
	reservationMetrics *metrics.ReservationMetrics,
	logger *log.Entry,
) saga.Orchestrator {
	opts := []saga.Option{
		saga.WithLogger(logger.WithField("component", "saga")),
		saga.WithOutbox(deps.outboxRepo),
		saga.WithAtomicReserve(cfg.AtomicReserve),
	}
	if reservationMetrics != nil {
		opts = append(opts, saga.WithMetrics(reservationMetrics))
	}
	if kafkaProducer != nil {
		opts = append(opts, saga.WithEventPublisher(kafkaProducer))
	}

	return saga.NewOrchestrator(deps.inventory, deps.orders, opts...)
}
