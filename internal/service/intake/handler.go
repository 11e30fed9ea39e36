// Package intake принимает корзины из Kafka и передаёт их оркестратору.
package intake

import (
	"context"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/figures/internal/codec"
	"github.com/vladislavdragonenkov/figures/internal/domain"
	"github.com/vladislavdragonenkov/figures/internal/service/saga"
)

// Handler декодирует сообщение с корзиной и запускает резервирование.
type Handler struct {
	orchestrator saga.Orchestrator
	logger       *log.Entry
}

// NewHandler создаёт обработчик корзин.
func NewHandler(orchestrator saga.Orchestrator, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.New().WithField("component", "intake")
	}
	return &Handler{orchestrator: orchestrator, logger: logger}
}

// Handle обрабатывает одно сообщение. Отказ по корзине (нехватка остатков,
// неизвестная фигура) подтверждается и не возвращается как ошибка; ошибки
// формата и инфраструктуры возвращаются consumer'у для повтора или DLQ.
func (h *Handler) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	fields := log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
	}

	cart, err := codec.DecodeCart(message.Value)
	if err != nil {
		h.logger.WithError(err).WithFields(fields).Warn("cart decode failed")
		return err
	}

	total, err := h.orchestrator.Process(ctx, cart)
	if err != nil {
		if domain.IsRejection(err) {
			h.logger.WithError(err).WithFields(fields).WithField("error_kind", domain.ErrorKind(err)).Info("cart rejected")
			return nil
		}
		return err
	}

	h.logger.WithFields(fields).WithFields(log.Fields{
		"cart_positions": cart.Len(),
		"total":          total.String(),
	}).Info("cart processed")
	return nil
}
