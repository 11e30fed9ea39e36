package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/figures/internal/domain"
	"github.com/vladislavdragonenkov/figures/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/figures/internal/metrics"
	"github.com/vladislavdragonenkov/figures/internal/service/inventory"
)

const (
	EventReservationCommitted = "ReservationCommitted"
	EventReservationAborted   = "ReservationAborted"

	aggregateReservation = "reservation"
)

// Orchestrator резервирует остатки по корзине, сохраняет заказ
// и компенсирует резервы при любом сбое.
type Orchestrator interface {
	Process(ctx context.Context, cart domain.Cart) (decimal.Decimal, error)
}

// Inventory описывает операции склада, которые использует оркестратор.
type Inventory interface {
	CheckAvailable(ctx context.Context, figureType domain.FigureType, count int) (bool, error)
	Reserve(ctx context.Context, figureType domain.FigureType, count int) error
	Release(ctx context.Context, figureType domain.FigureType, count int) error
	TryReserve(ctx context.Context, figureType domain.FigureType, count int) (bool, error)
}

// EventPublisher публикует события резервирования напрямую в брокер.
type EventPublisher interface {
	PublishEvent(topic string, key string, event interface{}) error
}

// Option настраивает оркестратор.
type Option func(*orchestrator)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(o *orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics включает метрики резервирования.
func WithMetrics(m *metrics.ReservationMetrics) Option {
	return func(o *orchestrator) { o.metrics = m }
}

// WithOutbox включает запись терминальных событий в outbox.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(o *orchestrator) { o.outbox = outbox }
}

// WithEventPublisher включает прямую публикацию событий в Kafka.
func WithEventPublisher(publisher EventPublisher) Option {
	return func(o *orchestrator) { o.events = publisher }
}

// WithAtomicReserve переключает проверку и списание строки на TryReserve.
func WithAtomicReserve(enabled bool) Option {
	return func(o *orchestrator) { o.atomicReserve = enabled }
}

// orchestrator выполняет шаги: check → reserve по каждой строке → persist.
type orchestrator struct {
	inventory     Inventory
	orders        domain.OrderRepository
	outbox        domain.OutboxRepository
	events        EventPublisher
	logger        *log.Entry
	metrics       *metrics.ReservationMetrics
	atomicReserve bool
}

// NewOrchestrator создаёт оркестратор резервирования.
func NewOrchestrator(stock Inventory, orders domain.OrderRepository, opts ...Option) Orchestrator {
	o := &orchestrator{
		inventory: stock,
		orders:    orders,
		logger:    log.New().WithField("component", "saga"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// stepResult хранит итог одного шага обработки корзины.
type stepResult struct {
	step domain.SagaStep
	line int
	err  error
}

func (r stepResult) failed() bool { return r.err != nil }

// Process обрабатывает одну корзину. При ошибке возвращается исходная
// ошибка без обёрток, после того как все строки корзины возвращены на склад.
func (o *orchestrator) Process(ctx context.Context, cart domain.Cart) (decimal.Decimal, error) {
	start := time.Now()
	if o.metrics != nil {
		o.metrics.RecordStarted()
		defer func() { o.metrics.RecordFinished(time.Since(start)) }()
	}

	cartID := uuid.NewString()
	positions := cart.Positions()
	logger := o.logger.WithFields(log.Fields{
		"cart_id":        cartID,
		"cart_positions": len(positions),
	})
	o.publishReservationEvent(kafka.EventTypeReservationStarted, cartID, map[string]interface{}{
		"positions": len(positions),
	})

	// Резервы и компенсация не прерываются отменой ctx: отмена,
	// замеченная при сохранении, всё равно должна вернуть остатки.
	inventoryCtx := context.WithoutCancel(ctx)

	for i, position := range positions {
		if res := o.reserveLine(inventoryCtx, i, position); res.failed() {
			o.abort(inventoryCtx, logger, cartID, positions, res)
			return decimal.Zero, res.err
		}
	}

	res, total, orderID := o.persist(ctx, cart)
	if res.failed() {
		o.abort(inventoryCtx, logger, cartID, positions, res)
		return decimal.Zero, res.err
	}

	o.commit(logger, cartID, orderID, total, len(positions))
	return total, nil
}

func (o *orchestrator) reserveLine(ctx context.Context, line int, position domain.CartPosition) stepResult {
	if position.Count < 1 {
		return stepResult{
			step: domain.SagaStepCheck,
			line: line,
			err:  fmt.Errorf("%w: line %d: count %d is less than 1", domain.ErrOutOfRange, line, position.Count),
		}
	}
	if position.Figure == nil {
		return stepResult{
			step: domain.SagaStepCheck,
			line: line,
			err:  fmt.Errorf("%w: line %d: unknown figure", domain.ErrValidation, line),
		}
	}

	figureType := position.Figure.Type()
	if o.atomicReserve {
		started := time.Now()
		reserved, err := o.inventory.TryReserve(ctx, figureType, position.Count)
		o.observeStep(domain.SagaStepReserve, started)
		if err != nil {
			return stepResult{step: domain.SagaStepReserve, line: line, err: err}
		}
		if !reserved {
			return stepResult{step: domain.SagaStepReserve, line: line, err: insufficient(line, figureType, position.Count)}
		}
		return stepResult{step: domain.SagaStepReserve, line: line}
	}

	started := time.Now()
	available, err := o.inventory.CheckAvailable(ctx, figureType, position.Count)
	o.observeStep(domain.SagaStepCheck, started)
	if err != nil {
		return stepResult{step: domain.SagaStepCheck, line: line, err: err}
	}
	if !available {
		return stepResult{step: domain.SagaStepCheck, line: line, err: insufficient(line, figureType, position.Count)}
	}

	started = time.Now()
	err = o.inventory.Reserve(ctx, figureType, position.Count)
	o.observeStep(domain.SagaStepReserve, started)
	return stepResult{step: domain.SagaStepReserve, line: line, err: err}
}

func insufficient(line int, figureType domain.FigureType, count int) error {
	return fmt.Errorf("%w: line %d: not enough %s in stock for %d", domain.ErrOutOfRange, line, figureType, count)
}

func (o *orchestrator) persist(ctx context.Context, cart domain.Cart) (stepResult, decimal.Decimal, string) {
	res := stepResult{step: domain.SagaStepPersist, line: -1}

	order, err := domain.NewOrderFromCart(cart)
	if err != nil {
		res.err = err
		return res, decimal.Zero, ""
	}

	started := time.Now()
	total, err := o.orders.Save(ctx, order)
	o.observeStep(domain.SagaStepPersist, started)
	if err != nil {
		res.err = err
		return res, decimal.Zero, order.ID()
	}
	return res, total, order.ID()
}

// compensateAll возвращает на склад каждую позицию корзины, включая строки,
// которые не успели или не смогли зарезервироваться. Для них счётчик
// увеличивается сверх исходного значения. Строки без фигуры пропускаются.
func (o *orchestrator) compensateAll(ctx context.Context, logger *log.Entry, positions []domain.CartPosition) {
	for i, position := range positions {
		if position.Figure == nil {
			continue
		}
		figureType := position.Figure.Type()

		started := time.Now()
		err := o.inventory.Release(ctx, figureType, position.Count)
		o.observeStep(domain.SagaStepRelease, started)
		if err != nil {
			logger.WithError(err).WithFields(log.Fields{
				"line":        i,
				"figure_type": figureType,
				"count":       position.Count,
			}).Error("release inventory failed")
			if o.metrics != nil {
				o.metrics.RecordCompensationFailure()
			}
			continue
		}
		if o.metrics != nil {
			o.metrics.RecordCompensatedLine()
		}
	}
}

func (o *orchestrator) abort(ctx context.Context, logger *log.Entry, cartID string, positions []domain.CartPosition, res stepResult) {
	kind := domain.ErrorKind(res.err)
	logger = logger.WithFields(log.Fields{
		"state":      domain.ReservationAborted,
		"step":       res.step,
		"line":       res.line,
		"error_kind": kind,
	})
	if domain.IsRejection(res.err) {
		logger.WithError(res.err).Info("cart rejected, compensating")
	} else {
		logger.WithError(res.err).Warn("reservation failed, compensating")
	}

	o.compensateAll(ctx, logger, positions)

	if o.metrics != nil {
		o.metrics.RecordAborted(kind)
	}
	payload := map[string]interface{}{
		"reason":      res.err.Error(),
		"error_kind":  kind,
		"failed_step": string(res.step),
		"line":        res.line,
	}
	o.emitEvent(logger, cartID, EventReservationAborted, payload)
	o.publishReservationEvent(kafka.EventTypeReservationAborted, cartID, payload)
}

func (o *orchestrator) commit(logger *log.Entry, cartID, orderID string, total decimal.Decimal, positions int) {
	logger.WithFields(log.Fields{
		"state":    domain.ReservationCommitted,
		"order_id": orderID,
		"total":    total.String(),
	}).Info("reservation committed")

	if o.metrics != nil {
		o.metrics.RecordCommitted()
	}
	payload := map[string]interface{}{
		"order_id":  orderID,
		"total":     total.String(),
		"positions": positions,
	}
	o.emitEvent(logger, cartID, EventReservationCommitted, payload)
	o.publishReservationEvent(kafka.EventTypeReservationCommitted, cartID, payload)
}

func (o *orchestrator) emitEvent(logger *log.Entry, cartID, eventType string, payload map[string]interface{}) {
	if o.outbox == nil {
		return
	}
	payload["cart_id"] = cartID
	data, err := json.Marshal(payload)
	if err != nil {
		logger.WithError(err).WithField("event", eventType).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: aggregateReservation,
		AggregateID:   cartID,
		EventType:     eventType,
		Payload:       data,
	}
	if _, err := o.outbox.Enqueue(msg); err != nil {
		logger.WithError(err).WithField("event", eventType).Error("enqueue event failed")
		return
	}
	if o.metrics != nil {
		o.metrics.RecordOutboxEvent()
	}
}

// publishReservationEvent публикует событие в Kafka, если publisher настроен.
// Ошибка публикации не влияет на результат резервирования.
func (o *orchestrator) publishReservationEvent(eventType kafka.EventType, cartID string, metadata map[string]interface{}) {
	if o.events == nil {
		return
	}
	event := kafka.NewReservationEvent(eventType, cartID, metadata)
	if err := o.events.PublishEvent(kafka.TopicReservationEvents, cartID, event); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"event_type": eventType,
			"cart_id":    cartID,
		}).Warn("failed to publish reservation event to kafka")
	}
}

func (o *orchestrator) observeStep(step domain.SagaStep, started time.Time) {
	if o.metrics != nil {
		o.metrics.RecordStepDuration(string(step), time.Since(started))
	}
}

var (
	_ Orchestrator = (*orchestrator)(nil)
	_ Inventory    = (*inventory.Store)(nil)
)
