package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/figures/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/figures/internal/service/intake"
)

// initKafkaProducer инициализирует Kafka producer если brokers не пустой.
// Возвращает nil, nil если brokers пустой.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, logger.WithField("component", "kafka-producer"))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// runCartConsumer читает корзины из cfg.CartTopic до отмены ctx.
// Необработанные сообщения уходят в DLQ через producer.
func runCartConsumer(ctx context.Context, cfg Config, handler *intake.Handler, dlq *kafka.Producer, logger *log.Entry) error {
	opts := []kafka.ConsumerOption{kafka.WithConsumerLogger(logger.WithField("component", "cart-consumer"))}
	if dlq != nil {
		opts = append(opts, kafka.WithDLQ(dlq))
	}

	consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.CartGroup, []string{cfg.CartTopic}, handler.Handle, opts...)
	if err != nil {
		return err
	}
	if err := consumer.Start(ctx); err != nil {
		_ = consumer.Stop()
		return err
	}
	logger.WithFields(log.Fields{
		"topic": cfg.CartTopic,
		"group": cfg.CartGroup,
	}).Info("cart consumer started")

	<-ctx.Done()
	return consumer.Stop()
}
