package app

import (
	"context"
	"errors"
	"strings"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/IJaes/jeogiyo-server-sub000/internal/domain"
	"github.com/IJaes/jeogiyo-server-sub000/internal/messaging/kafka"
	"github.com/IJaes/jeogiyo-server-sub000/internal/service/order"
)

// initKafkaProducer инициализирует Kafka producer, если brokers не пустой.
// Возвращает nil, nil при пустом списке brokers.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	if brokers == "" {
		return nil, nil
	}

	brokerList := strings.Split(brokers, ",")
	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// closeKafka закрывает Kafka producer, если он не nil.
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

// initOrderRequestConsumer подписывается на входящие команды создания заказа.
// Необработанные сообщения после исчерпания retry уходят в DLQ.
func initOrderRequestConsumer(cfg Config, svc *order.Service, dlqProducer *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	if cfg.KafkaBrokers == "" {
		return nil, nil
	}

	handler := newOrderRequestHandler(svc, logger)
	consumer, err := kafka.NewConsumerWithDLQ(
		strings.Split(cfg.KafkaBrokers, ","),
		cfg.KafkaGroupID,
		[]string{kafka.TopicOrderRequests},
		handler,
		dlqProducer,
		cfg.KafkaMaxRetries,
	)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka consumer, continuing without order request intake")
		return nil, err
	}

	return consumer, nil
}

// newOrderRequestHandler превращает Kafka-сообщение в размещение заказа.
// Невалидные запросы не переигрываются: повтор даст тот же результат.
func newOrderRequestHandler(svc *order.Service, logger *log.Entry) kafka.MessageHandler {
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		request, err := kafka.ParseOrderRequest(message)
		if err != nil {
			logger.WithError(err).WithField("offset", message.Offset).Warn("malformed order request dropped")
			return nil
		}

		placed, err := svc.PlaceOrder(ctx, order.PlaceOrderInput{
			UserID:        request.UserID,
			StoreID:       request.StoreID,
			AmountMinor:   request.AmountMinor,
			TransactionID: request.TransactionID,
			AuthKey:       request.AuthKey,
		})
		if err != nil {
			if errors.Is(err, domain.ErrInvalidAmount) {
				logger.WithError(err).WithFields(log.Fields{
					"user_id":  request.UserID,
					"store_id": request.StoreID,
				}).Warn("order request rejected")
				return nil
			}
			return err
		}

		logger.WithFields(log.Fields{
			"order_id": placed.ID,
			"user_id":  placed.UserID,
		}).Info("order placed from kafka request")
		return nil
	}
}
