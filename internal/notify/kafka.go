package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"jewellery-shop/internal/models"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"

	writeTimeout = 5 * time.Second
)

// OrderEvent is the JSON payload written to the order-events topic,
// keyed by order id so all events for one order land on one partition.
type OrderEvent struct {
	Type      string             `json:"type"`
	UserID    int                `json:"user_id"`
	OrderID   string             `json:"order_id"`
	Status    models.OrderStatus `json:"status"`
	Timestamp time.Time          `json:"timestamp"`
}

type KafkaNotifier struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaNotifier(broker, topic string, logger *zap.Logger) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(broker),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaNotifier{writer: writer, logger: logger}
}

func (n *KafkaNotifier) OrderCreated(ctx context.Context, userID int, orderID string, status models.OrderStatus) error {
	return n.publish(ctx, OrderEvent{
		Type:      EventOrderCreated,
		UserID:    userID,
		OrderID:   orderID,
		Status:    status,
		Timestamp: time.Now(),
	})
}

func (n *KafkaNotifier) OrderStatusChanged(ctx context.Context, userID int, orderID string, newStatus models.OrderStatus) error {
	return n.publish(ctx, OrderEvent{
		Type:      EventOrderStatusChanged,
		UserID:    userID,
		OrderID:   orderID,
		Status:    newStatus,
		Timestamp: time.Now(),
	})
}

func (n *KafkaNotifier) publish(ctx context.Context, event OrderEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	// Hard cap on the write so a slow broker cannot stall a request
	// that is otherwise done.
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	err = n.writer.WriteMessages(wctx, kafka.Message{
		Key:   []byte(event.OrderID),
		Value: payload,
	})
	if err != nil {
		n.logger.Warn("order event publish failed",
			zap.String("type", event.Type),
			zap.String("order_id", event.OrderID),
			zap.Error(err))
		return err
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
