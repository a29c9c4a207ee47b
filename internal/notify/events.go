package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pizzacraft/api/internal/database"
	"github.com/pizzacraft/api/internal/ws"
	"github.com/sirupsen/logrus"
)

// Event types pushed over the WebSocket hub.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
)

// Broadcaster fans an event out to a room. Satisfied by *ws.Hub.
type Broadcaster interface {
	Broadcast(room string, event ws.Event) bool
}

// OrderEvents turns committed order changes into e-mails and realtime
// updates. Both sinks are non-blocking.
type OrderEvents struct {
	notifier *Notifier
	hub      Broadcaster
	log      logrus.FieldLogger
}

func NewOrderEvents(notifier *Notifier, hub Broadcaster, log logrus.FieldLogger) *OrderEvents {
	return &OrderEvents{notifier: notifier, hub: hub, log: log}
}

type orderEventPayload struct {
	OrderID       uuid.UUID `json:"orderId"`
	OrderNumber   string    `json:"orderNumber"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"paymentStatus"`
	Total         string    `json:"total"`
	CustomerName  string    `json:"customerName"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (e *OrderEvents) OrderPlaced(ctx context.Context, o database.Order) {
	log := e.log.WithField("order_number", o.OrderNumber)
	if err := e.notifier.OrderConfirmation(ctx, o); err != nil {
		log.WithError(err).Warn("queue order confirmation")
	}
	if err := e.notifier.NewOrderAlert(ctx, o); err != nil {
		log.WithError(err).Warn("queue new order alert")
	}
	e.broadcast(o, EventOrderCreated, ws.AdminRoom)
}

func (e *OrderEvents) OrderStatusChanged(ctx context.Context, o database.Order) {
	if err := e.notifier.OrderStatusUpdate(ctx, o); err != nil {
		e.log.WithError(err).WithField("order_number", o.OrderNumber).Warn("queue status update")
	}
	e.broadcast(o, EventOrderStatusChanged, ws.AdminRoom, ws.OrderRoom(o.OrderNumber))
}

func (e *OrderEvents) broadcast(o database.Order, typ string, rooms ...string) {
	if e.hub == nil {
		return
	}
	payload, err := json.Marshal(orderEventPayload{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		Total:         database.NumericString(o.Total),
		CustomerName:  o.CustomerName,
		UpdatedAt:     o.UpdatedAt,
	})
	if err != nil {
		e.log.WithError(err).Error("encode order event")
		return
	}
	for _, room := range rooms {
		if !e.hub.Broadcast(room, ws.Event{Type: typ, Payload: payload}) {
			e.log.WithFields(logrus.Fields{"room": room, "type": typ}).Warn("broadcast queue full, event dropped")
		}
	}
}
