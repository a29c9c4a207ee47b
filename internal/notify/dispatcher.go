package notify

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// ErrQueueFull is returned by Dispatcher.Send when the queue has no room.
var ErrQueueFull = errors.New("mail queue full")

// Dispatcher queues messages and delivers them from a single worker, so
// callers never wait on SMTP. Delivery failures are logged and dropped.
type Dispatcher struct {
	mailer Mailer
	log    logrus.FieldLogger
	queue  chan Message
	done   chan struct{}
}

func NewDispatcher(mailer Mailer, log logrus.FieldLogger, size int) *Dispatcher {
	if size <= 0 {
		size = 64
	}
	return &Dispatcher{
		mailer: mailer,
		log:    log,
		queue:  make(chan Message, size),
		done:   make(chan struct{}),
	}
}

// Send enqueues msg without blocking.
func (d *Dispatcher) Send(_ context.Context, msg Message) error {
	select {
	case d.queue <- msg:
		return nil
	default:
		d.log.WithField("subject", msg.Subject).Warn("mail queue full, dropping message")
		return ErrQueueFull
	}
}

// Run delivers queued messages until ctx is done, then flushes what is
// already queued. Call it in its own goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case msg := <-d.queue:
			d.deliver(msg)
		case <-ctx.Done():
			for {
				select {
				case msg := <-d.queue:
					d.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

// Done is closed once Run has returned.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) deliver(msg Message) {
	// Detached from the caller's request context.
	if err := d.mailer.Send(context.Background(), msg); err != nil {
		d.log.WithError(err).WithField("subject", msg.Subject).Error("mail delivery failed")
		return
	}
	d.log.WithField("subject", msg.Subject).Debug("mail delivered")
}
