package worker

import (
	"github.com/spec-kit/lead-service/internal/events"
	"github.com/spec-kit/lead-service/internal/service"
)

// StartNotificationWorker registers notification handlers and forwards every
// event to the broker when a publisher is configured. Mail and broker
// deliveries run on queue, never on the request goroutine.
func StartNotificationWorker(dispatcher events.Dispatcher, queue *Queue, notificationService *service.NotificationService, publisher *events.AMQPPublisher) {
	if notificationService != nil {
		notificationService.RegisterHandlers(queue.Wrap)
	}
	if dispatcher != nil && publisher != nil {
		dispatcher.SubscribeAll(queue.Wrap("amqp", publisher.Handle))
	}
}
