package webhook

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Notifier publishes a lightweight "pending webhooks waiting" marker to
// a Redis Stream whenever Enqueue persists new rows, so a Drainer
// (running in its own process or goroutine) can wake up immediately
// instead of polling Postgres on a fixed interval. The published payload
// carries no data of its own — this queue's unit of work lives in
// Postgres, not in the message body.
type Notifier struct {
	pub   message.Publisher
	topic string
}

// NewNotifier wraps a redisstream publisher bound to topic.
func NewNotifier(redisClient redis.UniversalClient, topic string) (*Notifier, error) {
	logger := watermill.NewSlogLogger(nil)

	pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: redisClient}, logger)
	if err != nil {
		return nil, fmt.Errorf("create redis stream publisher: %w", err)
	}

	return &Notifier{pub: pub, topic: topic}, nil
}

// Notify publishes one wake-up marker.
func (n *Notifier) Notify() error {
	msg := message.NewMessage(watermill.NewUUID(), []byte("1"))
	return n.pub.Publish(n.topic, msg)
}

// Close closes the underlying publisher.
func (n *Notifier) Close() error {
	return n.pub.Close()
}

// Drainer runs DrainOnce every time a wake-up marker arrives on the
// Redis Stream, with bounded concurrency via the router's consumer
// group.
type Drainer struct {
	router     *message.Router
	dispatcher *Dispatcher
	batchSize  int
	logger     *zap.Logger
}

// NewDrainer builds a Drainer consuming topic through consumerGroup.
func NewDrainer(redisClient redis.UniversalClient, topic, consumerGroup string, dispatcher *Dispatcher, batchSize int, logger *zap.Logger) (*Drainer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	wmLogger := watermill.NewSlogLogger(nil)

	sub, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
		Client:        redisClient,
		ConsumerGroup: consumerGroup,
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create redis stream subscriber: %w", err)
	}

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	d := &Drainer{router: router, dispatcher: dispatcher, batchSize: batchSize, logger: logger}

	router.AddNoPublisherHandler("drain-pending-webhooks", topic, sub, d.handle)

	return d, nil
}

func (d *Drainer) handle(msg *message.Message) error {
	ctx := msg.Context()
	delivered, err := d.dispatcher.DrainOnce(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("webhook drain failed", zap.Error(err))
		return err
	}
	if delivered > 0 {
		d.logger.Info("webhook drain delivered", zap.Int("count", delivered))
	}
	return nil
}

// Run starts the drainer. It blocks until ctx is cancelled.
func (d *Drainer) Run(ctx context.Context) error {
	return d.router.Run(ctx)
}

// Close closes the drainer's router.
func (d *Drainer) Close() error {
	return d.router.Close()
}
