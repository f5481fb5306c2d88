//go:build integration

package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"

	"listing_hunter/internal/activity"
)

type RabbitMQIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *rabbitmq.RabbitMQContainer
	amqpURL   string
	logger    *slog.Logger
}

func (s *RabbitMQIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	container, err := rabbitmq.Run(s.ctx,
		"rabbitmq:3.13-management-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").
				WithStartupTimeout(60*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	amqpURL, err := container.AmqpURL(s.ctx)
	s.Require().NoError(err)
	s.amqpURL = amqpURL
}

func (s *RabbitMQIntegrationSuite) TearDownSuite() {
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func TestRabbitMQIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RabbitMQIntegrationSuite))
}

func (s *RabbitMQIntegrationSuite) config(name string) Config {
	return Config{
		URL:        s.amqpURL,
		Exchange:   "exchange-" + name,
		RoutingKey: "activity-" + name,
		QueueName:  "queue-" + name,
	}
}

func (s *RabbitMQIntegrationSuite) TestPublisher_Connection() {
	pub, err := NewRabbitMQ(s.config("connect"), s.logger)
	s.NoError(err)
	s.NotNil(pub)
	s.NoError(pub.Close())
}

func (s *RabbitMQIntegrationSuite) TestPublisher_PublishActivity() {
	cfg := s.config("publish")
	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	entry := activity.Entry{
		ID:        "0b6c3a8e-8c4e-4a57-9d38-1f6f1f1f4b6a",
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
		Kind:      activity.KindFetch,
		Message:   "Checked 50 apartments: 2 new, 1 price drops",
		Details:   map[string]any{"category": "apartment", "new": 2},
	}

	s.Require().NoError(pub.PublishActivity(s.ctx, entry))

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)
	s.Equal("application/json", msg.ContentType)
	s.Equal(entry.ID, msg.MessageId)
	s.Equal("fetch", msg.Type)
	s.Equal(uint8(amqp.Persistent), msg.DeliveryMode)

	var received ActivityMessage
	s.Require().NoError(json.Unmarshal(msg.Body, &received))
	s.Equal(entry.ID, received.Entry.ID)
	s.Equal(entry.Message, received.Entry.Message)
	s.Equal(activity.KindFetch, received.Entry.Kind)
	s.Equal("apartment", received.Entry.Details["category"])
	s.False(received.PublishedAt.IsZero())
}

func (s *RabbitMQIntegrationSuite) TestPublisher_AsActivitySink() {
	cfg := s.config("sink")
	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	log := activity.New(10, s.logger).WithSink(pub, 10)
	go func() { _ = log.Run(ctx) }()

	log.Record(activity.KindNotification, "Sent 3 notifications for 1 new listings and 0 price drops", nil)

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)
	s.Equal("notification", msg.Type)
}

func (s *RabbitMQIntegrationSuite) consumeMessage(cfg Config) *amqp.Delivery {
	conn, err := amqp.Dial(s.amqpURL)
	s.Require().NoError(err)
	defer conn.Close()

	ch, err := conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	msgs, err := ch.Consume(cfg.QueueName, "", true, false, false, false, nil)
	s.Require().NoError(err)

	select {
	case msg := <-msgs:
		return &msg
	case <-time.After(5 * time.Second):
		s.Fail("Timeout waiting for message")
		return nil
	}
}
