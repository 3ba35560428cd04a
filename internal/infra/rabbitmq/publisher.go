package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/framecast/compilation-service/internal/domain/entity"
	"github.com/framecast/compilation-service/internal/domain/port"
)

const (
	compilationRoutingKey = "video.compilation"
	statusRoutingKey      = "video.status"
)

type Publisher struct {
	channel  *amqp.Channel
	exchange string
}

func NewPublisher(conn *amqp.Connection, exchange string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publisher channel: %w", err)
	}
	err = ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{channel: ch, exchange: exchange}, nil
}

// JobPublisher publishes compilation jobs onto a classic priority queue.
// Priority bands order jobs ahead of FIFO within a band; redelivery is still
// at-least-once and the consumer stays idempotent.
type JobPublisher struct {
	pub         *Publisher
	queue       string
	maxPriority uint8
}

func NewJobPublisher(pub *Publisher, queue string, maxPriority uint8) (*JobPublisher, error) {
	_, err := pub.channel.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-max-priority": int32(maxPriority),
	})
	if err != nil {
		return nil, fmt.Errorf("declare compilation queue: %w", err)
	}
	if err := pub.channel.QueueBind(queue, compilationRoutingKey, pub.exchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind compilation queue: %w", err)
	}
	return &JobPublisher{pub: pub, queue: queue, maxPriority: maxPriority}, nil
}

func (jp *JobPublisher) PublishJob(ctx context.Context, job entity.CompilationJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	err = jp.pub.channel.PublishWithContext(ctx,
		jp.pub.exchange,
		compilationRoutingKey,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Priority:     job.Priority,
			Timestamp:    time.Now().UTC(),
		},
	)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

func (jp *JobPublisher) Depth(_ context.Context) (int, error) {
	q, err := jp.pub.channel.QueueDeclarePassive(jp.queue, true, false, false, false, amqp.Table{
		"x-max-priority": int32(jp.maxPriority),
	})
	if err != nil {
		return 0, fmt.Errorf("inspect compilation queue: %w", err)
	}
	return q.Messages, nil
}

type StatusPublisher struct {
	pub *Publisher
}

func NewStatusPublisher(pub *Publisher) *StatusPublisher {
	return &StatusPublisher{pub: pub}
}

func (sp *StatusPublisher) PublishStatus(ctx context.Context, msg []byte) error {
	return sp.pub.channel.PublishWithContext(ctx,
		sp.pub.exchange,
		statusRoutingKey,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         msg,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
		},
	)
}

type DLQPublisher struct {
	pub   *Publisher
	queue string
}

func NewDLQPublisher(pub *Publisher, dlqQueue string) *DLQPublisher {
	return &DLQPublisher{pub: pub, queue: dlqQueue}
}

func (dp *DLQPublisher) PublishToDLQ(ctx context.Context, msg []byte, reason string) error {
	return dp.pub.channel.PublishWithContext(ctx,
		"",
		dp.queue,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         msg,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Headers: amqp.Table{
				"x-dlq-reason": reason,
			},
		},
	)
}

var (
	_ port.JobPublisher    = (*JobPublisher)(nil)
	_ port.StatusPublisher = (*StatusPublisher)(nil)
	_ port.DLQPublisher    = (*DLQPublisher)(nil)
)
