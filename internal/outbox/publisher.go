package outbox

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/bus-ticket-reservations/internal/adapters/crdb"
	"github.com/robertarktes/bus-ticket-reservations/internal/adapters/rabbit"
	"github.com/robertarktes/bus-ticket-reservations/internal/observability"
)

// Publisher drains NEW outbox rows to the ticket events exchange.
type Publisher struct {
	repo      *crdb.Repository
	rabbitPub *rabbit.Publisher
	logger    observability.Logger
}

func NewPublisher(repo *crdb.Repository, rabbitPub *rabbit.Publisher, logger observability.Logger) *Publisher {
	return &Publisher{repo: repo, rabbitPub: rabbitPub, logger: logger}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := p.drain(ctx); err != nil {
				p.logger.WithError(err).Error("outbox drain failed")
			}
			if age, err := p.repo.OldestUnpublishedAge(ctx, now); err == nil {
				observability.OutboxLag.Set(age.Seconds())
			}
		}
	}
}

func (p *Publisher) drain(ctx context.Context) error {
	records, err := p.repo.GetUnpublishedOutbox(ctx, 10)
	if err != nil {
		return err
	}
	for _, rec := range records {
		msg := amqp.Publishing{
			MessageId:   rec.DedupeKey,
			ContentType: "application/json",
			Body:        rec.Payload,
		}
		if err := p.rabbitPub.Publish(ctx, rec.EventType, msg); err != nil {
			observability.RabbitPublishRetries.Inc()
			p.logger.WithError(err).WithField("event_type", rec.EventType).Warn("publish failed, will retry next tick")
			continue
		}
		if err := p.repo.MarkPublished(ctx, rec.ID, time.Now().UTC(), rec.DedupeKey); err != nil {
			p.logger.WithError(err).Error("failed to mark outbox record published")
		}
	}
	return nil
}
