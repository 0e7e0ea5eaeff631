package amqpnotifier

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/n0obHere/lago-api/pkg/wallet"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	// Queue the webhook worker consumes lifecycle events from.
	eventsQueue = "wallet.events"
	// Queue the billing worker consumes purchase triggers from.
	billingQueue = "wallet.bill_paid_credit"

	contentTypeJSON = "application/json"
)

// Publisher delivers wallet lifecycle events and billing triggers through
// RabbitMQ. Messages are persistent; redelivery after broker or consumer
// failure makes the contract at-least-once, so consumers must deduplicate.
type Publisher struct {
	logger  *zap.Logger
	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.Mutex
}

// New dials the broker and declares the durable queues.
func New(url string, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	for _, queue := range []string{eventsQueue, billingQueue} {
		if _, err := channel.QueueDeclare(
			queue,
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		); err != nil {
			channel.Close()
			conn.Close()
			return nil, fmt.Errorf("declare queue %s: %w", queue, err)
		}
	}
	return &Publisher{logger: logger, conn: conn, channel: channel}, nil
}

// Close releases the channel and connection.
func (publisher *Publisher) Close() error {
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if publisher.channel != nil {
		publisher.channel.Close()
	}
	if publisher.conn != nil {
		return publisher.conn.Close()
	}
	return nil
}

type eventEnvelope struct {
	Event   string      `json:"webhook_type"`
	Payload interface{} `json:"payload"`
}

type billingTrigger struct {
	TransactionID    string `json:"wallet_transaction_id"`
	WalletID         string `json:"wallet_id"`
	ReferenceUnixUTC int64  `json:"reference_unix_utc"`
}

// NotifyTransactionCreated publishes a wallet_transaction.created event.
func (publisher *Publisher) NotifyTransactionCreated(ctx context.Context, transaction wallet.Transaction) error {
	return publisher.publish(ctx, eventsQueue, eventEnvelope{
		Event:   wallet.EventTransactionCreated,
		Payload: transactionPayload(transaction),
	})
}

// NotifyWalletDepleted publishes a wallet.depleted_ongoing_balance event.
func (publisher *Publisher) NotifyWalletDepleted(ctx context.Context, walletRecord wallet.Wallet) error {
	return publisher.publish(ctx, eventsQueue, eventEnvelope{
		Event: wallet.EventDepletedOngoingBalance,
		Payload: map[string]interface{}{
			"wallet_id":             walletRecord.WalletID.String(),
			"customer_id":           walletRecord.CustomerID.String(),
			"currency":              walletRecord.Currency,
			"balance_cents":         walletRecord.BalanceCents,
			"ongoing_balance_cents": walletRecord.OngoingBalanceCents,
		},
	})
}

// ScheduleBillPaidCredit enqueues the billing job for a purchased entry.
func (publisher *Publisher) ScheduleBillPaidCredit(ctx context.Context, transaction wallet.Transaction, referenceUnixUTC int64) error {
	return publisher.publish(ctx, billingQueue, billingTrigger{
		TransactionID:    transaction.TransactionID.String(),
		WalletID:         transaction.WalletID.String(),
		ReferenceUnixUTC: referenceUnixUTC,
	})
}

func (publisher *Publisher) publish(ctx context.Context, queue string, body interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	err = publisher.channel.PublishWithContext(ctx,
		"",    // default exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  contentTypeJSON,
			DeliveryMode: amqp.Persistent,
			Body:         raw,
		})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	publisher.logger.Debug("published message",
		zap.String("queue", queue),
		zap.Int("bytes", len(raw)))
	return nil
}

func transactionPayload(transaction wallet.Transaction) map[string]interface{} {
	return map[string]interface{}{
		"transaction_id":     transaction.TransactionID.String(),
		"wallet_id":          transaction.WalletID.String(),
		"transaction_type":   transaction.Type.String(),
		"status":             transaction.Status.String(),
		"transaction_status": transaction.TransactionStatus.String(),
		"source":             transaction.Source.String(),
		"amount_cents":       transaction.AmountCents,
		"credit_amount":      transaction.CreditAmount.String(),
		"created_unix_utc":   transaction.CreatedUnixUTC,
	}
}
