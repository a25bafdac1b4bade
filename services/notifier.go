package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"skills-studio/metrics"
	"skills-studio/utils"
)

const EventReferralCreated = "referral.created"

// ReferralEvent is published when a new referral is attributed.
type ReferralEvent struct {
	Type            string    `json:"type"`
	ReferralID      string    `json:"referral_id"`
	AmbassadorID    string    `json:"ambassador_id"`
	AmbassadorEmail string    `json:"ambassador_email,omitempty"`
	ReferralCode    string    `json:"referral_code"`
	ReferredUserID  string    `json:"referred_user_id"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Notifier delivers referral events to marketing automation.
type Notifier interface {
	Notify(ctx context.Context, evt ReferralEvent) error
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, ReferralEvent) error { return nil }

// WebhookNotifier POSTs events as JSON.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{URL: url, Client: utils.HTTPClient}
}

func (w *WebhookNotifier) Notify(ctx context.Context, evt ReferralEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// KafkaNotifier publishes events keyed by ambassador id so one ambassador's
// events stay ordered within a partition.
type KafkaNotifier struct {
	writer *kafka.Writer
}

func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}}
}

func (k *KafkaNotifier) Notify(ctx context.Context, evt ReferralEvent) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.AmbassadorID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(evt.Type)},
		},
	})
}

func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}

// MultiNotifier fans an event out to every configured channel.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, evt ReferralEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher sends notifications in the background. Delivery failures are
// logged and never reach the caller.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	log      *zap.Logger
	wg       sync.WaitGroup
}

func NewDispatcher(n Notifier, timeout time.Duration, log *zap.Logger) *Dispatcher {
	if n == nil {
		n = NopNotifier{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{notifier: n, timeout: timeout, log: log}
}

func (d *Dispatcher) Send(evt ReferralEvent) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.notifier.Notify(ctx, evt); err != nil {
			metrics.Notifications.WithLabelValues("failed").Inc()
			d.log.Warn("referral notification failed",
				zap.String("type", evt.Type),
				zap.String("referral_id", evt.ReferralID),
				zap.Error(err),
			)
			return
		}
		metrics.Notifications.WithLabelValues("delivered").Inc()
	}()
}

// Wait blocks until in-flight notifications finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
