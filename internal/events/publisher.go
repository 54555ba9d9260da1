// Package events provides event publishing functionality.
package events

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"time"

	"github.com/segmentio/kafka-go"

	"ai-speech-translate-core/internal/models"
	"ai-speech-translate-core/internal/schema"
)

// Publisher publishes partial and final transcript events to separate
// Kafka topics, mirroring the two-stream shape downstream analytics
// consumers expect (partials are high-volume and lossy-tolerant,
// finals are the durable record).
type Publisher struct {
	writerPartial *kafka.Writer
	writerFinal   *kafka.Writer
	validator     *schema.Validator
	principal     string
	topicPartial  string
	topicFinal    string
	enabled       bool
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	Principal    string
	Enabled      bool
}

// New creates a new Kafka event publisher. A nil or disabled config (or
// one with no brokers) yields a log-only publisher: every Publish* call
// still succeeds, it just never reaches Kafka.
func New(cfg *Config) *Publisher {
	if cfg == nil {
		cfg = &Config{}
	}
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Println("[PUBLISHER] Kafka disabled, using log-only mode")
		return &Publisher{
			validator:    schema.New(),
			principal:    cfg.Principal,
			topicPartial: cfg.TopicPartial,
			topicFinal:   cfg.TopicFinal,
			enabled:      false,
		}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
		Resolver: &net.Resolver{
			PreferGo: true,
		},
	}
	transport := &kafka.Transport{Dial: dialer.DialFunc}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Printf("[PUBLISHER] Kafka enabled: brokers=%v topicPartial=%s topicFinal=%s",
		cfg.Brokers, cfg.TopicPartial, cfg.TopicFinal)

	return &Publisher{
		writerPartial: newWriter(cfg.TopicPartial),
		writerFinal:   newWriter(cfg.TopicFinal),
		validator:     schema.New(),
		principal:     cfg.Principal,
		topicPartial:  cfg.TopicPartial,
		topicFinal:    cfg.TopicFinal,
		enabled:       true,
	}
}

// PublishPartial publishes a partial-transcript event.
func (p *Publisher) PublishPartial(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerPartial, p.topicPartial, key, event)
}

// PublishFinal publishes a final-transcript event.
func (p *Publisher) PublishFinal(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerFinal, p.topicFinal, key, event)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("[PUBLISHER] Failed to marshal event: %v", err)
		return err
	}

	log.Printf("[PUBLISH] principal=%s topic=%s key=%s payload=%s", p.principal, topic, key, payload)

	if !p.enabled || writer == nil {
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(topic)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Printf("[PUBLISHER] Failed to write to Kafka: %v", err)
		return err
	}
	return nil
}

// PersistPartial implements pipeline.Persister, publishing a committed
// partial preview to the partial topic keyed by session id.
func (p *Publisher) PersistPartial(event models.PersistedPartial) {
	if p.validator != nil {
		if err := p.validator.Validate(event); err != nil {
			log.Printf("[PUBLISHER] dropping invalid partial event: %v", err)
			return
		}
	}
	if err := p.PublishPartial(context.Background(), event.SessionID, event); err != nil {
		log.Printf("[PUBLISHER] persist partial failed: sessionId=%s err=%v", event.SessionID, err)
	}
}

// PersistFinal implements pipeline.Persister, publishing a committed
// final to the final topic keyed by session id.
func (p *Publisher) PersistFinal(event models.PersistedFinal) {
	if p.validator != nil {
		if err := p.validator.Validate(event); err != nil {
			log.Printf("[PUBLISHER] dropping invalid final event: %v", err)
			return
		}
	}
	if err := p.PublishFinal(context.Background(), event.SessionID, event); err != nil {
		log.Printf("[PUBLISHER] persist final failed: sessionId=%s err=%v", event.SessionID, err)
	}
}

// Close closes any open Kafka writers.
func (p *Publisher) Close() error {
	if p.writerPartial != nil {
		if err := p.writerPartial.Close(); err != nil {
			return err
		}
	}
	if p.writerFinal != nil {
		return p.writerFinal.Close()
	}
	return nil
}
