package kafka

import (
	"encoding/json"
	"time"

	"github.com/Shopify/sarama"

	"chatgate/logger"
	"chatgate/service/chat"
	"chatgate/tools/safe"
)

// ArchiveProducer streams every finalized message record onto a Kafka topic
// for downstream consumers (search indexing, summaries). Messages are keyed
// by chatroom id so one room's records land on one partition in order.
// Implements chat.MessageArchive; publishing is fully asynchronous.
type ArchiveProducer struct {
	prod  sarama.AsyncProducer
	topic string
}

func buildConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = false
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 1
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

func NewArchiveProducer(brokers []string, topic string) (*ArchiveProducer, error) {
	prod, err := sarama.NewAsyncProducer(brokers, buildConfig())
	if err != nil {
		return nil, err
	}
	p := &ArchiveProducer{prod: prod, topic: topic}
	safe.SafeGo(p.drainErrors)
	return p, nil
}

func (p *ArchiveProducer) drainErrors() {
	for err := range p.prod.Errors() {
		logger.Warnf("[archive] publish failed topic=%s err=%v", p.topic, err.Err)
	}
}

// Publish enqueues the record without blocking the caller beyond the
// producer's input buffer.
func (p *ArchiveProducer) Publish(rec *chat.MessageRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		logger.Warnf("[archive] marshal record id=%s err=%v", rec.ID, err)
		return
	}
	p.prod.Input() <- &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(rec.ChatroomID),
		Value: sarama.ByteEncoder(data),
	}
}

func (p *ArchiveProducer) Close() error {
	return p.prod.Close()
}
