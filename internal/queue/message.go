// Package queue carries book requests between the ingestion API and the
// enrichment worker over a Kafka topic.
//
// The Publisher writes one message per validated request, keyed by request_id.
// The Consumer reads messages in batches for a consumer group and commits
// offsets only after a whole batch was handled; a failed batch is redelivered
// by rejoining the group from the last committed offset.
package queue

import (
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// HeaderMessageID is the header carrying the publisher-assigned message ID.
const HeaderMessageID = "message_id"

// Message is one delivered queue message.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Time      time.Time
}

// ID returns the publisher-assigned message ID, or a position-derived ID that
// stays stable when the message is redelivered.
func (m Message) ID() string {
	if id := m.Headers[HeaderMessageID]; id != "" {
		return id
	}
	return m.Position()
}

// Position formats the message's topic, partition and offset.
func (m Message) Position() string {
	return fmt.Sprintf("%s-%d-%d", m.Topic, m.Partition, m.Offset)
}

func fromKafka(km kafka.Message) Message {
	msg := Message{
		Topic:     km.Topic,
		Partition: km.Partition,
		Offset:    km.Offset,
		Key:       km.Key,
		Value:     km.Value,
		Time:      km.Time,
	}
	if len(km.Headers) > 0 {
		msg.Headers = make(map[string]string, len(km.Headers))
		for _, h := range km.Headers {
			msg.Headers[h.Key] = string(h.Value)
		}
	}
	return msg
}
