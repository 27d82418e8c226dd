package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// Producer 互动事件日志生产者
type Producer interface {
	Produce(ctx context.Context, evt InteractionEvent) error
	Close()
}

type KafkaProducer struct {
	producer *kafka.Producer
	topic    string
}

func NewKafkaProducer(addr string) (*KafkaProducer, error) {
	return NewKafkaProducerWithTopic(addr, EventName)
}

func NewKafkaProducerWithTopic(addr, topic string) (*KafkaProducer, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": addr,
		"acks":              "1",
	})
	if err != nil {
		return nil, fmt.Errorf("初始化kafka生产者失败: %w", err)
	}
	return &KafkaProducer{
		producer: producer,
		topic:    topic,
	}, nil
}

func (p *KafkaProducer) Produce(ctx context.Context, evt InteractionEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("序列化互动事件失败: %w", err)
	}

	deliveryChan := make(chan kafka.Event, 1)
	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(evt.PartitionKey()),
		Value:          data,
	}, deliveryChan)
	if err != nil {
		return fmt.Errorf("发送互动事件失败: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case e := <-deliveryChan:
		msg, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("未知的kafka投递回执: %v", e)
		}
		if msg.TopicPartition.Error != nil {
			return fmt.Errorf("发送互动事件失败: %w", msg.TopicPartition.Error)
		}
		return nil
	}
}

func (p *KafkaProducer) Close() {
	p.producer.Close()
}
