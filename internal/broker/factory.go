package broker

import (
	"fmt"

	"seismo/internal/config"
	"seismo/internal/constants"
	"seismo/internal/logger"
)

func NewProducer(cfg config.BrokerConfig, log logger.Logger, serviceName string) (Producer, error) {
	switch cfg.Type {
	case constants.BrokerTypeKafka:
		return NewKafkaProducer(cfg.Kafka, log, serviceName), nil
	case constants.BrokerTypeFranz:
		return NewFranzProducer(cfg.Kafka, log, serviceName)
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}

func NewConsumer(cfg config.BrokerConfig, log logger.Logger, serviceName string) (Consumer, error) {
	switch cfg.Type {
	case constants.BrokerTypeKafka:
		return NewKafkaConsumer(cfg.Kafka, log, serviceName), nil
	case constants.BrokerTypeFranz:
		return NewFranzConsumer(cfg.Kafka, log, serviceName)
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}
