package config

import "github.com/spf13/viper"

// Config holds typed configuration for the tracker service.
type Config struct {
	LogLevel      string
	KafkaBrokers  string
	KafkaTopic    string
	KafkaGroupID  string
	MongoURI      string
	MongoDatabase string
	RedisAddr     string
	MetricsAddr   string
	OTelEndpoint  string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:      v.GetString("log_level"),
		KafkaBrokers:  v.GetString("kafka_brokers"),
		KafkaTopic:    v.GetString("kafka_topic"),
		KafkaGroupID:  v.GetString("kafka_group_id"),
		MongoURI:      v.GetString("mongo_uri"),
		MongoDatabase: v.GetString("mongo_database"),
		RedisAddr:     v.GetString("redis_addr"),
		MetricsAddr:   v.GetString("metrics_addr"),
		OTelEndpoint:  v.GetString("otel_endpoint"),
	}
}
