package config

import "github.com/spf13/viper"

// Config holds typed configuration for the scheduler service.
type Config struct {
	LogLevel      string
	MongoURI      string
	MongoDatabase string
	RedisAddr     string
	Cadence       string
	MetricsAddr   string
	OTelEndpoint  string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:      v.GetString("log_level"),
		MongoURI:      v.GetString("mongo_uri"),
		MongoDatabase: v.GetString("mongo_database"),
		RedisAddr:     v.GetString("redis_addr"),
		Cadence:       v.GetString("cadence"),
		MetricsAddr:   v.GetString("metrics_addr"),
		OTelEndpoint:  v.GetString("otel_endpoint"),
	}
}
