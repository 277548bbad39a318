package config

import "github.com/spf13/viper"

// Config holds typed configuration for the api service.
type Config struct {
	LogLevel      string
	HTTPPort      string
	MetricsAddr   string
	MongoURI      string
	MongoDatabase string
	RedisAddr     string
	RateLimit     int
	OTelEndpoint  string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:      v.GetString("log_level"),
		HTTPPort:      v.GetString("http_port"),
		MetricsAddr:   v.GetString("metrics_addr"),
		MongoURI:      v.GetString("mongo_uri"),
		MongoDatabase: v.GetString("mongo_database"),
		RedisAddr:     v.GetString("redis_addr"),
		RateLimit:     v.GetInt("rate_limit"),
		OTelEndpoint:  v.GetString("otel_endpoint"),
	}
}
