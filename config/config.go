package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	ShopAPI   ShopAPIConfig   `yaml:"shopapi"`
	TrackPool TrackPoolConfig `yaml:"trackpool"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                    string `yaml:"host"`
	Port                    int    `yaml:"port"`
	OrderCreatedTopic       string `yaml:"order_created_topic"`
	OrderStatusChangedTopic string `yaml:"order_status_changed_topic"`
	TrackingAssignedTopic   string `yaml:"tracking_assigned_topic"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ShopAPIConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	// Mode "fake" runs against an in-memory shop; anything else talks
	// to BaseURL over HTTP.
	Mode string `yaml:"mode"`
}

type TrackPoolConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	LogsDir           string `yaml:"logs_dir"`
	ReadyToShipStatus string `yaml:"ready_to_ship_status"`
	WeightPolicy      string `yaml:"weight_policy"`

	CountsTTLSeconds        int `yaml:"counts_ttl_seconds"`
	UploadRateLimit         int `yaml:"upload_rate_limit"`
	UploadRateWindowSeconds int `yaml:"upload_rate_window_seconds"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
