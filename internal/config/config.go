package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the messaging core, the headless client and the dev gateway.
// The values are read by viper from a config file or environment variables.
type Config struct {
	AppName    string          `mapstructure:"APP_NAME"`
	AppVersion string          `mapstructure:"APP_VERSION"`
	LogLevel   string          `mapstructure:"LOG_LEVEL"`
	LogFormat  string          `mapstructure:"LOG_FORMAT"` // text | json
	Messaging  MessagingConfig `mapstructure:"MESSAGING"`
	Recorder   RecorderConfig  `mapstructure:"RECORDER"`
	Client     ClientConfig    `mapstructure:"CLIENT"`
	Gateway    GatewayConfig   `mapstructure:"GATEWAY"`
	WebSocket  WebSocketConfig `mapstructure:"WEBSOCKET"`
	Auth       AuthConfig      `mapstructure:"AUTH"`
	Database   DatabaseConfig  `mapstructure:"DATABASE"`
	Storage    StorageConfig   `mapstructure:"STORAGE"`
	Redis      RedisConfig     `mapstructure:"REDIS"`
	Kafka      KafkaConfig     `mapstructure:"KAFKA"`
	NATS       NATSConfig      `mapstructure:"NATS"`
}

// MessagingConfig tunes the realtime session.
type MessagingConfig struct {
	TypingExpiry        time.Duration `mapstructure:"TYPING_EXPIRY"`
	RemoteTypingTTL     time.Duration `mapstructure:"REMOTE_TYPING_TTL"` // 0 disables ageing of remote typing entries
	GroupGap            time.Duration `mapstructure:"GROUP_GAP"`
	NearBottomThreshold float64       `mapstructure:"NEAR_BOTTOM_THRESHOLD"`
	PageSize            int           `mapstructure:"PAGE_SIZE"`
	EventBuffer         int           `mapstructure:"EVENT_BUFFER"`
}

// RecorderConfig holds voice capture parameters.
type RecorderConfig struct {
	MaxDurationSeconds int           `mapstructure:"MAX_DURATION_SECONDS"`
	MimeType           string        `mapstructure:"MIME_TYPE"`
	AudioBitsPerSecond int           `mapstructure:"AUDIO_BITS_PER_SECOND"`
	SampleRate         int           `mapstructure:"SAMPLE_RATE"`
	Timeslice          time.Duration `mapstructure:"TIMESLICE"`
}

// ClientConfig tells the headless client where the gateway lives.
type ClientConfig struct {
	APIURL         string        `mapstructure:"API_URL"`
	WSURL          string        `mapstructure:"WS_URL"`
	Token          string        `mapstructure:"TOKEN"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
}

// GatewayConfig holds configuration for the development realtime gateway.
type GatewayConfig struct {
	Host          string        `mapstructure:"HOST"`
	Port          string        `mapstructure:"PORT"`
	WebSocketPath string        `mapstructure:"WEBSOCKET_PATH"`
	ReadTimeout   time.Duration `mapstructure:"READ_TIMEOUT"`
	WriteTimeout  time.Duration `mapstructure:"WRITE_TIMEOUT"`
	Store         string        `mapstructure:"STORE"`    // memory | postgres
	Presence      string        `mapstructure:"PRESENCE"` // memory | redis
	PresenceTTL   time.Duration `mapstructure:"PRESENCE_TTL"`
	Fanout        string        `mapstructure:"FANOUT"` // memory | kafka | nats
	CORS          CORSConfig    `mapstructure:"CORS"`
}

// CORSConfig holds configuration for CORS.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `mapstructure:"ALLOWED_METHODS"`
	AllowedHeaders   []string `mapstructure:"ALLOWED_HEADERS"`
	ExposedHeaders   []string `mapstructure:"EXPOSED_HEADERS"`
	AllowCredentials bool     `mapstructure:"ALLOW_CREDENTIALS"`
	MaxAge           int      `mapstructure:"MAX_AGE"`
}

// WebSocketConfig holds configuration for WebSocket connections.
type WebSocketConfig struct {
	WriteWaitSeconds    int `mapstructure:"WRITE_WAIT_SECONDS"`
	PongWaitSeconds     int `mapstructure:"PONG_WAIT_SECONDS"`
	PingPeriodSeconds   int `mapstructure:"PING_PERIOD_SECONDS"`
	MaxMessageSizeBytes int `mapstructure:"MAX_MESSAGE_SIZE_BYTES"`
	SendBufferSize      int `mapstructure:"SEND_BUFFER_SIZE"`
}

// AuthConfig holds configuration for session tokens.
type AuthConfig struct {
	JWTSecretKey string        `mapstructure:"JWT_SECRET_KEY"`
	JWTExpiry    time.Duration `mapstructure:"JWT_EXPIRY"`
}

// DatabaseConfig holds configuration for the database.
type DatabaseConfig struct {
	Type     string `mapstructure:"TYPE"`
	Host     string `mapstructure:"HOST"`
	Port     int    `mapstructure:"PORT"`
	User     string `mapstructure:"USER"`
	Password string `mapstructure:"PASSWORD"`
	DBName   string `mapstructure:"DB_NAME"`
	SSLMode  string `mapstructure:"SSL_MODE"`
}

// StorageConfig holds configuration for attachment storage.
type StorageConfig struct {
	LocalPath     string `mapstructure:"LOCAL_PATH"`
	MaxFileSizeMB int64  `mapstructure:"MAX_FILE_SIZE_MB"`
	PublicPrefix  string `mapstructure:"PUBLIC_PREFIX"`
}

// RedisConfig holds configuration for Redis.
type RedisConfig struct {
	Addr      string `mapstructure:"ADDR"`
	Password  string `mapstructure:"PASSWORD"`
	DB        int    `mapstructure:"DB"`
	KeyPrefix string `mapstructure:"KEY_PREFIX"`
}

// KafkaConfig holds configuration for Kafka.
type KafkaConfig struct {
	Brokers       []string `mapstructure:"BROKERS"`
	ClientID      string   `mapstructure:"CLIENT_ID"`
	EventsTopic   string   `mapstructure:"EVENTS_TOPIC"`
	ConsumerGroup string   `mapstructure:"CONSUMER_GROUP"` // every gateway instance needs its own group to see all events
	Protocol      string   `mapstructure:"PROTOCOL"`
}

// NATSConfig holds configuration for the NATS fan-out bus.
type NATSConfig struct {
	URL     string `mapstructure:"URL"`
	Subject string `mapstructure:"SUBJECT"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()

	v.SetDefault("APP_NAME", "assoc-messaging")
	v.SetDefault("APP_VERSION", "0.1.0")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")

	// Messaging session
	v.SetDefault("MESSAGING.TYPING_EXPIRY", 3*time.Second)
	v.SetDefault("MESSAGING.REMOTE_TYPING_TTL", time.Duration(0))
	v.SetDefault("MESSAGING.GROUP_GAP", 5*time.Minute)
	v.SetDefault("MESSAGING.NEAR_BOTTOM_THRESHOLD", 100)
	v.SetDefault("MESSAGING.PAGE_SIZE", 50)
	v.SetDefault("MESSAGING.EVENT_BUFFER", 64)

	// Voice recorder
	v.SetDefault("RECORDER.MAX_DURATION_SECONDS", 300)
	v.SetDefault("RECORDER.MIME_TYPE", "audio/webm;codecs=opus")
	v.SetDefault("RECORDER.AUDIO_BITS_PER_SECOND", 128000)
	v.SetDefault("RECORDER.SAMPLE_RATE", 44100)
	v.SetDefault("RECORDER.TIMESLICE", time.Second)

	// Headless client
	v.SetDefault("CLIENT.API_URL", "http://localhost:8080")
	v.SetDefault("CLIENT.WS_URL", "ws://localhost:8080/ws")
	v.SetDefault("CLIENT.TOKEN", "")
	v.SetDefault("CLIENT.REQUEST_TIMEOUT", 15*time.Second)

	// Gateway
	v.SetDefault("GATEWAY.HOST", "0.0.0.0")
	v.SetDefault("GATEWAY.PORT", "8080")
	v.SetDefault("GATEWAY.WEBSOCKET_PATH", "/ws")
	v.SetDefault("GATEWAY.READ_TIMEOUT", 30*time.Second)
	v.SetDefault("GATEWAY.WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("GATEWAY.STORE", "memory")
	v.SetDefault("GATEWAY.PRESENCE", "memory")
	v.SetDefault("GATEWAY.PRESENCE_TTL", 2*time.Minute)
	v.SetDefault("GATEWAY.FANOUT", "memory")
	v.SetDefault("GATEWAY.CORS.ALLOWED_ORIGINS", []string{"http://localhost:5173"})
	v.SetDefault("GATEWAY.CORS.ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("GATEWAY.CORS.ALLOWED_HEADERS", []string{"Accept", "Authorization", "Content-Type"})
	v.SetDefault("GATEWAY.CORS.EXPOSED_HEADERS", []string{"Content-Length"})
	v.SetDefault("GATEWAY.CORS.ALLOW_CREDENTIALS", true)
	v.SetDefault("GATEWAY.CORS.MAX_AGE", 300)

	// WebSocket
	v.SetDefault("WEBSOCKET.WRITE_WAIT_SECONDS", 10)
	v.SetDefault("WEBSOCKET.PONG_WAIT_SECONDS", 60)
	v.SetDefault("WEBSOCKET.PING_PERIOD_SECONDS", 54) // (60 * 9) / 10
	v.SetDefault("WEBSOCKET.MAX_MESSAGE_SIZE_BYTES", 4096)
	v.SetDefault("WEBSOCKET.SEND_BUFFER_SIZE", 256)

	// Auth
	v.SetDefault("AUTH.JWT_SECRET_KEY", "a_very_secret_key_that_should_be_changed")
	v.SetDefault("AUTH.JWT_EXPIRY", 24*time.Hour)

	// Database (PostgreSQL)
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", 5432)
	v.SetDefault("DATABASE.USER", "postgres")
	v.SetDefault("DATABASE.PASSWORD", "password")
	v.SetDefault("DATABASE.DB_NAME", "assoc_messaging")
	v.SetDefault("DATABASE.SSL_MODE", "disable")

	// Attachments
	v.SetDefault("STORAGE.LOCAL_PATH", "./uploads")
	v.SetDefault("STORAGE.MAX_FILE_SIZE_MB", 25)
	v.SetDefault("STORAGE.PUBLIC_PREFIX", "/uploads")

	// Redis
	v.SetDefault("REDIS.ADDR", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("REDIS.KEY_PREFIX", "presence:")

	// Kafka
	v.SetDefault("KAFKA.BROKERS", []string{"localhost:9092"})
	v.SetDefault("KAFKA.CLIENT_ID", "assoc-messaging-gateway")
	v.SetDefault("KAFKA.EVENTS_TOPIC", "messaging-events")
	v.SetDefault("KAFKA.CONSUMER_GROUP", "messaging-gateway")
	v.SetDefault("KAFKA.PROTOCOL", "PLAINTEXT")

	// NATS
	v.SetDefault("NATS.URL", "nats://localhost:4222")
	v.SetDefault("NATS.SUBJECT", "messaging.events")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.AutomaticEnv()
	// MESSAGING_TYPING_EXPIRY overrides Messaging.TypingExpiry
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err = v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return
		}
		err = nil
	}

	err = v.Unmarshal(&config)
	return
}
