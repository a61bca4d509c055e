package config

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"time"

	"inviqa/event-outbox-relay/log"

	"github.com/alexflint/go-arg"
)

const (
	MySQL    DbDriver = "mysql"
	Postgres DbDriver = "postgres"

	RabbitMQ BrokerDriver = "rabbitmq"
	Kafka    BrokerDriver = "kafka"

	SkipLocked ClaimStrategy = "skip-locked"
	CAS        ClaimStrategy = "cas"
)

type DbDriver string

type BrokerDriver string

type ClaimStrategy string

var (
	supportedDbTypes = map[DbDriver]bool{
		Postgres: true,
		MySQL:    true,
	}
	supportedBrokers = map[BrokerDriver]bool{
		RabbitMQ: true,
		Kafka:    true,
	}
	supportedClaimStrategies = map[ClaimStrategy]bool{
		SkipLocked: true,
		CAS:        true,
	}
)

type Config struct {
	SkipMigrations    bool          `arg:"--skip-migrations,env:SKIP_MIGRATIONS"`
	DBHost            string        `arg:"--db-host,env:DB_HOST,required"`
	DBPort            uint32        `arg:"--db-port,env:DB_PORT,required"`
	DBUser            string        `arg:"--db-user,env:DB_USER,required"`
	DBPass            string        `arg:"--db-pass,env:DB_PASS,required"`
	DBSchema          string        `arg:"--db-schema,env:DB_SCHEMA,required"`
	DBDriver          DbDriver      `arg:"--db-driver,env:DB_DRIVER,required"`
	TLSEnable         bool          `arg:"--tls,env:TLS_ENABLE"`
	TLSSkipVerifyPeer bool          `arg:"--tls-skip-verify-peer,env:TLS_SKIP_VERIFY_PEER"`
	BrokerDriver      BrokerDriver  `arg:"--broker-driver,env:BROKER_DRIVER"`
	RabbitMQURL       string        `arg:"--rabbitmq-url,env:RABBITMQ_URL"`
	RabbitMQExchange  string        `arg:"--rabbitmq-exchange,env:RABBITMQ_EXCHANGE"`
	KafkaHost         []string      `arg:"--kafka-host,env:KAFKA_HOST"`
	ConfirmTimeoutMs  int           `arg:"--confirm-timeout-ms,env:CONFIRM_TIMEOUT_MS"`
	RelayWorkers      int           `arg:"--relay-workers,env:RELAY_WORKERS"`
	PollFrequencyMs   int           `arg:"--poll-frequency-ms,env:POLL_FREQUENCY_MS"`
	BatchSize         int           `arg:"--batch-size,env:BATCH_SIZE"`
	MaxAttempts       int           `arg:"--max-attempts,env:MAX_ATTEMPTS"`
	ClaimStrategy     ClaimStrategy `arg:"--claim-strategy,env:CLAIM_STRATEGY"`
	NotifyChannel     string        `arg:"--notify-channel,env:NOTIFY_CHANNEL"`
	ListenerEnabled   bool          `arg:"--listener-enabled,env:LISTENER_ENABLED"`
	ReaperIntervalSec int           `arg:"--reaper-interval-sec,env:REAPER_INTERVAL_SEC"`
	StuckAfterSec     int           `arg:"--stuck-after-sec,env:STUCK_AFTER_SEC"`
	IngestEnabled     bool          `arg:"--ingest,env:INGEST_ENABLED"`
	IngestQueueSize   int           `arg:"--ingest-queue-size,env:INGEST_QUEUE_SIZE"`
	IngestWorkers     int           `arg:"--ingest-workers,env:INGEST_WORKERS"`
	HttpAddr          string        `arg:"--http-addr,env:HTTP_ADDR"`
	RunReaper         bool          `arg:"--reap,env:RUN_REAPER"`
	RunOptimize       bool          `arg:"--optimize,env:RUN_OPTIMIZE"`
	SidecarProxyUrl   string        `arg:"--sidecar-proxy-url,env:SIDECAR_PROXY_URL"`
}

func NewConfig() (*Config, error) {
	c := newDefaultConfig()
	arg.MustParse(c)

	if err := c.validate(); err != nil {
		return nil, err
	}

	return c, nil
}

func newDefaultConfig() *Config {
	return &Config{
		BrokerDriver:      RabbitMQ,
		RabbitMQExchange:  "events.x",
		ConfirmTimeoutMs:  10000,
		RelayWorkers:      1,
		PollFrequencyMs:   5000,
		BatchSize:         50,
		MaxAttempts:       20,
		ClaimStrategy:     SkipLocked,
		NotifyChannel:     "outbox_event_created",
		ListenerEnabled:   true,
		ReaperIntervalSec: 60,
		StuckAfterSec:     300,
		IngestQueueSize:   1000,
		IngestWorkers:     4,
		HttpAddr:          ":80",
	}
}

func (c *Config) validate() error {
	if !supportedDbTypes[c.DBDriver] {
		return fmt.Errorf("the DB_DRIVER provided (%s) is not supported", c.DBDriver)
	}

	if !supportedBrokers[c.BrokerDriver] {
		return fmt.Errorf("the BROKER_DRIVER provided (%s) is not supported", c.BrokerDriver)
	}

	if !supportedClaimStrategies[c.ClaimStrategy] {
		return fmt.Errorf("the CLAIM_STRATEGY provided (%s) is not supported", c.ClaimStrategy)
	}

	if c.BrokerDriver == RabbitMQ && c.RabbitMQURL == "" {
		return fmt.Errorf("RABBITMQ_URL is required when the broker driver is %s", RabbitMQ)
	}

	if c.BrokerDriver == Kafka && len(c.KafkaHost) == 0 {
		return fmt.Errorf("KAFKA_HOST is required when the broker driver is %s", Kafka)
	}

	if c.BatchSize < 1 || c.MaxAttempts < 1 || c.RelayWorkers < 1 {
		return fmt.Errorf("BATCH_SIZE, MAX_ATTEMPTS and RELAY_WORKERS must be positive")
	}

	if c.PollFrequencyMs < 1 {
		return fmt.Errorf("POLL_FREQUENCY_MS must be positive, got %d", c.PollFrequencyMs)
	}

	if c.ConfirmTimeoutMs < 1 {
		return fmt.Errorf("CONFIRM_TIMEOUT_MS must be positive, got %d", c.ConfirmTimeoutMs)
	}

	return nil
}

func (c *Config) GetPollIntervalDurationInMs() time.Duration {
	return time.Duration(c.PollFrequencyMs) * time.Millisecond
}

func (c *Config) GetConfirmTimeout() time.Duration {
	return time.Duration(c.ConfirmTimeoutMs) * time.Millisecond
}

func (c *Config) GetReaperInterval() time.Duration {
	return time.Duration(c.ReaperIntervalSec) * time.Second
}

func (c *Config) GetStuckAfter() time.Duration {
	return time.Duration(c.StuckAfterSec) * time.Second
}

// ListenerSupported reports whether the relay can subscribe to change
// notifications, which only Postgres provides.
func (c *Config) ListenerSupported() bool {
	return c.ListenerEnabled && c.DBDriver.Postgres()
}

func (c *Config) GetDSN() string {
	switch c.DBDriver {
	case MySQL:
		tls := "false"
		if c.TLSEnable {
			if c.TLSSkipVerifyPeer {
				tls = "skip-verify"
			} else {
				tls = "true"
			}
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&tls=%s&multiStatements=true", c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBSchema, tls)
	case Postgres:
		sslMode := "disable"
		if c.TLSEnable {
			if c.TLSSkipVerifyPeer {
				sslMode = "require"
			} else {
				sslMode = "verify-full"
			}
		}
		return fmt.Sprintf("%s://%s@%s:%d/%s?sslmode=%s", c.DBDriver, url.UserPassword(c.DBUser, c.DBPass), c.DBHost, c.DBPort, c.DBSchema, sslMode)
	default:
		log.Logger.Fatalf("the DB driver configured (%s) is not supported", c.DBDriver)
		return ""
	}
}

// GetDependencySystemAddresses returns the host:port pairs of the broker the
// readiness probe dials.
func (c *Config) GetDependencySystemAddresses() []string {
	if c.BrokerDriver == Kafka {
		return c.KafkaHost
	}

	u, err := url.Parse(c.RabbitMQURL)
	if err != nil || u.Host == "" {
		return nil
	}

	if u.Port() != "" {
		return []string{u.Host}
	}

	port := "5672"
	if u.Scheme == "amqps" {
		port = "5671"
	}

	return []string{net.JoinHostPort(u.Hostname(), port)}
}

func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"SkipMigrations":    c.SkipMigrations,
		"DBHost":            c.DBHost,
		"DBPort":            c.DBPort,
		"DBUser":            c.DBUser,
		"DBPass":            "xxxxx",
		"DBSchema":          c.DBSchema,
		"DBDriver":          c.DBDriver,
		"TLSEnable":         c.TLSEnable,
		"TLSSkipVerifyPeer": c.TLSSkipVerifyPeer,
		"BrokerDriver":      c.BrokerDriver,
		"RabbitMQURL":       redactURL(c.RabbitMQURL),
		"RabbitMQExchange":  c.RabbitMQExchange,
		"KafkaHost":         c.KafkaHost,
		"ConfirmTimeoutMs":  c.ConfirmTimeoutMs,
		"RelayWorkers":      c.RelayWorkers,
		"PollFrequencyMs":   c.PollFrequencyMs,
		"BatchSize":         c.BatchSize,
		"MaxAttempts":       c.MaxAttempts,
		"ClaimStrategy":     c.ClaimStrategy,
		"NotifyChannel":     c.NotifyChannel,
		"ListenerEnabled":   c.ListenerEnabled,
		"ReaperIntervalSec": c.ReaperIntervalSec,
		"StuckAfterSec":     c.StuckAfterSec,
		"IngestEnabled":     c.IngestEnabled,
		"IngestQueueSize":   c.IngestQueueSize,
		"IngestWorkers":     c.IngestWorkers,
		"HttpAddr":          c.HttpAddr,
		"RunReaper":         c.RunReaper,
		"RunOptimize":       c.RunOptimize,
		"SidecarProxyUrl":   c.SidecarProxyUrl,
	})
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}

	return u.Redacted()
}

func (d DbDriver) MySQL() bool {
	return d == MySQL
}

func (d DbDriver) Postgres() bool {
	return d == Postgres
}

func (d DbDriver) String() string {
	return string(d)
}
