package config

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type (
	// Config represents an application configuration.
	Config struct {
		// The data source name (DSN) for connecting to the database.
		DSN string `yaml:"dsn" env:"DATABASE_URI"`
		// Subconfigs.
		HTTPServer  HTTPServer  `yaml:"http_server"`
		JWT         JWT         `yaml:"jwt"`
		Logger      Logger      `yaml:"logger"`
		Pipeline    Pipeline    `yaml:"pipeline"`
		Payment     Payment     `yaml:"payment"`
		Fulfillment Fulfillment `yaml:"fulfillment"`
	}
	// Config for HTTP server.
	HTTPServer struct {
		// The server startup address.
		Address string `yaml:"run_address" env:"RUN_ADDRESS" env-default:"127.0.0.1:8080"`
		// Read Header Timeout in seconds.
		Timeout time.Duration `yaml:"timeout" env-default:"5s"`
		// Idle timeout in seconds.
		IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
		// Shutdown timeout in seconds.
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" env-default:"30s"`
	}
	// Config for application's logger.
	Logger struct {
		// Path to store log files.
		Path string `yaml:"path" env:"LOG_PATH"`
		// Application logging level.
		Level string `yaml:"level" env:"LOG_LEVEL"`
		// Log files details.
		MaxSizeMB  int `yaml:"max_size_mb"`
		MaxBackups int `yaml:"max_backups"`
		MaxAgeDays int `yaml:"max_age_days"`
	}
	// Config for JWT verification. The service never issues tokens,
	// it only verifies principals minted by the identity collaborator.
	JWT struct {
		// JWT signing key shared with the identity service.
		SigningKey string `yaml:"signing_key" env:"JWT_SIGNING_KEY"`
	}
	// Config for the order pipeline.
	Pipeline struct {
		// Tax rate applied to the cart subtotal.
		TaxRate float64 `yaml:"tax_rate" env:"TAX_RATE" env-default:"0.09"`
		// Loyalty points earned per currency unit of the order total.
		EarnRate float64 `yaml:"earn_rate" env:"POINTS_EARN_RATE" env-default:"2"`
		// Max attempts to generate a unique order number.
		OrderNumberAttempts int `yaml:"order_number_attempts" env-default:"5"`
		// Max attempts for the combined ledger+status confirm write.
		ConfirmAttempts int `yaml:"confirm_attempts" env-default:"5"`
	}
	// Config for the payment capture adapter.
	Payment struct {
		// Address of the payment gateway. Empty means the simulated
		// adapter is used instead of the HTTP gateway.
		GatewayAddr string `yaml:"gateway_addr" env:"PAYMENT_GATEWAY_ADDRESS"`
		// Upper bound on a single capture call.
		CaptureTimeout time.Duration `yaml:"capture_timeout" env:"PAYMENT_CAPTURE_TIMEOUT" env-default:"10s"`
		// Minimal interval between gateway requests.
		RateInterval time.Duration `yaml:"rate_interval" env-default:"100ms"`
		// Burst allowed by the gateway rate limiter.
		RateBurst int `yaml:"rate_burst" env-default:"10"`
	}
	// Config for the fulfillment scheduler.
	Fulfillment struct {
		// Delay before a confirmed order moves to preparing.
		PreparingDelay time.Duration `yaml:"preparing_delay" env-default:"2m"`
		// Lead before the slot window opens to go out for delivery.
		DispatchLead time.Duration `yaml:"dispatch_lead" env-default:"30m"`
		// Same-day orders are never delivered earlier than this
		// after confirmation.
		MinDeliveryLead time.Duration `yaml:"min_delivery_lead" env-default:"20m"`
		// Fixed demo delays used for future-dated slots.
		DemoStepDelay time.Duration `yaml:"demo_step_delay" env-default:"5m"`
		// Interval of the recovery sweep over in-flight orders.
		SweepInterval time.Duration `yaml:"sweep_interval" env-default:"1m"`
	}
)

// MustLoad returns an application configuration which is populated
// from the given configuration file, environment variables and flags.
func MustLoad() *Config {
	// Configuration yaml file path.
	configPath := flag.String("config", "./config/local.yml", "path to the config file")

	var cfg Config

	// Read given flags.
	flag.StringVar(&cfg.HTTPServer.Address, "a", "127.0.0.1:8080", "server startup address")
	flag.StringVar(&cfg.DSN, "d", "", "server data source name")
	flag.Parse()

	// Check if file exists.
	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		log.Fatalf("config file does not exist: %s", *configPath)
	}

	// Load from YAML cfg file.
	bytes, err := os.Open(*configPath)
	if err != nil {
		log.Fatalf("failed to open config file: %s", *configPath)
	}
	if err = cleanenv.ParseYAML(bytes, &cfg); err != nil {
		log.Fatalf("failed to parse config file: %s", *configPath)
	}

	// Read environment variables.
	if err = cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("failed to read environment variables: %v", err)
	}

	return &cfg
}
