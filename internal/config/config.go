package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eka-ai/billing/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Configuration struct {
	Deployment DeploymentConfig `validate:"required"`
	Server     ServerConfig     `validate:"required"`
	Logging    LoggingConfig    `validate:"required"`
	Postgres   PostgresConfig   `validate:"required"`
	Auth       AuthConfig
	Stripe     StripeConfig
	Razorpay   RazorpayConfig
	Tax        TaxConfig
	Email      EmailConfig
}

type DeploymentConfig struct {
	Mode types.RunMode `validate:"required"`
}

type ServerConfig struct {
	Address string `validate:"required"`
}

type LoggingConfig struct {
	Level types.LogLevel `validate:"required"`
}

type PostgresConfig struct {
	Host                   string
	Port                   int
	User                   string
	Password               string
	DBName                 string
	SSLMode                string
	MaxOpenConns           int
	MaxIdleConns           int
	ConnMaxLifetimeMinutes int
}

type AuthConfig struct {
	// Secret signs and validates the HS256 bearer tokens issued by the
	// identity service.
	Secret string
}

// StripeConfig holds the Stripe API credentials. WebhookSecret signs the
// Stripe-Signature header on incoming webhooks.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	// PriceRefs maps "<plan>_<cycle>" (e.g. "premium_monthly") to the
	// Stripe price id used when the request does not carry one.
	PriceRefs map[string]string
	// Timeout bounds every outbound Stripe call
	Timeout time.Duration
}

// RazorpayConfig holds the Razorpay API credentials. WebhookSecret signs the
// X-Razorpay-Signature header on incoming webhooks.
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	// PlanRefs maps "<plan>_<cycle>" to the Razorpay plan id used when
	// the request does not carry one.
	PlanRefs map[string]string
	Timeout  time.Duration
}

// TaxConfig is the single flat-rate surcharge rule. GST applies only when
// the billing address country matches Jurisdiction.
type TaxConfig struct {
	Jurisdiction string
	GSTRate      float64
}

type EmailConfig struct {
	Enabled     bool
	APIKey      string
	FromAddress string
	ReplyTo     string
}

func NewConfig() (*Configuration, error) {
	// Load .env for local development, ignore if missing
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/eka-billing")

	v.SetEnvPrefix("EKA")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("deployment.mode", types.ModeAPI)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("logging.level", types.LogLevelInfo)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.maxopenconns", 10)
	v.SetDefault("postgres.maxidleconns", 5)
	v.SetDefault("postgres.connmaxlifetimeminutes", 30)
	v.SetDefault("stripe.timeout", 15*time.Second)
	v.SetDefault("razorpay.timeout", 15*time.Second)
	v.SetDefault("tax.jurisdiction", "IN")
	v.SetDefault("tax.gstrate", 0.18)
}

func (c Configuration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode,
	)
}

// GetDefaultConfig returns a default configuration for local development
// and tests.
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: types.ModeLocal},
		Server:     ServerConfig{Address: ":8080"},
		Logging:    LoggingConfig{Level: types.LogLevelDebug},
		Tax:        TaxConfig{Jurisdiction: "IN", GSTRate: 0.18},
		Stripe:     StripeConfig{Timeout: 15 * time.Second},
		Razorpay:   RazorpayConfig{Timeout: 15 * time.Second},
	}
}
