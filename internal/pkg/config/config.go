package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// Config is the full runtime configuration. It is built once at startup and
// passed explicitly to the components that need it.
type Config struct {
	App      AppConfig
	Log      LogConfig
	DB       DBConfig
	Cache    CacheConfig
	Flow     FlowConfig
	Access   AccessConfig
	Delivery DeliveryConfig
	S3       S3Config
	Mail     MailConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	if c.Flow.Timeout <= 0 {
		return errors.New("FLOW_TIMEOUT must be a positive duration")
	}
	if m := strings.ToUpper(strings.TrimSpace(c.Flow.StatusMethod)); m != "" && m != "GET" && m != "POST" {
		return errors.New("FLOW_STATUS_METHOD must be GET or POST")
	}
	if c.Access.DownloadPrice <= 0 {
		return errors.New("VIDEO_DOWNLOAD_PRICE_CLP must be positive")
	}
	if c.Access.StreamPrice < 0 {
		return errors.New("VIDEO_STREAM_PRICE_CLP must not be negative")
	}
	if c.Access.EntitlementTTL < 0 {
		return errors.New("ENTITLEMENT_TTL must not be negative")
	}
	if c.S3.DeliveryEnabled {
		if c.S3.AccessKeyID == "" || c.S3.SecretAccessKey == "" || c.S3.BucketName == "" {
			return errors.New("S3_ACCESS_KEY_ID, S3_SECRET_ACCESS_KEY and S3_BUCKET_NAME are required when S3 delivery is enabled")
		}
	}
	return nil
}

type AppConfig struct {
	Env             string `envconfig:"APP_ENV" default:"prod"`
	Host            string `envconfig:"APP_HOST" default:"localhost"`
	Port            string `envconfig:"APP_PORT" default:"4000"`
	PortalName      string `envconfig:"PORTAL_NAME" default:"MediaVMS"`
	FrontendHost    string `envconfig:"SSL_FRONTEND_HOST"`
	MetricsUser     string `envconfig:"METRICS_USER" default:"admin"`
	MetricsPassHash string `envconfig:"METRICS_PASSWORD_HASH"`
	APIRateLimit    int    `envconfig:"API_RATE_LIMIT" default:"120"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

// Addr is the listen address of the HTTP server.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"json"`
}

type DBConfig struct {
	Host        string        `envconfig:"DB_HOST" default:"127.0.0.1"`
	Port        int           `envconfig:"DB_PORT" default:"3306"`
	User        string        `envconfig:"DB_USER"`
	Password    string        `envconfig:"DB_PASSWORD"`
	Name        string        `envconfig:"DB_NAME"`
	MaxRetries  int           `envconfig:"DB_MAX_RETRIES" default:"5"`
	RetryDelay  time.Duration `envconfig:"DB_RETRY_DELAY" default:"5s"`
	AutoMigrate bool          `envconfig:"DB_AUTO_MIGRATE" default:"false"`
}

type CacheConfig struct {
	Host     string `envconfig:"CACHE_HOST" default:"localhost"`
	Port     int    `envconfig:"CACHE_PORT" default:"6379"`
	Password string `envconfig:"CACHE_PASSWORD"`
}

// FlowConfig holds the payment gateway credentials and endpoints.
type FlowConfig struct {
	APIKey          string        `envconfig:"FLOW_API_KEY"`
	SecretKey       string        `envconfig:"FLOW_SECRET_KEY"`
	APIBase         string        `envconfig:"FLOW_API_BASE" default:"https://sandbox.flow.cl/api"`
	CreatePath      string        `envconfig:"FLOW_CREATE_PATH" default:"/payment/create"`
	StatusPath      string        `envconfig:"FLOW_STATUS_PATH" default:"/payment/getStatus"`
	StatusMethod    string        `envconfig:"FLOW_STATUS_METHOD" default:"GET"`
	Timeout         time.Duration `envconfig:"FLOW_TIMEOUT" default:"20s"`
	URLReturn       string        `envconfig:"FLOW_URL_RETURN"`
	URLConfirmation string        `envconfig:"FLOW_URL_CONFIRMATION"`
	FakeSuccess     bool          `envconfig:"FLOW_FAKE_SUCCESS" default:"false"`
}

// AccessConfig controls which media actions are paywalled and at what price.
type AccessConfig struct {
	DownloadRequiresPayment bool          `envconfig:"VIDEO_DOWNLOAD_REQUIRES_PAYMENT" default:"true"`
	StreamRequiresPayment   bool          `envconfig:"VIDEO_STREAM_REQUIRES_PAYMENT" default:"true"`
	DownloadPrice           int64         `envconfig:"VIDEO_DOWNLOAD_PRICE_CLP" default:"990"`
	StreamPrice             int64         `envconfig:"VIDEO_STREAM_PRICE_CLP" default:"0"`
	DownloadCurrency        string        `envconfig:"VIDEO_DOWNLOAD_CURRENCY" default:"CLP"`
	StreamCurrency          string        `envconfig:"VIDEO_STREAM_CURRENCY"`
	EntitlementTTL          time.Duration `envconfig:"ENTITLEMENT_TTL" default:"0"`
}

// EffectiveStreamPrice falls back to the download price when no stream price is set.
func (a AccessConfig) EffectiveStreamPrice() int64 {
	if a.StreamPrice > 0 {
		return a.StreamPrice
	}
	return a.DownloadPrice
}

// EffectiveStreamCurrency falls back to the download currency.
func (a AccessConfig) EffectiveStreamCurrency() string {
	if c := strings.TrimSpace(a.StreamCurrency); c != "" {
		return c
	}
	return a.DownloadCurrency
}

type DeliveryConfig struct {
	MediaRoot      string        `envconfig:"MEDIA_ROOT" default:"./media_files"`
	XAccelPrefix   string        `envconfig:"PAYMENTS_X_ACCEL_REDIRECT_PREFIX"`
	PresignTTL     time.Duration `envconfig:"DELIVERY_PRESIGN_TTL" default:"15m"`
	RequestTimeout time.Duration `envconfig:"DELIVERY_REQUEST_TIMEOUT" default:"10s"`
}

type S3Config struct {
	AccessKeyID     string `envconfig:"S3_ACCESS_KEY_ID"`
	SecretAccessKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	Region          string `envconfig:"S3_REGION" default:"us-east-1"`
	BucketName      string `envconfig:"S3_BUCKET_NAME"`
	EndpointURL     string `envconfig:"S3_ENDPOINT_URL"`
	DeliveryEnabled bool   `envconfig:"S3_DELIVERY_ENABLED" default:"false"`
}

type MailConfig struct {
	Host        string        `envconfig:"SMTP_HOST"`
	Port        int           `envconfig:"SMTP_PORT" default:"587"`
	Username    string        `envconfig:"SMTP_USERNAME"`
	Password    string        `envconfig:"SMTP_PASSWORD"`
	Sender      string        `envconfig:"SMTP_SENDER"`
	Timeout     time.Duration `envconfig:"SMTP_TIMEOUT" default:"10s"`
	AdminEmails []string      `envconfig:"ADMIN_EMAIL_LIST"`
}

// Enabled reports whether an SMTP relay is configured.
func (m MailConfig) Enabled() bool {
	return strings.TrimSpace(m.Host) != ""
}
