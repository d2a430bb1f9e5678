package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values come from env (or an env-file loaded by main).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	WhatsApp WhatsAppConfig
	Sweep    SweepConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full.
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// WhatsAppConfig carries the Graph API credentials for the business line this
// console manages.
type WhatsAppConfig struct {
	// GraphBaseURL is overridable for tests; defaults to the Meta Graph API.
	GraphBaseURL string
	AccessToken  string
	// PhoneNumberID is the Graph resource id of the line.
	PhoneNumberID string
	// DisplayNumber is the line's E.164 number, used to resolve call direction
	// on webhook events.
	DisplayNumber string
	// WebhookVerifyToken is echoed during the webhook subscription handshake.
	WebhookVerifyToken string

	// OwnerUserID is the console user that webhook traffic for this line is
	// attributed to. Webhook events identify the line, not a console user.
	OwnerUserID string

	// RequestTimeout bounds every outbound Graph call. A timeout is surfaced
	// as a delivery failure, never as a state transition.
	RequestTimeout time.Duration

	// MaxActiveCalls caps simultaneously accepted calls on the line.
	MaxActiveCalls int
}

type SweepConfig struct {
	// CronSpec is a 6-field (seconds-resolution) cron expression for the
	// permission-counter reset sweep.
	CronSpec string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = optDuration("JWT_REFRESH_TTL")

	c.WhatsApp.GraphBaseURL = strings.TrimSpace(os.Getenv("WA_GRAPH_BASE_URL"))
	c.WhatsApp.AccessToken = os.Getenv("WA_ACCESS_TOKEN")
	c.WhatsApp.PhoneNumberID = strings.TrimSpace(os.Getenv("WA_PHONE_NUMBER_ID"))
	c.WhatsApp.DisplayNumber = strings.TrimSpace(os.Getenv("WA_DISPLAY_NUMBER"))
	c.WhatsApp.WebhookVerifyToken = os.Getenv("WA_WEBHOOK_VERIFY_TOKEN")
	c.WhatsApp.OwnerUserID = strings.TrimSpace(os.Getenv("WA_OWNER_USER_ID"))
	c.WhatsApp.RequestTimeout = optDuration("WA_REQUEST_TIMEOUT")
	{
		v := strings.TrimSpace(os.Getenv("WA_MAX_ACTIVE_CALLS"))
		if v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				parseErrs = append(parseErrs, fmt.Errorf("WA_MAX_ACTIVE_CALLS must be an integer, got %q", v))
			}
			c.WhatsApp.MaxActiveCalls = n
		}
	}

	c.Sweep.CronSpec = strings.TrimSpace(os.Getenv("SWEEP_CRON_SPEC"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.WhatsApp.GraphBaseURL == "" {
		c.WhatsApp.GraphBaseURL = "https://graph.facebook.com/v21.0"
	}
	if c.WhatsApp.AccessToken == "" {
		errs = append(errs, errors.New("WA_ACCESS_TOKEN is required"))
	}
	if c.WhatsApp.PhoneNumberID == "" {
		errs = append(errs, errors.New("WA_PHONE_NUMBER_ID is required"))
	}
	if c.WhatsApp.DisplayNumber == "" {
		errs = append(errs, errors.New("WA_DISPLAY_NUMBER is required"))
	}
	if c.WhatsApp.WebhookVerifyToken == "" {
		errs = append(errs, errors.New("WA_WEBHOOK_VERIFY_TOKEN is required"))
	}
	if c.WhatsApp.OwnerUserID == "" {
		errs = append(errs, errors.New("WA_OWNER_USER_ID is required"))
	}
	if c.WhatsApp.RequestTimeout <= 0 {
		c.WhatsApp.RequestTimeout = 15 * time.Second
	}
	if c.WhatsApp.MaxActiveCalls <= 0 {
		c.WhatsApp.MaxActiveCalls = 8
	}

	if c.Sweep.CronSpec == "" {
		// Every 10 minutes; the sweep selects rows by cutoff predicates, so
		// the exact cadence only affects how stale the counters can get.
		c.Sweep.CronSpec = "0 */10 * * * *"
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Contains secrets; never log.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
