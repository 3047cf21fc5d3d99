package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/pager/internal/alert"
	"github.com/linnemanlabs/pager/internal/routing"
)

// Backend names accepted by -store and -guard.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
	BackendRedis    = "redis"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	Store string
	Guard string

	DatabaseURL     string
	DBMaxConns      int
	DBSlowQuery     time.Duration
	PreferenceTable string
	ClaimTable      string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisPrefix     string

	IdempotencyTTL     time.Duration
	PreferenceCacheTTL time.Duration
	PruneInterval      time.Duration

	VoiceInstanceID   string
	VoiceContactFlow  string
	VoiceSourceNumber string
	VoicePreamble     string
	SMSSenderID       string
	EmailSubject      string

	SlackWebhookURL string

	SeedContactID        string
	SeedHigh             string
	SeedMedium           string
	SeedLow              string
	SeedCallDestination  string
	SeedSMSDestination   string
	SeedEmailDestination string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "shared token required on POST /notification (Bearer or raw)")

	c.RegisterStoreFlags(fs)

	fs.DurationVar(&c.IdempotencyTTL, "idempotency-ttl", routing.DefaultIdempotencyTTL, "how long a message id blocks re-dispatch")
	fs.DurationVar(&c.PreferenceCacheTTL, "preference-cache-ttl", 0, "cache resolved preferences for this long (0 = off)")
	fs.DurationVar(&c.PruneInterval, "prune-interval", 5*time.Minute, "how often expired idempotency records are deleted on backends without native expiry")

	fs.StringVar(&c.VoiceInstanceID, "connect-instance-id", "", "Amazon Connect instance id (empty = voice channel disabled)")
	fs.StringVar(&c.VoiceContactFlow, "connect-contact-flow", "", "Amazon Connect contact flow id or ARN")
	fs.StringVar(&c.VoiceSourceNumber, "connect-source-phone-number", "", "E.164 caller id for outbound calls")
	fs.StringVar(&c.VoicePreamble, "voice-preamble", routing.DefaultVoicePreamble, "spoken before the alert description")
	fs.StringVar(&c.SMSSenderID, "sms-sender-id", "", "SNS SMS sender id for direct numbers")
	fs.StringVar(&c.EmailSubject, "email-subject", routing.DefaultEmailSubject, "subject line of email alerts")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for failed dispatch notifications")

	fs.StringVar(&c.SeedContactID, "seed-contact-id", "", "contact id of a preference record written at startup (empty = no seeding)")
	fs.StringVar(&c.SeedHigh, "seed-high", "", "seed channel for high priority (call|sms|email)")
	fs.StringVar(&c.SeedMedium, "seed-medium", "", "seed channel for medium priority (call|sms|email)")
	fs.StringVar(&c.SeedLow, "seed-low", "", "seed channel for low priority (call|sms|email)")
	fs.StringVar(&c.SeedCallDestination, "seed-call-destination", "", "seed phone number for calls")
	fs.StringVar(&c.SeedSMSDestination, "seed-sms-destination", "", "seed SNS topic ARN or phone number for texts")
	fs.StringVar(&c.SeedEmailDestination, "seed-email-destination", "", "seed SNS topic ARN or mailbox for email")
}

// RegisterStoreFlags binds only the backend selection and connection flags.
// The provisioning CLI shares these with the server.
func (c *Config) RegisterStoreFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Store, "store", BackendMemory, "preference store backend (memory|postgres|dynamodb)")
	fs.StringVar(&c.Guard, "guard", "", "idempotency guard backend (memory|postgres|dynamodb|redis, empty = same as -store)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL")
	fs.IntVar(&c.DBMaxConns, "db-max-conns", 0, "maximum PostgreSQL pool connections (0 = pgx default)")
	fs.DurationVar(&c.DBSlowQuery, "db-slow-query", 200*time.Millisecond, "log queries slower than this")
	fs.StringVar(&c.PreferenceTable, "dynamodb-preference-table", "ContactPreferences", "DynamoDB preference table")
	fs.StringVar(&c.ClaimTable, "dynamodb-claim-table", "IdempotencyTable", "DynamoDB idempotency table")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "Redis address host:port")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "Redis database number")
	fs.StringVar(&c.RedisPrefix, "redis-prefix", "", "Redis key prefix for claims (empty = default)")
}

// GuardBackend returns the guard backend, defaulting to the store backend.
func (c *Config) GuardBackend() string {
	if c.Guard == "" {
		return c.Store
	}
	return c.Guard
}

// VoiceEnabled reports whether any Amazon Connect setting was given.
func (c *Config) VoiceEnabled() bool {
	return c.VoiceInstanceID != "" || c.VoiceContactFlow != "" || c.VoiceSourceNumber != ""
}

// EngineConfig returns the routing engine configuration.
func (c *Config) EngineConfig() routing.Config {
	rc := routing.DefaultConfig()
	rc.IdempotencyTTL = c.IdempotencyTTL
	rc.VoicePreamble = c.VoicePreamble
	rc.EmailSubject = c.EmailSubject
	return rc
}

// SeedPreference builds the startup preference record. ok is false when no
// seed contact is configured.
func (c *Config) SeedPreference() (p *routing.Preference, ok bool, err error) {
	if c.SeedContactID == "" {
		return nil, false, nil
	}
	p = &routing.Preference{
		ContactID:    c.SeedContactID,
		Channels:     make(map[alert.Priority]alert.Channel, len(alert.Priorities)),
		Destinations: make(map[alert.Channel]string, len(alert.Channels)),
	}
	var errs []error
	for pr, raw := range map[alert.Priority]string{
		alert.PriorityHigh:   c.SeedHigh,
		alert.PriorityMedium: c.SeedMedium,
		alert.PriorityLow:    c.SeedLow,
	} {
		ch, ok := alert.ParseChannel(raw)
		if !ok {
			errs = append(errs, fmt.Errorf("invalid SEED_%s %q (must be call|sms|email)", strings.ToUpper(string(pr)), raw))
			continue
		}
		p.Channels[pr] = ch
	}
	for ch, addr := range map[alert.Channel]string{
		alert.ChannelCall:  c.SeedCallDestination,
		alert.ChannelSMS:   c.SeedSMSDestination,
		alert.ChannelEmail: c.SeedEmailDestination,
	} {
		if addr != "" {
			p.Destinations[ch] = addr
		}
	}
	if len(errs) == 0 {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("seed preference: %w", err))
		}
	}
	if len(errs) > 0 {
		return nil, false, errors.Join(errs...)
	}
	return p, true, nil
}

// ValidateStore checks backend selection and the settings each backend needs.
func (c *Config) ValidateStore() error {
	var errs []error

	switch c.Store {
	case BackendMemory, BackendPostgres, BackendDynamoDB:
	default:
		errs = append(errs, fmt.Errorf("invalid STORE %q (must be memory|postgres|dynamodb)", c.Store))
	}
	switch c.Guard {
	case "", BackendMemory, BackendPostgres, BackendDynamoDB, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("invalid GUARD %q (must be memory|postgres|dynamodb|redis)", c.Guard))
	}

	uses := func(b string) bool { return c.Store == b || c.GuardBackend() == b }
	if uses(BackendPostgres) && c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
	}
	if c.DBMaxConns < 0 {
		errs = append(errs, fmt.Errorf("invalid DB_MAX_CONNS %d (must be >= 0)", c.DBMaxConns))
	}
	if c.Store == BackendDynamoDB && c.PreferenceTable == "" {
		errs = append(errs, errors.New("DYNAMODB_PREFERENCE_TABLE is required for the dynamodb backend"))
	}
	if c.GuardBackend() == BackendDynamoDB && c.ClaimTable == "" {
		errs = append(errs, errors.New("DYNAMODB_CLAIM_TABLE is required for the dynamodb backend"))
	}
	if c.GuardBackend() == BackendRedis && c.RedisAddr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required for the redis guard"))
	}
	if c.RedisDB < 0 {
		errs = append(errs, fmt.Errorf("invalid REDIS_DB %d (must be >= 0)", c.RedisDB))
	}

	return errors.Join(errs...)
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// the notification endpoint is never served unauthenticated
	if c.APIToken == "" {
		errs = append(errs, errors.New("API_TOKEN is required"))
	}

	if err := c.ValidateStore(); err != nil {
		errs = append(errs, err)
	}

	if c.IdempotencyTTL <= 0 {
		errs = append(errs, fmt.Errorf("invalid IDEMPOTENCY_TTL %s (must be > 0)", c.IdempotencyTTL))
	}
	if c.PreferenceCacheTTL < 0 {
		errs = append(errs, fmt.Errorf("invalid PREFERENCE_CACHE_TTL %s (must be >= 0)", c.PreferenceCacheTTL))
	}
	if c.PruneInterval <= 0 {
		errs = append(errs, fmt.Errorf("invalid PRUNE_INTERVAL %s (must be > 0)", c.PruneInterval))
	}

	if c.EmailSubject == "" {
		errs = append(errs, errors.New("EMAIL_SUBJECT is required"))
	}

	if _, _, err := c.SeedPreference(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
