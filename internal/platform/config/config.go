package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultDatabaseMaxConns     = 25
	defaultDatabaseMinConns     = 2
	defaultDatabaseConnLifetime = time.Hour
	defaultCurrency             = "cny"
	defaultGeoBaseURL           = "https://api.map.baidu.com"
	defaultGeoTimeout           = 3 * time.Second
	defaultGeoCacheTTL          = 24 * time.Hour
	defaultMaxDeliveryMeters    = 5000
	defaultShopTimezone         = "Asia/Shanghai"
	defaultUnpaidTimeout        = 15 * time.Minute
	defaultUnpaidInterval       = time.Minute
	defaultDeliveryTimeout      = 60 * time.Minute
	defaultDeliveryHour         = 1
	defaultSweepBatchSize       = 500
	defaultAMQPExchange         = "order_events"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	PSP         PSPConfig
	Geo         GeoConfig
	Shop        ShopConfig
	Sweeper     SweeperConfig
	Events      EventsConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig locates the address book store.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// DatabaseConfig configures the Postgres pool holding orders and carts.
type DatabaseConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	RunMigrations   bool
}

// RedisConfig configures the shared cache. An empty Addr disables Redis-backed components.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PSPConfig collects payment gateway credentials.
type PSPConfig struct {
	Provider            string
	StripeAPIKey        string
	StripeWebhookSecret string
	Currency            string
	NotifyURL           string
}

// GeoConfig points at the geocoding and routing provider.
type GeoConfig struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// ShopConfig describes the single shop the service delivers for.
type ShopConfig struct {
	Address           string
	MaxDeliveryMeters int
	Timezone          string
}

// SweeperConfig controls the reconciliation schedules.
type SweeperConfig struct {
	Enabled         bool
	UnpaidTimeout   time.Duration
	UnpaidInterval  time.Duration
	DeliveryTimeout time.Duration
	DeliveryHour    int
	BatchSize       int
}

// EventsConfig selects the order event fan-out targets. Empty values disable a target.
type EventsConfig struct {
	PubSubProjectID string
	PubSubTopic     string
	AMQPURL         string
	AMQPExchange    string
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification for scheduler calls.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map that takes precedence over the OS environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks config fields (e.g. "PSP.StripeAPIKey") that must resolve to a value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// EnvironmentValues returns the effective environment after applying the same precedence
// as Load (dotenv < OS env < explicit map).
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(dotEnv))
	for k, v := range dotEnv {
		values[k] = v
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if ok && strings.TrimSpace(key) != "" {
				values[key] = value
			}
		}
	}
	for k, v := range options.envMap {
		values[k] = v
	}
	return values, nil
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)

	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Database: DatabaseConfig{
			URL:             stringWithDefault(lookup, "API_DATABASE_URL", ""),
			MaxConns:        intWithDefault(lookup, "API_DATABASE_MAX_CONNS", defaultDatabaseMaxConns),
			MinConns:        intWithDefault(lookup, "API_DATABASE_MIN_CONNS", defaultDatabaseMinConns),
			MaxConnLifetime: durationWithDefault(lookup, "API_DATABASE_MAX_CONN_LIFETIME", defaultDatabaseConnLifetime),
			RunMigrations:   boolWithDefault(lookup, "API_DATABASE_RUN_MIGRATIONS", true),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "API_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "API_REDIS_DB", 0),
		},
		PSP: PSPConfig{
			Provider:            strings.ToLower(stringWithDefault(lookup, "API_PSP_PROVIDER", "stripe")),
			StripeAPIKey:        stringWithDefault(lookup, "API_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret: stringWithDefault(lookup, "API_PSP_STRIPE_WEBHOOK_SECRET", ""),
			Currency:            strings.ToLower(stringWithDefault(lookup, "API_PSP_CURRENCY", defaultCurrency)),
			NotifyURL:           stringWithDefault(lookup, "API_PSP_NOTIFY_URL", ""),
		},
		Geo: GeoConfig{
			BaseURL:  stringWithDefault(lookup, "API_GEO_BASE_URL", defaultGeoBaseURL),
			APIKey:   stringWithDefault(lookup, "API_GEO_API_KEY", ""),
			Timeout:  durationWithDefault(lookup, "API_GEO_TIMEOUT", defaultGeoTimeout),
			CacheTTL: durationWithDefault(lookup, "API_GEO_CACHE_TTL", defaultGeoCacheTTL),
		},
		Shop: ShopConfig{
			Address:           stringWithDefault(lookup, "API_SHOP_ADDRESS", ""),
			MaxDeliveryMeters: intWithDefault(lookup, "API_SHOP_MAX_DELIVERY_METERS", defaultMaxDeliveryMeters),
			Timezone:          stringWithDefault(lookup, "API_SHOP_TIMEZONE", defaultShopTimezone),
		},
		Sweeper: SweeperConfig{
			Enabled:         boolWithDefault(lookup, "API_SWEEPER_ENABLED", true),
			UnpaidTimeout:   durationWithDefault(lookup, "API_SWEEPER_UNPAID_TIMEOUT", defaultUnpaidTimeout),
			UnpaidInterval:  durationWithDefault(lookup, "API_SWEEPER_UNPAID_INTERVAL", defaultUnpaidInterval),
			DeliveryTimeout: durationWithDefault(lookup, "API_SWEEPER_DELIVERY_TIMEOUT", defaultDeliveryTimeout),
			DeliveryHour:    intWithDefault(lookup, "API_SWEEPER_DELIVERY_HOUR", defaultDeliveryHour),
			BatchSize:       intWithDefault(lookup, "API_SWEEPER_BATCH_SIZE", defaultSweepBatchSize),
		},
		Events: EventsConfig{
			PubSubProjectID: stringWithDefault(lookup, "API_EVENTS_PUBSUB_PROJECT_ID", ""),
			PubSubTopic:     stringWithDefault(lookup, "API_EVENTS_PUBSUB_TOPIC", ""),
			AMQPURL:         stringWithDefault(lookup, "API_EVENTS_AMQP_URL", ""),
			AMQPExchange:    stringWithDefault(lookup, "API_EVENTS_AMQP_EXCHANGE", defaultAMQPExchange),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:   stringWithDefault(lookup, "API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  stringWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: mapWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   csvWithDefault(lookup, "API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Events.PubSubProjectID == "" {
		cfg.Events.PubSubProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		if audience, ok := cfg.Security.OIDC.Audiences[cfg.Security.Environment]; ok {
			cfg.Security.OIDC.Audience = audience
		}
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Database.URL", &cfg.Database.URL},
		{"Redis.Password", &cfg.Redis.Password},
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.StripeWebhookSecret", &cfg.PSP.StripeWebhookSecret},
		{"Geo.APIKey", &cfg.Geo.APIKey},
		{"Events.AMQPURL", &cfg.Events.AMQPURL},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	var missing []string
	for _, name := range options.requiredSecrets {
		name = strings.TrimSpace(name)
		if name != "" && resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Config{}, &ValidationError{fields: missing}
	}

	return cfg, nil
}

// Location returns the shop timezone, falling back to UTC when it cannot be loaded.
func (c ShopConfig) Location() *time.Location {
	if loc, err := loadShopLocation(c.Timezone); err == nil {
		return loc
	}
	return time.UTC
}

// loadShopLocation requires an IANA zone name; Postgres AT TIME ZONE has no "Local".
func loadShopLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if strings.EqualFold(name, "local") {
		return nil, fmt.Errorf("timezone %q is not an IANA zone name", name)
	}
	return time.LoadLocation(name)
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	if cfg.Database.URL == "" {
		missing = append(missing, "Database.URL")
	}
	if cfg.Database.MaxConns <= 0 || cfg.Database.MinConns < 0 || cfg.Database.MinConns > cfg.Database.MaxConns {
		missing = append(missing, "Database.MaxConns")
	}
	if strings.TrimSpace(cfg.Shop.Address) == "" {
		missing = append(missing, "Shop.Address")
	}
	if cfg.Shop.MaxDeliveryMeters <= 0 {
		missing = append(missing, "Shop.MaxDeliveryMeters")
	}
	if _, err := loadShopLocation(cfg.Shop.Timezone); err != nil {
		missing = append(missing, "Shop.Timezone")
	}
	if cfg.Geo.Timeout <= 0 {
		missing = append(missing, "Geo.Timeout")
	}
	if cfg.PSP.Currency == "" {
		missing = append(missing, "PSP.Currency")
	}
	if cfg.Sweeper.UnpaidTimeout <= 0 {
		missing = append(missing, "Sweeper.UnpaidTimeout")
	}
	if cfg.Sweeper.UnpaidInterval <= 0 {
		missing = append(missing, "Sweeper.UnpaidInterval")
	}
	if cfg.Sweeper.DeliveryTimeout <= 0 {
		missing = append(missing, "Sweeper.DeliveryTimeout")
	}
	if cfg.Sweeper.DeliveryHour < 0 || cfg.Sweeper.DeliveryHour > 23 {
		missing = append(missing, "Sweeper.DeliveryHour")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}
