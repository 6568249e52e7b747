package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// Config holds all configuration required by the API and sweep processes.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Auth         AuthConfig
	Evolution    EvolutionConfig
	OpenAI       OpenAIConfig
	Intake       IntakeConfig
	Reengagement ReengagementConfig
	Cache        CacheConfig
	Handoff      HandoffConfig
}

type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// EvolutionConfig points at the WhatsApp gateway (Evolution API).
type EvolutionConfig struct {
	BaseURL  string
	Token    string
	Instance string

	// WebhookSecret, when set, must match the x-evolution-secret header byte-for-byte.
	WebhookSecret string
}

type OpenAIConfig struct {
	// APIKey wins over APIKeyParam when both are set.
	APIKey string
	// APIKeyParam is an SSM parameter name holding the key.
	APIKeyParam string
	AWSRegion   string

	BaseURL      string
	Model        string
	WhisperModel string
	Timeout      time.Duration
}

type IntakeConfig struct {
	RateLimitPerMinute int
	DedupTTL           time.Duration

	// TextBufferDelay <= 0 disables debouncing; text goes straight to processing.
	TextBufferDelay time.Duration

	// TrustedMediaHosts restricts media downloads; empty means any https host.
	TrustedMediaHosts []string
	DocumentMaxBytes  int64
	AudioMaxBytes     int64

	TranscriptionQueue       string
	TranscriptionMaxAttempts int
}

type ReengagementConfig struct {
	// Tiers are inactivity thresholds in minutes, sorted ascending.
	Tiers        []int
	Interval     time.Duration
	LockTTL      time.Duration
	Timezone     string
	StartHour    int
	EndHour      int
	HistoryLimit int
	PromptsFile  string

	// Location is resolved from Timezone during Validate.
	Location *time.Location
}

type CacheConfig struct {
	AgentConfigTTL time.Duration
	CompanyTTL     time.Duration
}

type HandoffConfig struct {
	Timeout time.Duration
}

// DefaultTiers are used when REENGAGEMENT_MINUTES is unset or unparseable.
var DefaultTiers = []int{30, 180, 360}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))

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
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	{
		n, err := optInt("REDIS_DB", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.DB = n
	}

	c.Auth = authFromEnv()

	c.Evolution.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("EVOLUTION_BASE_URL")), "/")
	c.Evolution.Token = os.Getenv("EVOLUTION_TOKEN")
	c.Evolution.Instance = strings.TrimSpace(os.Getenv("EVOLUTION_INSTANCE"))
	c.Evolution.WebhookSecret = os.Getenv("EVOLUTION_WEBHOOK_SECRET")

	c.OpenAI.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	c.OpenAI.APIKeyParam = strings.TrimSpace(os.Getenv("OPENAI_API_KEY_PARAM"))
	c.OpenAI.AWSRegion = strings.TrimSpace(os.Getenv("AWS_REGION"))
	c.OpenAI.BaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	c.OpenAI.Model = strings.TrimSpace(os.Getenv("LLM_MODEL"))
	c.OpenAI.WhisperModel = strings.TrimSpace(os.Getenv("WHISPER_MODEL"))
	c.OpenAI.Timeout = mustDuration("OPENAI_TIMEOUT")

	{
		n, err := optInt("WEBHOOK_RATE_LIMIT_PER_MINUTE", 120)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Intake.RateLimitPerMinute = n
	}
	c.Intake.DedupTTL = mustDuration("DEDUP_TTL")
	{
		d, err := optDuration("TEXT_BUFFER_DELAY", 4*time.Second)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Intake.TextBufferDelay = d
	}
	c.Intake.TrustedMediaHosts = splitCSV(os.Getenv("TRUSTED_MEDIA_HOSTS"))
	{
		n, err := optInt("DOCUMENT_MAX_BYTES", 15*1024*1024)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Intake.DocumentMaxBytes = int64(n)
	}
	{
		n, err := optInt("AUDIO_MAX_BYTES", 25*1024*1024)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Intake.AudioMaxBytes = int64(n)
	}
	c.Intake.TranscriptionQueue = strings.TrimSpace(os.Getenv("TRANSCRIPTION_QUEUE"))
	{
		n, err := optInt("TRANSCRIPTION_MAX_ATTEMPTS", 3)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Intake.TranscriptionMaxAttempts = n
	}

	c.Reengagement.Tiers = ParseTiers(os.Getenv("REENGAGEMENT_MINUTES"))
	c.Reengagement.Interval = mustDuration("REENGAGEMENT_INTERVAL")
	c.Reengagement.LockTTL = mustDuration("REENGAGEMENT_LOCK_TTL")
	c.Reengagement.Timezone = strings.TrimSpace(os.Getenv("BUSINESS_TIMEZONE"))
	{
		n, err := optInt("BUSINESS_HOURS_START", 8)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Reengagement.StartHour = n
	}
	{
		n, err := optInt("BUSINESS_HOURS_END", 19)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Reengagement.EndHour = n
	}
	{
		n, err := optInt("REENGAGEMENT_HISTORY_LIMIT", 20)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Reengagement.HistoryLimit = n
	}
	c.Reengagement.PromptsFile = strings.TrimSpace(os.Getenv("REENGAGEMENT_PROMPTS_FILE"))

	c.Cache.AgentConfigTTL = mustDuration("CONFIG_CACHE_TTL")
	c.Cache.CompanyTTL = mustDuration("COMPANY_CONFIG_TTL")
	c.Handoff.Timeout = mustDuration("HANDOFF_WEBHOOK_TIMEOUT")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
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
			// Local-friendly default; production must be explicit.
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

	if c.IsProduction() {
		if c.Evolution.BaseURL == "" || c.Evolution.Instance == "" {
			errs = append(errs, errors.New("EVOLUTION_BASE_URL and EVOLUTION_INSTANCE are required in production"))
		}
		if c.Evolution.WebhookSecret == "" {
			errs = append(errs, errors.New("EVOLUTION_WEBHOOK_SECRET is required in production"))
		}
		if c.OpenAI.APIKey == "" && c.OpenAI.APIKeyParam == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY or OPENAI_API_KEY_PARAM is required in production"))
		}
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o-mini"
	}
	if c.OpenAI.WhisperModel == "" {
		c.OpenAI.WhisperModel = "whisper-1"
	}
	if c.OpenAI.Timeout <= 0 {
		c.OpenAI.Timeout = 30 * time.Second
	}

	if c.Intake.RateLimitPerMinute < 0 {
		errs = append(errs, fmt.Errorf("WEBHOOK_RATE_LIMIT_PER_MINUTE must be >= 0, got %d", c.Intake.RateLimitPerMinute))
	}
	if c.Intake.DedupTTL <= 0 {
		c.Intake.DedupTTL = time.Hour
	}
	if c.Intake.DocumentMaxBytes <= 0 {
		c.Intake.DocumentMaxBytes = 15 * 1024 * 1024
	}
	if c.Intake.AudioMaxBytes <= 0 {
		c.Intake.AudioMaxBytes = 25 * 1024 * 1024
	}
	if c.Intake.TranscriptionQueue == "" {
		c.Intake.TranscriptionQueue = "jobs:transcription"
	}
	if c.Intake.TranscriptionMaxAttempts <= 0 {
		c.Intake.TranscriptionMaxAttempts = 3
	}

	if len(c.Reengagement.Tiers) == 0 {
		c.Reengagement.Tiers = append([]int(nil), DefaultTiers...)
	}
	if c.Reengagement.Interval <= 0 {
		c.Reengagement.Interval = 5 * time.Minute
	}
	if c.Reengagement.LockTTL <= 0 {
		c.Reengagement.LockTTL = 10 * time.Minute
	}
	if c.Reengagement.Timezone == "" {
		c.Reengagement.Timezone = "America/Sao_Paulo"
	}
	if loc, err := time.LoadLocation(c.Reengagement.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("BUSINESS_TIMEZONE is invalid: %q", c.Reengagement.Timezone))
	} else {
		c.Reengagement.Location = loc
	}
	if c.Reengagement.StartHour == 0 && c.Reengagement.EndHour == 0 {
		c.Reengagement.StartHour, c.Reengagement.EndHour = 8, 19
	}
	if c.Reengagement.StartHour < 0 || c.Reengagement.EndHour > 24 || c.Reengagement.StartHour >= c.Reengagement.EndHour {
		errs = append(errs, fmt.Errorf("business hours must satisfy 0 <= start < end <= 24, got %d-%d", c.Reengagement.StartHour, c.Reengagement.EndHour))
	}
	if c.Reengagement.HistoryLimit <= 0 {
		c.Reengagement.HistoryLimit = 20
	}

	if c.Cache.AgentConfigTTL <= 0 {
		c.Cache.AgentConfigTTL = 60 * time.Second
	}
	if c.Cache.CompanyTTL <= 0 {
		c.Cache.CompanyTTL = 5 * time.Minute
	}
	if c.Handoff.Timeout <= 0 {
		c.Handoff.Timeout = 5 * time.Second
	}

	return joinErrors(errs)
}

func authFromEnv() AuthConfig {
	return AuthConfig{
		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTIssuer:   strings.TrimSpace(os.Getenv("JWT_ISSUER")),
		JWTAudience: strings.TrimSpace(os.Getenv("JWT_AUDIENCE")),
		// Duration env vars are optional; defaults applied in Validate() based on env.
		AccessTokenTTL:  mustDuration("JWT_ACCESS_TTL"),
		RefreshTokenTTL: mustDuration("JWT_REFRESH_TTL"),
	}
}

// LoadAuth reads only the JWT settings, for tooling that mints tokens
// without touching the stores.
func LoadAuth() (AuthConfig, error) {
	a := authFromEnv()
	if a.JWTSecret == "" {
		return AuthConfig{}, errors.New("JWT_SECRET is required")
	}
	if a.AccessTokenTTL <= 0 {
		a.AccessTokenTTL = 15 * time.Minute
	}
	if a.RefreshTokenTTL <= 0 {
		a.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	return a, nil
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
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

// ParseTiers reads a comma-separated minute list ("30,180,360", brackets tolerated).
// Any unparseable or non-positive entry falls back to DefaultTiers.
func ParseTiers(raw string) []int {
	raw = strings.Trim(strings.TrimSpace(raw), "[]")
	if raw == "" {
		return append([]int(nil), DefaultTiers...)
	}
	var out []int
	seen := map[int]bool{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 {
			return append([]int(nil), DefaultTiers...)
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return append([]int(nil), DefaultTiers...)
	}
	sort.Ints(out)
	return out
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

func optInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func mustDuration(key string) time.Duration {
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

// optDuration distinguishes "unset" (def) from an explicit zero.
func optDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s must be a duration, got %q", key, v)
	}
	return d, nil
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
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
