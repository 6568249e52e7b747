package config

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "sdr"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer, c.Auth.JWTAudience = "iss", "aud"
	c.Evolution = EvolutionConfig{BaseURL: "https://evo", Instance: "i", WebhookSecret: "s"}
	c.OpenAI.APIKey = "sk"
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "DB_SSLMODE") {
		t.Fatalf("expected error for production without DB_SSLMODE, got %v", err)
	}
}

func TestValidate_ProductionRequiresWebhookSecretAndModelKey(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.DB.SSLMode = "require"
	c.Auth.JWTIssuer, c.Auth.JWTAudience = "iss", "aud"
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected production errors")
	}
	for _, want := range []string{"EVOLUTION_WEBHOOK_SECRET", "OPENAI_API_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %v", want, err)
		}
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Intake.DedupTTL != time.Hour {
		t.Fatalf("expected 1h dedup ttl, got %s", c.Intake.DedupTTL)
	}
	if c.Reengagement.LockTTL != 10*time.Minute || c.Reengagement.Interval != 5*time.Minute {
		t.Fatalf("unexpected sweep defaults: %+v", c.Reengagement)
	}
	if !reflect.DeepEqual(c.Reengagement.Tiers, []int{30, 180, 360}) {
		t.Fatalf("unexpected tiers: %v", c.Reengagement.Tiers)
	}
	if c.Reengagement.StartHour != 8 || c.Reengagement.EndHour != 19 {
		t.Fatalf("expected 8-19 business hours, got %d-%d", c.Reengagement.StartHour, c.Reengagement.EndHour)
	}
	if c.Reengagement.Location == nil || c.Reengagement.Location.String() != "America/Sao_Paulo" {
		t.Fatalf("expected Sao Paulo location, got %v", c.Reengagement.Location)
	}
}

func TestValidate_RejectsBadBusinessHours(t *testing.T) {
	c := validLocal()
	c.Reengagement.StartHour, c.Reengagement.EndHour = 19, 8
	if err := c.Validate(); err == nil {
		t.Fatalf("expected business hours error")
	}
}

func TestParseTiers(t *testing.T) {
	cases := []struct {
		raw  string
		want []int
	}{
		{"", []int{30, 180, 360}},
		{"60, 15", []int{15, 60}},
		{"[30,180]", []int{30, 180}},
		{"30,abc", []int{30, 180, 360}},
		{"30,30,-1", []int{30, 180, 360}},
		{"45,45", []int{45}},
	}
	for _, tc := range cases {
		if got := ParseTiers(tc.raw); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("ParseTiers(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestLoad_TextBufferDelayExplicitZeroDisables(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("APP_PORT", "8080")
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "postgres")
	t.Setenv("DB_NAME", "sdr")
	t.Setenv("REDIS_HOST", "localhost")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("TEXT_BUFFER_DELAY", "0s")
	t.Setenv("TRUSTED_MEDIA_HOSTS", "mmg.whatsapp.net, CDN.example.com")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Intake.TextBufferDelay != 0 {
		t.Fatalf("expected buffering disabled, got %s", c.Intake.TextBufferDelay)
	}
	if !reflect.DeepEqual(c.Intake.TrustedMediaHosts, []string{"mmg.whatsapp.net", "cdn.example.com"}) {
		t.Fatalf("unexpected hosts: %v", c.Intake.TrustedMediaHosts)
	}
	if c.Intake.RateLimitPerMinute != 120 {
		t.Fatalf("expected default rate limit, got %d", c.Intake.RateLimitPerMinute)
	}
}

func TestLoadAuth_AppliesTTLDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("JWT_ACCESS_TTL", "")
	t.Setenv("JWT_REFRESH_TTL", "")

	a, err := LoadAuth()
	if err != nil {
		t.Fatalf("load auth: %v", err)
	}
	if a.AccessTokenTTL != 15*time.Minute || a.RefreshTokenTTL != 30*24*time.Hour {
		t.Fatalf("unexpected ttls: %s %s", a.AccessTokenTTL, a.RefreshTokenTTL)
	}
}

func TestLoadAuth_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := LoadAuth(); err == nil {
		t.Fatalf("expected error without JWT_SECRET")
	}
}
