package utils

import (
	"context"
	"testing"
	"time"
)

func TestScriptsInitialized(t *testing.T) {
	if compareAndExpireScript == nil || compareAndDeleteScript == nil || fixedWindowScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestScriptHelpers_RejectNilClient(t *testing.T) {
	ctx := context.Background()
	if _, err := CompareAndExpire(ctx, nil, "k", "v", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := CompareAndDelete(ctx, nil, "k", "v"); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := IncrWindow(ctx, nil, "k", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
