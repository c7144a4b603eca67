package config

import (
	"testing"
	"time"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/ledger"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"CREDIT_POLICY", "CREDIT_TERM_DAYS", "MAX_AMOUNT", "OPERATING_TIMEZONE", "SNAPSHOT_SCHEDULER_ENABLED", "SNAPSHOT_RUN_AT", "ACCESS_TOKEN_TTL_MINUTES"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.CreditPolicy != domain.CreditPolicyStrict {
		t.Fatalf("expected strict credit policy by default, got %q", cfg.CreditPolicy)
	}
	if cfg.CreditTermDays != 30 {
		t.Fatalf("expected 30 credit term days, got %d", cfg.CreditTermDays)
	}
	if cfg.MaxAmount != ledger.DefaultMaxAmount {
		t.Fatalf("expected default max amount, got %d", cfg.MaxAmount)
	}
	if cfg.OperatingTimezone != "Asia/Jakarta" {
		t.Fatalf("unexpected timezone %q", cfg.OperatingTimezone)
	}
	if cfg.SnapshotSchedulerEnabled {
		t.Fatalf("scheduler must be opt-in")
	}
	if cfg.AccessTokenTTL() != 8*time.Hour {
		t.Fatalf("expected 8h token ttl, got %s", cfg.AccessTokenTTL())
	}
	hour, minute, err := cfg.RunAt()
	if err != nil || hour != 0 || minute != 5 {
		t.Fatalf("expected 00:05 run time, got %02d:%02d err=%v", hour, minute, err)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("CREDIT_POLICY", "LENIENT")
	t.Setenv("CREDIT_TERM_DAYS", "14")
	t.Setenv("MAX_AMOUNT", "1000000")
	t.Setenv("SNAPSHOT_SCHEDULER_ENABLED", "true")

	cfg := Load()
	if cfg.CreditPolicy != domain.CreditPolicyLenient {
		t.Fatalf("expected lenient policy, got %q", cfg.CreditPolicy)
	}
	if cfg.CreditTermDays != 14 || cfg.MaxAmount != 1_000_000 || !cfg.SnapshotSchedulerEnabled {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadFallsBackOnUnknownPolicy(t *testing.T) {
	t.Setenv("CREDIT_POLICY", "sometimes")
	if cfg := Load(); cfg.CreditPolicy != domain.CreditPolicyStrict {
		t.Fatalf("unknown policy must fall back to strict, got %q", cfg.CreditPolicy)
	}
}
