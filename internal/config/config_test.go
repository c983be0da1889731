package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() Config {
	return Config{
		Secrets: Secrets{
			APIID:     123456,
			APIHash:   strings.Repeat("a", 32),
			Phone:     "+15551234567",
			LLMAPIKey: strings.Repeat("k", 24),
			Profile:   "default",
		},
		Database: Database{
			TimeoutSeconds: 30,
			BusyTimeoutMS:  30000,
			Retry:          RetryPolicy{MaxAttempts: 5, BaseDelaySeconds: 0.5, BackoffMultiplier: 2},
		},
		Listener: Listener{Mode: "subscriptions", MinMessageLength: 40},
		Processor: Processor{
			ScheduleTime:            "09:00",
			Timezone:                "UTC",
			DuplicateThreshold:      0.86,
			TopN:                    20,
			ExcludeCount:            0,
			DuplicateTimeWindowDays: 60,
		},
		Embeddings: Embeddings{Dimensions: 384, Endpoint: "http://localhost:11434"},
		Moderation: Moderation{TimeoutHours: 2},
		LLM:        LLM{Provider: "generative", MaxTokens: 4096, Temperature: 0.4},
		Categories: map[string]Category{
			"wb":      {Quota: 5, Description: "Wildberries news"},
			"ozon":    {Quota: 5, Description: "Ozon news"},
			"general": {Quota: 5, Description: "general e-commerce news"},
		},
		Logging: Logging{Level: "info", Format: "json"},
	}
}

func TestValidate_Valid(t *testing.T) {
	if errs := validConfig().Validate(); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestValidate_BadAPIHashLength(t *testing.T) {
	cfg := validConfig()
	cfg.Secrets.APIHash = "tooshort"
	errs := cfg.Validate()
	if !containsPath(errs, "secrets.API_HASH") {
		t.Fatalf("expected API_HASH error, got %v", errs)
	}
}

func TestValidate_BadPhone(t *testing.T) {
	cfg := validConfig()
	cfg.Secrets.Phone = "555-1234"
	errs := cfg.Validate()
	if !containsPath(errs, "secrets.PHONE") {
		t.Fatalf("expected PHONE error, got %v", errs)
	}
}

func TestValidate_OutOfRangeDuplicateThreshold(t *testing.T) {
	cfg := validConfig()
	cfg.Processor.DuplicateThreshold = 1.5
	errs := cfg.Validate()
	if !containsPath(errs, "processor.duplicate_threshold") {
		t.Fatalf("expected duplicate_threshold error, got %v", errs)
	}
}

func TestValidate_InvalidScheduleTime(t *testing.T) {
	cfg := validConfig()
	cfg.Processor.ScheduleTime = "25:99"
	errs := cfg.Validate()
	if !containsPath(errs, "processor.schedule_time") {
		t.Fatalf("expected schedule_time error, got %v", errs)
	}
}

func TestValidate_InvalidLLMProvider(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.Provider = "carrier-pigeon"
	errs := cfg.Validate()
	if !containsPath(errs, "llm.provider") {
		t.Fatalf("expected llm.provider error, got %v", errs)
	}
}

func TestValidate_NoCategoriesFails(t *testing.T) {
	cfg := validConfig()
	cfg.Categories = nil
	errs := cfg.Validate()
	if !containsPath(errs, "categories") {
		t.Fatalf("expected categories error, got %v", errs)
	}
}

func TestValidate_CategoryQuotaOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Categories["wb"] = Category{Quota: -1, Description: "x"}
	errs := cfg.Validate()
	if !containsPath(errs, "categories.wb.quota") {
		t.Fatalf("expected categories.wb.quota error, got %v", errs)
	}
}

func TestCategoryCountsAndDescriptions(t *testing.T) {
	cfg := validConfig()
	counts := cfg.CategoryCounts()
	if counts["wb"] != 5 || counts["ozon"] != 5 || counts["general"] != 5 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
	descriptions := cfg.CategoryDescriptions()
	if descriptions["wb"] != "Wildberries news" {
		t.Fatalf("unexpected descriptions: %+v", descriptions)
	}
	order := cfg.CategoryOrder()
	if len(order) != 3 || order[0] != "general" || order[1] != "ozon" || order[2] != "wb" {
		t.Fatalf("expected alphabetical order, got %v", order)
	}
}

func TestValidate_AccumulatesMultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Secrets.APIID = -1
	cfg.LLM.Provider = "bogus"
	errs := cfg.Validate()
	if len(errs) < 2 {
		t.Fatalf("expected at least 2 accumulated errors, got %d: %v", len(errs), errs)
	}
}

func TestApplyPathTemplates(t *testing.T) {
	cfg := Config{
		Secrets: Secrets{Profile: "prod"},
		Paths: Paths{
			DataDir:            "/data",
			LogsDir:            "/logs",
			SessionsDir:        "/sessions",
			DBFilePattern:      "{data_dir}/{profile}.db",
			LogFilePattern:     "{logs_dir}/{profile}.log",
			SessionFilePattern: "{sessions_dir}/{profile}.session",
		},
	}
	cfg.applyPathTemplates()
	if cfg.Paths.DBFilePattern != filepath.Clean("/data/prod.db") {
		t.Fatalf("unexpected db file pattern: %s", cfg.Paths.DBFilePattern)
	}
	if cfg.Paths.LogFilePattern != filepath.Clean("/logs/prod.log") {
		t.Fatalf("unexpected log file pattern: %s", cfg.Paths.LogFilePattern)
	}
}

func TestLoad_MissingSecretsFails(t *testing.T) {
	dir := t.TempDir()
	clearSecretEnv(t)
	_, err := Load(dir)
	if err == nil {
		t.Fatal("expected error when required secrets are missing")
	}
}

func TestLoad_RejectsUnknownSection(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "base.yaml"), "bogus_section:\n  x: 1\n")
	setValidSecretEnv(t)
	defer clearSecretEnv(t)
	_, err := Load(dir)
	if err == nil || !strings.Contains(err.Error(), "unrecognized section") {
		t.Fatalf("expected unrecognized section error, got %v", err)
	}
}

func containsPath(errs []error, path string) bool {
	for _, e := range errs {
		if strings.HasPrefix(e.Error(), path+":") {
			return true
		}
	}
	return false
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func setValidSecretEnv(t *testing.T) {
	t.Helper()
	t.Setenv("API_ID", "123456")
	t.Setenv("API_HASH", strings.Repeat("a", 32))
	t.Setenv("PHONE", "+15551234567")
	t.Setenv("LLM_API_KEY", strings.Repeat("k", 24))
}

func clearSecretEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"API_ID", "API_HASH", "PHONE", "LLM_API_KEY", "PROFILE"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}
