package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validYAML() string {
	return `
site:
  base_url: https://certs.example
  list_url_template: https://certs.example/catalog?page=%d
  page_size: 12
  user_agent: certis-agent
  timeout_seconds: 45
crawl:
  list:
    concurrency: 8
    retry_limit: 5
  detail:
    concurrency: 12
  totals_ttl_minutes: 20
  page_limit: 3
  summary_topic: crawl-events
gaps:
  max_concurrent_pages: 2
  prioritize_partial: false
rate_limit:
  requests_per_second: 0.5
  burst: 2
headless:
  enabled: true
  max_parallel: 2
db:
  dsn: postgres://localhost/certs
  table: certs_records
pubsub:
  project_id: my-project
logging:
  development: false
`
}

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, validYAML()))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.BaseURL != "https://certs.example" {
		t.Fatalf("expected base url override, got %q", cfg.Site.BaseURL)
	}
	if cfg.Crawl.List.Concurrency != 8 || cfg.Crawl.List.RetryLimit != 5 {
		t.Fatalf("expected list stage overrides to apply: %+v", cfg.Crawl.List)
	}
	if cfg.Crawl.List.RetryConcurrency != 2 {
		t.Fatalf("expected default retry concurrency, got %d", cfg.Crawl.List.RetryConcurrency)
	}
	if cfg.Crawl.Detail.Concurrency != 12 {
		t.Fatalf("expected detail concurrency override, got %d", cfg.Crawl.Detail.Concurrency)
	}
	if got := cfg.TotalsTTL(); got != 20*time.Minute {
		t.Fatalf("expected totals ttl 20m, got %v", got)
	}
	if cfg.Crawl.PageLimit != 3 {
		t.Fatalf("expected page limit override, got %d", cfg.Crawl.PageLimit)
	}
	if got := cfg.SiteTimeout(); got != 45*time.Second {
		t.Fatalf("expected site timeout 45s, got %v", got)
	}
	if cfg.Gaps.MaxConcurrentPages != 2 || cfg.Gaps.PrioritizePartial {
		t.Fatalf("expected gap overrides to apply: %+v", cfg.Gaps)
	}
	if cfg.RateLimit.RequestsPerSecond != 0.5 || cfg.RateLimit.Burst != 2 {
		t.Fatalf("expected rate limit overrides to apply: %+v", cfg.RateLimit)
	}
	if !cfg.Headless.Enabled || cfg.Headless.MaxParallel != 2 {
		t.Fatalf("expected headless overrides to apply: %+v", cfg.Headless)
	}
	if cfg.DB.Table != "certs_records" {
		t.Fatalf("expected db table override, got %q", cfg.DB.Table)
	}
	if cfg.Selectors.RecordRow == "" {
		t.Fatalf("expected default selectors to survive")
	}
	if cfg.Logging.Development {
		t.Fatalf("expected logging.development false")
	}
}

func TestLoadRejectsMissingSite(t *testing.T) {
	t.Parallel()

	yaml := strings.Replace(validYAML(), "base_url: https://certs.example", "base_url: \"\"", 1)
	if _, err := Load(writeConfig(t, yaml)); err == nil {
		t.Fatalf("expected error for missing base url")
	}
}

func TestValidateTemplatePlaceholder(t *testing.T) {
	t.Parallel()

	yaml := strings.Replace(validYAML(),
		"list_url_template: https://certs.example/catalog?page=%d",
		"list_url_template: https://certs.example/catalog", 1)
	if _, err := Load(writeConfig(t, yaml)); err == nil {
		t.Fatalf("expected error for template without page placeholder")
	}
}

func TestValidateHeadlessParallelism(t *testing.T) {
	t.Parallel()

	yaml := strings.Replace(validYAML(), "max_parallel: 2", "max_parallel: 0", 1)
	if _, err := Load(writeConfig(t, yaml)); err == nil {
		t.Fatalf("expected error for headless enabled without parallel slots")
	}
}

func TestValidateSummaryTopicRequiredWithPubSub(t *testing.T) {
	t.Parallel()

	yaml := strings.Replace(validYAML(), "summary_topic: crawl-events", "summary_topic: \"\"", 1)
	if _, err := Load(writeConfig(t, yaml)); err == nil {
		t.Fatalf("expected error for pubsub project without summary topic")
	}
}
