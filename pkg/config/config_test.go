package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("SENTRY_DSN", "")
	t.Setenv("GITHUB_TOKEN", "")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Search.Backend != BackendLocal {
		t.Errorf("backend = %q, want local", cfg.Search.Backend)
	}
	if cfg.Search.HitsPerPage != 25 {
		t.Errorf("hits per page = %d, want 25", cfg.Search.HitsPerPage)
	}
	if cfg.Search.Debounce.Duration != 750*time.Millisecond {
		t.Errorf("debounce = %v, want 750ms", cfg.Search.Debounce)
	}
	if cfg.GitHub.Organization != "OWASP" {
		t.Errorf("organization = %q", cfg.GitHub.Organization)
	}
	if !strings.HasSuffix(cfg.StorageDir, "nest") {
		t.Errorf("unexpected storage dir %q", cfg.StorageDir)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
storage_dir = "` + filepath.ToSlash(dir) + `"

[search]
backend = "nestapi"
hits_per_page = 10
debounce = "300ms"

[nest_api]
base_url = "http://localhost:8000/api/v1"

[indexes.projects]
page_title = "Projects"
default_sort_by = "stars"
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GITHUB_TOKEN", "from-env")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Search.Backend != BackendNestAPI || cfg.Search.HitsPerPage != 10 {
		t.Errorf("unexpected search config %+v", cfg.Search)
	}
	if cfg.Search.Debounce.Duration != 300*time.Millisecond {
		t.Errorf("debounce = %v", cfg.Search.Debounce)
	}
	if want := filepath.Join(dir, "events.sock"); cfg.Web.EventSocket != want {
		t.Errorf("event socket = %q, want %q", cfg.Web.EventSocket, want)
	}
	if cfg.NestAPI.AttributePrefix != "idx_" {
		t.Errorf("attribute prefix = %q", cfg.NestAPI.AttributePrefix)
	}
	if got := cfg.Index("projects").DefaultSortBy; got != "stars" {
		t.Errorf("projects sort = %q", got)
	}
	if cfg.GitHub.Token != "from-env" {
		t.Errorf("GITHUB_TOKEN override not applied, got %q", cfg.GitHub.Token)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		search  SearchConfig
		nest    NestAPIConfig
		meili   MeiliConfig
		wantErr bool
	}{
		{"local", SearchConfig{Backend: BackendLocal}, NestAPIConfig{}, MeiliConfig{}, false},
		{"nestapi without url", SearchConfig{Backend: BackendNestAPI}, NestAPIConfig{}, MeiliConfig{}, true},
		{"nestapi", SearchConfig{Backend: BackendNestAPI}, NestAPIConfig{BaseURL: "http://x"}, MeiliConfig{}, false},
		{"meili without host", SearchConfig{Backend: BackendMeilisearch}, NestAPIConfig{}, MeiliConfig{}, true},
		{"unknown", SearchConfig{Backend: "algolia"}, NestAPIConfig{}, MeiliConfig{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{Search: tt.search, NestAPI: tt.nest, Meili: tt.meili}
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSaveTemplateConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.toml")

	c := &Config{StorageDir: filepath.Join(dir, "data")}
	if err := c.SaveTemplateConfig(path); err != nil {
		t.Fatalf("SaveTemplateConfig: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), filepath.Join(dir, "data")) {
		t.Error("template should contain the storage dir")
	}

	t.Setenv("XDG_DATA_HOME", dir)
	if _, err := LoadConfig(path); err != nil {
		t.Errorf("generated template does not load: %v", err)
	}
}

func TestDefaultConfigPathFromEnv(t *testing.T) {
	t.Setenv("NEST_CONFIG", "/tmp/custom.toml")
	p, err := GetDefaultConfigPath()
	if err != nil {
		t.Fatal(err)
	}
	if p != "/tmp/custom.toml" {
		t.Errorf("path = %q", p)
	}
}
