package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != DefaultPort {
		t.Fatalf("Port = %d, want %d", cfg.Port, DefaultPort)
	}
	if cfg.PageSize != defaultPageSize {
		t.Fatalf("PageSize = %d, want %d", cfg.PageSize, defaultPageSize)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"serverName":"hub.example.com","bucket":"mybucket","pageSize":25}`), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServerName != "hub.example.com" || cfg.Bucket != "mybucket" || cfg.PageSize != 25 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadInvalidPageSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"pageSize":0}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for pageSize=0")
	}
}

func TestPortEnvOverride(t *testing.T) {
	t.Setenv("PORT", "9999")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 9999 {
		t.Fatalf("Port = %d, want 9999", cfg.Port)
	}
}

func TestHubURLs(t *testing.T) {
	cfg := Default()
	cfg.ServerName = "hub.example.com"
	cfg.ValidHubUrls = []string{"https://alt.example.com"}
	urls := cfg.HubURLs()
	if len(urls) != 2 || urls[1] != "https://hub.example.com" {
		t.Fatalf("unexpected HubURLs: %v", urls)
	}
}

func TestChallenge(t *testing.T) {
	cfg := Default()
	cfg.ServerName = "hub.example.com"
	challenge := cfg.Challenge()
	want := []string{"gaiahub", "0", "hub.example.com", "blockstack_storage_please_sign"}
	if len(challenge) != len(want) {
		t.Fatalf("unexpected challenge: %v", challenge)
	}
	for i := range want {
		if challenge[i] != want[i] {
			t.Fatalf("challenge[%d] = %s, want %s", i, challenge[i], want[i])
		}
	}
}
