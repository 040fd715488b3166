package configs

import (
	"errors"
	"testing"

	"bbot/internal/model"
)

func validConfig() *AppConfig {
	return &AppConfig{
		Engine: EngineConfig{
			Intervals:    []model.Interval{model.Minute1, model.Hour1},
			WindowLength: 500,
			BaseAssets:   []string{"*"},
			QuoteAssets:  []string{"USDT"},
			QueueSize:    1000,
		},
	}
}

func TestValidateOK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateUnknownInterval(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.Intervals = append(cfg.Engine.Intervals, model.Interval("7m"))
	if err := cfg.Validate(); !errors.Is(err, model.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestValidateWindowLength(t *testing.T) {
	for _, n := range []int{0, -1, 1001} {
		cfg := validConfig()
		cfg.Engine.WindowLength = n
		if err := cfg.Validate(); !errors.Is(err, model.ErrConfiguration) {
			t.Errorf("window length %d: expected ErrConfiguration, got %v", n, err)
		}
	}
}

func TestValidateEmptyAssetFilter(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.QuoteAssets = nil
	if err := cfg.Validate(); !errors.Is(err, model.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("TEST_ASSETS", "BTC, ETH ,,SOL")
	got := getEnvList("TEST_ASSETS", "*")
	want := []string{"BTC", "ETH", "SOL"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}
