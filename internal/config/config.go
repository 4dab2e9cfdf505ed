// Package config loads game rules and runtime settings from YAML.
// Every tunable constant of the simulation lives here so a balance pass
// never needs a code change.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Rules   Rules   `yaml:"rules"`
	Oracle  Oracle  `yaml:"oracle"`
	Retry   Retry   `yaml:"retry"`
	Server  Server  `yaml:"server"`
	Storage Storage `yaml:"storage"`
}

// Rules holds the game-mechanics constants.
type Rules struct {
	// Seed is used for new games that do not name one. Zero means random.
	Seed           int64 `yaml:"seed"`
	StartingWealth int   `yaml:"starting_wealth"`
	StartingMuscle int   `yaml:"starting_muscle"`

	// Combat.
	ZeroDefenseWinChance float64 `yaml:"zero_defense_win_chance"`
	MinLossRate          float64 `yaml:"min_loss_rate"`
	MaxLossRate          float64 `yaml:"max_loss_rate"`
	AllianceDefenseBonus int     `yaml:"alliance_defense_bonus"`
	BetrayalWealth       int     `yaml:"betrayal_wealth"`
	BetrayalMuscle       int     `yaml:"betrayal_muscle"`

	// Economy.
	IncomeBase          int     `yaml:"income_base"`
	IncomeGrowth        float64 `yaml:"income_growth"`
	UpkeepPerMuscle     int     `yaml:"upkeep_per_muscle"`
	HireCost            int     `yaml:"hire_cost"`
	MaxHire             int     `yaml:"max_hire"`
	ClaimCost           int     `yaml:"claim_cost"`
	UpgradeCostPerLevel int     `yaml:"upgrade_cost_per_level"`

	// Covert operations.
	SpyCost        int     `yaml:"spy_cost"`
	SabotageCost   int     `yaml:"sabotage_cost"`
	BribeCost      int     `yaml:"bribe_cost"`
	FortifyCost    int     `yaml:"fortify_cost"`
	SabotageChance float64 `yaml:"sabotage_chance"`
	BribeChance    float64 `yaml:"bribe_chance"`
	IntelTurns     int     `yaml:"intel_turns"`
	FortifyTurns   int     `yaml:"fortify_turns"`
	FortifyBonus   int     `yaml:"fortify_bonus"`

	// Decision context bounds.
	EventWindowTurns   int `yaml:"event_window_turns"`
	EventWindowMax     int `yaml:"event_window_max"`
	DiplomacyWindowMax int `yaml:"diplomacy_window_max"`
}

// Oracle configures the external decision source.
type Oracle struct {
	Model          string        `yaml:"model"`
	MaxTokens      int           `yaml:"max_tokens"`
	Timeout        time.Duration `yaml:"timeout"`
	CallsPerMinute int           `yaml:"calls_per_minute"`
	APIKey         string        `yaml:"-"`
}

// Retry configures the backoff controller.
type Retry struct {
	MaxAttempts int             `yaml:"max_attempts"`
	Delays      []time.Duration `yaml:"delays"`
}

// Server configures the HTTP surface.
type Server struct {
	Port     int    `yaml:"port"`
	AdminKey string `yaml:"-"`
}

// Storage configures where state lives on disk.
type Storage struct {
	DataDir string `yaml:"data_dir"`
}

// SavePath is the JSON checkpoint location.
func (s Storage) SavePath() string { return s.DataDir + "/save.json" }

// JournalPath is the SQLite journal location.
func (s Storage) JournalPath() string { return s.DataDir + "/journal.db" }

// ArchiveDir is the per-turn snapshot directory.
func (s Storage) ArchiveDir() string { return s.DataDir + "/archive" }

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Rules: Rules{
			StartingWealth:       1000,
			StartingMuscle:       3,
			ZeroDefenseWinChance: 0.95,
			MinLossRate:          0.20,
			MaxLossRate:          0.50,
			AllianceDefenseBonus: 2,
			BetrayalWealth:       100,
			BetrayalMuscle:       2,
			IncomeBase:           100,
			IncomeGrowth:         1.5,
			UpkeepPerMuscle:      10,
			HireCost:             50,
			MaxHire:              5,
			ClaimCost:            50,
			UpgradeCostPerLevel:  100,
			SpyCost:              50,
			SabotageCost:         100,
			BribeCost:            75,
			FortifyCost:          60,
			SabotageChance:       0.60,
			BribeChance:          0.70,
			IntelTurns:           3,
			FortifyTurns:         2,
			FortifyBonus:         3,
			EventWindowTurns:     3,
			EventWindowMax:       20,
			DiplomacyWindowMax:   10,
		},
		Oracle: Oracle{
			Model:          "claude-haiku-4-5-20251001",
			MaxTokens:      800,
			Timeout:        90 * time.Second,
			CallsPerMinute: 20,
		},
		Retry: Retry{
			MaxAttempts: 3,
			Delays:      []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second},
		},
		Server:  Server{Port: 8080},
		Storage: Storage{DataDir: "data"},
	}
}

// Load reads a YAML file over the defaults. An empty path or a missing file
// yields the defaults unchanged. Environment secrets are applied last.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := decode(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("%s: %w", path, err)
			}
		}
	}
	cfg.Oracle.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.Server.AdminKey = os.Getenv("GANGSIM_ADMIN_KEY")
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decode(raw []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	r := c.Rules
	for name, p := range map[string]float64{
		"zero_defense_win_chance": r.ZeroDefenseWinChance,
		"min_loss_rate":           r.MinLossRate,
		"max_loss_rate":           r.MaxLossRate,
		"sabotage_chance":         r.SabotageChance,
		"bribe_chance":            r.BribeChance,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("rules.%s must be within [0,1], got %v", name, p)
		}
	}
	if r.MinLossRate > r.MaxLossRate {
		return fmt.Errorf("rules.min_loss_rate %v exceeds max_loss_rate %v", r.MinLossRate, r.MaxLossRate)
	}
	if r.IncomeBase <= 0 || r.IncomeGrowth < 1 {
		return fmt.Errorf("rules: income curve must be positive and non-decreasing")
	}
	if r.UpkeepPerMuscle <= 0 {
		return fmt.Errorf("rules.upkeep_per_muscle must be positive")
	}
	if r.HireCost <= 0 || r.MaxHire <= 0 {
		return fmt.Errorf("rules.hire_cost and rules.max_hire must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if len(c.Retry.Delays) == 0 {
		return fmt.Errorf("retry.delays must not be empty")
	}
	if c.Oracle.Timeout <= 0 {
		return fmt.Errorf("oracle.timeout must be positive")
	}
	return nil
}
