// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for match rules, lobby timing and server settings.
//
// Every section has a DefaultX constructor and an XFromEnv variant that applies
// environment overrides on top of the defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// MATCH RULES
// =============================================================================

// MatchConfig holds the combat and turn rules shared by every match.
type MatchConfig struct {
	HPCap              int           // Starting HP and ceiling (before health modifiers)
	FullDamage         int           // Base damage against a target that did not defend
	LightDamage        int           // Base damage against a defending target
	ModifierScale      int           // Modifier points per 1 point of damage
	MinDamage          int           // Damage floor after modifiers
	Recovery           int           // HP regained per turn by living participants
	DecisionTimeout    time.Duration // Per-agent strategy deadline
	HistoryWindow      int           // Turn records exposed to strategies
	MaxTurns           int           // Turn cap enforced by the lifecycle manager
	MinAgents          int           // Engine-wide lower bound on participants
	MaxAgents          int           // Engine-wide upper bound on participants
	ExternalCutPercent int           // Share removed from external recipients
	MaxModifier        int           // Largest absolute value of any single modifier
}

// DefaultMatch returns the default match rules.
func DefaultMatch() MatchConfig {
	return MatchConfig{
		HPCap:              100,
		FullDamage:         20,
		LightDamage:        10,
		ModifierScale:      10,
		MinDamage:          1,
		Recovery:           5,
		DecisionTimeout:    5 * time.Second,
		HistoryWindow:      5,
		MaxTurns:           100,
		MinAgents:          2,
		MaxAgents:          32,
		ExternalCutPercent: 50,
		MaxModifier:        50,
	}
}

// MatchFromEnv returns match rules with environment variable overrides.
func MatchFromEnv() MatchConfig {
	cfg := DefaultMatch()

	if v := getEnvInt("MATCH_HP_CAP", 0); v > 0 {
		cfg.HPCap = v
	}
	if v := getEnvInt("MATCH_FULL_DAMAGE", 0); v > 0 {
		cfg.FullDamage = v
	}
	if v := getEnvInt("MATCH_LIGHT_DAMAGE", 0); v > 0 {
		cfg.LightDamage = v
	}
	if v := getEnvInt("MATCH_RECOVERY", -1); v >= 0 {
		cfg.Recovery = v
	}
	if v := getEnvDuration("MATCH_DECISION_TIMEOUT", 0); v > 0 {
		cfg.DecisionTimeout = v
	}
	if v := getEnvInt("MATCH_MAX_TURNS", 0); v > 0 {
		cfg.MaxTurns = v
	}
	if v := getEnvInt("MATCH_EXTERNAL_CUT_PERCENT", -1); v >= 0 && v <= 100 {
		cfg.ExternalCutPercent = v
	}
	if v := getEnvInt("MATCH_MAX_MODIFIER", -1); v >= 0 {
		cfg.MaxModifier = v
	}

	return cfg
}

// Validate rejects rule sets the engine cannot run with.
func (c MatchConfig) Validate() error {
	switch {
	case c.HPCap <= 0:
		return fmt.Errorf("hp cap must be positive")
	case c.ModifierScale <= 0:
		return fmt.Errorf("modifier scale must be positive")
	case c.MinDamage < 1:
		return fmt.Errorf("min damage must be at least 1")
	case c.DecisionTimeout <= 0:
		return fmt.Errorf("decision timeout must be positive")
	case c.MaxTurns < 1:
		return fmt.Errorf("max turns must be at least 1")
	case c.MinAgents < 2:
		return fmt.Errorf("min agents must be at least 2")
	case c.MaxAgents < c.MinAgents:
		return fmt.Errorf("max agents %d below min agents %d", c.MaxAgents, c.MinAgents)
	case c.ExternalCutPercent < 0 || c.ExternalCutPercent > 100:
		return fmt.Errorf("external cut must be within 0..100")
	case c.MaxModifier < 0:
		return fmt.Errorf("max modifier must not be negative")
	}
	return nil
}

// =============================================================================
// LOBBY CONFIGURATION
// =============================================================================

// LobbyConfig controls the arena lifecycle manager.
type LobbyConfig struct {
	Countdown time.Duration // Delay between quorum and launch
	Replenish bool          // Create a fresh arena of the same tier after a match
}

// DefaultLobby returns the default lobby configuration.
func DefaultLobby() LobbyConfig {
	return LobbyConfig{
		Countdown: 30 * time.Second,
		Replenish: true,
	}
}

// LobbyFromEnv returns lobby configuration with environment variable overrides.
func LobbyFromEnv() LobbyConfig {
	cfg := DefaultLobby()

	if v := getEnvDuration("LOBBY_COUNTDOWN", 0); v > 0 {
		cfg.Countdown = v
	}
	if os.Getenv("LOBBY_REPLENISH") == "false" {
		cfg.Replenish = false
	}

	return cfg
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port                 int
	CORSOrigins          []string
	RequestsPerSecond    float64
	Burst                int
	AdminToken           string // Enables admin sessions; empty disables privileged joins
	AllowPrivateWebhooks bool   // Let agent webhooks reach loopback and private networks
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port: 3000,
		CORSOrigins: []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		},
		RequestsPerSecond: 10,
		Burst:             20,
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}
	if rps := getEnvFloat("RATE_LIMIT_RPS", 0); rps > 0 {
		cfg.RequestsPerSecond = rps
	}
	if b := getEnvInt("RATE_LIMIT_BURST", 0); b > 0 {
		cfg.Burst = b
	}
	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
	cfg.AllowPrivateWebhooks = os.Getenv("WEBHOOK_ALLOW_PRIVATE") == "true"

	return cfg
}

// =============================================================================
// OBSERVABILITY & STORAGE
// =============================================================================

// ObservabilityConfig configures the debug server.
type ObservabilityConfig struct {
	Enabled       bool
	ListenAddr    string // MUST stay on localhost in production
	BasicAuthUser string
	BasicAuthPass string
	LogLevel      string
}

// DefaultObservability returns safe defaults.
func DefaultObservability() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060",
		LogLevel:   "info",
	}
}

// ObservabilityFromEnv returns observability configuration with environment overrides.
func ObservabilityFromEnv() ObservabilityConfig {
	cfg := DefaultObservability()

	if os.Getenv("DISABLE_DEBUG_SERVER") == "true" {
		cfg.Enabled = false
	}
	if addr := os.Getenv("DEBUG_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	cfg.BasicAuthUser = os.Getenv("DEBUG_USER")
	cfg.BasicAuthPass = os.Getenv("DEBUG_PASS")
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = lvl
	}

	return cfg
}

// StorageConfig locates the audit log and the results database.
type StorageConfig struct {
	EventLogPath string // JSONL audit log, empty disables
	ResultsDB    string // SQLite results database, empty disables
	TiersFile    string // YAML tier definitions, empty uses built-in tiers
}

// StorageFromEnv returns storage configuration from the environment.
func StorageFromEnv() StorageConfig {
	return StorageConfig{
		EventLogPath: getEnvWithDefault("EVENT_LOG_PATH", "events.jsonl"),
		ResultsDB:    os.Getenv("RESULTS_DB"),
		TiersFile:    os.Getenv("TIERS_FILE"),
	}
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Match         MatchConfig
	Lobby         LobbyConfig
	Server        ServerConfig
	Observability ObservabilityConfig
	Storage       StorageConfig
	Tiers         []TierConfig
}

// Load returns the complete configuration with environment overrides.
// Tiers are read from Storage.TiersFile when it is set.
func Load() (AppConfig, error) {
	cfg := AppConfig{
		Match:         MatchFromEnv(),
		Lobby:         LobbyFromEnv(),
		Server:        ServerFromEnv(),
		Observability: ObservabilityFromEnv(),
		Storage:       StorageFromEnv(),
		Tiers:         DefaultTiers(),
	}
	if err := cfg.Match.Validate(); err != nil {
		return cfg, fmt.Errorf("match config: %w", err)
	}
	if cfg.Storage.TiersFile != "" {
		tiers, err := LoadTiers(cfg.Storage.TiersFile)
		if err != nil {
			return cfg, err
		}
		cfg.Tiers = tiers
	}
	return cfg, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvWithDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
