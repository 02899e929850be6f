// Package config loads and validates the engine configuration. Every
// numeric strategy knob lives here so the same policy engine serves every
// mode without code changes.
package config

import (
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/apexalgo/ticktrader/pkg/errors"
)

// BrokerConfig describes the upstream streaming API endpoint.
type BrokerConfig struct {
	// Endpoint is the websocket URL of the brokerage streaming API.
	Endpoint string `yaml:"endpoint" validate:"required,url"`
	// AppID identifies this application to the broker.
	AppID string `yaml:"app_id" validate:"required"`
	// PingIntervalSeconds is the idle keep-alive period. Default 30.
	PingIntervalSeconds int `yaml:"ping_interval_seconds" validate:"gte=0"`
	// RequestTimeoutSeconds bounds every request/response await. Default 20.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds" validate:"gte=0"`
	// Symbol is the tick feed instrument.
	Symbol string `yaml:"symbol" validate:"required"`
}

// ServerConfig describes the notification fan-out endpoint.
type ServerConfig struct {
	// NotifyListenAddr is the HTTP listen address for the websocket
	// notification hub, e.g. ":8099". Empty disables the hub server.
	NotifyListenAddr string `yaml:"notify_listen_addr"`
}

// PersistenceConfig describes the embedded store.
type PersistenceConfig struct {
	// Path is the DuckDB database file. Empty means in-memory.
	Path string `yaml:"path"`
}

// EngineConfig holds engine-wide tuning.
type EngineConfig struct {
	// WindowCapacity is the tick window size (100-2000). Default 1000.
	WindowCapacity int `yaml:"window_capacity" validate:"gte=0,lte=2000"`
}

// ModeConfig carries every numeric knob for one strategy mode. Per-mode
// payout constants are intentionally preserved as configuration rather than
// unified; the upstream system ran different constants per mode.
type ModeConfig struct {
	// Policy selects the base entry policy: parity_run or momentum.
	Policy string `yaml:"policy" validate:"required,oneof=parity_run momentum"`

	// RunLength is the unanimity length N for parity_run. Default 3.
	RunLength int `yaml:"run_length" validate:"gte=0"`

	// MomentumLength is the number K of consecutive same-direction deltas.
	MomentumLength int `yaml:"momentum_length" validate:"gte=0"`
	// MomentumMinDelta is the minimum magnitude of each delta.
	MomentumMinDelta float64 `yaml:"momentum_min_delta" validate:"gte=0"`
	// MomentumSMAPeriod enables the moving-average trend filter when > 0.
	MomentumSMAPeriod int `yaml:"momentum_sma_period" validate:"gte=0"`

	// DVXCeiling suppresses entries when the dispersion index exceeds it.
	// 0 disables the gate.
	DVXCeiling int `yaml:"dvx_ceiling" validate:"gte=0,lte=100"`
	// DVXWindow is the number of recent ticks fed to the dispersion index,
	// capped at 100. Default 100.
	DVXWindow int `yaml:"dvx_window" validate:"gte=0,lte=100"`

	// PayoutRate is the estimated payout of the mode's normal contract,
	// used by the recovery stake math (e.g. 0.92).
	PayoutRate float64 `yaml:"payout_rate" validate:"required,gt=0"`
	// RecoveryPayoutRate is the payout of the recovery contract shape
	// (e.g. 1.20 for digit-under-4). Defaults to PayoutRate.
	RecoveryPayoutRate float64 `yaml:"recovery_payout_rate" validate:"gte=0"`
	// RecoveryActivationLosses is the consecutive-loss count that switches
	// the session into recovery contracts. Default 2.
	RecoveryActivationLosses int `yaml:"recovery_activation_losses" validate:"gte=0"`
	// RecoveryBarrier is the digit barrier of the recovery contract. Default 4.
	RecoveryBarrier int `yaml:"recovery_barrier" validate:"gte=0,lte=9"`
	// DefenseCeiling is the consecutive-loss count after which the heavier
	// filtered defense policy takes over. 0 disables auto-defense.
	DefenseCeiling int `yaml:"defense_ceiling" validate:"gte=0"`
	// DefenseRunLength is the unanimity length used while defending.
	DefenseRunLength int `yaml:"defense_run_length" validate:"gte=0"`

	// MinStake is the minimum tradable unit. Default 0.35.
	MinStake float64 `yaml:"min_stake" validate:"gte=0"`
	// SorosEnabled engages the two-step reinvest-the-win progression.
	SorosEnabled bool `yaml:"soros_enabled"`
	// ConservativeLossCeiling caps recovery depth for conservative profiles.
	// Default 5.
	ConservativeLossCeiling int `yaml:"conservative_loss_ceiling" validate:"gte=0"`

	// ShieldActivationFraction of the profit target at which trailing
	// protection engages. Default 0.4.
	ShieldActivationFraction float64 `yaml:"shield_activation_fraction" validate:"gte=0,lte=1"`
	// ShieldProtectionFactor is the fraction of the profit peak locked in.
	// Default 0.5.
	ShieldProtectionFactor float64 `yaml:"shield_protection_factor" validate:"gte=0,lte=1"`
}

// Config is the root configuration document.
type Config struct {
	Broker      BrokerConfig          `yaml:"broker" validate:"required"`
	Server      ServerConfig          `yaml:"server"`
	Persistence PersistenceConfig     `yaml:"persistence"`
	Engine      EngineConfig          `yaml:"engine"`
	Modes       map[string]ModeConfig `yaml:"modes" validate:"required,min=1,dive"`
}

// Default knob values applied by ApplyDefaults.
const (
	DefaultPingIntervalSeconds   = 30
	DefaultRequestTimeoutSeconds = 20
	DefaultWindowCapacity        = 1000
	DefaultRunLength             = 3
	DefaultDVXWindow             = 100
	DefaultRecoveryActivation    = 2
	DefaultRecoveryBarrier       = 4
	DefaultMinStake              = 0.35
	DefaultConservativeCeiling   = 5
	DefaultShieldActivation      = 0.4
	DefaultShieldProtection      = 0.5
)

// Load reads, parses, defaults and validates a YAML config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read config file %s", path)
	}

	return Parse(raw)
}

// Parse parses, defaults and validates a YAML config document.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyDefaults fills unset knobs with their default values.
func (c *Config) ApplyDefaults() {
	if c.Broker.PingIntervalSeconds == 0 {
		c.Broker.PingIntervalSeconds = DefaultPingIntervalSeconds
	}

	if c.Broker.RequestTimeoutSeconds == 0 {
		c.Broker.RequestTimeoutSeconds = DefaultRequestTimeoutSeconds
	}

	if c.Engine.WindowCapacity == 0 {
		c.Engine.WindowCapacity = DefaultWindowCapacity
	}

	for name, mode := range c.Modes {
		mode.applyDefaults()
		c.Modes[name] = mode
	}
}

func (m *ModeConfig) applyDefaults() {
	if m.RunLength == 0 {
		m.RunLength = DefaultRunLength
	}

	if m.DVXWindow == 0 {
		m.DVXWindow = DefaultDVXWindow
	}

	if m.RecoveryPayoutRate == 0 {
		m.RecoveryPayoutRate = m.PayoutRate
	}

	if m.RecoveryActivationLosses == 0 {
		m.RecoveryActivationLosses = DefaultRecoveryActivation
	}

	if m.RecoveryBarrier == 0 {
		m.RecoveryBarrier = DefaultRecoveryBarrier
	}

	if m.DefenseRunLength == 0 {
		m.DefenseRunLength = m.RunLength + 2
	}

	if m.MinStake == 0 {
		m.MinStake = DefaultMinStake
	}

	if m.ConservativeLossCeiling == 0 {
		m.ConservativeLossCeiling = DefaultConservativeCeiling
	}

	if m.ShieldActivationFraction == 0 {
		m.ShieldActivationFraction = DefaultShieldActivation
	}

	if m.ShieldProtectionFactor == 0 {
		m.ShieldProtectionFactor = DefaultShieldProtection
	}
}

// Validate validates the full configuration tree.
func (c *Config) Validate() error {
	validate := validator.New()

	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid configuration", err)
	}

	return nil
}

// Mode returns the named mode configuration.
func (c *Config) Mode(name string) (ModeConfig, error) {
	mode, ok := c.Modes[name]
	if !ok {
		return ModeConfig{}, errors.Newf(errors.ErrCodeInvalidMode, "unknown mode %q", name)
	}

	return mode, nil
}
