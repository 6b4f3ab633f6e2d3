package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/haukened/rr-filter/internal/filter/common/retry"
	"github.com/haukened/rr-filter/internal/filter/domain"
	"github.com/haukened/rr-filter/internal/filter/services/heuristic"
)

const (
	envPrefix = "FILTER_"
	// ConfigFileEnv names an optional YAML file loaded between the defaults
	// and the environment.
	ConfigFileEnv = envPrefix + "CONFIG_FILE"
)

// AppConfig holds the process configuration.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	Log       LogConfig       `koanf:"log"`
	Store     StoreConfig     `koanf:"store"`
	Engine    EngineConfig    `koanf:"engine"`
	Compiler  CompilerConfig  `koanf:"compiler"`
	Validator ValidatorConfig `koanf:"validator"`
	Limits    LimitsConfig    `koanf:"limits"`

	// Ranges partitions [1, limits.max_rule_id], each as "name:start-end".
	Ranges []string `koanf:"ranges" validate:"required,id_ranges"`

	Heuristic HeuristicConfig `koanf:"heuristic"`
	Retry     RetryConfig     `koanf:"retry"`
	Sessions  SessionsConfig  `koanf:"sessions"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

type LogConfig struct {
	// Level controls log verbosity: "debug", "info", "warn", or "error".
	Level string `koanf:"level" validate:"required,oneof=debug info warn error"`
}

type StoreConfig struct {
	// Path is the bbolt file holding settings and heuristic state.
	Path string `koanf:"path" validate:"required"`
}

type EngineConfig struct {
	// Path is the bbolt file holding the active dynamic rules.
	Path string `koanf:"path" validate:"required"`
}

type CompilerConfig struct {
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
	FPRate  float64       `koanf:"fp_rate" validate:"gt=0,lt=1"`
}

type ValidatorConfig struct {
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

// LimitsConfig may lower the host engine limits but never raise them.
type LimitsConfig struct {
	MaxRules      int `koanf:"max_rules" validate:"gte=1,lte=30000"`
	MaxRuleID     int `koanf:"max_rule_id" validate:"gte=1,lte=99999"`
	MaxPriority   int `koanf:"max_priority" validate:"gte=2,lte=1000"`
	MaxLineLength int `koanf:"max_line_length" validate:"gte=16,lte=2048"`
}

// HeuristicConfig mirrors heuristic.Config.
type HeuristicConfig struct {
	CrossSiteWeight          float64       `koanf:"cross_site_weight" validate:"gt=0"`
	CrossSiteCap             float64       `koanf:"cross_site_cap" validate:"gt=0"`
	FrequencyWeight          float64       `koanf:"frequency_weight" validate:"gt=0"`
	FrequencyCap             float64       `koanf:"frequency_cap" validate:"gt=0"`
	IndicatorBonus           float64       `koanf:"indicator_bonus" validate:"gt=0"`
	BlockingScore            float64       `koanf:"blocking_score" validate:"gt=0,lte=100"`
	MinSitesForBlocking      int           `koanf:"min_sites" validate:"gte=1"`
	MinIndicatorsForBlocking int           `koanf:"min_indicators" validate:"gte=1"`
	CrossSiteIndicatorSites  int           `koanf:"cross_site_sites" validate:"gte=1"`
	DecayGrace               time.Duration `koanf:"decay_grace" validate:"gt=0"`
	DecayFull                time.Duration `koanf:"decay_full" validate:"gtfield=DecayGrace"`
	DecayFloor               float64       `koanf:"decay_floor" validate:"gt=0,lte=1"`
	MaxRecordAge             time.Duration `koanf:"max_record_age" validate:"gt=0"`
	CleanupInterval          time.Duration `koanf:"cleanup_interval" validate:"gt=0"`
}

type RetryConfig struct {
	Attempts int           `koanf:"attempts" validate:"gte=1,lte=10"`
	Backoff  time.Duration `koanf:"backoff" validate:"gte=0"`
}

type SessionsConfig struct {
	// Size bounds the per-site session cache; 0 disables it.
	Size int `koanf:"size" validate:"gte=0"`
}

type MetricsConfig struct {
	// Addr is the listen address of the metrics endpoint; empty disables it.
	Addr string `koanf:"addr" validate:"omitempty,hostname_port"`
}

// Engine converts the section to heuristic.Config.
func (h HeuristicConfig) Engine() heuristic.Config {
	return heuristic.Config{
		CrossSiteWeight:          h.CrossSiteWeight,
		CrossSiteCap:             h.CrossSiteCap,
		FrequencyWeight:          h.FrequencyWeight,
		FrequencyCap:             h.FrequencyCap,
		IndicatorBonus:           h.IndicatorBonus,
		BlockingScore:            h.BlockingScore,
		MinSitesForBlocking:      h.MinSitesForBlocking,
		MinIndicatorsForBlocking: h.MinIndicatorsForBlocking,
		CrossSiteIndicatorSites:  h.CrossSiteIndicatorSites,
		DecayGrace:               h.DecayGrace,
		DecayFull:                h.DecayFull,
		DecayFloor:               h.DecayFloor,
		MaxRecordAge:             h.MaxRecordAge,
		CleanupInterval:          h.CleanupInterval,
	}
}

// Policy converts the section to retry.Policy.
func (r RetryConfig) Policy() retry.Policy {
	p := retry.DefaultPolicy
	p.MaxAttempts = r.Attempts
	p.Backoff = r.Backoff
	return p
}

// IDRanges parses the validated range list.
func (c *AppConfig) IDRanges() ([]domain.IDRange, error) {
	return ParseRanges(c.Ranges)
}

func defaultHeuristic() HeuristicConfig {
	d := heuristic.DefaultConfig()
	return HeuristicConfig{
		CrossSiteWeight:          d.CrossSiteWeight,
		CrossSiteCap:             d.CrossSiteCap,
		FrequencyWeight:          d.FrequencyWeight,
		FrequencyCap:             d.FrequencyCap,
		IndicatorBonus:           d.IndicatorBonus,
		BlockingScore:            d.BlockingScore,
		MinSitesForBlocking:      d.MinSitesForBlocking,
		MinIndicatorsForBlocking: d.MinIndicatorsForBlocking,
		CrossSiteIndicatorSites:  d.CrossSiteIndicatorSites,
		DecayGrace:               d.DecayGrace,
		DecayFull:                d.DecayFull,
		DecayFloor:               d.DecayFloor,
		MaxRecordAge:             d.MaxRecordAge,
		CleanupInterval:          d.CleanupInterval,
	}
}

// DEFAULT_APP_CONFIG is the configuration used when nothing overrides it.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:       "prod",
	Log:       LogConfig{Level: "info"},
	Store:     StoreConfig{Path: "/var/lib/rr-filter/state.db"},
	Engine:    EngineConfig{Path: "/var/lib/rr-filter/rules.db"},
	Compiler:  CompilerConfig{Timeout: 10 * time.Second, FPRate: 0.01},
	Validator: ValidatorConfig{Timeout: 5 * time.Second},
	Limits: LimitsConfig{
		MaxRules:      domain.MaxRulesCount,
		MaxRuleID:     domain.MaxRuleID,
		MaxPriority:   domain.MaxPriority,
		MaxLineLength: domain.MaxLineLength,
	},
	Ranges:    []string{"override:1-999", "bulk:1000-9999", "adaptive:10000-99999"},
	Heuristic: defaultHeuristic(),
	Retry:     RetryConfig{Attempts: 3, Backoff: 50 * time.Millisecond},
	Sessions:  SessionsConfig{Size: 1000},
	Metrics:   MetricsConfig{Addr: ""},
}

// sections are the nested keys an env var may address, e.g.
// FILTER_LIMITS_MAX_RULES -> limits.max_rules.
var sections = []string{
	"log", "store", "engine", "compiler", "validator", "limits",
	"heuristic", "retry", "sessions", "metrics",
}

// envKey maps a FILTER_ variable name to its koanf key.
func envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, envPrefix))
	for _, s := range sections {
		if strings.HasPrefix(key, s+"_") {
			return s + "." + strings.TrimPrefix(key, s+"_")
		}
	}
	return key
}

// ParseRanges parses "name:start-end" specs.
func ParseRanges(specs []string) ([]domain.IDRange, error) {
	out := make([]domain.IDRange, 0, len(specs))
	for _, spec := range specs {
		name, bounds, ok := strings.Cut(strings.TrimSpace(spec), ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("range %q: want name:start-end", spec)
		}
		lo, hi, ok := strings.Cut(bounds, "-")
		if !ok {
			return nil, fmt.Errorf("range %q: want name:start-end", spec)
		}
		start, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("range %q: bad start: %w", spec, err)
		}
		end, err := strconv.Atoi(hi)
		if err != nil {
			return nil, fmt.Errorf("range %q: bad end: %w", spec, err)
		}
		out = append(out, domain.IDRange{Name: name, Start: start, End: end})
	}
	return out, nil
}

// validIDRanges checks that the range list parses and partitions
// [1, limits.max_rule_id].
func validIDRanges(fl validator.FieldLevel) bool {
	specs, ok := fl.Field().Interface().([]string)
	if !ok {
		return false
	}
	ranges, err := ParseRanges(specs)
	if err != nil {
		return false
	}
	maxID := domain.MaxRuleID
	top := fl.Top()
	if top.Kind() == reflect.Ptr {
		top = top.Elem()
	}
	if cfg, ok := top.Interface().(AppConfig); ok && cfg.Limits.MaxRuleID > 0 {
		maxID = cfg.Limits.MaxRuleID
	}
	return domain.ValidatePartition(ranges, maxID) == nil
}

// envLoader loads FILTER_ variables. Values containing spaces or commas
// become lists. It can be mocked in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = envKey(key)
			value = strings.TrimSpace(value)
			if value == "" {
				return key, value
			}
			if strings.Contains(value, " ") || strings.Contains(value, ",") {
				return key, strings.FieldsFunc(value, func(r rune) bool {
					return r == ' ' || r == ','
				})
			}
			return key, value
		},
	}), nil)
}

// fileLoader loads the YAML file named by FILTER_CONFIG_FILE, if set.
var fileLoader = func(k *koanf.Koanf) error {
	path := strings.TrimSpace(os.Getenv(ConfigFileEnv))
	if path == "" {
		return nil
	}
	return k.Load(file.Provider(path), yaml.Parser())
}

// defaultLoader loads DEFAULT_APP_CONFIG.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// registerValidation registers the custom "id_ranges" tag.
var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("id_ranges", validIDRanges)
}

// Load layers defaults, the optional YAML file and the environment, in that
// order, and validates the result.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}
	if err := fileLoader(k); err != nil {
		return nil, fmt.Errorf("error loading config file: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &cfg, nil
}
