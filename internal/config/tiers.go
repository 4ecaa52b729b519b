package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// UnlimitedValue marks an action without a monthly cap in tiers.yml.
const UnlimitedValue = "unlimited"

var requiredTiers = []string{"free", "standard", "premium"}

// TierLimits is the raw per-tier allowance as written in tiers.yml.
type TierLimits struct {
	Uploads   string `mapstructure:"uploads"`
	Downloads string `mapstructure:"downloads"`
}

type TierPolicyConfig struct {
	Tiers map[string]TierLimits `mapstructure:"tiers"`
}

func DefaultTierPolicyConfig() TierPolicyConfig {
	return TierPolicyConfig{
		Tiers: map[string]TierLimits{
			"free":     {Uploads: "1", Downloads: "1"},
			"standard": {Uploads: UnlimitedValue, Downloads: UnlimitedValue},
			"premium":  {Uploads: UnlimitedValue, Downloads: UnlimitedValue},
		},
	}
}

type TierPolicyHolder struct {
	current atomic.Value // holds TierPolicyConfig
}

type TierPolicyOptions struct {
	// Path is either a directory holding tiers.yml or the file itself.
	Path  string
	Watch bool
	Log   *zap.Logger
}

func NewTierPolicyHolder(cfg Config, log *zap.Logger) (*TierPolicyHolder, error) {
	return LoadTierPolicy(TierPolicyOptions{
		Path:  cfg.TierConfigPath,
		Watch: true,
		Log:   log,
	})
}

// NewStaticTierPolicyHolder validates cfg and serves it without any file backing.
func NewStaticTierPolicyHolder(cfg TierPolicyConfig) (*TierPolicyHolder, error) {
	holder := &TierPolicyHolder{}
	if err := holder.Replace(cfg); err != nil {
		return nil, err
	}
	return holder, nil
}

func LoadTierPolicy(opts TierPolicyOptions) (*TierPolicyHolder, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.tiers")

	v := viper.New()
	path := strings.TrimSpace(opts.Path)
	switch ext := strings.ToLower(filepath.Ext(path)); {
	case ext == ".yml" || ext == ".yaml":
		v.SetConfigFile(path)
	default:
		v.SetConfigName("tiers")
		v.SetConfigType("yml")
		if path != "" {
			v.AddConfigPath(path)
		}
		v.AddConfigPath("/etc/contentgate")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CONTENTGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	found := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		found = false
		defaults := DefaultTierPolicyConfig()
		for name, limits := range defaults.Tiers {
			v.SetDefault("tiers."+name+".uploads", limits.Uploads)
			v.SetDefault("tiers."+name+".downloads", limits.Downloads)
		}
		log.Info("tier config file not found, using defaults")
	}

	var cfg TierPolicyConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	holder := &TierPolicyHolder{}
	if err := holder.Replace(cfg); err != nil {
		return nil, err
	}

	if found && opts.Watch {
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated TierPolicyConfig
			if err := v.Unmarshal(&updated); err != nil {
				log.Warn("tier config reload failed", zap.Error(err))
				return
			}
			if err := holder.Replace(updated); err != nil {
				log.Warn("invalid tier config ignored", zap.Error(err))
				return
			}
			log.Info("tier config reloaded", zap.String("file", e.Name))
		})
		v.WatchConfig()
	}

	return holder, nil
}

func (h *TierPolicyHolder) Get() TierPolicyConfig {
	return h.current.Load().(TierPolicyConfig)
}

// Replace validates cfg and swaps it in. An invalid cfg leaves the current value untouched.
func (h *TierPolicyHolder) Replace(cfg TierPolicyConfig) error {
	normalized, err := normalizeTierPolicy(cfg)
	if err != nil {
		return err
	}
	h.current.Store(normalized)
	return nil
}

// ParseLimit reads a tiers.yml allowance. Unbounded is reported separately, never as a large number.
func ParseLimit(raw string) (max int64, unbounded bool, err error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "":
		return 0, false, errors.New("limit is empty")
	case UnlimitedValue, "-1":
		return 0, true, nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("limit %q is not a number", raw)
	}
	if parsed < 0 {
		return 0, false, fmt.Errorf("limit %q is negative", raw)
	}
	return parsed, false, nil
}

func normalizeTierPolicy(cfg TierPolicyConfig) (TierPolicyConfig, error) {
	if len(cfg.Tiers) == 0 {
		return TierPolicyConfig{}, errors.New("tiers cannot be empty")
	}
	out := TierPolicyConfig{Tiers: make(map[string]TierLimits, len(cfg.Tiers))}
	for name, limits := range cfg.Tiers {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, _, err := ParseLimit(limits.Uploads); err != nil {
			return TierPolicyConfig{}, fmt.Errorf("tiers.%s.uploads: %w", key, err)
		}
		if _, _, err := ParseLimit(limits.Downloads); err != nil {
			return TierPolicyConfig{}, fmt.Errorf("tiers.%s.downloads: %w", key, err)
		}
		out.Tiers[key] = limits
	}
	for _, name := range requiredTiers {
		if _, ok := out.Tiers[name]; !ok {
			return TierPolicyConfig{}, fmt.Errorf("tiers.%s is required", name)
		}
	}
	return out, nil
}
