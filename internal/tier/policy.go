package tier

import (
	"fmt"

	"github.com/smallbiznis/contentgate/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("tier",
	fx.Provide(NewPolicy),
)

// Policy resolves the monthly allowance of a tier for one action.
type Policy interface {
	Limit(t Tier, a Action) (Limit, error)
}

type Limits struct {
	Uploads   Limit
	Downloads Limit
}

func (l Limits) For(a Action) (Limit, error) {
	switch a {
	case ActionUpload:
		return l.Uploads, nil
	case ActionDownload:
		return l.Downloads, nil
	default:
		return Limit{}, ErrInvalidAction
	}
}

// DefaultLimits is config.DefaultTierPolicyConfig parsed into limits.
func DefaultLimits() map[Tier]Limits {
	defaults := config.DefaultTierPolicyConfig()
	out := make(map[Tier]Limits, len(defaults.Tiers))
	for name, raw := range defaults.Tiers {
		limits, err := parseLimits(raw)
		if err != nil {
			panic(fmt.Sprintf("default tier %q: %v", name, err))
		}
		out[Tier(name)] = limits
	}
	return out
}

func parseLimits(raw config.TierLimits) (Limits, error) {
	uploads, err := parseLimit(raw.Uploads)
	if err != nil {
		return Limits{}, fmt.Errorf("%s limit: %w", ActionUpload, err)
	}
	downloads, err := parseLimit(raw.Downloads)
	if err != nil {
		return Limits{}, fmt.Errorf("%s limit: %w", ActionDownload, err)
	}
	return Limits{Uploads: uploads, Downloads: downloads}, nil
}

func parseLimit(value string) (Limit, error) {
	max, unbounded, err := config.ParseLimit(value)
	if err != nil {
		return Limit{}, err
	}
	if unbounded {
		return Unlimited, nil
	}
	return Bounded(max), nil
}

type holderPolicy struct {
	holder *config.TierPolicyHolder
}

// NewPolicy reads limits from the hot-reloadable holder on every call.
func NewPolicy(holder *config.TierPolicyHolder) Policy {
	return &holderPolicy{holder: holder}
}

func (p *holderPolicy) Limit(t Tier, a Action) (Limit, error) {
	if !a.Valid() {
		return Limit{}, ErrInvalidAction
	}
	if !t.Valid() {
		t = Free
	}
	cfg := p.holder.Get()
	raw, ok := cfg.Tiers[string(t)]
	if !ok {
		return Limit{}, fmt.Errorf("tier %q is not configured", t)
	}
	limits, err := parseLimits(raw)
	if err != nil {
		return Limit{}, fmt.Errorf("tier %q: %w", t, err)
	}
	return limits.For(a)
}

type staticPolicy struct {
	limits map[Tier]Limits
}

// StaticPolicy serves a fixed table; unknown tiers fall back to the Free entry.
func StaticPolicy(limits map[Tier]Limits) Policy {
	return &staticPolicy{limits: limits}
}

func (p *staticPolicy) Limit(t Tier, a Action) (Limit, error) {
	limits, ok := p.limits[t]
	if !ok {
		limits, ok = p.limits[Free]
		if !ok {
			return Limit{}, fmt.Errorf("tier %q is not configured", t)
		}
	}
	return limits.For(a)
}
