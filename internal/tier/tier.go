// Package tier holds the subscription tiers, the metered actions and the
// monthly allowance each tier grants per action.
package tier

import (
	"errors"
	"strconv"
	"strings"
)

type Tier string

const (
	Free     Tier = "free"
	Standard Tier = "standard"
	Premium  Tier = "premium"
)

type Action string

const (
	ActionUpload   Action = "upload"
	ActionDownload Action = "download"
)

var ErrInvalidAction = errors.New("invalid_action")

// ParseTier never fails: anything unrecognised resolves to the most restrictive tier.
func ParseTier(raw string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(raw))) {
	case Standard:
		return Standard
	case Premium:
		return Premium
	default:
		return Free
	}
}

func (t Tier) Valid() bool {
	switch t {
	case Free, Standard, Premium:
		return true
	default:
		return false
	}
}

func ParseAction(raw string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(raw))) {
	case ActionUpload:
		return ActionUpload, nil
	case ActionDownload:
		return ActionDownload, nil
	default:
		return "", ErrInvalidAction
	}
}

func (a Action) Valid() bool {
	return a == ActionUpload || a == ActionDownload
}

// Limit is a monthly allowance. Unbounded limits carry no Max.
type Limit struct {
	Max       int64
	Unbounded bool
}

var Unlimited = Limit{Unbounded: true}

func Bounded(max int64) Limit {
	if max < 0 {
		max = 0
	}
	return Limit{Max: max}
}

// Allows reports whether one more use fits after used.
func (l Limit) Allows(used int64) bool {
	return l.Unbounded || used < l.Max
}

// Remaining returns -1 for unbounded limits.
func (l Limit) Remaining(used int64) int64 {
	if l.Unbounded {
		return -1
	}
	if used >= l.Max {
		return 0
	}
	return l.Max - used
}

func (l Limit) String() string {
	if l.Unbounded {
		return "unlimited"
	}
	return strconv.FormatInt(l.Max, 10)
}

// MarshalJSON renders unbounded limits as null.
func (l Limit) MarshalJSON() ([]byte, error) {
	if l.Unbounded {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(l.Max, 10)), nil
}
