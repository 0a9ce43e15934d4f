package st

import (
	"strconv"
	"strings"
	"time"

	"github.com/teranos/statetree/errors"
)

type retentionMode uint8

const (
	retentionDisabled retentionMode = iota
	retentionItems
	retentionTime
	retentionUnlimited
)

// RetentionPolicy governs which historical values an attribute keeps. The
// zero value disables history entirely.
type RetentionPolicy struct {
	mode   retentionMode
	items  int
	window time.Duration
}

// ItemLimited keeps at most n historical values, evicting the oldest.
func ItemLimited(n int) RetentionPolicy {
	return RetentionPolicy{mode: retentionItems, items: max(n, 0)}
}

// TimeLimited evicts values older than the current value's timestamp minus window.
func TimeLimited(window time.Duration) RetentionPolicy {
	return RetentionPolicy{mode: retentionTime, window: window}
}

// Unlimited never evicts.
func Unlimited() RetentionPolicy {
	return RetentionPolicy{mode: retentionUnlimited}
}

// Enabled reports whether the policy keeps any history.
func (p RetentionPolicy) Enabled() bool {
	return p.mode != retentionDisabled
}

// String renders the form accepted by ParseRetention.
func (p RetentionPolicy) String() string {
	switch p.mode {
	case retentionItems:
		return "items:" + strconv.Itoa(p.items)
	case retentionTime:
		return "time:" + p.window.String()
	case retentionUnlimited:
		return "unlimited"
	default:
		return "none"
	}
}

// ParseRetention reads "none", "unlimited", "items:<n>" or "time:<duration>".
func ParseRetention(text string) (RetentionPolicy, error) {
	text = strings.TrimSpace(strings.ToLower(text))
	switch text {
	case "", "none", "disabled":
		return RetentionPolicy{}, nil
	case "unlimited":
		return Unlimited(), nil
	}

	mode, arg, ok := strings.Cut(text, ":")
	if !ok {
		return RetentionPolicy{}, errors.Newf("invalid retention %q", text)
	}
	switch mode {
	case "items":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 {
			return RetentionPolicy{}, errors.Newf("invalid item limit %q", arg)
		}
		return ItemLimited(n), nil
	case "time":
		d, err := time.ParseDuration(arg)
		if err != nil || d < 0 {
			return RetentionPolicy{}, errors.Newf("invalid time window %q", arg)
		}
		return TimeLimited(d), nil
	}
	return RetentionPolicy{}, errors.Newf("invalid retention mode %q", mode)
}

// evict applies the policy to history, oldest first. now is the timestamp
// of the current value in unix milliseconds.
func (p RetentionPolicy) evict(history []AttributeValue, now int64) []AttributeValue {
	switch p.mode {
	case retentionDisabled:
		return nil
	case retentionItems:
		if over := len(history) - p.items; over > 0 {
			history = append(history[:0:0], history[over:]...)
		}
	case retentionTime:
		cutoff := now - p.window.Milliseconds()
		i := 0
		for i < len(history) && history[i].Timestamp < cutoff {
			i++
		}
		if i > 0 {
			history = append(history[:0:0], history[i:]...)
		}
	}
	return history
}
