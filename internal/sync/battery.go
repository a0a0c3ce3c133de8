package sync

import (
	"math"
	"strconv"
)

// Battery readings arrive under one of several legacy key names, first
// present wins.
var batteryKeys = []string{"battery_level", "batteryLevel", "battery", "power"}

// NormalizeBattery extracts and normalizes a battery reading from a raw
// device-state payload. Values >1 are treated as already a percentage;
// values ≤1 are a 0–1 fraction and scaled ×100. The result is rounded and
// clamped to [0,100]. Deterministic and idempotent: normalizing an already
// normalized value yields the same output.
func NormalizeBattery(values map[string]any) (int, bool) {
	for _, key := range batteryKeys {
		raw, ok := values[key]
		if !ok {
			continue
		}
		f, ok := toFloat(raw)
		if !ok {
			continue
		}
		return clampPercent(f), true
	}
	return 0, false
}

func clampPercent(f float64) int {
	if f <= 1 && f >= 0 {
		f = f * 100
	}
	n := int(math.Round(f))
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
