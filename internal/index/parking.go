package index

import (
	"strings"

	"plate-lookup/internal/domain"
)

// ParseSpots parking_number -> 车位列表（trim、去空；按大写去重，保留首次出现的写法）
func ParseSpots(parkingNumber string) []string {
	parts := strings.Split(parkingNumber, domain.ParkingSeparator)
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		key := SpotKey(p)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}

// SpotKey 车位索引 key
func SpotKey(spot string) string {
	return strings.ToUpper(strings.TrimSpace(spot))
}

// SpotKeys parking_number -> 车位索引 key 列表
func SpotKeys(parkingNumber string) []string {
	spots := ParseSpots(parkingNumber)
	keys := make([]string, len(spots))
	for i, s := range spots {
		keys[i] = SpotKey(s)
	}
	return keys
}

// SpotDiff 新旧车位集合的差异
type SpotDiff struct {
	Removed   []string // 只在旧集合中
	Added     []string // 只在新集合中
	Unchanged []string
}

// DiffSpots 比较两个 parking_number（按索引 key 比较）
func DiffSpots(oldParking, newParking string) SpotDiff {
	oldKeys := SpotKeys(oldParking)
	newKeys := SpotKeys(newParking)

	newSet := make(map[string]struct{}, len(newKeys))
	for _, k := range newKeys {
		newSet[k] = struct{}{}
	}
	oldSet := make(map[string]struct{}, len(oldKeys))

	var d SpotDiff
	for _, k := range oldKeys {
		oldSet[k] = struct{}{}
		if _, ok := newSet[k]; ok {
			d.Unchanged = append(d.Unchanged, k)
		} else {
			d.Removed = append(d.Removed, k)
		}
	}
	for _, k := range newKeys {
		if _, ok := oldSet[k]; !ok {
			d.Added = append(d.Added, k)
		}
	}
	return d
}
