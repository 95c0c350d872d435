// Package index derives the searchable tokens of a plate and the parking spot
// sets of a household. Every write path (create, import, sync) goes through it.
package index

import (
	"strings"

	"plate-lookup/internal/domain"
)

// Keywords 车牌号按分段符拆分后的大写关键字（去空、去重、保持顺序）
func Keywords(plateID string) []string {
	parts := strings.Split(strings.ToUpper(plateID), domain.PlateSeparator)
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// NormalizePlateID 大写 + 去首尾空白
func NormalizePlateID(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// LooksExact 含分段符且不含空格的输入按精确车牌号处理，否则走关键字模糊查询
func LooksExact(normalized string) bool {
	return strings.Contains(normalized, domain.PlateSeparator) && !strings.Contains(normalized, " ")
}

// SearchTerms 模糊查询的词项（按空白拆分，去重）
func SearchTerms(normalized string) []string {
	fields := strings.Fields(normalized)
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
