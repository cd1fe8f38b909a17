package enrichment

import (
	"strings"
)

// GetSessionFlags derives boolean signals from a generic session-result
// map, tolerating both the flat shape ({"enrichment": {"dshield": ..., }})
// and the grouped shape ({"enrichment": {"session": {"<ip>": {...}}}}), by
// iterating every per-IP payload node it finds. VirusTotal is always
// looked up at the top level of the enrichment map, since file-scanner
// results are never grouped by IP.
func GetSessionFlags(sessionResult map[string]any) SessionFlags {
	enrichmentNode, _ := sessionResult["enrichment"].(map[string]any)

	var flags SessionFlags
	for _, payload := range iterSessionEnrichments(enrichmentNode) {
		flags.DshieldFlagged = flags.DshieldFlagged || dshieldFlag(payload["dshield"])
		flags.URLHausFlagged = flags.URLHausFlagged || urlhausFlag(payload["urlhaus"])
		flags.SpurFlagged = flags.SpurFlagged || spurFlag(payload["spur"])
	}

	flags.VTFlagged = vtFlag(enrichmentNode["virustotal"])
	return flags
}

// iterSessionEnrichments yields one payload map per IP from enrichment,
// falling back to enrichment itself when it has no "session" grouping
// node.
func iterSessionEnrichments(enrichment map[string]any) []map[string]any {
	if enrichment == nil {
		return nil
	}

	if sessionSection, ok := enrichment["session"].(map[string]any); ok {
		payloads := make([]map[string]any, 0, len(sessionSection))
		for _, v := range sessionSection {
			if m, ok := v.(map[string]any); ok {
				payloads = append(payloads, m)
			}
		}
		return payloads
	}

	return []map[string]any{enrichment}
}

func dshieldFlag(payload any) bool {
	m, ok := payload.(map[string]any)
	if !ok {
		return false
	}
	ip, ok := m["ip"].(map[string]any)
	if !ok {
		return false
	}
	return coerceInt(ip["count"]) > 0 || coerceInt(ip["attacks"]) > 0
}

func urlhausFlag(payload any) bool {
	s, ok := payload.(string)
	return ok && strings.TrimSpace(s) != ""
}

func spurFlag(payload any) bool {
	list, ok := payload.([]string)
	if !ok {
		if anyList, ok2 := payload.([]any); ok2 {
			list = make([]string, len(anyList))
			for i, v := range anyList {
				s, _ := v.(string)
				list[i] = s
			}
		} else {
			return false
		}
	}
	if len(list) < 4 {
		return false
	}
	switch strings.ToUpper(list[3]) {
	case "DATACENTER", "VPN":
		return true
	default:
		return false
	}
}

func vtFlag(payload any) bool {
	for _, vtPayload := range iterVTPayloads(payload) {
		if coerceInt(extractVTMalicious(vtPayload)) > 0 {
			return true
		}
	}
	return false
}

// iterVTPayloads walks an arbitrarily-nested structure (map, slice, or
// grouped-by-IP map of VT payloads) yielding every node that looks like a
// VirusTotal response (has a "data" map at its top level).
func iterVTPayloads(payload any) []map[string]any {
	switch v := payload.(type) {
	case map[string]any:
		if _, ok := v["data"].(map[string]any); ok {
			return []map[string]any{v}
		}
		var out []map[string]any
		for _, child := range v {
			out = append(out, iterVTPayloads(child)...)
		}
		return out
	case []any:
		var out []map[string]any
		for _, child := range v {
			out = append(out, iterVTPayloads(child)...)
		}
		return out
	default:
		return nil
	}
}

func extractVTMalicious(payload map[string]any) any {
	data, _ := payload["data"].(map[string]any)
	attrs, _ := data["attributes"].(map[string]any)
	stats, _ := attrs["last_analysis_stats"].(map[string]any)
	if stats == nil {
		return nil
	}
	return stats["malicious"]
}

func coerceInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
