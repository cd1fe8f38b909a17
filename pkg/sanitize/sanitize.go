// Package sanitize strips Unicode control code points from strings and JSON
// trees, repairs commonly malformed JSON, and validates that a blob is safe
// to embed in a JSON column of a relational store.
//
// Every value this package returns is free of C0 controls (U+0000-U+0008,
// U+000B-U+000C, U+000E-U+001F), DEL (U+007F), and C1 controls
// (U+0080-U+009F), except for the whitespace code points explicitly marked
// safe (tab, newline, carriage return, space).
package sanitize

import (
	"encoding/json"
	"log"
	"regexp"
	"strconv"
	"strings"
)

// controlCharPattern matches the non-strict danger set: C0 controls and C1/DEL.
var controlCharPattern = regexp.MustCompile(`[\x00-\x1F\x7F-\x9F]`)

// strictControlCharPattern matches every C0 control (tab, newline and
// carriage return included) plus DEL and C1. Strict mode preserves no
// whitespace, so it is used for filenames, URLs and the JSONText fallback.
var strictControlCharPattern = regexp.MustCompile(`[\x00-\x1F\x7F-\x9F]`)

// safeWhitespace is preserved by non-strict sanitization when requested.
var safeWhitespace = map[rune]bool{'\t': true, '\n': true, '\r': true, ' ': true}

// unicodeEscapePattern detects \uXXXX sequences embedding a danger-set code
// point, used by IsSafeForStore to catch re-serialized JSON escapes that a
// raw-byte scan would miss.
var unicodeEscapePattern = regexp.MustCompile(`\\u([0-9a-fA-F]{4})`)

// Options controls a single sanitize_string invocation.
type Options struct {
	Strict             bool
	PreserveWhitespace bool
	Replacement        string
	Debug              bool
}

// DefaultOptions mirrors the non-strict, whitespace-preserving default used
// throughout the façade for JSON tree sanitization.
func DefaultOptions() Options {
	return Options{Strict: false, PreserveWhitespace: true, Replacement: ""}
}

// String removes control code points from s according to opts. Non-strict
// mode removes C0 (minus tab/newline/CR when PreserveWhitespace is set) plus
// DEL and C1; strict mode removes tab, newline and carriage return as well,
// ignoring PreserveWhitespace.
func String(s string, opts Options) string {
	if s == "" {
		return s
	}

	pattern := controlCharPattern
	if opts.Strict {
		pattern = strictControlCharPattern
	}

	if !pattern.MatchString(s) {
		return s
	}

	sanitized := pattern.ReplaceAllStringFunc(s, func(match string) string {
		r := []rune(match)[0]
		if !opts.Strict && opts.PreserveWhitespace && safeWhitespace[r] {
			return match
		}
		return opts.Replacement
	})

	if opts.Debug && sanitized != s {
		log.Printf("sanitize: removed control characters from string (len %d -> %d)", len(s), len(sanitized))
	}

	return sanitized
}

// JSONTree walks a decoded JSON value (as produced by encoding/json into
// map[string]any / []any / string / float64 / bool / nil) and sanitizes every
// string leaf, including object keys. Non-string primitives pass through
// unchanged. This is the canonical pre-storage step and is idempotent.
func JSONTree(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[String(k, DefaultOptions())] = JSONTree(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = JSONTree(child)
		}
		return out
	case string:
		return String(val, DefaultOptions())
	default:
		return val
	}
}

// JSONText attempts to parse text as JSON; on success it re-serializes the
// sanitized tree in compact form. On parse failure it applies the JSON
// repair heuristics and retries; if repair still fails it falls back to
// strict string sanitization of the raw text. Sanitization never returns an
// error: malformed input degrades gracefully.
func JSONText(text string) string {
	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		sanitized := JSONTree(parsed)
		encoded, err := json.Marshal(sanitized)
		if err == nil {
			return string(encoded)
		}
	}

	repaired := RepairJSON(text)
	var reparsed any
	if err := json.Unmarshal([]byte(repaired), &reparsed); err == nil {
		sanitized := JSONTree(reparsed)
		if encoded, err := json.Marshal(sanitized); err == nil {
			return string(encoded)
		}
	}

	log.Printf("sanitize: JSON repair failed, falling back to strict string sanitize")
	return String(text, Options{Strict: true, PreserveWhitespace: false, Replacement: ""})
}

// Filename strictly sanitizes s, strips path-traversal sequences and path
// separators, and truncates to at most 512 code units (runes).
func Filename(s string) string {
	if s == "" {
		return ""
	}
	sanitized := strings.TrimSpace(String(s, Options{Strict: true, PreserveWhitespace: false}))
	sanitized = strings.ReplaceAll(sanitized, "../", "")
	sanitized = strings.ReplaceAll(sanitized, `..\`, "")
	sanitized = strings.ReplaceAll(sanitized, "/", "")
	sanitized = strings.ReplaceAll(sanitized, `\`, "")
	return truncateRunes(sanitized, 512)
}

// URL strictly sanitizes s and truncates to at most 1024 code units (runes).
func URL(s string) string {
	if s == "" {
		return ""
	}
	sanitized := strings.TrimSpace(String(s, Options{Strict: true, PreserveWhitespace: false}))
	return truncateRunes(sanitized, 1024)
}

// Command sanitizes s with the non-strict, whitespace-preserving policy so
// that command-line formatting (tabs, newlines) survives.
func Command(s string) string {
	if s == "" {
		return ""
	}
	return String(s, Options{Strict: false, PreserveWhitespace: true})
}

// IsSafeForStore reports whether text contains no raw danger-set bytes and
// no \uXXXX escape sequence denoting a danger-set code point. Both checks
// are required: a value may have already been JSON-re-serialized, turning a
// raw control byte into its six-character escape form.
func IsSafeForStore(text string) bool {
	if controlCharPattern.MatchString(text) {
		return false
	}
	for _, match := range unicodeEscapePattern.FindAllStringSubmatch(text, -1) {
		codepoint, err := strconv.ParseInt(match[1], 16, 32)
		if err != nil {
			continue
		}
		if isDangerCodepoint(rune(codepoint)) {
			return false
		}
	}
	return true
}

func isDangerCodepoint(r rune) bool {
	switch {
	case r >= 0x00 && r <= 0x08:
		return true
	case r == 0x0B || r == 0x0C:
		return true
	case r >= 0x0E && r <= 0x1F:
		return true
	case r >= 0x7F && r <= 0x9F:
		return true
	default:
		return false
	}
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
