package sanitize

import (
	"regexp"
	"strings"
)

var trailingCommaBeforeBrace = regexp.MustCompile(`,\s*}`)
var trailingCommaBeforeBracket = regexp.MustCompile(`,\s*]`)
var unescapedQuotePattern = regexp.MustCompile(`("[\w]+"\s*:\s*")([^"]*")([^"]*")([^"]*")`)

// RepairJSON applies the JSON-repair heuristics in sequence: escape
// unescaped quotes, strip trailing commas, close unclosed strings, balance
// braces/brackets. Each step is individually idempotent and the whole
// sequence is applied best-effort; it does not guarantee the result parses.
func RepairJSON(content string) string {
	content = fixUnescapedQuotes(content)
	content = fixTrailingCommas(content)
	content = fixUnclosedStrings(content)
	content = fixUnclosedBraces(content)
	return content
}

// fixUnescapedQuotes targets the common DLQ shape `"key": "value"with"quote"`
// by escaping the interior quotes it can identify with a regex pass, then
// falls back to a line-by-line heuristic for anything the regex misses.
func fixUnescapedQuotes(content string) string {
	content = unescapedQuotePattern.ReplaceAllStringFunc(content, func(m string) string {
		groups := unescapedQuotePattern.FindStringSubmatch(m)
		if len(groups) != 5 {
			return m
		}
		keyPart := groups[1]
		valueStart := groups[2]
		middlePart := groups[3]
		valueEnd := groups[4]

		fixedValue := valueStart[:len(valueStart)-1] + `\"` + middlePart[1:len(middlePart)-1] + `\"` + valueEnd[1:]
		return keyPart + fixedValue
	})

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		quoteCount := strings.Count(line, `"`)
		if quoteCount%2 != 1 || !strings.Contains(line, ":") {
			continue
		}
		if !strings.Contains(line, `: "`) || strings.Count(line, `"`) < 4 {
			continue
		}
		colonPos := strings.Index(line, `: "`)
		if colonPos == -1 {
			continue
		}
		keyPart := line[:colonPos+3]
		valuePart := line[colonPos+3:]
		if strings.HasSuffix(valuePart, `"`) {
			valuePart = valuePart[:len(valuePart)-1]
			valuePart = strings.ReplaceAll(valuePart, `"`, `\"`)
			lines[i] = keyPart + valuePart + `"`
		} else {
			valuePart = strings.ReplaceAll(valuePart, `"`, `\"`)
			lines[i] = keyPart + valuePart
		}
	}
	return strings.Join(lines, "\n")
}

// fixTrailingCommas removes a trailing comma immediately before a closing
// brace or bracket, e.g. `{"a":1,}` -> `{"a":1}`.
func fixTrailingCommas(content string) string {
	content = trailingCommaBeforeBrace.ReplaceAllString(content, "}")
	content = trailingCommaBeforeBracket.ReplaceAllString(content, "]")
	return content
}

// fixUnclosedStrings appends a closing quote when the content has an odd
// number of single or double quotes.
func fixUnclosedStrings(content string) string {
	if strings.Count(content, "'")%2 == 1 {
		content += "'"
	}
	if strings.Count(content, `"`)%2 == 1 {
		content += `"`
	}
	return content
}

// fixUnclosedBraces appends missing closing braces/brackets in open order
// until the open/close counts balance.
func fixUnclosedBraces(content string) string {
	openBraces := strings.Count(content, "{")
	closeBraces := strings.Count(content, "}")
	openBrackets := strings.Count(content, "[")
	closeBrackets := strings.Count(content, "]")

	for openBraces > closeBraces {
		content += "}"
		closeBraces++
	}
	for openBrackets > closeBrackets {
		content += "]"
		closeBrackets++
	}
	return content
}
