package parse

import (
	"encoding/json"
	"strings"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
)

// recoverRecords returns every complete top-level object in the records array
// of a truncated response. The array is located by the first of keys found as
// `"key": [`, falling back to the first '['. Scanning stops at the end of the
// array or at the first object cut off by the truncation.
func recoverRecords(content string, keys []string) []types.Record {
	start := arrayStart(content, keys)
	if start < 0 {
		return nil
	}

	var records []types.Record
	depth := 0
	objStart := -1
	inString := false
	escaped := false

	for i := start + 1; i < len(content); i++ {
		ch := content[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{', '[':
			if depth == 0 && ch == '{' {
				objStart = i
			}
			depth++
		case '}', ']':
			if depth == 0 {
				// End of the records array.
				return records
			}
			depth--
			if depth == 0 && ch == '}' && objStart >= 0 {
				var rec map[string]any
				if err := json.Unmarshal([]byte(content[objStart:i+1]), &rec); err == nil {
					records = append(records, types.Record(rec))
				}
				objStart = -1
			}
		}
	}
	return records
}

// arrayStart returns the index of the '[' opening the records array, or -1.
func arrayStart(content string, keys []string) int {
	for _, key := range keys {
		needle := `"` + key + `"`
		from := 0
		for {
			idx := strings.Index(content[from:], needle)
			if idx < 0 {
				break
			}
			pos := from + idx + len(needle)
			rest := strings.TrimLeft(content[pos:], " \t\r\n")
			if strings.HasPrefix(rest, ":") {
				rest = strings.TrimLeft(rest[1:], " \t\r\n")
				if strings.HasPrefix(rest, "[") {
					return len(content) - len(rest)
				}
			}
			from = pos
		}
	}
	return strings.Index(content, "[")
}
