package parsers

import (
	"bufio"
	"encoding/json"
	"regexp"
	"strings"
)

// FalcoRecord is one alert in the shape Falco's JSON output uses:
// "time", "priority", "rule", "output" and an "output_fields" map.
// Text alerts are mapped onto the same keys.
type FalcoRecord map[string]interface{}

var falcoTextRe = regexp.MustCompile(`^(\S+):\s+([A-Za-z]+)\s+(.*?)\s*\(([^()]*)\)\s*$`)

// falcoDetailKeys promotes well-known key=value pairs of a text alert.
var falcoDetailKeys = map[string]string{
	"user":         "user.name",
	"user_uid":     "user.uid",
	"process":      "proc.name",
	"proc_exepath": "proc.exepath",
	"parent":       "proc.pname",
	"command":      "proc.cmdline",
	"container_id": "container.id",
	"image":        "container.image.repository",
	"file":         "fd.name",
	"terminal":     "proc.tty",
}

// ParseFalcoOutput sniffs whether the payload is JSON (leading `{`) or
// free text. A JSON document carrying an "events" array is returned
// verbatim; otherwise every JSON line is one alert.
func ParseFalcoOutput(out string) []FalcoRecord {
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return nil
	}
	if strings.HasPrefix(trimmed, "{") {
		return parseFalcoJSON(trimmed)
	}
	var records []FalcoRecord
	sc := bufio.NewScanner(strings.NewReader(trimmed))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if rec, ok := ParseFalcoTextLine(sc.Text()); ok {
			records = append(records, rec)
		}
	}
	return records
}

// ParseFalcoLine parses one streamed line in either format.
func ParseFalcoLine(line string) (FalcoRecord, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, false
	}
	if strings.HasPrefix(line, "{") {
		var rec FalcoRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, false
		}
		if _, wrapped := rec["events"]; wrapped {
			return nil, false
		}
		return rec, true
	}
	return ParseFalcoTextLine(line)
}

// ParseFalcoTextLine matches `<time>: <Priority> <description> (<k=v ...>)`.
func ParseFalcoTextLine(line string) (FalcoRecord, bool) {
	m := falcoTextRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return nil, false
	}
	fields := map[string]interface{}{}
	for k, v := range splitKeyValues(m[4]) {
		if mapped, ok := falcoDetailKeys[k]; ok {
			fields[mapped] = v
			continue
		}
		fields[k] = v
	}
	return FalcoRecord{
		"time":          m[1],
		"priority":      m[2],
		"output":        strings.TrimSpace(m[3]),
		"output_fields": fields,
	}, true
}

func parseFalcoJSON(payload string) []FalcoRecord {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &doc); err == nil {
		if events, ok := doc["events"].([]interface{}); ok {
			records := make([]FalcoRecord, 0, len(events))
			for _, e := range events {
				if m, ok := e.(map[string]interface{}); ok {
					records = append(records, FalcoRecord(m))
				}
			}
			return records
		}
		return []FalcoRecord{FalcoRecord(doc)}
	}
	// JSON lines, one alert per line.
	var records []FalcoRecord
	for _, line := range strings.Split(payload, "\n") {
		if rec, ok := ParseFalcoLine(line); ok {
			records = append(records, rec)
		}
	}
	return records
}

// splitKeyValues splits `a=1 b=two words c=3` on spaces and '='. Tokens
// without '=' belong to the previous value.
func splitKeyValues(blob string) map[string]string {
	out := map[string]string{}
	last := ""
	for _, tok := range strings.Fields(blob) {
		k, v, ok := strings.Cut(tok, "=")
		if !ok || k == "" {
			if last != "" {
				out[last] += " " + tok
			}
			continue
		}
		out[k] = v
		last = k
	}
	return out
}

// String returns a string field of the record, or "".
func (r FalcoRecord) String(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// Fields returns the output_fields map as strings.
func (r FalcoRecord) Fields() map[string]string {
	out := map[string]string{}
	raw, ok := r["output_fields"].(map[string]interface{})
	if !ok {
		return out
	}
	for k, v := range raw {
		switch t := v.(type) {
		case string:
			out[k] = t
		case nil:
		default:
			b, err := json.Marshal(t)
			if err == nil {
				out[k] = string(b)
			}
		}
	}
	return out
}
