package videoloft

import (
	"encoding/json"
	"strconv"
	"strings"
)

// The vendor encodes flags and ids inconsistently (0/1, "1", true, numbers
// or strings), so device and status payloads are read through these helpers.

func asString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func asBool(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "on":
			return true
		}
	}
	return false
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err == nil {
			return n
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err == nil {
			return int64(f)
		}
	case bool:
		if t {
			return 1
		}
	}
	return 0
}

func stringOr(v interface{}, fallback string) string {
	if s := asString(v); s != "" {
		return s
	}
	return fallback
}

// SplitUIDD splits a composite camera id into owner and device ids
func SplitUIDD(uidd string) (owner, device string, err error) {
	parts := strings.Split(uidd, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &DataIntegrityError{What: "malformed camera id " + strconv.Quote(uidd)}
	}
	return parts[0], parts[1], nil
}
