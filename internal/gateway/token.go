package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
)

// SignToken computes the request signature the gateway verifies on
// every call: take the body's top-level scalar fields (nested objects,
// arrays and nulls are dropped, as is any existing Token), add the
// synthetic Password pair, sort the pairs by key byte-wise, concatenate
// the values with no separator and hash with SHA-256.
//
// Numbers must arrive as json.Number so they render exactly as they
// appear on the wire.
func SignToken(body map[string]interface{}, password string) string {
	pairs := make(map[string]string, len(body)+1)
	for k, v := range body {
		if k == "Token" {
			continue
		}
		s, ok := scalarString(v)
		if !ok {
			continue
		}
		pairs[k] = s
	}
	pairs["Password"] = password

	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	concat := ""
	for _, k := range keys {
		concat += pairs[k]
	}

	sum := sha256.Sum256([]byte(concat))
	return hex.EncodeToString(sum[:])
}

func scalarString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		// Only hit when the caller built the map by hand; round-trip
		// through json.Number keeps integers exact.
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	default:
		return "", false
	}
}
