package data

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Drivers can hand JSONB columns back as []byte, string, already-decoded
// values, or nil depending on the query path. The helpers here coerce any of
// those into the requested shape; corrupt or unexpected content is logged and
// replaced with the zero value so one bad row never poisons a read.

// decodeJSONB unmarshals a JSONB column value into out. Returns false when
// the value was absent or unusable; out is left untouched in that case.
func decodeJSONB(logger *slog.Logger, column string, value any, out any) bool {
	if value == nil {
		return false
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	case json.RawMessage:
		raw = v
	default:
		// Already-decoded map/slice from the driver; round-trip it.
		reencoded, err := json.Marshal(v)
		if err != nil {
			logger.Warn("unexpected JSONB column type, using default",
				"column", column, "type", fmt.Sprintf("%T", value))
			return false
		}
		raw = reencoded
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		logger.Warn("corrupt JSONB column, using default",
			"column", column, "error", err)
		return false
	}
	return true
}

// encodeJSONB produces the canonical bytes written to a JSONB column.
// encoding/json sorts map keys, which keeps hashed payloads stable.
func encodeJSONB(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode jsonb: %w", err)
	}
	return raw, nil
}
