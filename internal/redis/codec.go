package redis

import (
	"encoding/base64"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"bidding/internal/models"
)

const eventField = "data"

// EncodeEvent packs an event into stream entry values: msgpack, base64 encoded,
// under a single "data" field.
func EncodeEvent(event models.ResolutionEvent) (map[string]any, error) {
	bytes, err := msgpack.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("msgpack marshal error: %w", err)
	}

	return map[string]any{
		eventField: base64.StdEncoding.EncodeToString(bytes),
	}, nil
}

// DecodeEvent reverses EncodeEvent for stream consumers.
func DecodeEvent(values map[string]any) (models.ResolutionEvent, error) {
	var event models.ResolutionEvent

	data, ok := values[eventField].(string)
	if !ok {
		return event, fmt.Errorf("%s field not found or invalid type", eventField)
	}

	bytes, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return event, fmt.Errorf("base64 decode error: %w", err)
	}

	if err = msgpack.Unmarshal(bytes, &event); err != nil {
		return event, fmt.Errorf("msgpack unmarshal error: %w", err)
	}
	return event, nil
}
