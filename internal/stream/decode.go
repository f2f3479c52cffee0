package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	"tankview/internal/model"
)

var ErrMalformedFrame = errors.New("malformed telemetry frame")

// DecodeRecord parses one frame. A frame must hold exactly one JSON object.
func DecodeRecord(data []byte) (model.TelemetryRecord, error) {
	var rec model.TelemetryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedFrame)
	}
	return rec, nil
}
