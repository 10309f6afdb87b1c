// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package share

import (
	"encoding/json"
	"time"
)

// ImportStatusTimeFormat is the wire format of import status timestamps.
const ImportStatusTimeFormat = "2006-01-02 15:04:05"

// ParseImportStatus validates the wire form of an import status strictly.
// The body must contain exactly the keys success, notes, utc_datetime and
// object_id; object_id must be a positive integer when success is true and
// null when success is false. Any violation returns nil, false.
func ParseImportStatus(data []byte) (*ImportStatus, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, false
	}
	if len(fields) != 4 {
		return nil, false
	}
	for _, key := range []string{"success", "notes", "utc_datetime", "object_id"} {
		if _, ok := fields[key]; !ok {
			return nil, false
		}
	}

	var status ImportStatus
	if err := json.Unmarshal(fields["success"], &status.Success); err != nil {
		return nil, false
	}
	if err := json.Unmarshal(fields["notes"], &status.Notes); err != nil || status.Notes == nil {
		return nil, false
	}
	var datetime string
	if err := json.Unmarshal(fields["utc_datetime"], &datetime); err != nil {
		return nil, false
	}
	parsed, err := time.Parse(ImportStatusTimeFormat, datetime)
	if err != nil {
		return nil, false
	}
	status.UTCDatetime = parsed
	if err := json.Unmarshal(fields["object_id"], &status.ObjectID); err != nil {
		return nil, false
	}

	if status.Success {
		if status.ObjectID == nil || *status.ObjectID <= 0 {
			return nil, false
		}
	} else if status.ObjectID != nil {
		return nil, false
	}
	return &status, true
}

// MarshalImportStatus produces the wire form of an import status.
func MarshalImportStatus(status ImportStatus) ([]byte, error) {
	notes := status.Notes
	if notes == nil {
		notes = []string{}
	}
	return json.Marshal(map[string]interface{}{
		"success":      status.Success,
		"notes":        notes,
		"utc_datetime": status.UTCDatetime.UTC().Format(ImportStatusTimeFormat),
		"object_id":    status.ObjectID,
	})
}
