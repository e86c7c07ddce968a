// Package record defines the record snapshot type consumed (not owned) by
// the pipeline and flow components: an immutable view of a domain record as
// fetched through the API-client contract.
package record

import "time"

// Snapshot is an immutable value for the duration of a single pipeline step
// or flow evaluation. It is never mutated by the core; a fresh fetch is
// required to observe any change.
type Snapshot struct {
	ID             int64                  `json:"id"`
	Status         string                 `json:"status"`
	RecordTypeName string                 `json:"record_type_name"`
	PatientID      string                 `json:"patient_id"`
	StudyUID       string                 `json:"study_uid"`
	SeriesUID      *string                `json:"series_uid,omitempty"`
	Data           map[string]interface{} `json:"data"`
	ContextInfo    *string                `json:"context_info,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// Field resolves a dot-separated path against the snapshot. An empty path
// returns the whole Data map. Path resolution is total: an intermediate map
// is traversed by key, and a missing key, a nil value, or a non-map
// intermediate value yields (nil, false) rather than a panic or error.
// Recognized top-level segments are id, patient_id, study_uid, series_uid,
// status, record_type_name (or record_type), context_info, and data (which
// descends into Data by the remaining segments); any other first segment
// is looked up as a key path inside Data.
func (s Snapshot) Field(path []string) (interface{}, bool) {
	if len(path) == 0 {
		return s.Data, true
	}

	head, rest := path[0], path[1:]

	var root interface{}
	switch head {
	case "id":
		root = s.ID
	case "patient_id":
		root = s.PatientID
	case "study_uid":
		root = s.StudyUID
	case "series_uid":
		if s.SeriesUID == nil {
			return nil, false
		}
		root = *s.SeriesUID
	case "status":
		root = s.Status
	case "record_type_name", "record_type":
		root = s.RecordTypeName
	case "context_info":
		if s.ContextInfo == nil {
			return nil, false
		}
		root = *s.ContextInfo
	case "data":
		root = s.Data
	default:
		// unknown top-level field: fall back to looking it up in data,
		// matching the original's "attribute or dict key" duality.
		return walk(s.Data, path)
	}

	return walk(root, rest)
}

// walk descends through nested maps by key. Any non-map intermediate value
// with remaining path segments, or a missing key, terminates the walk with
// (nil, false).
func walk(v interface{}, path []string) (interface{}, bool) {
	if len(path) == 0 {
		return v, v != nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, false
	}
	next, present := m[path[0]]
	if !present {
		return nil, false
	}
	return walk(next, path[1:])
}
