// Package engine implements the RecordFlow engine (C6): it turns domain
// events into flow evaluation and action execution against the consumed
// API-client contract.
package engine

import (
	"context"

	"github.com/radionest/clarinet/record"
)

// CreateRecordRequest is the payload an add_record action builds from the
// triggering record's identifiers plus its overrides.
type CreateRecordRequest struct {
	RecordTypeName string                 `json:"record_type_name"`
	PatientID      string                 `json:"patient_id"`
	StudyUID       string                 `json:"study_uid"`
	SeriesUID      *string                `json:"series_uid,omitempty"`
	Data           map[string]interface{} `json:"data,omitempty"`
}

// APIClient is the contract the engine consumes to read and mutate records
// (section 6.2). Every method may fail transiently. The engine does not
// retry a failed call itself: it records the failure on a per-action basis
// without aborting sibling actions, and any retry happens inside the client
// implementation (apiclient.Client retries 5xx and transport failures up to
// Config.MaxRetries times).
type APIClient interface {
	GetRecord(ctx context.Context, id int64) (record.Snapshot, error)
	FindRecords(ctx context.Context, studyUID, recordTypeName string) ([]record.Snapshot, error)
	CreateRecord(ctx context.Context, req CreateRecordRequest) (record.Snapshot, error)
	UpdateRecordStatus(ctx context.Context, id int64, status string) (record.Snapshot, error)
	UpdateRecordData(ctx context.Context, id int64, data map[string]interface{}) (record.Snapshot, error)
	AppendContextInfo(ctx context.Context, id int64, text string) error
}
