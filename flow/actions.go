package flow

import (
	"context"

	"github.com/radionest/clarinet/record"
)

// InvalidateMode selects how InvalidateRecordsAction marks matched records.
type InvalidateMode string

const (
	InvalidateHard InvalidateMode = "hard"
	InvalidateSoft InvalidateMode = "soft"
)

// CreateRecordAction creates a new record of RecordTypeName. Overrides are
// merged onto the engine's default field set (patient/study/series ids
// inherited from the triggering record) before creation.
type CreateRecordAction struct {
	RecordTypeName string
	Overrides      map[string]interface{}
}

// UpdateRecordAction transitions an existing sibling record to Status.
type UpdateRecordAction struct {
	RecordTypeName string
	Status         string
}

// InvalidateCallback decides, for each candidate record matched by
// RecordTypeNames, whether it should be invalidated. client is the engine's
// API client, passed as interface{} to avoid a DSL -> engine import cycle;
// callbacks that need it type-assert to the concrete client interface the
// engine documents.
type InvalidateCallback func(target, source record.Snapshot, client interface{}) bool

// InvalidateRecordsAction marks sibling records of the named types as stale.
// Callback, if set, narrows which matched records are actually invalidated;
// nil means invalidate every match.
type InvalidateRecordsAction struct {
	RecordTypeNames []string
	Mode            InvalidateMode
	Callback        InvalidateCallback
}

// CallContext is passed to a CallFunctionAction's Func.
type CallContext struct {
	Record  record.Snapshot
	Context Context
	Client  interface{}
	Args    []interface{}
	Kwargs  map[string]interface{}
}

// CallFunc is arbitrary user code run as a flow action.
type CallFunc func(ctx context.Context, call CallContext) error

// CallFunctionAction invokes Func with the triggering record, the full
// evaluation context, and the action's bound arguments.
type CallFunctionAction struct {
	Func   CallFunc
	Args   []interface{}
	Kwargs map[string]interface{}
}

// PipelineAction starts a registered pipeline. ExtraPayload becomes the
// outgoing message's payload; no extra labels are added to the dispatch.
type PipelineAction struct {
	PipelineName string
	ExtraPayload map[string]interface{}
}

// Action is a discriminated union: exactly one field is non-nil. The engine
// dispatches on which field is set.
type Action struct {
	CreateRecord      *CreateRecordAction
	UpdateRecord      *UpdateRecordAction
	InvalidateRecords *InvalidateRecordsAction
	CallFunction      *CallFunctionAction
	Pipeline          *PipelineAction
}
