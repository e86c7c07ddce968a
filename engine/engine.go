package engine

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/radionest/clarinet/common"
	"github.com/radionest/clarinet/flow"
	"github.com/radionest/clarinet/message"
	"github.com/radionest/clarinet/pipeline"
	"github.com/radionest/clarinet/record"
)

// Engine is C6, the record-flow engine: it turns domain events (a status
// transition, a data update, a new series/study/patient) into flow
// evaluation and the dispatch of every matched action.
type Engine struct {
	client APIClient
	log    *logrus.Entry
}

// New builds an Engine against client. log may be nil, in which case the
// standard logger is used.
func New(client APIClient, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{client: client, log: log}
}

// HandleRecordStatusChange runs every flow registered for rec's record type
// whose trigger is a status transition matching rec's new status, or an
// unarmed (any-transition) status trigger.
func (e *Engine) HandleRecordStatusChange(ctx context.Context, rec record.Snapshot, oldStatus *string) {
	fr, ok := flow.Get(rec.RecordTypeName)
	if !ok || fr.Trigger != flow.TriggerStatus {
		return
	}
	if fr.TriggerValue != nil && *fr.TriggerValue != rec.Status {
		return
	}
	e.runFlow(ctx, fr, rec)
}

// HandleRecordDataUpdate runs the data-update flow registered for rec's
// record type, if any.
func (e *Engine) HandleRecordDataUpdate(ctx context.Context, rec record.Snapshot) {
	fr, ok := flow.Get(rec.RecordTypeName)
	if !ok || fr.Trigger != flow.TriggerDataUpdate {
		return
	}
	e.runFlow(ctx, fr, rec)
}

// HandleEntityCreated runs the reserved entity-created flow for entityKind
// ("series", "study", or "patient"), synthesizing a minimal triggering
// snapshot from the entity's identifiers since a freshly created entity has
// no record of its own.
func (e *Engine) HandleEntityCreated(ctx context.Context, entityKind, patientID, studyUID string, seriesUID *string) {
	name := flow.EntityFlowName(entityKind)
	if name == "" {
		e.log.WithField("entity_kind", entityKind).Warn("clarinet: unknown entity kind")
		return
	}
	fr, ok := flow.Get(name)
	if !ok || fr.Trigger != flow.TriggerEntityCreated {
		return
	}
	triggering := record.Snapshot{
		RecordTypeName: name,
		PatientID:      patientID,
		StudyUID:       studyUID,
		SeriesUID:      seriesUID,
	}
	e.runFlow(ctx, fr, triggering)
}

// runFlow validates fr, assembles its evaluation context, and dispatches
// every matched action. A validation failure or an individual action
// failure is logged and does not abort sibling flows or sibling actions
// (section 7's per-action failure isolation).
func (e *Engine) runFlow(ctx context.Context, fr *flow.FlowRecord, triggering record.Snapshot) {
	if err := fr.Validate(); err != nil {
		e.log.WithError(err).WithField("flow", fr.Name).Error("clarinet: flow validation failed")
		return
	}

	ctxMap := e.assembleContext(ctx, fr, triggering)
	actions := fr.MatchedActions(ctxMap)

	for _, a := range actions {
		if err := e.dispatch(ctx, a, triggering, ctxMap); err != nil {
			actionErr := &common.ActionError{ActionKind: actionKind(a), Err: err}
			e.log.WithError(actionErr).WithField("flow", fr.Name).Error("clarinet: action failed")
		}
	}
}

func actionKind(a flow.Action) string {
	switch {
	case a.CreateRecord != nil:
		return "create_record"
	case a.UpdateRecord != nil:
		return "update_record"
	case a.InvalidateRecords != nil:
		return "invalidate_records"
	case a.CallFunction != nil:
		return "call_function"
	case a.Pipeline != nil:
		return "pipeline"
	default:
		return "unknown"
	}
}

// dispatch routes a to its concrete handler. Exactly one field of a is
// non-nil by construction (section 4.4's discriminated union).
func (e *Engine) dispatch(ctx context.Context, a flow.Action, triggering record.Snapshot, ctxMap flow.Context) error {
	switch {
	case a.CreateRecord != nil:
		return e.doCreateRecord(ctx, a.CreateRecord, triggering)
	case a.UpdateRecord != nil:
		return e.doUpdateRecord(ctx, a.UpdateRecord, triggering, ctxMap)
	case a.InvalidateRecords != nil:
		return e.doInvalidateRecords(ctx, a.InvalidateRecords, triggering)
	case a.CallFunction != nil:
		return e.doCallFunction(ctx, a.CallFunction, triggering, ctxMap)
	case a.Pipeline != nil:
		return e.doPipeline(ctx, a.Pipeline, triggering)
	default:
		return fmt.Errorf("action has no set field")
	}
}

func (e *Engine) doCreateRecord(ctx context.Context, a *flow.CreateRecordAction, triggering record.Snapshot) error {
	data := make(map[string]interface{}, len(a.Overrides))
	for k, v := range a.Overrides {
		data[k] = v
	}
	req := CreateRecordRequest{
		RecordTypeName: a.RecordTypeName,
		PatientID:      triggering.PatientID,
		StudyUID:       triggering.StudyUID,
		SeriesUID:      triggering.SeriesUID,
		Data:           data,
	}
	_, err := e.client.CreateRecord(ctx, req)
	return err
}

func (e *Engine) doUpdateRecord(ctx context.Context, a *flow.UpdateRecordAction, triggering record.Snapshot, ctxMap flow.Context) error {
	target, ok := ctxMap[a.RecordTypeName]
	if !ok {
		snaps, err := e.client.FindRecords(ctx, triggering.StudyUID, a.RecordTypeName)
		if err != nil {
			return err
		}
		target, ok = mostRecent(snaps)
		if !ok {
			return &common.ContextError{RecordName: a.RecordTypeName}
		}
	}
	_, err := e.client.UpdateRecordStatus(ctx, target.ID, a.Status)
	return err
}

func (e *Engine) doInvalidateRecords(ctx context.Context, a *flow.InvalidateRecordsAction, triggering record.Snapshot) error {
	for _, typeName := range a.RecordTypeNames {
		snaps, err := e.client.FindRecords(ctx, triggering.StudyUID, typeName)
		if err != nil {
			return err
		}
		for _, target := range snaps {
			if target.ID == triggering.ID {
				continue
			}
			if a.Callback != nil && !a.Callback(target, triggering, e.client) {
				continue
			}
			note := fmt.Sprintf("Invalidated by record %d", triggering.ID)
			if err := e.client.AppendContextInfo(ctx, target.ID, note); err != nil {
				return err
			}
			if a.Mode == flow.InvalidateHard {
				if _, err := e.client.UpdateRecordStatus(ctx, target.ID, "pending"); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (e *Engine) doCallFunction(ctx context.Context, a *flow.CallFunctionAction, triggering record.Snapshot, ctxMap flow.Context) error {
	return a.Func(ctx, flow.CallContext{
		Record:  triggering,
		Context: ctxMap,
		Client:  e.client,
		Args:    a.Args,
		Kwargs:  a.Kwargs,
	})
}

func (e *Engine) doPipeline(ctx context.Context, a *flow.PipelineAction, triggering record.Snapshot) error {
	p, ok := pipeline.Get(a.PipelineName)
	if !ok {
		return &common.ConfigError{Reason: fmt.Sprintf("pipeline %q is not registered", a.PipelineName)}
	}
	msg := message.PipelineMessage{
		PatientID:      triggering.PatientID,
		StudyUID:       triggering.StudyUID,
		SeriesUID:      triggering.SeriesUID,
		RecordID:       &triggering.ID,
		RecordTypeName: &triggering.RecordTypeName,
		Payload:        a.ExtraPayload,
	}
	return p.Run(ctx, msg, nil)
}
