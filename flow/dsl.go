package flow

import (
	"fmt"

	"github.com/radionest/clarinet/common"
)

// TriggerKind is the event class a FlowRecord fires on.
type TriggerKind string

const (
	TriggerNone          TriggerKind = ""
	TriggerStatus        TriggerKind = "status"
	TriggerDataUpdate    TriggerKind = "data_update"
	TriggerEntityCreated TriggerKind = "entity_created"
)

// FlowCondition is one conditional block of a flow: a guard and the actions
// that fire when the guard is satisfied. IsElse blocks always fire once no
// earlier block in the same flow matched.
type FlowCondition struct {
	Condition BoolNode
	IsElse    bool
	Actions   []Action
}

// Evaluate reports whether this block's guard is satisfied.
func (fc *FlowCondition) Evaluate(ctx Context) bool {
	if fc.IsElse {
		return true
	}
	if fc.Condition == nil {
		return true
	}
	return fc.Condition.Evaluate(ctx)
}

// FlowRecord is the DSL builder for a single flow: the record type or
// entity kind it triggers on, the trigger itself, any unconditional actions,
// and an ordered list of conditional blocks.
type FlowRecord struct {
	Name         string
	Trigger      TriggerKind
	TriggerValue *string
	Actions      []Action
	Conditions   []*FlowCondition

	current *FlowCondition
}

// Record returns the named flow, creating and registering it on first use.
// Calling Record with the same name later in the process returns the same
// builder, so a flow's definition may be split across multiple call sites.
func Record(name string) *FlowRecord {
	flowRegistry.mu.Lock()
	defer flowRegistry.mu.Unlock()
	if fr, ok := flowRegistry.flows[name]; ok {
		return fr
	}
	fr := &FlowRecord{Name: name}
	flowRegistry.flows[name] = fr
	flowRegistry.order = append(flowRegistry.order, name)
	return fr
}

// Reserved flow names for the three entity-created triggers, distinct from
// any record-type name so they never collide with a record(name) flow.
const (
	EntitySeriesFlowName  = "__entity_series__"
	EntityStudyFlowName   = "__entity_study__"
	EntityPatientFlowName = "__entity_patient__"
)

// Series, Study, and Patient return the flow builder for the corresponding
// entity-created trigger, keyed by a reserved internal name distinct from
// any record type name.
func Series() *FlowRecord  { return Record(EntitySeriesFlowName).OnCreated() }
func Study() *FlowRecord   { return Record(EntityStudyFlowName).OnCreated() }
func Patient() *FlowRecord { return Record(EntityPatientFlowName).OnCreated() }

// EntityFlowName maps an entity kind ("series", "study", "patient") to its
// reserved flow name. The empty string is returned for an unrecognized
// kind.
func EntityFlowName(entityKind string) string {
	switch entityKind {
	case "series":
		return EntitySeriesFlowName
	case "study":
		return EntityStudyFlowName
	case "patient":
		return EntityPatientFlowName
	default:
		return ""
	}
}

// OnStatus arms the flow to fire when the record's status transitions to
// value. An empty value matches any status transition.
func (fr *FlowRecord) OnStatus(value string) *FlowRecord {
	fr.Trigger = TriggerStatus
	if value != "" {
		v := value
		fr.TriggerValue = &v
	}
	return fr
}

// OnDataUpdate arms the flow to fire whenever the record's data blob is
// updated.
func (fr *FlowRecord) OnDataUpdate() *FlowRecord {
	fr.Trigger = TriggerDataUpdate
	return fr
}

// OnCreated arms the flow to fire when a new entity of this kind appears.
func (fr *FlowRecord) OnCreated() *FlowRecord {
	fr.Trigger = TriggerEntityCreated
	return fr
}

// Data builds a FieldRef rooted at this flow's own record, read by path.
func (fr *FlowRecord) Data(path ...string) FieldRef {
	return FieldRef{RecordName: fr.Name, Path: path}
}

// If opens a new conditional block guarded by cond. Subsequent action
// builder calls attach to this block until the next If or Else.
func (fr *FlowRecord) If(cond BoolNode) *FlowRecord {
	fc := &FlowCondition{Condition: cond}
	fr.Conditions = append(fr.Conditions, fc)
	fr.current = fc
	return fr
}

// Or widens the currently open block's guard with an OR. Panics if called
// with no open block — a flow built this way is a programming error caught
// at registration time, not a request-time condition.
func (fr *FlowRecord) Or(cond BoolNode) *FlowRecord {
	fr.requireOpenBlock("or_")
	fr.current.Condition = Logic{Left: fr.current.Condition, Kind: LogicOr, Right: cond}
	return fr
}

// And narrows the currently open block's guard with an AND.
func (fr *FlowRecord) And(cond BoolNode) *FlowRecord {
	fr.requireOpenBlock("and_")
	fr.current.Condition = Logic{Left: fr.current.Condition, Kind: LogicAnd, Right: cond}
	return fr
}

// Else opens the fallback block that fires when no earlier block matched.
func (fr *FlowRecord) Else() *FlowRecord {
	fr.requireOpenBlock("else_")
	fc := &FlowCondition{IsElse: true}
	fr.Conditions = append(fr.Conditions, fc)
	fr.current = fc
	return fr
}

func (fr *FlowRecord) requireOpenBlock(call string) {
	if fr.current == nil {
		panic(fmt.Sprintf("flow: %s called on %q with no open conditional block", call, fr.Name))
	}
}

func (fr *FlowRecord) addAction(a Action) *FlowRecord {
	if fr.current != nil {
		fr.current.Actions = append(fr.current.Actions, a)
	} else {
		fr.Actions = append(fr.Actions, a)
	}
	return fr
}

// AddRecord attaches a CreateRecordAction to the currently open block, or to
// the flow's unconditional action list if no block is open.
func (fr *FlowRecord) AddRecord(recordTypeName string, overrides map[string]interface{}) *FlowRecord {
	return fr.addAction(Action{CreateRecord: &CreateRecordAction{RecordTypeName: recordTypeName, Overrides: overrides}})
}

// UpdateRecord attaches an UpdateRecordAction.
func (fr *FlowRecord) UpdateRecord(recordTypeName, status string) *FlowRecord {
	return fr.addAction(Action{UpdateRecord: &UpdateRecordAction{RecordTypeName: recordTypeName, Status: status}})
}

// InvalidateRecords attaches an InvalidateRecordsAction.
func (fr *FlowRecord) InvalidateRecords(recordTypeNames []string, mode InvalidateMode, callback InvalidateCallback) *FlowRecord {
	return fr.addAction(Action{InvalidateRecords: &InvalidateRecordsAction{
		RecordTypeNames: recordTypeNames,
		Mode:            mode,
		Callback:        callback,
	}})
}

// Call attaches a CallFunctionAction.
func (fr *FlowRecord) Call(fn CallFunc, args []interface{}, kwargs map[string]interface{}) *FlowRecord {
	return fr.addAction(Action{CallFunction: &CallFunctionAction{Func: fn, Args: args, Kwargs: kwargs}})
}

// Pipeline attaches a PipelineAction.
func (fr *FlowRecord) Pipeline(pipelineName string, extraPayload map[string]interface{}) *FlowRecord {
	return fr.addAction(Action{Pipeline: &PipelineAction{PipelineName: pipelineName, ExtraPayload: extraPayload}})
}

// Validate reports a ConfigError for any conditional block (other than an
// Else block, which is allowed to be a deliberate no-op terminator) that
// declares zero actions — a flow like that can never do anything and is
// almost certainly a typo in the DSL call chain.
func (fr *FlowRecord) Validate() error {
	for i, fc := range fr.Conditions {
		if !fc.IsElse && len(fc.Actions) == 0 {
			return &common.ConfigError{Reason: fmt.Sprintf("flow %q: conditional block %d has no actions", fr.Name, i)}
		}
	}
	return nil
}

// MatchedActions evaluates the flow's blocks in declaration order against
// ctx and returns the actions of the first block whose guard is satisfied,
// plus the flow's unconditional actions. An unconditional-only flow (no
// Conditions at all) always fires its Actions.
func (fr *FlowRecord) MatchedActions(ctx Context) []Action {
	out := append([]Action(nil), fr.Actions...)
	for _, fc := range fr.Conditions {
		if fc.Evaluate(ctx) {
			out = append(out, fc.Actions...)
			break
		}
	}
	return out
}
