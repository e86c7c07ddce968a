package engine

import (
	"context"

	"github.com/radionest/clarinet/common"
	"github.com/radionest/clarinet/flow"
	"github.com/radionest/clarinet/record"
)

// collectNames walks every condition in fr and returns the distinct record
// names its comparisons reference, so the engine knows which sibling
// records it must fetch before a flow can be evaluated.
func collectNames(fr *flow.FlowRecord) []string {
	seen := map[string]struct{}{}
	for _, fc := range fr.Conditions {
		walkBool(fc.Condition, seen)
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	return names
}

func walkBool(n flow.BoolNode, seen map[string]struct{}) {
	switch v := n.(type) {
	case nil:
	case flow.Compare:
		walkValue(v.Left, seen)
		walkValue(v.Right, seen)
	case flow.Logic:
		walkBool(v.Left, seen)
		walkBool(v.Right, seen)
	}
}

func walkValue(n flow.ValueNode, seen map[string]struct{}) {
	switch v := n.(type) {
	case nil:
	case flow.FieldRef:
		seen[v.RecordName] = struct{}{}
	case flow.ConstRef:
	}
}

// assembleContext builds the flow.Context a single evaluation of fr runs
// against: the triggering record under its own flow name, plus the most
// recently updated record of every other record type the flow's conditions
// reference, scoped to the triggering record's study. A referenced record
// type with no match in the study is simply absent from the context, which
// makes any condition naming it evaluate to false (section 4.5) rather than
// aborting the flow.
func (e *Engine) assembleContext(ctx context.Context, fr *flow.FlowRecord, triggering record.Snapshot) flow.Context {
	out := flow.Context{fr.Name: triggering}

	for _, name := range collectNames(fr) {
		if name == fr.Name {
			continue
		}
		snaps, err := e.client.FindRecords(ctx, triggering.StudyUID, name)
		if err != nil {
			e.log.WithError(err).WithField("record_name", name).Debug("clarinet: context lookup failed")
			continue
		}
		latest, ok := mostRecent(snaps)
		if !ok {
			e.log.WithError(&common.ContextError{RecordName: name}).Debug("clarinet: context record missing")
			continue
		}
		out[name] = latest
	}
	return out
}

func mostRecent(snaps []record.Snapshot) (record.Snapshot, bool) {
	var best record.Snapshot
	found := false
	for _, s := range snaps {
		if !found || s.UpdatedAt.After(best.UpdatedAt) {
			best = s
			found = true
		}
	}
	return best, found
}
