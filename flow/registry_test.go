package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeriesStudyPatientAreDistinctEntityFlows(t *testing.T) {
	s := Series()
	st := Study()
	p := Patient()

	assert.Equal(t, TriggerEntityCreated, s.Trigger)
	assert.Equal(t, TriggerEntityCreated, st.Trigger)
	assert.Equal(t, TriggerEntityCreated, p.Trigger)
	assert.NotEqual(t, s.Name, st.Name)
	assert.NotEqual(t, st.Name, p.Name)
}

func TestGetFindsRegisteredFlow(t *testing.T) {
	name := t.Name() + "-flow"
	Record(name).OnDataUpdate()

	fr, ok := Get(name)
	require.True(t, ok)
	assert.Equal(t, name, fr.Name)

	_, ok = Get(name + "-missing")
	assert.False(t, ok)
}

func TestAllIncludesRegisteredFlow(t *testing.T) {
	name := t.Name() + "-flow"
	Record(name).OnDataUpdate()

	var found bool
	for _, fr := range All() {
		if fr.Name == name {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateAllCatchesBadFlow(t *testing.T) {
	name := t.Name() + "-bad"
	fr := Record(name)
	fr.OnDataUpdate().If(Eq(fr.Data("x"), 1))

	err := ValidateAll()
	assert.Error(t, err)
}
