package message

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/radionest/clarinet/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() record.Snapshot {
	return record.Snapshot{
		ID:        7,
		PatientID: "PAT1",
		StudyUID:  "U1",
		Data: map[string]interface{}{
			"modality": "CT",
			"nested":   map[string]interface{}{"fruit": "banana"},
		},
	}
}

func TestResolveKnownFields(t *testing.T) {
	r := sampleRecord()
	assert.Equal(t, "7", Resolve("{id}", r))
	assert.Equal(t, "PAT1", Resolve("{patient_id}", r))
	assert.Equal(t, "PAT1_U1.dcm", Resolve("{patient_id}_{study_uid}.dcm", r))
	assert.Equal(t, "CT", Resolve("{data.modality}", r))
	assert.Equal(t, "banana", Resolve("{data.nested.fruit}", r))
}

func TestResolveMissingFieldIsEmptyNotError(t *testing.T) {
	r := sampleRecord()
	assert.Equal(t, "", Resolve("{series_uid}", r))
	assert.Equal(t, "", Resolve("{data.missing}", r))
	assert.Equal(t, "file_.dcm", Resolve("file_{series_uid}.dcm", r))
}

func TestMatchIsResolveEquality(t *testing.T) {
	r := sampleRecord()
	pattern := "{patient_id}_{study_uid}.dcm"
	assert.True(t, Match("PAT1_U1.dcm", pattern, r))
	assert.False(t, Match("wrong.dcm", pattern, r))
}

func TestResolveThenMatchAlwaysMatches(t *testing.T) {
	r := sampleRecord()
	for _, pattern := range []string{"{id}", "{patient_id}_{study_uid}.dcm", "{data.missing}-{id}"} {
		resolved := Resolve(pattern, r)
		assert.True(t, Match(resolved, pattern, r), "pattern=%s", pattern)
	}
}

func TestFindLocatesExistingFile(t *testing.T) {
	dir := t.TempDir()
	r := sampleRecord()
	name := Resolve("{patient_id}_{study_uid}.dcm", r)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))

	found, ok := Find(dir, "{patient_id}_{study_uid}.dcm", r)
	assert.True(t, ok)
	assert.Equal(t, name, found)
}

func TestFindMissingFile(t *testing.T) {
	dir := t.TempDir()
	r := sampleRecord()
	_, ok := Find(dir, "{patient_id}_missing.dcm", r)
	assert.False(t, ok)
}

func TestFindMissingDirectory(t *testing.T) {
	r := sampleRecord()
	_, ok := Find(filepath.Join(t.TempDir(), "does-not-exist"), "{id}", r)
	assert.False(t, ok)
}
