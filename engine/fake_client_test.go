package engine

import (
	"context"
	"sync"

	"github.com/radionest/clarinet/record"
)

// fakeClient is an in-memory APIClient double: records are kept in a slice,
// "found" by study_uid and record_type_name the way the real API does.
type fakeClient struct {
	mu       sync.Mutex
	nextID   int64
	records  []record.Snapshot
	created  []CreateRecordRequest
	statuses map[int64]string
	notes    map[int64][]string
}

func newFakeClient() *fakeClient {
	return &fakeClient{statuses: map[int64]string{}, notes: map[int64][]string{}}
}

func (f *fakeClient) seed(s record.Snapshot) record.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	s.ID = f.nextID
	f.records = append(f.records, s)
	return s
}

func (f *fakeClient) GetRecord(ctx context.Context, id int64) (record.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.records {
		if s.ID == id {
			return s, nil
		}
	}
	return record.Snapshot{}, errNotFound{id}
}

type errNotFound struct{ id int64 }

func (e errNotFound) Error() string { return "record not found" }

func (f *fakeClient) FindRecords(ctx context.Context, studyUID, recordTypeName string) ([]record.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []record.Snapshot
	for _, s := range f.records {
		if s.StudyUID == studyUID && s.RecordTypeName == recordTypeName {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeClient) CreateRecord(ctx context.Context, req CreateRecordRequest) (record.Snapshot, error) {
	f.mu.Lock()
	f.created = append(f.created, req)
	f.mu.Unlock()
	return f.seed(record.Snapshot{
		RecordTypeName: req.RecordTypeName,
		PatientID:      req.PatientID,
		StudyUID:       req.StudyUID,
		SeriesUID:      req.SeriesUID,
		Data:           req.Data,
		Status:         "pending",
	}), nil
}

func (f *fakeClient) UpdateRecordStatus(ctx context.Context, id int64, status string) (record.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
	for i, s := range f.records {
		if s.ID == id {
			f.records[i].Status = status
			return f.records[i], nil
		}
	}
	return record.Snapshot{}, errNotFound{id}
}

func (f *fakeClient) UpdateRecordData(ctx context.Context, id int64, data map[string]interface{}) (record.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.records {
		if s.ID == id {
			f.records[i].Data = data
			return f.records[i], nil
		}
	}
	return record.Snapshot{}, errNotFound{id}
}

func (f *fakeClient) AppendContextInfo(ctx context.Context, id int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes[id] = append(f.notes[id], text)
	return nil
}
