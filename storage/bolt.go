// Package storage adapts go.etcd.io/bbolt and redis/go-redis into the two
// storage contracts the core consumes: durable pipeline definitions
// (section 6.3) and an idempotence cache the worker uses to dedupe
// at-least-once redelivery of pipeline steps (section 9, "Idempotence over
// exactly-once").
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/radionest/clarinet/pipeline"
)

var pipelinesBucket = []byte("pipelines")

// pipelineRow is the on-disk shape of a PipelineDefinition: steps stored as
// an opaque sequence of string maps, per section 3.
type pipelineRow struct {
	Name  string              `json:"name"`
	Steps []map[string]string `json:"steps"`
}

// BoltStorage persists pipeline definitions to a local bbolt file. It
// implements pipeline.Storage.
type BoltStorage struct {
	db *bolt.DB
}

// OpenBoltStorage opens or creates a bbolt database at path and ensures the
// pipelines bucket exists.
func OpenBoltStorage(path string) (*BoltStorage, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(pipelinesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create pipelines bucket: %w", err)
	}
	return &BoltStorage{db: db}, nil
}

// Upsert atomically writes the step list for a pipeline name, overwriting
// any prior definition. Implements pipeline.Storage.
func (s *BoltStorage) Upsert(name string, steps []pipeline.Step) error {
	row := pipelineRow{Name: name, Steps: make([]map[string]string, len(steps))}
	for i, st := range steps {
		row.Steps[i] = map[string]string{"task_name": st.TaskName, "queue": st.Queue}
	}
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("storage: marshal pipeline %s: %w", name, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(pipelinesBucket)
		return b.Put([]byte(name), data)
	})
}

// Load reads back a previously-synced pipeline definition's step list. It
// is the read side of the round-trip law "sync() followed by load() yields
// the same step sequence" (section 8); pipeline dispatch itself never calls
// Load, only API collaborators that need to inspect chains do.
func (s *BoltStorage) Load(name string) ([]pipeline.Step, error) {
	var row pipelineRow
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(pipelinesBucket)
		data := b.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("storage: pipeline %s not found", name)
		}
		return json.Unmarshal(data, &row)
	})
	if err != nil {
		return nil, err
	}
	steps := make([]pipeline.Step, len(row.Steps))
	for i, m := range row.Steps {
		steps[i] = pipeline.Step{TaskName: m["task_name"], Queue: m["queue"]}
	}
	return steps, nil
}

// Close releases the underlying bbolt file handle.
func (s *BoltStorage) Close() error {
	return s.db.Close()
}
