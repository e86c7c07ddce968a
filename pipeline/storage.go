package pipeline

// Storage is the persistent storage contract consumed by Sync: a durable
// key-value table keyed by pipeline name holding an ordered step list.
// Upsert must be atomic.
type Storage interface {
	Upsert(name string, steps []Step) error
}

// Sync upserts every in-memory registered pipeline into storage, keyed by
// name. It is idempotent: running it twice against the same registry state
// produces the same stored rows.
func Sync(storage Storage) error {
	for name, p := range GetAll() {
		if err := storage.Upsert(name, p.Steps()); err != nil {
			return err
		}
	}
	return nil
}
