package storage

import "sync"

// Journal buffers writes on top of a Database until Commit. Reads see the
// buffered writes first. Discarding a journal leaves the base untouched.
type Journal struct {
	mu      sync.Mutex
	base    Database
	pending map[string][]byte
	order   []string
}

// NewJournal opens an empty journal over base.
func NewJournal(base Database) *Journal {
	return &Journal{base: base, pending: make(map[string][]byte)}
}

func (j *Journal) record(key string, value []byte) {
	if _, seen := j.pending[key]; !seen {
		j.order = append(j.order, key)
	}
	j.pending[key] = value
}

// Put buffers a write.
func (j *Journal) Put(key, value []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.record(string(key), append([]byte{}, value...))
	return nil
}

// Delete buffers a removal.
func (j *Journal) Delete(key []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.record(string(key), nil)
	return nil
}

// Get returns the buffered value for key or falls back to the base.
func (j *Journal) Get(key []byte) ([]byte, error) {
	j.mu.Lock()
	value, ok := j.pending[string(key)]
	j.mu.Unlock()
	if ok {
		if value == nil {
			return nil, ErrNotFound
		}
		return append([]byte{}, value...), nil
	}
	return j.base.Get(key)
}

// Has reports whether key exists after applying buffered writes.
func (j *Journal) Has(key []byte) (bool, error) {
	j.mu.Lock()
	value, ok := j.pending[string(key)]
	j.mu.Unlock()
	if ok {
		return value != nil, nil
	}
	return j.base.Has(key)
}

// Dirty reports whether any write is buffered.
func (j *Journal) Dirty() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.order) > 0
}

// Commit flushes the buffered writes to the base in one atomic batch.
func (j *Journal) Commit() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.order) == 0 {
		return nil
	}
	batch := new(Batch)
	for _, key := range j.order {
		value := j.pending[key]
		if value == nil {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), value)
	}
	if err := j.base.Write(batch); err != nil {
		return err
	}
	j.reset()
	return nil
}

// Discard drops every buffered write.
func (j *Journal) Discard() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.reset()
}

func (j *Journal) reset() {
	j.pending = make(map[string][]byte)
	j.order = nil
}
