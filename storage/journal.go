package storage

import "errors"

var errJournalClosed = errors.New("storage: journal already committed or discarded")

// Journal buffers writes on top of a Database. Reads see the buffered writes
// first. Nothing reaches the database until Commit, which applies every
// buffered write in one batch.
//
// Journal is not safe for concurrent use.
type Journal struct {
	db      Database
	writes  map[string][]byte
	deletes map[string]struct{}
	order   []string
	closed  bool
}

// NewJournal opens a journal over db.
func NewJournal(db Database) *Journal {
	return &Journal{
		db:      db,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

func (j *Journal) touch(key string) {
	if _, ok := j.writes[key]; ok {
		return
	}
	if _, ok := j.deletes[key]; ok {
		return
	}
	j.order = append(j.order, key)
}

func (j *Journal) Put(key []byte, value []byte) error {
	if j.closed {
		return errJournalClosed
	}
	k := string(key)
	j.touch(k)
	delete(j.deletes, k)
	j.writes[k] = append([]byte(nil), value...)
	return nil
}

func (j *Journal) Get(key []byte) ([]byte, error) {
	if j.closed {
		return nil, errJournalClosed
	}
	k := string(key)
	if value, ok := j.writes[k]; ok {
		return append([]byte(nil), value...), nil
	}
	if _, ok := j.deletes[k]; ok {
		return nil, ErrNotFound
	}
	return j.db.Get(key)
}

func (j *Journal) Has(key []byte) (bool, error) {
	if j.closed {
		return false, errJournalClosed
	}
	k := string(key)
	if _, ok := j.writes[k]; ok {
		return true, nil
	}
	if _, ok := j.deletes[k]; ok {
		return false, nil
	}
	return j.db.Has(key)
}

func (j *Journal) Delete(key []byte) error {
	if j.closed {
		return errJournalClosed
	}
	k := string(key)
	j.touch(k)
	delete(j.writes, k)
	j.deletes[k] = struct{}{}
	return nil
}

// Pending reports the number of keys with buffered changes.
func (j *Journal) Pending() int { return len(j.order) }

// Commit flushes the buffered writes as a single batch and closes the journal.
func (j *Journal) Commit() error {
	if j.closed {
		return errJournalClosed
	}
	batch := new(Batch)
	for _, k := range j.order {
		if value, ok := j.writes[k]; ok {
			batch.Put([]byte(k), value)
			continue
		}
		if _, ok := j.deletes[k]; ok {
			batch.Delete([]byte(k))
		}
	}
	if err := j.db.Write(batch); err != nil {
		return err
	}
	j.closed = true
	return nil
}

// Discard drops the buffered writes. Discarding a closed journal is a no-op.
func (j *Journal) Discard() {
	j.writes = make(map[string][]byte)
	j.deletes = make(map[string]struct{})
	j.order = nil
	j.closed = true
}
