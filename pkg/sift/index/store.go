package index

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes.
const (
	prefixRecord = "r:" // r:<id as 8 bytes> -> Record
	prefixPath   = "p:" // p:<path> -> id
	keySequence  = "m:seq"
)

const sep = string(filepath.Separator)

// ErrNotFound is returned when no record exists for a path.
var ErrNotFound = errors.New("record not found")

// Record is one indexed file.
type Record struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	ModTime  int64  `json:"mod_time"` // seconds
	MimeType string `json:"mime_type"`
}

// Store persists records in Badger. Each record gets a stable id the first
// time its path is stored.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
}

// Open opens or creates a store in dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	return open(opts)
}

// OpenInMemory opens a store that is discarded on Close.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts)
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	seq, err := db.GetSequence([]byte(keySequence), 100)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, seq: seq}, nil
}

// Close releases the id sequence and closes the database.
func (s *Store) Close() error {
	err := s.seq.Release()
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	return err
}

func recordKey(id int64) []byte {
	key := make([]byte, len(prefixRecord)+8)
	copy(key, prefixRecord)
	binary.BigEndian.PutUint64(key[len(prefixRecord):], uint64(id))
	return key
}

func pathKey(path string) []byte {
	return []byte(prefixPath + path)
}

// lookupID returns the id stored for path, or 0.
func lookupID(txn *badger.Txn, path string) (int64, error) {
	item, err := txn.Get(pathKey(path))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var id int64
	err = item.Value(func(val []byte) error {
		id = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return id, err
}

func (s *Store) put(txn *badger.Txn, rec *Record) error {
	id, err := lookupID(txn, rec.Path)
	if err != nil {
		return err
	}
	if id == 0 {
		next, err := s.seq.Next()
		if err != nil {
			return err
		}
		// Sequences start at zero; ids start at one.
		id = int64(next) + 1
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(id))
		if err := txn.Set(pathKey(rec.Path), buf[:]); err != nil {
			return err
		}
	}
	rec.ID = id

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return txn.Set(recordKey(id), data)
}

// Put inserts or updates a record, setting rec.ID.
func (s *Store) Put(rec *Record) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return s.put(txn, rec)
	})
}

// PutBatch stores records in a single transaction.
func (s *Store) PutBatch(recs []*Record) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, rec := range recs {
			if err := s.put(txn, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns the record for path.
func (s *Store) Get(path string) (*Record, error) {
	var rec *Record
	err := s.db.View(func(txn *badger.Txn) error {
		id, err := lookupID(txn, path)
		if err != nil {
			return err
		}
		if id == 0 {
			return ErrNotFound
		}
		item, err := txn.Get(recordKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec = &Record{}
			return json.Unmarshal(val, rec)
		})
	})
	return rec, err
}

// Delete removes the record for path. Missing paths are ignored.
func (s *Store) Delete(path string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return deletePath(txn, path)
	})
}

func deletePath(txn *badger.Txn, path string) error {
	id, err := lookupID(txn, path)
	if err != nil || id == 0 {
		return err
	}
	if err := txn.Delete(recordKey(id)); err != nil {
		return err
	}
	return txn.Delete(pathKey(path))
}

// DeleteTree removes dir and every record below it, returning the count removed.
func (s *Store) DeleteTree(dir string) (int, error) {
	paths, err := s.PathsUnder(dir)
	if err != nil {
		return 0, err
	}
	return len(paths), s.DeletePaths(paths)
}

// DeletePaths removes the records for paths.
func (s *Store) DeletePaths(paths []string) error {
	pending := 0
	txn := s.db.NewTransaction(true)
	defer func() { txn.Discard() }()

	for _, p := range paths {
		if err := deletePath(txn, p); err != nil {
			return err
		}
		pending++
		if pending >= 500 {
			if err := txn.Commit(); err != nil {
				return err
			}
			txn = s.db.NewTransaction(true)
			pending = 0
		}
	}
	return txn.Commit()
}

// PathsUnder returns the indexed paths equal to dir or below it.
func (s *Store) PathsUnder(dir string) ([]string, error) {
	dir = strings.TrimSuffix(dir, sep)
	prefix := pathKey(dir)

	var paths []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			p := string(it.Item().Key()[len(prefixPath):])
			if p == dir || strings.HasPrefix(p, dir+sep) {
				paths = append(paths, p)
			}
		}
		return nil
	})
	return paths, err
}

// Cursor reads records in id order from a read-only snapshot. Records
// are decoded one at a time as Next is called. A Cursor must be closed and
// is not safe for concurrent use.
type Cursor struct {
	txn     *badger.Txn
	it      *badger.Iterator
	started bool
	rec     *Record
	err     error
	read    int
}

// Cursor opens a cursor over every record.
func (s *Store) Cursor() *Cursor {
	txn := s.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchSize = 64
	opts.Prefix = []byte(prefixRecord)
	return &Cursor{txn: txn, it: txn.NewIterator(opts)}
}

// Next advances to the next record.
func (c *Cursor) Next() bool {
	if c.err != nil || c.it == nil {
		return false
	}
	if c.started {
		c.it.Next()
	} else {
		c.it.Rewind()
		c.started = true
	}
	if !c.it.Valid() {
		return false
	}

	rec := &Record{}
	if err := c.it.Item().Value(func(val []byte) error {
		return json.Unmarshal(val, rec)
	}); err != nil {
		c.err = err
		return false
	}
	c.rec = rec
	c.read++
	return true
}

// Record returns the current record.
func (c *Cursor) Record() *Record {
	return c.rec
}

// Err returns the error that stopped iteration, if any.
func (c *Cursor) Err() error {
	return c.err
}

// Close releases the snapshot. It is safe to call more than once.
func (c *Cursor) Close() error {
	if c.it == nil {
		return nil
	}
	c.it.Close()
	c.txn.Discard()
	c.it = nil
	return nil
}

// Each calls fn for every record in id order. Iteration stops at the first
// error fn returns.
func (s *Store) Each(fn func(*Record) error) error {
	c := s.Cursor()
	defer c.Close()

	for c.Next() {
		if err := fn(c.Record()); err != nil {
			return err
		}
	}
	return c.Err()
}

// Count returns the number of records.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixRecord)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}
