package index

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/blevesearch/vellum"
	badger "github.com/dgraph-io/badger/v4"

	"github.com/cascadesearch/cascade/pkg/config"
	apperrors "github.com/cascadesearch/cascade/pkg/errors"
)

// maxPairDistance is the largest word-pair distance stored in the index.
// Pairs further apart than this are resolved through the proximity
// fallback instead of a stored posting list.
const maxPairDistance = 7

// Key layout. All posting-list values are serialized roaring bitmaps of
// internal document ids.
//
//	w/<word>                 word postings
//	f/<field>\x00<word>      per-field word postings
//	p/<d><left>\x00<right>   pair postings, d a single byte in [1,7]
//	fv/<field>\x00<value>    facet postings
//	d/<external>             external to internal id
//	x/<internal BE32>        internal to external id
//	m/all                    bitmap of every live internal id
//	m/next                   next internal id, BE32
//	m/fst                    word dictionary FST
const (
	prefixWord  = "w/"
	prefixField = "f/"
	prefixPair  = "p/"
	prefixFacet = "fv/"
	prefixDocID = "d/"
	prefixExtID = "x/"
	keyAllDocs  = "m/all"
	keyNextID   = "m/next"
	keyFST      = "m/fst"
)

// Options configures a Store beyond its storage location.
type Options struct {
	Storage config.StorageConfig
	// SearchableFields lists the indexed fields in attribute-weight order.
	SearchableFields []string
	// FilterableFields lists the fields whose values become facets.
	FilterableFields []string
	// Synonyms maps a word to equivalent phrases, each given as a
	// space-separated string.
	Synonyms map[string][]string
}

// Store is the persistent inverted index. Writes go through Index, reads
// through immutable Snapshots. A new snapshot is published after every
// successful write batch.
type Store struct {
	db     *badger.DB
	opts   Options
	logger *slog.Logger

	mu   sync.RWMutex
	snap *Snapshot
}

// Open opens or creates the index at the configured location.
func Open(opts Options) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.Storage.DataDir).WithLogger(nil)
	if opts.Storage.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("opening index store: %w", err)
	}
	s := &Store{
		db:     db,
		opts:   opts,
		logger: slog.Default().With("component", "index"),
	}
	if err := s.publishSnapshot(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Snapshot returns the current read snapshot. It stays valid after later
// writes; callers keep it for the duration of one request.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Index adds a batch of documents to the index and publishes a fresh
// snapshot. Indexing is additive: re-sending a document id extends its
// postings rather than replacing them.
func (s *Store) Index(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	for _, doc := range docs {
		if doc.ID == "" {
			return apperrors.New(apperrors.ErrInvalidInput, 400, "document is missing an id")
		}
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		next, err := readUint32(txn, []byte(keyNextID))
		if err != nil {
			return err
		}
		all, err := readBitmap(txn, []byte(keyAllDocs))
		if err != nil {
			return err
		}

		pending := make(map[string]*roaring.Bitmap)
		add := func(key string, id uint32) {
			b, ok := pending[key]
			if !ok {
				b = roaring.New()
				pending[key] = b
			}
			b.Add(id)
		}

		for _, doc := range docs {
			internal, err := s.assignID(txn, doc.ID, &next)
			if err != nil {
				return err
			}
			all.Add(internal)

			for _, field := range s.opts.SearchableFields {
				words := Tokenize(doc.Fields[field])
				for pos, w := range words {
					add(prefixWord+w, internal)
					add(prefixField+field+"\x00"+w, internal)
					for d := 1; d <= maxPairDistance && pos+d < len(words); d++ {
						add(pairKey(w, words[pos+d], uint8(d)), internal)
					}
				}
			}
			for _, field := range s.opts.FilterableFields {
				if value := strings.TrimSpace(doc.Fields[field]); value != "" {
					add(prefixFacet+field+"\x00"+value, internal)
				}
			}
		}

		for key, added := range pending {
			existing, err := readBitmap(txn, []byte(key))
			if err != nil {
				return err
			}
			existing.Or(added)
			if err := writeBitmap(txn, []byte(key), existing); err != nil {
				return err
			}
		}
		if err := writeBitmap(txn, []byte(keyAllDocs), all); err != nil {
			return err
		}
		return writeUint32(txn, []byte(keyNextID), next)
	})
	if err != nil {
		return fmt.Errorf("indexing %d documents: %w", len(docs), err)
	}

	if err := s.rebuildDictionary(); err != nil {
		return err
	}
	if err := s.publishSnapshot(); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "indexed batch", "documents", len(docs))
	return nil
}

// assignID returns the internal id for an external document id, allocating
// the next one on first sight.
func (s *Store) assignID(txn *badger.Txn, external string, next *uint32) (uint32, error) {
	item, err := txn.Get([]byte(prefixDocID + external))
	if err == nil {
		val, err := item.ValueCopy(nil)
		if err != nil {
			return 0, fmt.Errorf("reading id mapping: %w", err)
		}
		return binary.BigEndian.Uint32(val), nil
	}
	if err != badger.ErrKeyNotFound {
		return 0, fmt.Errorf("reading id mapping: %w", err)
	}

	internal := *next
	*next++
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], internal)
	if err := txn.Set([]byte(prefixDocID+external), buf[:]); err != nil {
		return 0, fmt.Errorf("writing id mapping: %w", err)
	}
	if err := txn.Set(append([]byte(prefixExtID), buf[:]...), []byte(external)); err != nil {
		return 0, fmt.Errorf("writing id mapping: %w", err)
	}
	return internal, nil
}

// rebuildDictionary rewrites the FST over every indexed word. Badger
// iterates keys in lexicographic order, which is exactly the insert order
// vellum requires.
func (s *Store) rebuildDictionary() error {
	var buf bytes.Buffer
	err := s.db.View(func(txn *badger.Txn) error {
		builder, err := vellum.New(&buf, nil)
		if err != nil {
			return fmt.Errorf("creating dictionary builder: %w", err)
		}
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixWord)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			word := it.Item().KeyCopy(nil)[len(prefix):]
			if err := builder.Insert(word, 0); err != nil {
				return fmt.Errorf("inserting %q into dictionary: %w", word, err)
			}
		}
		return builder.Close()
	})
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyFST), buf.Bytes())
	})
	if err != nil {
		return fmt.Errorf("storing dictionary: %w", err)
	}
	return nil
}

// publishSnapshot loads the current FST and swaps in a new read snapshot.
func (s *Store) publishSnapshot() error {
	var fst *vellum.FST
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyFST))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return nil
		}
		fst, err = vellum.Load(data)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: loading dictionary: %v", apperrors.ErrIndexCorrupted, err)
	}

	snap := &Snapshot{
		db:       s.db,
		fst:      fst,
		fields:   s.opts.SearchableFields,
		synonyms: s.opts.Synonyms,
	}
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	return nil
}

func pairKey(left, right string, distance uint8) string {
	return prefixPair + string([]byte{distance}) + left + "\x00" + right
}

func readBitmap(txn *badger.Txn, key []byte) (*roaring.Bitmap, error) {
	b := roaring.New()
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", key, err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", key, err)
	}
	if err := b.UnmarshalBinary(val); err != nil {
		return nil, fmt.Errorf("%w: posting list %q: %v", apperrors.ErrIndexCorrupted, key, err)
	}
	return b, nil
}

func writeBitmap(txn *badger.Txn, key []byte, b *roaring.Bitmap) error {
	val, err := b.MarshalBinary()
	if err != nil {
		return fmt.Errorf("serializing %q: %w", key, err)
	}
	return txn.Set(key, val)
}

func readUint32(txn *badger.Txn, key []byte) (uint32, error) {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading %q: %w", key, err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return 0, fmt.Errorf("reading %q: %w", key, err)
	}
	return binary.BigEndian.Uint32(val), nil
}

func writeUint32(txn *badger.Txn, key []byte, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return txn.Set(key, buf[:])
}
