package index

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/blevesearch/vellum"
	badger "github.com/dgraph-io/badger/v4"

	apperrors "github.com/cascadesearch/cascade/pkg/errors"
)

// Snapshot is a read view over the index. It satisfies the docid resolver
// used by the ranking rules, the facet lookup used by filter expressions
// and the dictionary used by query building.
type Snapshot struct {
	db       *badger.DB
	fst      *vellum.FST
	fields   []string
	synonyms map[string][]string
}

// WordDocids returns the documents containing word.
func (s *Snapshot) WordDocids(ctx context.Context, word string) (*roaring.Bitmap, error) {
	return s.bitmap(prefixWord + word)
}

// WordFieldDocids returns the documents containing word in field.
func (s *Snapshot) WordFieldDocids(ctx context.Context, field, word string) (*roaring.Bitmap, error) {
	return s.bitmap(prefixField + field + "\x00" + word)
}

// WordPairProximityDocids returns the documents where right appears
// distance positions after left. Distances beyond the stored range
// resolve to the empty set.
func (s *Snapshot) WordPairProximityDocids(ctx context.Context, left, right string, distance uint8) (*roaring.Bitmap, error) {
	if distance == 0 || distance > maxPairDistance {
		return roaring.New(), nil
	}
	return s.bitmap(pairKey(left, right, distance))
}

// PhraseDocids approximates contiguous in-order occurrence by chaining
// distance-1 pair postings. Exact within-document positions are not
// stored, so a document repeating the words at the right gaps without the
// full phrase can slip through.
func (s *Snapshot) PhraseDocids(ctx context.Context, words []string) (*roaring.Bitmap, error) {
	if len(words) == 0 {
		return roaring.New(), nil
	}
	out, err := s.WordDocids(ctx, words[0])
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(words); i++ {
		pair, err := s.WordPairProximityDocids(ctx, words[i-1], words[i], 1)
		if err != nil {
			return nil, err
		}
		out.And(pair)
		if out.IsEmpty() {
			return out, nil
		}
	}
	return out, nil
}

// SearchableFields lists the indexed fields in ranking weight order.
func (s *Snapshot) SearchableFields(ctx context.Context) ([]string, error) {
	return s.fields, nil
}

// FacetDocids returns the documents whose field holds value.
func (s *Snapshot) FacetDocids(ctx context.Context, field, value string) (*roaring.Bitmap, error) {
	return s.bitmap(prefixFacet + field + "\x00" + value)
}

// AllDocids returns every indexed document.
func (s *Snapshot) AllDocids(ctx context.Context) (*roaring.Bitmap, error) {
	return s.bitmap(keyAllDocs)
}

// ExternalIDs maps internal ids back to the external document ids they
// were ingested under, preserving order.
func (s *Snapshot) ExternalIDs(ctx context.Context, internal []uint32) ([]string, error) {
	out := make([]string, len(internal))
	err := s.db.View(func(txn *badger.Txn) error {
		for i, id := range internal {
			var buf [4]byte
			binary.BigEndian.PutUint32(buf[:], id)
			item, err := txn.Get(append([]byte(prefixExtID), buf[:]...))
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("%w: no external id for document %d", apperrors.ErrIndexCorrupted, id)
			}
			if err != nil {
				return fmt.Errorf("reading external id of %d: %w", id, err)
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("reading external id of %d: %w", id, err)
			}
			out[i] = string(val)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Snapshot) bitmap(key string) (*roaring.Bitmap, error) {
	var b *roaring.Bitmap
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		b, err = readBitmap(txn, []byte(key))
		return err
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}
