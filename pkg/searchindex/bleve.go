package searchindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/eunmann/aadhaar-index/pkg/enroll"
)

// Bleve is a Backend storing each index as a Bleve directory under a root.
type Bleve struct {
	root string

	mu     sync.Mutex
	opened map[string]bleve.Index
}

// NewBleve creates a Bleve backend rooted at dir.
func NewBleve(dir string) *Bleve {
	return &Bleve{root: dir, opened: make(map[string]bleve.Index)}
}

// Path returns the directory holding the named index.
func (b *Bleve) Path(name string) string {
	return filepath.Join(b.root, name)
}

// Exists reports whether the named index directory exists and opens.
func (b *Bleve) Exists(ctx context.Context, name string) (bool, error) {
	_, err := b.index(name)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Create builds a new index directory with the given mapping.
func (b *Bleve) Create(ctx context.Context, name string, m Mapping) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.opened[name]; ok {
		return nil
	}
	if err := os.MkdirAll(b.root, 0o755); err != nil {
		return fmt.Errorf("create index root: %w", err)
	}

	idx, err := bleve.New(b.Path(name), bleveMapping(m))
	if err != nil {
		return fmt.Errorf("create bleve index: %w", err)
	}
	b.opened[name] = idx
	return nil
}

// Ready succeeds once the index is open and answers a count.
func (b *Bleve) Ready(ctx context.Context, name string) error {
	idx, err := b.index(name)
	if err != nil {
		return err
	}
	if _, err := idx.DocCount(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	return nil
}

// BulkIndex writes docs in one Bleve batch. Existing IDs are replaced.
func (b *Bleve) BulkIndex(ctx context.Context, name string, docs []enroll.Document) error {
	if len(docs) == 0 {
		return nil
	}
	idx, err := b.index(name)
	if err != nil {
		return err
	}

	batch := idx.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, doc); err != nil {
			return fmt.Errorf("batch document %s: %w", doc.ID, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("apply bleve batch: %w", err)
	}
	return nil
}

// Count returns the number of documents in the index.
func (b *Bleve) Count(ctx context.Context, name string) (uint64, error) {
	idx, err := b.index(name)
	if err != nil {
		return 0, err
	}
	n, err := idx.DocCount()
	if err != nil {
		return 0, fmt.Errorf("bleve doc count: %w", err)
	}
	return n, nil
}

// Close closes every index opened by this backend.
func (b *Bleve) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for name, idx := range b.opened {
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(b.opened, name)
	}
	return errors.Join(errs...)
}

// index returns the open handle for name, opening it on first use.
func (b *Bleve) index(name string) (bleve.Index, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if idx, ok := b.opened[name]; ok {
		return idx, nil
	}
	idx, err := bleve.Open(b.Path(name))
	if err != nil {
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("open bleve index %s: %w", name, err)
	}
	b.opened[name] = idx
	return idx, nil
}

// bleveMapping registers a document mapping under the type tag. Count
// columns use numeric mappings because Bleve only indexes Go integers
// through them.
func bleveMapping(m Mapping) *mapping.IndexMappingImpl {
	dm := bleve.NewDocumentMapping()
	for _, f := range m.Fields {
		var fm *mapping.FieldMapping
		switch f.Kind {
		case KindDate:
			fm = bleve.NewDateTimeFieldMapping()
		case KindKeyword:
			fm = bleve.NewKeywordFieldMapping()
		default:
			fm = bleve.NewNumericFieldMapping()
		}
		dm.AddFieldMappingsAt(f.Name, fm)
	}

	im := bleve.NewIndexMapping()
	im.TypeField = "type"
	im.AddDocumentMapping(m.TypeTag, dm)
	return im
}
