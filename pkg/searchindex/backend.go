// Package searchindex provisions the enrollment index and bulk-loads
// documents into it. Two backends are provided: a remote Elasticsearch
// cluster and a local Bleve index directory.
package searchindex

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/eunmann/aadhaar-index/pkg/enroll"
)

// Backend is the index service the ingestion pipeline writes to.
type Backend interface {
	// Exists reports whether the named index exists.
	Exists(ctx context.Context, name string) (bool, error)
	// Create creates the named index with the given field mapping.
	Create(ctx context.Context, name string, m Mapping) error
	// Ready returns nil once the index accepts writes.
	Ready(ctx context.Context, name string) error
	// BulkIndex upserts docs by their ID in a single request.
	BulkIndex(ctx context.Context, name string, docs []enroll.Document) error
	// Count returns the number of documents in the index.
	Count(ctx context.Context, name string) (uint64, error)
	// Close releases client resources.
	Close() error
}

// ErrNotReady is returned by Ready while the index cannot yet take writes.
var ErrNotReady = errors.New("index not ready")

// FieldKind is the backend-neutral type of a mapped field.
type FieldKind int

const (
	// KindDate is a calendar date.
	KindDate FieldKind = iota
	// KindKeyword is an exact-match, unanalyzed string.
	KindKeyword
	// KindNumericText is a count column historically mapped as plain text.
	KindNumericText
)

func (k FieldKind) String() string {
	switch k {
	case KindDate:
		return "date"
	case KindKeyword:
		return "keyword"
	case KindNumericText:
		return "numeric_text"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

// FieldMapping binds one document field to a kind.
type FieldMapping struct {
	Name string
	Kind FieldKind
}

// Mapping describes the fields of one document type.
type Mapping struct {
	TypeTag string
	Fields  []FieldMapping
}

// EnrollmentMapping returns the field mapping for enrollment documents.
func EnrollmentMapping(typeTag string) Mapping {
	fields := []FieldMapping{
		{Name: "id", Kind: KindKeyword},
		{Name: "type", Kind: KindKeyword},
		{Name: "date", Kind: KindDate},
	}
	for i, col := range enroll.Columns {
		kind := KindKeyword
		if i >= enroll.ColAge {
			kind = KindNumericText
		}
		fields = append(fields, FieldMapping{Name: col, Kind: kind})
	}
	return Mapping{TypeTag: typeTag, Fields: fields}
}

// Open returns the backend addressed by rawURL: http(s) URLs select
// Elasticsearch; bleve:// URLs and bare paths select a local Bleve directory.
func Open(rawURL string) (Backend, error) {
	switch {
	case strings.HasPrefix(rawURL, "http://"), strings.HasPrefix(rawURL, "https://"):
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse index URL: %w", err)
		}
		cfg := ElasticConfig{}
		if u.User != nil {
			cfg.Username = u.User.Username()
			cfg.Password, _ = u.User.Password()
			u.User = nil
		}
		cfg.Addresses = []string{u.String()}
		return NewElastic(cfg)

	case strings.HasPrefix(rawURL, "bleve://"):
		dir := strings.TrimPrefix(rawURL, "bleve://")
		if dir == "" {
			return nil, errors.New("bleve URL is missing a directory")
		}
		return NewBleve(dir), nil

	case strings.Contains(rawURL, "://"):
		return nil, fmt.Errorf("unsupported index URL scheme: %s", rawURL)

	default:
		if rawURL == "" {
			return nil, errors.New("index URL is empty")
		}
		return NewBleve(rawURL), nil
	}
}
