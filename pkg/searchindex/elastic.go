package searchindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/eunmann/aadhaar-index/pkg/enroll"
)

// ElasticConfig configures the Elasticsearch backend.
type ElasticConfig struct {
	// Addresses lists the cluster node URLs.
	Addresses []string
	Username  string
	Password  string
	// HealthTimeout is the server-side wait per readiness check. Default: 5s.
	HealthTimeout time.Duration
	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
}

// Elastic is a Backend backed by an Elasticsearch cluster.
type Elastic struct {
	es            *elasticsearch.Client
	healthTimeout time.Duration
}

// NewElastic creates an Elasticsearch backend. No request is made until the
// first call.
func NewElastic(cfg ElasticConfig) (*Elastic, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("elasticsearch: no addresses")
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 5 * time.Second
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	return &Elastic{es: es, healthTimeout: cfg.HealthTimeout}, nil
}

// Exists reports whether the index exists.
func (e *Elastic) Exists(ctx context.Context, name string) (bool, error) {
	res, err := e.es.Indices.Exists([]string{name}, e.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("indices exists: %w", err)
	}
	defer drain(res)

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("indices exists: %s", res.Status())
	}
}

// Create creates the index. An index created concurrently by another
// loader is not an error.
func (e *Elastic) Create(ctx context.Context, name string, m Mapping) error {
	body, err := json.Marshal(elasticMapping(m))
	if err != nil {
		return fmt.Errorf("encode mapping: %w", err)
	}

	res, err := e.es.Indices.Create(name,
		e.es.Indices.Create.WithBody(bytes.NewReader(body)),
		e.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("indices create: %w", err)
	}
	defer drain(res)

	if res.IsError() {
		reason := errorReason(res)
		if strings.Contains(reason, "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("indices create: %s: %s", res.Status(), reason)
	}
	return nil
}

// Ready waits server-side for the index to reach at least yellow health.
func (e *Elastic) Ready(ctx context.Context, name string) error {
	res, err := e.es.Cluster.Health(
		e.es.Cluster.Health.WithContext(ctx),
		e.es.Cluster.Health.WithIndex(name),
		e.es.Cluster.Health.WithWaitForStatus("yellow"),
		e.es.Cluster.Health.WithTimeout(e.healthTimeout),
	)
	if err != nil {
		return fmt.Errorf("cluster health: %w", err)
	}
	defer drain(res)

	if res.StatusCode == http.StatusRequestTimeout {
		return ErrNotReady
	}
	if res.IsError() {
		return fmt.Errorf("cluster health: %s: %s", res.Status(), errorReason(res))
	}

	var health struct {
		Status   string `json:"status"`
		TimedOut bool   `json:"timed_out"`
	}
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		return fmt.Errorf("decode cluster health: %w", err)
	}
	if health.TimedOut || health.Status == "red" {
		return fmt.Errorf("%w: status %s", ErrNotReady, health.Status)
	}
	return nil
}

// BulkIndex sends docs as one _bulk request, each keyed by its ID.
func (e *Elastic) BulkIndex(ctx context.Context, name string, docs []enroll.Document) error {
	if len(docs) == 0 {
		return nil
	}

	body, err := encodeBulk(docs)
	if err != nil {
		return err
	}

	res, err := e.es.Bulk(bytes.NewReader(body),
		e.es.Bulk.WithContext(ctx),
		e.es.Bulk.WithIndex(name),
	)
	if err != nil {
		return fmt.Errorf("bulk: %w", err)
	}
	defer drain(res)

	if res.IsError() {
		return fmt.Errorf("bulk: %s: %s", res.Status(), errorReason(res))
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if !br.Errors {
		return nil
	}

	berr := &BulkError{Total: len(docs)}
	for _, item := range br.Items {
		for _, result := range item {
			if result.Error == nil && result.Status < 300 {
				continue
			}
			berr.Failed++
			if berr.FirstID == "" {
				berr.FirstID = result.ID
				if result.Error != nil {
					berr.FirstReason = result.Error.Type + ": " + result.Error.Reason
				} else {
					berr.FirstReason = fmt.Sprintf("status %d", result.Status)
				}
			}
		}
	}
	return berr
}

// Count returns the index document count.
func (e *Elastic) Count(ctx context.Context, name string) (uint64, error) {
	res, err := e.es.Count(e.es.Count.WithContext(ctx), e.es.Count.WithIndex(name))
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	defer drain(res)

	if res.IsError() {
		return 0, fmt.Errorf("count: %s: %s", res.Status(), errorReason(res))
	}
	var cr struct {
		Count uint64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&cr); err != nil {
		return 0, fmt.Errorf("decode count: %w", err)
	}
	return cr.Count, nil
}

// Close is a no-op; the client holds no resources beyond idle connections.
func (e *Elastic) Close() error {
	return nil
}

// BulkError reports items rejected inside an otherwise successful bulk
// request. Which of the remaining items were applied is up to the cluster.
type BulkError struct {
	Total       int
	Failed      int
	FirstID     string
	FirstReason string
}

func (e *BulkError) Error() string {
	return fmt.Sprintf("%d of %d documents rejected (first %s: %s)", e.Failed, e.Total, e.FirstID, e.FirstReason)
}

type bulkResponse struct {
	Errors bool                      `json:"errors"`
	Items  []map[string]bulkItemResp `json:"items"`
}

type bulkItemResp struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

func encodeBulk(docs []enroll.Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		meta := map[string]map[string]string{"index": {"_id": doc.ID}}
		if err := enc.Encode(meta); err != nil {
			return nil, fmt.Errorf("encode bulk action for %s: %w", doc.ID, err)
		}
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("encode document %s: %w", doc.ID, err)
		}
	}
	return buf.Bytes(), nil
}

func elasticMapping(m Mapping) map[string]any {
	props := make(map[string]any, len(m.Fields))
	for _, f := range m.Fields {
		var typ string
		switch f.Kind {
		case KindDate:
			typ = "date"
		case KindKeyword:
			typ = "keyword"
		default:
			typ = "text"
		}
		props[f.Name] = map[string]string{"type": typ}
	}
	return map[string]any{
		"mappings": map[string]any{
			"_meta":      map[string]string{"type_tag": m.TypeTag},
			"properties": props,
		},
	}
}

// errorReason extracts error.type/error.reason from an error response body.
func errorReason(res *esapi.Response) string {
	var body struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return err.Error()
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Error.Type == "" {
		return strings.TrimSpace(string(raw))
	}
	return body.Error.Type + ": " + body.Error.Reason
}

func drain(res *esapi.Response) {
	if res == nil || res.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, res.Body)
	res.Body.Close()
}
