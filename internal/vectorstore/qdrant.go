// Package vectorstore implements services.VectorStore on top of Qdrant, plus
// an in-memory store for local runs and tests.
//
// Qdrant only accepts unsigned integers or UUIDs as point ids, so record ids
// such as "{doc}_chunk_{i}" are mapped to name-based (SHA-1) UUIDs. The
// mapping is deterministic, which lets deletes recompute point ids from the
// record ids alone. The original id is kept in the payload under record_id.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-rag-backend/internal/domain"
	"github.com/tbourn/go-rag-backend/internal/services"
)

// RecordIDKey is the payload field holding the caller's record id.
const RecordIDKey = "record_id"

var (
	// ErrUnreachable is returned when the health check keeps failing.
	ErrUnreachable = errors.New("qdrant server unreachable")
	// ErrDimensionMismatch is returned for vectors of the wrong length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// indexedFields get keyword payload indexes so per-user filtering stays fast.
var indexedFields = []string{"user_id", "document_id"}

// qdrantAPI is the subset of *qdrant.Client used here.
type qdrantAPI interface {
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	ListCollections(ctx context.Context) ([]string, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	CreateFieldIndex(ctx context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Delete(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Close() error
}

// QdrantConfig holds connection and collection settings.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  int
}

// Qdrant implements services.VectorStore.
type Qdrant struct {
	client     qdrantAPI
	collection string
	dim        int
	newBackoff func() backoff.BackOff
}

// NewQdrant connects to Qdrant over gRPC, waits for it to become healthy and
// makes sure the collection exists.
func NewQdrant(ctx context.Context, cfg QdrantConfig) (*Qdrant, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	q := newQdrant(client, cfg.Collection, cfg.Dimension)
	if err := q.waitHealthy(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if err := q.EnsureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return q, nil
}

func newQdrant(client qdrantAPI, collection string, dim int) *Qdrant {
	return &Qdrant{
		client:     client,
		collection: collection,
		dim:        dim,
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
	}
}

func (q *Qdrant) waitHealthy(ctx context.Context) error {
	return backoff.Retry(func() error {
		reply, err := q.client.HealthCheck(ctx)
		if err != nil {
			return err
		}
		if reply == nil || reply.GetTitle() == "" {
			return errors.New("invalid health check response")
		}
		return nil
	}, backoff.WithContext(q.newBackoff(), ctx))
}

// EnsureCollection creates the collection with cosine distance and the
// payload indexes when it does not exist yet. Safe to call repeatedly.
func (q *Qdrant) EnsureCollection(ctx context.Context) error {
	names, err := q.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	if slices.Contains(names, q.collection) {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", q.collection, err)
	}

	for _, field := range indexedFields {
		_, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("create index for %s: %w", field, err)
		}
	}
	log.Info().Str("collection", q.collection).Int("dim", q.dim).Msg("qdrant collection created")
	return nil
}

// Upsert writes one point, retrying transient failures. It waits until the
// point is applied so a search right after ingestion sees it.
func (q *Qdrant) Upsert(ctx context.Context, id string, emb domain.Embedding, metadata map[string]any) error {
	if err := q.checkDim(emb); err != nil {
		return err
	}

	payload := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		payload[k] = v
	}
	payload[RecordIDKey] = id

	point := &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(PointID(id)),
		Vectors: qdrant.NewVectors(emb.Vector()...),
		Payload: qdrant.NewValueMap(payload),
	}
	return backoff.Retry(func() error {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         []*qdrant.PointStruct{point},
		})
		return err
	}, backoff.WithContext(q.newBackoff(), ctx))
}

// Search returns up to topK points matching every filter entry, best first.
func (q *Qdrant) Search(ctx context.Context, query domain.Embedding, topK int, filter map[string]string) ([]services.VectorMatch, error) {
	if err := q.checkDim(query); err != nil {
		return nil, err
	}

	req := &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(query.Vector()...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	}
	if len(filter) > 0 {
		must := make([]*qdrant.Condition, 0, len(filter))
		for _, k := range sortedKeys(filter) {
			must = append(must, qdrant.NewMatch(k, filter[k]))
		}
		req.Filter = &qdrant.Filter{Must: must}
	}

	points, err := q.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.collection, err)
	}

	out := make([]services.VectorMatch, 0, len(points))
	for _, p := range points {
		meta := make(map[string]any, len(p.GetPayload()))
		for k, v := range p.GetPayload() {
			meta[k] = fromValue(v)
		}
		id, _ := meta[RecordIDKey].(string)
		if id == "" {
			id = p.GetId().GetUuid()
		}
		delete(meta, RecordIDKey)
		out = append(out, services.VectorMatch{ID: id, Score: float64(p.GetScore()), Metadata: meta})
	}
	return out, nil
}

// Delete removes the point for record id. Deleting a missing point succeeds.
func (q *Qdrant) Delete(ctx context.Context, id string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(PointID(id))),
	})
	if err != nil {
		return fmt.Errorf("delete point %s: %w", id, err)
	}
	return nil
}

// Close releases the gRPC connection.
func (q *Qdrant) Close() error {
	if q.client == nil {
		return nil
	}
	return q.client.Close()
}

// PointID maps a record id to its Qdrant point UUID.
func PointID(recordID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("rag:"+recordID)).String()
}

func (q *Qdrant) checkDim(e domain.Embedding) error {
	if q.dim > 0 && e.Dim() != q.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, e.Dim(), q.dim)
	}
	return nil
}

// fromValue converts a payload value back into a plain Go value.
func fromValue(v *qdrant.Value) any {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return int(k.IntegerValue)
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	case *qdrant.Value_ListValue:
		out := make([]any, 0, len(k.ListValue.GetValues()))
		for _, item := range k.ListValue.GetValues() {
			out = append(out, fromValue(item))
		}
		return out
	case *qdrant.Value_StructValue:
		out := make(map[string]any, len(k.StructValue.GetFields()))
		for name, item := range k.StructValue.GetFields() {
			out[name] = fromValue(item)
		}
		return out
	default:
		return nil
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
