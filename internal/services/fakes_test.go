package services

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"github.com/tbourn/go-rag-backend/internal/domain"
)

// ----- Embedder -----

type fakeEmbedder struct {
	mu        sync.Mutex
	embedArg  string
	batchArgs []string
	// drop removes this many embeddings from batch results.
	drop     int
	embedErr error
	batchErr error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) (domain.Embedding, error) {
	f.mu.Lock()
	f.embedArg = text
	f.mu.Unlock()
	if f.embedErr != nil {
		return domain.Embedding{}, f.embedErr
	}
	return domain.NewEmbedding([]float32{1, 0, 0}, "fake", text), nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]domain.Embedding, error) {
	f.mu.Lock()
	f.batchArgs = append([]string(nil), texts...)
	f.mu.Unlock()
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	out := make([]domain.Embedding, 0, len(texts))
	for i, t := range texts {
		out = append(out, domain.NewEmbedding([]float32{float32(i), 1}, "fake", t))
	}
	if f.drop > 0 && f.drop <= len(out) {
		out = out[:len(out)-f.drop]
	}
	return out, nil
}

// ----- VectorStore -----

type upsertCall struct {
	id   string
	emb  domain.Embedding
	meta map[string]any
}

type fakeVectors struct {
	mu        sync.Mutex
	upserts   []upsertCall
	deletes   []string
	upsertErr error
	deleteErr error

	searchTopK   int
	searchFilter map[string]string
	searchQuery  domain.Embedding
	matches      []VectorMatch
	searchErr    error
}

func (f *fakeVectors) Upsert(ctx context.Context, id string, emb domain.Embedding, meta map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return errors.New("vector store down")
	}
	f.upserts = append(f.upserts, upsertCall{id: id, emb: emb, meta: meta})
	return nil
}

func (f *fakeVectors) Search(ctx context.Context, q domain.Embedding, topK int, filter map[string]string) ([]VectorMatch, error) {
	f.searchQuery, f.searchTopK, f.searchFilter = q, topK, filter
	return f.matches, f.searchErr
}

func (f *fakeVectors) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	return f.deleteErr
}

// ----- ObjectStorage -----

type fakeStorage struct {
	uploads   map[string][]byte
	deletes   []string
	uploadErr error
	deleteErr error
	urlKey    string
	urlTTL    time.Duration
}

func (f *fakeStorage) Upload(ctx context.Context, key string, data []byte) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	if f.uploads == nil {
		f.uploads = map[string][]byte{}
	}
	f.uploads[key] = data
	return "mem://" + key, nil
}

func (f *fakeStorage) Download(ctx context.Context, key string) ([]byte, error) {
	b, ok := f.uploads[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return b, nil
}

func (f *fakeStorage) Delete(ctx context.Context, key string) error {
	f.deletes = append(f.deletes, key)
	return f.deleteErr
}

func (f *fakeStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := f.uploads[key]
	return ok, nil
}

func (f *fakeStorage) URL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	f.urlKey, f.urlTTL = key, ttl
	return "https://blob.example/" + key, nil
}

// ----- DocumentRepository -----

type fakeRepo struct {
	docs      map[string]*domain.Document
	saves     int
	deleted   []string
	saveErr   error
	deleteErr error

	listUser   string
	listLimit  int
	listOffset int

	searchQuery string
	searchLimit int
}

func newFakeRepo(docs ...*domain.Document) *fakeRepo {
	r := &fakeRepo{docs: map[string]*domain.Document{}}
	for _, d := range docs {
		r.docs[d.ID] = d
	}
	return r
}

func (r *fakeRepo) Save(ctx context.Context, d *domain.Document) (*domain.Document, error) {
	if r.saveErr != nil {
		return nil, r.saveErr
	}
	r.saves++
	r.docs[d.ID] = d
	return d, nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	return r.docs[id], nil
}

func (r *fakeRepo) GetByFilename(ctx context.Context, filename, userID string) (*domain.Document, error) {
	for _, d := range r.docs {
		if d.Filename == filename && d.UserID == userID {
			return d, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) GetByContentHash(ctx context.Context, userID, hash string) (*domain.Document, error) {
	for _, d := range r.docs {
		if d.ContentHash == hash && d.UserID == userID {
			return d, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Document, error) {
	r.listUser, r.listLimit, r.listOffset = userID, limit, offset
	var out []domain.Document
	for _, d := range r.docs {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *fakeRepo) Delete(ctx context.Context, id string) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}
	r.deleted = append(r.deleted, id)
	delete(r.docs, id)
	return nil
}

func (r *fakeRepo) Exists(ctx context.Context, id string) (bool, error) {
	_, ok := r.docs[id]
	return ok, nil
}

func (r *fakeRepo) CountByUser(ctx context.Context, userID string) (int64, error) {
	var n int64
	for _, d := range r.docs {
		if d.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) SearchByUser(ctx context.Context, userID, query string, limit int) ([]domain.Document, error) {
	r.searchQuery, r.searchLimit = query, limit
	return nil, nil
}

// ----- LLM -----

type fakeLLM struct {
	got       []domain.ChatMessage
	gotCtx    string
	reply     string
	fragments []string
	err       error
}

func (f *fakeLLM) GenerateResponse(ctx context.Context, msgs []domain.ChatMessage) (string, error) {
	f.got = msgs
	return f.reply, f.err
}

func (f *fakeLLM) GenerateStreamingResponse(ctx context.Context, msgs []domain.ChatMessage, retrieved string) iter.Seq2[string, error] {
	f.got, f.gotCtx = msgs, retrieved
	return func(yield func(string, error) bool) {
		for _, frag := range f.fragments {
			if !yield(frag, nil) {
				return
			}
		}
		if f.err != nil {
			yield("", f.err)
		}
	}
}

// ----- Extractor -----

type textExtractor struct{ err error }

func (x textExtractor) Extract(ctx context.Context, data []byte) (string, error) {
	if x.err != nil {
		return "", x.err
	}
	return string(data), nil
}

func testExtractors() Extractors {
	return Extractors{"txt": textExtractor{}, "md": textExtractor{}}
}
