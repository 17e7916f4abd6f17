package domain

// Embedding is an immutable vector together with the model that produced it
// and the exact text it was computed from. The vector is copied on the way in
// and on the way out, so callers can never mutate a stored embedding.
type Embedding struct {
	vector []float32
	model  string
	text   string
}

// NewEmbedding returns an Embedding holding a private copy of vector.
func NewEmbedding(vector []float32, model, text string) Embedding {
	v := make([]float32, len(vector))
	copy(v, vector)
	return Embedding{vector: v, model: model, text: text}
}

// Vector returns a copy of the embedding values.
func (e Embedding) Vector() []float32 {
	v := make([]float32, len(e.vector))
	copy(v, e.vector)
	return v
}

// Model is the identifier of the model that produced the vector.
func (e Embedding) Model() string { return e.model }

// Text is the source text the vector was computed from.
func (e Embedding) Text() string { return e.text }

// Dim is the vector length.
func (e Embedding) Dim() int { return len(e.vector) }
