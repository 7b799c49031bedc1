package insights

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpiazza/piazza/internal/model"
	"github.com/agentpiazza/piazza/internal/scope"
	"github.com/agentpiazza/piazza/internal/search"
	"github.com/agentpiazza/piazza/internal/service/embedding"
)

type fakeStore struct {
	insights    map[uuid.UUID]model.Insight
	queryCounts map[string]int

	failCreate bool
	deleted    []uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		insights:    make(map[uuid.UUID]model.Insight),
		queryCounts: make(map[string]int),
	}
}

func (f *fakeStore) CreateInsight(_ context.Context, in model.Insight, _ pgvector.Vector) (model.Insight, error) {
	if f.failCreate {
		return model.Insight{}, errors.New("connection refused")
	}
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	f.insights[in.ID] = in
	return in, nil
}

func (f *fakeStore) DeleteInsight(_ context.Context, id uuid.UUID) error {
	delete(f.insights, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeStore) GetInsight(_ context.Context, id uuid.UUID) (model.Insight, error) {
	in, ok := f.insights[id]
	if !ok {
		return model.Insight{}, model.ErrNotFound
	}
	return in, nil
}

func (f *fakeStore) GetInsightsByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Insight, error) {
	out := make(map[uuid.UUID]model.Insight)
	for _, id := range ids {
		if in, ok := f.insights[id]; ok {
			out[id] = in
		}
	}
	return out, nil
}

func (f *fakeStore) ListInsights(_ context.Context, _, _ string, _, _ int) ([]model.Insight, error) {
	var out []model.Insight
	for _, in := range f.insights {
		out = append(out, in)
	}
	return out, nil
}

func (f *fakeStore) VerifyInsight(_ context.Context, id, verifierID uuid.UUID) (int, error) {
	in, ok := f.insights[id]
	if !ok {
		return 0, model.ErrNotFound
	}
	if in.Metadata.AgentID == verifierID {
		return 0, model.ErrSelfVerification
	}
	in.Metadata.VerificationCount++
	f.insights[id] = in
	return in.Metadata.VerificationCount, nil
}

func (f *fakeStore) IncrementQueryCount(_ context.Context, topic string) error {
	f.queryCounts[topic]++
	return nil
}

type fakeIndex struct {
	points     map[uuid.UUID]search.Point
	hits       []search.Result
	failUpsert bool
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{points: make(map[uuid.UUID]search.Point)}
}

func (f *fakeIndex) Upsert(_ context.Context, p search.Point) error {
	if f.failUpsert {
		return errors.New("qdrant unreachable")
	}
	f.points[p.ID] = p
	return nil
}

func (f *fakeIndex) Query(_ context.Context, _ []float32, topK int) ([]search.Result, error) {
	if len(f.hits) > topK {
		return f.hits[:topK], nil
	}
	return f.hits, nil
}

func (f *fakeIndex) Delete(_ context.Context, id uuid.UUID) error {
	delete(f.points, id)
	return nil
}

func (f *fakeIndex) Healthy(context.Context) error { return nil }

func newService(store *fakeStore, index *fakeIndex, threshold float64) *Service {
	embedder := embedding.NewStaticProvider(64)
	guard := scope.New(embedder, "platform scope", threshold)
	return New(store, index, embedder, guard, slog.New(slog.DiscardHandler))
}

func validRequest() model.CreateInsightRequest {
	return model.CreateInsightRequest{
		Topic: "RAG Pipelines",
		Phase: model.PhaseDebug,
		Content: model.InsightContent{
			Problem:  "retriever returns noise",
			Solution: "rerank with a cross-encoder",
		},
		Tags: []string{"rag"},
	}
}

func TestCreateCommitsBothStores(t *testing.T) {
	store, index := newFakeStore(), newFakeIndex()
	svc := newService(store, index, -1) // accept everything

	agentID := uuid.New()
	in, err := svc.Create(context.Background(), agentID, validRequest())
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, in.ID)
	assert.Contains(t, store.insights, in.ID)
	assert.Contains(t, index.points, in.ID)
	assert.Equal(t, agentID, in.Metadata.AgentID)
}

func TestCreateScopeRejectWritesNothing(t *testing.T) {
	store, index := newFakeStore(), newFakeIndex()
	svc := newService(store, index, 0.99) // static vectors for distinct texts won't reach this

	_, err := svc.Create(context.Background(), uuid.New(), validRequest())
	var sv *model.ScopeViolationError
	require.ErrorAs(t, err, &sv)
	assert.Equal(t, 0.99, sv.Threshold)
	assert.Empty(t, store.insights)
	assert.Empty(t, index.points)
}

func TestCreateIndexFailureCompensates(t *testing.T) {
	store, index := newFakeStore(), newFakeIndex()
	index.failUpsert = true
	svc := newService(store, index, -1)

	_, err := svc.Create(context.Background(), uuid.New(), validRequest())
	require.ErrorIs(t, err, model.ErrProviderUnavailable)
	assert.Empty(t, store.insights, "store write must be unwound when indexing fails")
	assert.Len(t, store.deleted, 1)
}

func TestCreateStoreFailure(t *testing.T) {
	store, index := newFakeStore(), newFakeIndex()
	store.failCreate = true
	svc := newService(store, index, -1)

	_, err := svc.Create(context.Background(), uuid.New(), validRequest())
	require.ErrorIs(t, err, model.ErrProviderUnavailable)
	assert.Empty(t, index.points)
}

func TestCreateValidation(t *testing.T) {
	svc := newService(newFakeStore(), newFakeIndex(), -1)

	req := validRequest()
	req.Topic = ""
	_, err := svc.Create(context.Background(), uuid.New(), req)
	assert.ErrorIs(t, err, model.ErrValidation)

	req = validRequest()
	req.Phase = "Sprint"
	_, err = svc.Create(context.Background(), uuid.New(), req)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestVerifyPassesThroughTaxonomy(t *testing.T) {
	store, index := newFakeStore(), newFakeIndex()
	svc := newService(store, index, -1)

	owner := uuid.New()
	in, err := svc.Create(context.Background(), owner, validRequest())
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), owner, in.ID)
	assert.ErrorIs(t, err, model.ErrSelfVerification)

	count, err := svc.Verify(context.Background(), uuid.New(), in.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = svc.Verify(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSearchHydratesInIndexOrder(t *testing.T) {
	store, index := newFakeStore(), newFakeIndex()
	svc := newService(store, index, -1)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		req := validRequest()
		req.Topic = fmt.Sprintf("topic-%d", i)
		in, err := svc.Create(context.Background(), uuid.New(), req)
		require.NoError(t, err)
		ids = append(ids, in.ID)
	}

	// Index ranks 2, 0, 1; a fourth hit points at a row deleted since.
	index.hits = []search.Result{
		{InsightID: ids[2], Score: 0.9},
		{InsightID: ids[0], Score: 0.8},
		{InsightID: ids[1], Score: 0.7},
		{InsightID: uuid.New(), Score: 0.6},
	}

	results, err := svc.Search(context.Background(), "how do I fix my retriever", 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "topic-2", results[0].Topic)
	assert.Equal(t, 0.9, results[0].Score)
	assert.Equal(t, "topic-0", results[1].Topic)
	assert.Equal(t, "topic-1", results[2].Topic)

	// The search was attributed to the best match's topic.
	assert.Equal(t, 1, store.queryCounts["topic-2"])
}

func TestSearchEmbedFailure(t *testing.T) {
	store := newFakeStore()
	index := newFakeIndex()
	embedder := &failingEmbedder{}
	guard := scope.New(embedder, "scope", 0.3)
	svc := New(store, index, embedder, guard, slog.New(slog.DiscardHandler))

	_, err := svc.Search(context.Background(), "query", 5)
	require.ErrorIs(t, err, model.ErrProviderUnavailable)
	assert.Empty(t, store.queryCounts)
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) (pgvector.Vector, error) {
	return pgvector.Vector{}, errors.New("ollama down")
}

func (failingEmbedder) Dimensions() int { return 0 }
