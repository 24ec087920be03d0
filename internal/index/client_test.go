package index

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvlad212/moviesync/internal/model"
	"github.com/vvlad212/moviesync/internal/retry"
	"github.com/vvlad212/moviesync/internal/testutil"
)

func testPolicy() retry.Policy {
	return retry.Policy{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxAttempts: 5}
}

func newTestClient(t *testing.T, es *testutil.FakeElasticsearch) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), Config{URL: es.URL()}, testPolicy(), nil)
	require.NoError(t, err)
	return c
}

func genreActions(names ...string) []Action {
	out := make([]Action, 0, len(names))
	for _, n := range names {
		a, _ := Transform(model.Genre{ID: testutil.ID(n), Name: n})
		out = append(out, a)
	}
	return out
}

func TestNewClient_FailsWhenUnreachable(t *testing.T) {
	es := testutil.NewFakeElasticsearch(t)
	url := es.URL()
	es.Close()

	p := testPolicy()
	p.MaxAttempts = 2
	_, err := NewClient(context.Background(), Config{URL: url}, p, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to elasticsearch")
}

func TestEnsureIndex_CreatesOnce(t *testing.T) {
	ctx := context.Background()
	es := testutil.NewFakeElasticsearch(t)
	c := newTestClient(t, es)

	created, err := c.EnsureIndex(ctx, "movies")
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, es.HasIndex("movies"))

	want, err := Mapping("movies")
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(es.Mapping("movies")))

	created, err = c.EnsureIndex(ctx, "movies")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestEnsureIndex_UnknownIndex(t *testing.T) {
	es := testutil.NewFakeElasticsearch(t)
	c := newTestClient(t, es)

	_, err := c.EnsureIndex(context.Background(), "films")
	require.Error(t, err)
	assert.False(t, es.HasIndex("films"))
}

func TestBulk_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	es := testutil.NewFakeElasticsearch(t)
	c := newTestClient(t, es)

	actions := genreActions("Drama", "Comedy")
	require.NoError(t, c.Bulk(ctx, "genres", actions))
	first := es.Docs("genres")
	require.Len(t, first, 2)

	require.NoError(t, c.Bulk(ctx, "genres", actions))
	assert.Equal(t, first, es.Docs("genres"))

	n, err := c.Count(ctx, "genres")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestBulk_EmptyIsNoop(t *testing.T) {
	es := testutil.NewFakeElasticsearch(t)
	c := newTestClient(t, es)

	require.NoError(t, c.Bulk(context.Background(), "genres", nil))
	assert.Zero(t, es.BulkCalls())
}

func TestBulk_RetriesDroppedConnections(t *testing.T) {
	es := testutil.NewFakeElasticsearch(t)
	c := newTestClient(t, es)
	es.DropConnections(2)

	require.NoError(t, c.Bulk(context.Background(), "genres", genreActions("Drama")))
	assert.Equal(t, 3, es.BulkCalls())
	assert.Len(t, es.Docs("genres"), 1)
}

func TestBulk_RetriesOverload(t *testing.T) {
	es := testutil.NewFakeElasticsearch(t)
	c := newTestClient(t, es)
	es.FailBulk(http.StatusServiceUnavailable, 2)

	require.NoError(t, c.Bulk(context.Background(), "genres", genreActions("Drama")))
	assert.Equal(t, 3, es.BulkCalls())
}

func TestBulk_RejectedRequestIsLoadError(t *testing.T) {
	es := testutil.NewFakeElasticsearch(t)
	c := newTestClient(t, es)
	es.FailBulk(http.StatusBadRequest, 1)

	err := c.Bulk(context.Background(), "genres", genreActions("Drama"))
	require.Error(t, err)

	le, ok := AsLoadError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, le.Status)
	assert.Contains(t, le.Reason, "fake_failure")
	assert.Equal(t, 1, es.BulkCalls(), "refused requests are not retried")
}

func TestBulk_PartialFailureListsItems(t *testing.T) {
	es := testutil.NewFakeElasticsearch(t)
	c := newTestClient(t, es)
	bad := testutil.ID("Broken").String()
	es.Reject(bad, "failed to parse field [name]")

	err := c.Bulk(context.Background(), "genres", genreActions("Drama", "Broken"))
	require.Error(t, err)
	assert.True(t, IsLoadError(err))

	le, _ := AsLoadError(err)
	require.Len(t, le.Items, 1)
	assert.Equal(t, ItemError{
		ID:     bad,
		Status: http.StatusBadRequest,
		Type:   "mapper_parsing_exception",
		Reason: "failed to parse field [name]",
	}, le.Items[0])
	assert.Contains(t, err.Error(), "1 documents rejected")

	// The rest of the request was applied.
	_, ok := es.Doc("genres", testutil.ID("Drama").String())
	assert.True(t, ok)
}

func TestBulk_GivesUpWhenClusterGone(t *testing.T) {
	es := testutil.NewFakeElasticsearch(t)
	c := newTestClient(t, es)
	es.Close()

	err := c.Bulk(context.Background(), "genres", genreActions("Drama"))
	require.Error(t, err)
	assert.False(t, IsLoadError(err))
}

func TestLoadError_Message(t *testing.T) {
	le := &LoadError{Index: "movies", Status: 400, Reason: "bad"}
	assert.Equal(t, "bulk load into movies failed: status 400: bad", le.Error())

	le = &LoadError{Index: "movies"}
	for i := 0; i < 5; i++ {
		le.Items = append(le.Items, ItemError{ID: "x", Status: 400, Type: "t", Reason: "r"})
	}
	assert.Contains(t, le.Error(), "5 documents rejected")
	assert.Contains(t, le.Error(), "and 2 more")
}
