package index

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvlad212/moviesync/internal/model"
	"github.com/vvlad212/moviesync/internal/testutil"
)

type recordingBulker struct {
	index   string
	actions [][]Action
	err     error
}

func (b *recordingBulker) Bulk(ctx context.Context, index string, actions []Action) error {
	b.index = index
	b.actions = append(b.actions, actions)
	return b.err
}

func TestLoader_EmptyPageIsNoop(t *testing.T) {
	b := &recordingBulker{}
	l := NewLoader(b, "movies", nil)

	require.NoError(t, l.Load(context.Background(), nil))
	assert.Empty(t, b.actions)
}

func TestLoader_OneBulkPerPage(t *testing.T) {
	b := &recordingBulker{}
	l := NewLoader(b, "movies", nil)
	fw := starWars()

	require.NoError(t, l.Load(context.Background(), []model.Record{fw}))
	require.Len(t, b.actions, 1)
	assert.Equal(t, "movies", b.index)
	assert.Equal(t, []Action{{ID: fw.ID.String(), Source: Movie(fw)}}, b.actions[0])
}

func TestLoader_PropagatesErrors(t *testing.T) {
	b := &recordingBulker{err: &LoadError{Index: "movies", Items: []ItemError{{ID: "x", Status: 400}}}}
	l := NewLoader(b, "movies", nil)

	err := l.Load(context.Background(), []model.Record{starWars()})
	assert.True(t, IsLoadError(err))

	b.err = errors.New("boom")
	err = l.Load(context.Background(), []model.Record{starWars()})
	assert.EqualError(t, err, "boom")
}

func TestLoader_UpsertAgainstCluster(t *testing.T) {
	ctx := context.Background()
	es := testutil.NewFakeElasticsearch(t)
	l := NewLoader(newTestClient(t, es), "movies", nil)
	fw := starWars()

	require.NoError(t, l.Load(ctx, []model.Record{fw}))
	require.NoError(t, l.Load(ctx, []model.Record{fw}))

	docs := es.Docs("movies")
	require.Len(t, docs, 1)
	doc, ok := es.Doc("movies", fw.ID.String())
	require.True(t, ok)
	assert.Equal(t, "Star Wars", doc["title"])
	assert.Equal(t, "Mark Hamill Harrison Ford", doc["actors_names"])
	assert.Equal(t, "George Lucas", doc["director"])
	assert.Equal(t, "movies", l.Index())
}
