package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntityType(t *testing.T) {
	for _, s := range []string{"film_work", "person", "genre"} {
		e, err := ParseEntityType(s)
		require.NoError(t, err)
		assert.Equal(t, EntityType(s), e)
	}

	_, err := ParseEntityType("filmwork")
	assert.Error(t, err)
}

func TestLookupPipeline(t *testing.T) {
	p, err := LookupPipeline("movies")
	require.NoError(t, err)
	assert.Equal(t, FilmWork, p.Root)
	assert.True(t, p.IsRoot(FilmWork))
	assert.False(t, p.IsRoot(Person))
	assert.True(t, p.Tracks(Genre))

	g, err := LookupPipeline("genres")
	require.NoError(t, err)
	assert.True(t, g.IsRoot(Genre))
	assert.False(t, g.Tracks(FilmWork))

	_, err = LookupPipeline("films")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "movies")
}

func TestPipelineNames_Sorted(t *testing.T) {
	assert.Equal(t, []string{"genres", "movies", "persons"}, PipelineNames())
}
