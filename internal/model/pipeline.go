package model

import (
	"fmt"
	"slices"
	"sort"
)

// EntityType names a tracked source table.
type EntityType string

const (
	FilmWork EntityType = "film_work"
	Person   EntityType = "person"
	Genre    EntityType = "genre"
)

// ParseEntityType validates s as a known entity type.
func ParseEntityType(s string) (EntityType, error) {
	switch e := EntityType(s); e {
	case FilmWork, Person, Genre:
		return e, nil
	default:
		return "", fmt.Errorf("unknown entity type %q", s)
	}
}

// Pipeline binds an index to the entity types that feed it.
type Pipeline struct {
	// Name namespaces checkpoints and locks.
	Name string

	// Index is the search index the pipeline writes.
	Index string

	// Root is the entity type whose records become index documents.
	Root EntityType

	// Tracked lists every entity type whose changes re-publish documents,
	// root first.
	Tracked []EntityType
}

// IsRoot reports whether e is the pipeline's root type.
func (p Pipeline) IsRoot(e EntityType) bool {
	return p.Root == e
}

// Tracks reports whether changes to e are propagated by this pipeline.
func (p Pipeline) Tracks(e EntityType) bool {
	return slices.Contains(p.Tracked, e)
}

// Built-in pipelines.
var (
	MoviesPipeline = Pipeline{
		Name:    "movies",
		Index:   "movies",
		Root:    FilmWork,
		Tracked: []EntityType{FilmWork, Person, Genre},
	}
	GenresPipeline = Pipeline{
		Name:    "genres",
		Index:   "genres",
		Root:    Genre,
		Tracked: []EntityType{Genre},
	}
	PersonsPipeline = Pipeline{
		Name:    "persons",
		Index:   "persons",
		Root:    Person,
		Tracked: []EntityType{Person},
	}
)

var pipelines = map[string]Pipeline{
	MoviesPipeline.Name:  MoviesPipeline,
	GenresPipeline.Name:  GenresPipeline,
	PersonsPipeline.Name: PersonsPipeline,
}

// LookupPipeline returns the built-in pipeline with the given name.
func LookupPipeline(name string) (Pipeline, error) {
	p, ok := pipelines[name]
	if !ok {
		return Pipeline{}, fmt.Errorf("unknown pipeline %q (known: %v)", name, PipelineNames())
	}
	return p, nil
}

// PipelineNames returns the built-in pipeline names in sorted order.
func PipelineNames() []string {
	names := make([]string, 0, len(pipelines))
	for name := range pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
