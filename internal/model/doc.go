// Package model defines the records moviesync moves from the relational
// source into the search index, and the pipelines that decide which entity
// types feed which index.
//
// # Entity types
//
// Three tables are tracked, each with an indexed modified column:
//   - film_work: the aggregate root of the movies index
//   - person: referenced by film_work through person_film_work (with a role)
//   - genre: referenced by film_work through genre_film_work
//
// # Pipelines
//
// A pipeline binds one index to a root entity type and the set of entity types
// whose changes must re-publish documents in that index. Checkpoints and run
// locks are namespaced by pipeline name, so the movies pipeline's genre
// checkpoint is independent of the genres pipeline's genre checkpoint.
package model
