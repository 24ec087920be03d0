package index

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/vvlad212/moviesync/internal/model"
)

// PersonRef is a person nested in a movie document.
type PersonRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MovieDocument is the movies index document shape.
type MovieDocument struct {
	ID           string      `json:"id"`
	IMDBRating   *float64    `json:"imdb_rating"`
	Genre        []string    `json:"genre"`
	Title        string      `json:"title"`
	Description  string      `json:"description"`
	Director     string      `json:"director"`
	ActorsNames  string      `json:"actors_names"`
	WritersNames []string    `json:"writers_names"`
	Actors       []PersonRef `json:"actors"`
	Writers      []PersonRef `json:"writers"`
}

// GenreDocument is the genres index document shape.
type GenreDocument struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PersonDocument is the persons index document shape.
type PersonDocument struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
}

// Action is one bulk upsert addressed by document id.
type Action struct {
	ID     string
	Source any
}

// nfc normalizes text so equal names produce byte-equal documents.
func nfc(s string) string {
	return norm.NFC.String(s)
}

// Transform converts a record into its bulk action.
func Transform(r model.Record) (Action, error) {
	switch rec := r.(type) {
	case model.FilmWork:
		return Action{ID: rec.ID.String(), Source: Movie(rec)}, nil
	case model.Genre:
		return Action{ID: rec.ID.String(), Source: GenreDocument{ID: rec.ID.String(), Name: nfc(rec.Name)}}, nil
	case model.Person:
		return Action{ID: rec.ID.String(), Source: PersonDocument{ID: rec.ID.String(), FullName: nfc(rec.FullName)}}, nil
	default:
		return Action{}, fmt.Errorf("no document shape for %T", r)
	}
}

// Movie builds the movies document for fw. The director is a single name;
// when several persons hold the role the last one wins.
func Movie(fw model.FilmWork) MovieDocument {
	doc := MovieDocument{
		ID:           fw.ID.String(),
		IMDBRating:   fw.Rating,
		Genre:        make([]string, 0, len(fw.Genres)),
		Title:        nfc(fw.Title),
		Description:  nfc(fw.Description),
		WritersNames: []string{},
		Actors:       []PersonRef{},
		Writers:      []PersonRef{},
	}
	for _, g := range fw.Genres {
		doc.Genre = append(doc.Genre, nfc(g))
	}

	var actorNames []string
	for _, p := range fw.Persons {
		ref := PersonRef{ID: p.PersonID.String(), Name: nfc(p.Name)}
		switch p.Role {
		case model.RoleDirector:
			doc.Director = ref.Name
		case model.RoleWriter:
			doc.Writers = append(doc.Writers, ref)
			doc.WritersNames = append(doc.WritersNames, ref.Name)
		case model.RoleActor:
			doc.Actors = append(doc.Actors, ref)
			actorNames = append(actorNames, ref.Name)
		}
	}
	doc.ActorsNames = strings.Join(actorNames, " ")
	return doc
}
