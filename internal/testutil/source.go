package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/vvlad212/moviesync/internal/model"
)

// SourceDriver is the database/sql driver used by SourceDB.
const SourceDriver = "sqlite3"

// sourceSchema mirrors the movies database without the content schema
// prefix. TIMESTAMP columns make go-sqlite3 decode them as time.Time.
const sourceSchema = `
CREATE TABLE film_work (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT,
	rating REAL,
	type TEXT,
	created TIMESTAMP,
	modified TIMESTAMP NOT NULL
);
CREATE INDEX film_work_modified_idx ON film_work (modified);

CREATE TABLE person (
	id TEXT PRIMARY KEY,
	full_name TEXT NOT NULL,
	created TIMESTAMP,
	modified TIMESTAMP NOT NULL
);
CREATE INDEX person_modified_idx ON person (modified);

CREATE TABLE genre (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	created TIMESTAMP,
	modified TIMESTAMP NOT NULL
);
CREATE INDEX genre_modified_idx ON genre (modified);

CREATE TABLE person_film_work (
	id TEXT PRIMARY KEY,
	film_work_id TEXT NOT NULL REFERENCES film_work (id),
	person_id TEXT NOT NULL REFERENCES person (id),
	role TEXT NOT NULL,
	created TIMESTAMP,
	UNIQUE (film_work_id, person_id, role)
);

CREATE TABLE genre_film_work (
	id TEXT PRIMARY KEY,
	film_work_id TEXT NOT NULL REFERENCES film_work (id),
	genre_id TEXT NOT NULL REFERENCES genre (id),
	created TIMESTAMP,
	UNIQUE (film_work_id, genre_id)
);
`

// SourceDB is a temp-file SQLite database with the movies schema.
type SourceDB struct {
	t    testing.TB
	DSN  string
	conn *sql.DB
}

// NewSourceDB creates an empty movies database that lives for the test.
func NewSourceDB(t testing.TB) *SourceDB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "movies.db")
	conn, err := sql.Open(SourceDriver, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = conn.Exec(sourceSchema)
	require.NoError(t, err)
	return &SourceDB{t: t, DSN: dsn, conn: conn}
}

func (s *SourceDB) exec(query string, args ...any) {
	s.t.Helper()
	_, err := s.conn.Exec(query, args...)
	require.NoError(s.t, err)
}

// InsertFilmWork stores fw. Persons and Genres are ignored; link them with
// LinkPerson and LinkGenre.
func (s *SourceDB) InsertFilmWork(fw model.FilmWork) {
	s.t.Helper()
	var created any
	if !fw.Created.IsZero() {
		created = fw.Created.UTC()
	}
	s.exec(`INSERT INTO film_work (id, title, description, rating, type, created, modified)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		fw.ID.String(), fw.Title, fw.Description, fw.Rating, fw.Type, created, fw.Modified.UTC())
}

// InsertPerson stores p.
func (s *SourceDB) InsertPerson(p model.Person) {
	s.t.Helper()
	s.exec(`INSERT INTO person (id, full_name, modified) VALUES ($1, $2, $3)`,
		p.ID.String(), p.FullName, p.Modified.UTC())
}

// InsertGenre stores g.
func (s *SourceDB) InsertGenre(g model.Genre) {
	s.t.Helper()
	s.exec(`INSERT INTO genre (id, name, modified) VALUES ($1, $2, $3)`,
		g.ID.String(), g.Name, g.Modified.UTC())
}

// LinkPerson attaches person to film work under role.
func (s *SourceDB) LinkPerson(filmWork, person uuid.UUID, role model.Role) {
	s.t.Helper()
	s.exec(`INSERT INTO person_film_work (id, film_work_id, person_id, role) VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), filmWork.String(), person.String(), string(role))
}

// LinkGenre attaches genre to film work.
func (s *SourceDB) LinkGenre(filmWork, genre uuid.UUID) {
	s.t.Helper()
	s.exec(`INSERT INTO genre_film_work (id, film_work_id, genre_id) VALUES ($1, $2, $3)`,
		uuid.NewString(), filmWork.String(), genre.String())
}

// Touch sets the modified column of one row of table.
func (s *SourceDB) Touch(table model.EntityType, id uuid.UUID, modified time.Time) {
	s.t.Helper()
	s.exec(`UPDATE `+string(table)+` SET modified = $1 WHERE id = $2`, modified.UTC(), id.String())
}

// Close closes the fixture's own connection. Other connections to DSN stay
// usable.
func (s *SourceDB) Close() error {
	return s.conn.Close()
}

// ID returns a deterministic uuid for a short test label, so fixtures and
// golden files can refer to the same records.
func ID(label string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("moviesync-test/"+label))
}
