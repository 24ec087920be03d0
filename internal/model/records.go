package model

import (
	"time"

	"github.com/google/uuid"
)

// Record is one source row (or aggregate) ready to be indexed.
type Record interface {
	RecordID() uuid.UUID
	ModifiedAt() time.Time
}

// Role tags a person's participation in a film work.
type Role string

const (
	RoleDirector Role = "director"
	RoleWriter   Role = "writer"
	RoleActor    Role = "actor"
)

// PersonRole is a person attached to a film work under a role.
type PersonRole struct {
	Role     Role
	PersonID uuid.UUID
	Name     string
}

// FilmWork is the aggregate root: the film_work row with its persons and
// genres folded in.
type FilmWork struct {
	ID          uuid.UUID
	Title       string
	Description string
	Rating      *float64
	Type        string
	Created     time.Time
	Modified    time.Time
	Persons     []PersonRole
	Genres      []string
}

func (f FilmWork) RecordID() uuid.UUID   { return f.ID }
func (f FilmWork) ModifiedAt() time.Time { return f.Modified }

// Genre is a genre row.
type Genre struct {
	ID       uuid.UUID
	Name     string
	Modified time.Time
}

func (g Genre) RecordID() uuid.UUID   { return g.ID }
func (g Genre) ModifiedAt() time.Time { return g.Modified }

// Person is a person row.
type Person struct {
	ID       uuid.UUID
	FullName string
	Modified time.Time
}

func (p Person) RecordID() uuid.UUID   { return p.ID }
func (p Person) ModifiedAt() time.Time { return p.Modified }
