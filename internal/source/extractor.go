package source

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vvlad212/moviesync/internal/model"
)

// Page is one batch of records ready for loading.
type Page struct {
	Records []model.Record

	// HighWaterMark is the checkpoint value that becomes safe once Records
	// are loaded. Zero means the page must not advance the checkpoint.
	HighWaterMark time.Time
}

// Plan extracts the changes of one entity type for one pipeline.
type Plan interface {
	// Pages yields pages of changed records in checkpoint order. The
	// sequence stops after the first error.
	Pages(ctx context.Context, since time.Time) iter.Seq2[Page, error]
}

// Options bounds the extraction.
type Options struct {
	// PageSize is the number of aggregate records per page.
	PageSize int

	// RelatedBatchSize is the number of changed related rows resolved per
	// fan-out cycle.
	RelatedBatchSize int
}

// Extractor builds plans against a source database.
type Extractor struct {
	db     *DB
	tables Tables
	opts   Options
	log    *slog.Logger
}

// NewExtractor creates an extractor.
func NewExtractor(db *DB, opts Options, log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.RelatedBatchSize <= 0 {
		opts.RelatedBatchSize = 100
	}
	return &Extractor{
		db:     db,
		tables: db.Tables(),
		opts:   opts,
		log:    log.With("component", "extractor"),
	}
}

// relation describes how a related table links to film_work.
type relation struct {
	entity model.EntityType
	link   string
	column string
}

var relations = map[model.EntityType]relation{
	model.Person: {entity: model.Person, link: "person_film_work", column: "person_id"},
	model.Genre:  {entity: model.Genre, link: "genre_film_work", column: "genre_id"},
}

// Plan selects the extraction strategy for entity e in pipeline p.
func (x *Extractor) Plan(p model.Pipeline, e model.EntityType) (Plan, error) {
	if !p.Tracks(e) {
		return nil, fmt.Errorf("pipeline %s does not track %s", p.Name, e)
	}
	switch {
	case p.Root == model.FilmWork && e == model.FilmWork:
		return &rootPlan{x: x}, nil
	case p.Root == model.FilmWork:
		rel, ok := relations[e]
		if !ok {
			return nil, fmt.Errorf("no relation from %s to film_work", e)
		}
		return &fanoutPlan{x: x, rel: rel}, nil
	case p.Root == model.Genre && e == model.Genre:
		return &flatPlan{x: x, table: "genre", columns: []string{"id", "name", "modified"}, scan: scanGenre}, nil
	case p.Root == model.Person && e == model.Person:
		return &flatPlan{x: x, table: "person", columns: []string{"id", "full_name", "modified"}, scan: scanPerson}, nil
	default:
		return nil, fmt.Errorf("no extraction plan for %s in pipeline %s", e, p.Name)
	}
}

// Extract is Plan followed by Pages.
func (x *Extractor) Extract(ctx context.Context, p model.Pipeline, e model.EntityType, since time.Time) (iter.Seq2[Page, error], error) {
	plan, err := x.Plan(p, e)
	if err != nil {
		return nil, err
	}
	return plan.Pages(ctx, since), nil
}

// rootPlan pages through changed film works.
type rootPlan struct {
	x *Extractor
}

func (r *rootPlan) Pages(ctx context.Context, since time.Time) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		x := r.x
		pos := keyset{modified: since}
		for {
			cte, args := x.tables.changedRootsCTE(pos, x.opts.PageSize+1)
			works, err := x.filmWorks(ctx, "changed film works", cte, args)
			if err != nil {
				yield(Page{}, err)
				return
			}
			if len(works) == 0 {
				return
			}
			works, mark, more := cutPage(works, x.opts.PageSize, func(fw model.FilmWork) time.Time { return fw.Modified })
			x.log.Info("found updated rows", "table", "film_work", "count", len(works))

			if !yield(Page{Records: records(works), HighWaterMark: mark}, nil) {
				return
			}
			if !more {
				return
			}
			last := works[len(works)-1]
			pos = keyset{modified: last.Modified, id: last.ID.String()}
		}
	}
}

// fanoutPlan turns changes of a related table into pages of affected film
// works. Each cycle handles at most RelatedBatchSize related rows; only the
// last page of a cycle carries the cycle's high-water mark, so a failure in
// the middle of a cycle replays the whole cycle.
type fanoutPlan struct {
	x   *Extractor
	rel relation
}

type changedRow struct {
	id       uuid.UUID
	modified time.Time
}

func scanChanged(rows *sql.Rows) (changedRow, error) {
	var c changedRow
	if err := rows.Scan(&c.id, &c.modified); err != nil {
		return c, err
	}
	c.modified = c.modified.UTC()
	return c, nil
}

func (f *fanoutPlan) Pages(ctx context.Context, since time.Time) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		x := f.x
		pos := keyset{modified: since}
		for {
			q, args := x.tables.changedRowsQuery(string(f.rel.entity), []string{"id", "modified"}, pos, x.opts.RelatedBatchSize+1)
			changed, err := queryAll(ctx, x.db, "changed "+string(f.rel.entity), q, args, scanChanged)
			if err != nil {
				yield(Page{}, err)
				return
			}
			if len(changed) == 0 {
				return
			}
			changed, mark, more := cutPage(changed, x.opts.RelatedBatchSize, func(c changedRow) time.Time { return c.modified })
			x.log.Info("found updated rows", "table", f.rel.entity, "count", len(changed))

			roots, err := f.affectedRoots(ctx, changed)
			if err != nil {
				yield(Page{}, err)
				return
			}
			x.log.Info("found film works in need of updating", "table", f.rel.entity, "count", len(roots))

			if !f.yieldRoots(ctx, roots, mark, yield) {
				return
			}
			if !more {
				return
			}
			last := changed[len(changed)-1]
			pos = keyset{modified: last.modified, id: last.id.String()}
		}
	}
}

func (f *fanoutPlan) affectedRoots(ctx context.Context, changed []changedRow) ([]uuid.UUID, error) {
	args := make([]any, len(changed))
	for i, c := range changed {
		args[i] = c.id.String()
	}
	q := f.x.tables.affectedRootsQuery(f.rel.link, f.rel.column, len(args))
	rows, err := queryAll(ctx, f.x.db, "related film works", q, args, scanChanged)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(rows))
	for i, r := range rows {
		ids[i] = r.id
	}
	return ids, nil
}

// yieldRoots loads ids in PageSize chunks. It reports false when the
// consumer stopped or an error was yielded.
func (f *fanoutPlan) yieldRoots(ctx context.Context, ids []uuid.UUID, hwm time.Time, yield func(Page, error) bool) bool {
	x := f.x
	if len(ids) == 0 {
		return yield(Page{HighWaterMark: hwm}, nil)
	}
	for start := 0; start < len(ids); start += x.opts.PageSize {
		end := min(start+x.opts.PageSize, len(ids))
		chunk := ids[start:end]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id.String()
		}
		works, err := x.filmWorks(ctx, "film work projections", x.tables.rootsByIDCTE(len(chunk)), args)
		if err != nil {
			yield(Page{}, err)
			return false
		}

		page := Page{Records: records(works)}
		lastChunk := end == len(ids)
		if lastChunk {
			page.HighWaterMark = hwm
		}
		if len(works) == 0 && !lastChunk {
			continue
		}
		if !yield(page, nil) {
			return false
		}
	}
	return true
}

// flatPlan propagates a table's own rows to its own index.
type flatPlan struct {
	x       *Extractor
	table   string
	columns []string
	scan    func(*sql.Rows) (model.Record, error)
}

func scanGenre(rows *sql.Rows) (model.Record, error) {
	var g model.Genre
	if err := rows.Scan(&g.ID, &g.Name, &g.Modified); err != nil {
		return nil, err
	}
	g.Modified = g.Modified.UTC()
	return g, nil
}

func scanPerson(rows *sql.Rows) (model.Record, error) {
	var p model.Person
	if err := rows.Scan(&p.ID, &p.FullName, &p.Modified); err != nil {
		return nil, err
	}
	p.Modified = p.Modified.UTC()
	return p, nil
}

func (f *flatPlan) Pages(ctx context.Context, since time.Time) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		x := f.x
		pos := keyset{modified: since}
		for {
			q, args := x.tables.changedRowsQuery(f.table, f.columns, pos, x.opts.PageSize+1)
			recs, err := queryAll(ctx, x.db, "changed "+f.table, q, args, f.scan)
			if err != nil {
				yield(Page{}, err)
				return
			}
			if len(recs) == 0 {
				return
			}
			recs, mark, more := cutPage(recs, x.opts.PageSize, model.Record.ModifiedAt)
			x.log.Info("found updated rows", "table", f.table, "count", len(recs))

			if !yield(Page{Records: recs, HighWaterMark: mark}, nil) {
				return
			}
			if !more {
				return
			}
			last := recs[len(recs)-1]
			pos = keyset{modified: last.ModifiedAt(), id: last.RecordID().String()}
		}
	}
}

// cutPage trims rows, fetched with one row of lookahead, to limit. more
// reports whether rows continue past the page.
//
// The mark is what the page may advance its checkpoint to. The next run
// restarts with a strict modified > mark bound, so when the row after the
// page shares the last row's modified value the mark drops to the largest
// value below it, or to zero (no advance) when the whole page is one tie.
func cutPage[T any](rows []T, limit int, modified func(T) time.Time) (page []T, mark time.Time, more bool) {
	if len(rows) <= limit {
		return rows, modified(rows[len(rows)-1]), false
	}
	page = rows[:limit]
	last := modified(page[limit-1])
	if !modified(rows[limit]).Equal(last) {
		return page, last, true
	}
	for i := limit - 2; i >= 0; i-- {
		if m := modified(page[i]); m.Before(last) {
			return page, m, true
		}
	}
	return page, time.Time{}, true
}

func records(works []model.FilmWork) []model.Record {
	out := make([]model.Record, len(works))
	for i, w := range works {
		out[i] = w
	}
	return out
}

// projectionRow is one row of the projection join.
type projectionRow struct {
	id          uuid.UUID
	title       string
	description sql.NullString
	rating      sql.NullFloat64
	typ         sql.NullString
	created     sql.NullTime
	modified    time.Time
	role        sql.NullString
	personID    uuid.NullUUID
	personName  sql.NullString
	genre       sql.NullString
}

func scanProjection(rows *sql.Rows) (projectionRow, error) {
	var r projectionRow
	err := rows.Scan(
		&r.id, &r.title, &r.description, &r.rating, &r.typ, &r.created, &r.modified,
		&r.role, &r.personID, &r.personName, &r.genre,
	)
	return r, err
}

// filmWorks runs the projection join over the film works selected by cte
// and folds the rows into aggregates, keeping the join's modified order.
func (x *Extractor) filmWorks(ctx context.Context, step, cte string, args []any) ([]model.FilmWork, error) {
	rows, err := queryAll(ctx, x.db, step, x.tables.projectionQuery(cte), args, scanProjection)
	if err != nil {
		return nil, err
	}
	return foldProjection(rows), nil
}

func foldProjection(rows []projectionRow) []model.FilmWork {
	var (
		works   []model.FilmWork
		cur     *model.FilmWork
		persons map[model.PersonRole]bool
		genres  map[string]bool
	)
	finish := func() {
		if cur == nil {
			return
		}
		cur.Genres = make([]string, 0, len(genres))
		for g := range genres {
			cur.Genres = append(cur.Genres, g)
		}
		sort.Strings(cur.Genres)
		works = append(works, *cur)
	}

	for _, r := range rows {
		if cur == nil || cur.ID != r.id {
			finish()
			cur = &model.FilmWork{
				ID:          r.id,
				Title:       r.title,
				Description: r.description.String,
				Type:        r.typ.String,
				Modified:    r.modified.UTC(),
				Persons:     []model.PersonRole{},
			}
			if r.rating.Valid {
				rating := r.rating.Float64
				cur.Rating = &rating
			}
			if r.created.Valid {
				cur.Created = r.created.Time.UTC()
			}
			persons = make(map[model.PersonRole]bool)
			genres = make(map[string]bool)
		}
		if r.personID.Valid && r.role.Valid {
			pr := model.PersonRole{
				Role:     model.Role(r.role.String),
				PersonID: r.personID.UUID,
				Name:     r.personName.String,
			}
			if !persons[pr] {
				persons[pr] = true
				cur.Persons = append(cur.Persons, pr)
			}
		}
		if r.genre.Valid {
			genres[r.genre.String] = true
		}
	}
	finish()
	return works
}
