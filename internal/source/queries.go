package source

import (
	"fmt"
	"strings"
)

// Tables qualifies table names with the configured schema.
type Tables struct {
	Schema string
}

// Name returns the qualified name of table.
func (t Tables) Name(table string) string {
	if t.Schema == "" {
		return table
	}
	return t.Schema + "." + table
}

// placeholders returns "$from, $from+1, ..." for n arguments. Both lib/pq
// and go-sqlite3 bind numbered parameters.
func placeholders(from, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", from+i)
	}
	return b.String()
}

// keyset is a position in a (modified, id) ordered scan. The first page has
// no id and uses a strict modified > since bound.
type keyset struct {
	modified any
	id       string
}

// where renders the keyset predicate for alias and returns its arguments,
// numbered from $1.
func (k keyset) where(alias string) (string, []any) {
	if k.id == "" {
		return fmt.Sprintf("%[1]s.modified > $1", alias), []any{k.modified}
	}
	return fmt.Sprintf("(%[1]s.modified > $1 OR (%[1]s.modified = $1 AND %[1]s.id > $2))", alias),
		[]any{k.modified, k.id}
}

// changedRowsQuery selects at most limit changed rows of table after k.
func (t Tables) changedRowsQuery(table string, columns []string, k keyset, limit int) (string, []any) {
	where, args := k.where("t")
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = "t." + c
	}
	q := fmt.Sprintf(`SELECT %s
FROM %s t
WHERE %s
ORDER BY t.modified, t.id
LIMIT $%d`, strings.Join(cols, ", "), t.Name(table), where, len(args)+1)
	return q, append(args, limit)
}

// affectedRootsQuery finds film works linked to any of n related ids
// through link.column. The group-by collapses a person linked under several
// roles to one row.
func (t Tables) affectedRootsQuery(link, column string, n int) string {
	return fmt.Sprintf(`SELECT fw.id, fw.modified
FROM %s fw
LEFT JOIN %s rfw ON rfw.film_work_id = fw.id
WHERE rfw.%s IN (%s)
GROUP BY fw.id, fw.modified
ORDER BY fw.modified, fw.id`, t.Name("film_work"), t.Name(link), column, placeholders(1, n))
}

// projectionQuery joins film works selected by pageCTE with all persons and
// genres. One output row per (film work, person role, genre) combination;
// rows of one film work are adjacent and film works come in modified order.
func (t Tables) projectionQuery(pageCTE string) string {
	return fmt.Sprintf(`WITH page AS (
%s
)
SELECT fw.id, fw.title, fw.description, fw.rating, fw.type, fw.created, fw.modified,
       pfw.role, p.id, p.full_name, g.name
FROM %s fw
JOIN page ON page.id = fw.id
LEFT JOIN %s pfw ON pfw.film_work_id = fw.id
LEFT JOIN %s p ON p.id = pfw.person_id
LEFT JOIN %s gfw ON gfw.film_work_id = fw.id
LEFT JOIN %s g ON g.id = gfw.genre_id
ORDER BY fw.modified, fw.id, p.full_name, p.id, pfw.role, g.name`,
		pageCTE,
		t.Name("film_work"),
		t.Name("person_film_work"),
		t.Name("person"),
		t.Name("genre_film_work"),
		t.Name("genre"),
	)
}

// changedRootsCTE selects the next page of changed film work ids after k.
func (t Tables) changedRootsCTE(k keyset, limit int) (string, []any) {
	where, args := k.where("fw")
	q := fmt.Sprintf(`SELECT fw.id FROM %s fw
WHERE %s
ORDER BY fw.modified, fw.id
LIMIT $%d`, t.Name("film_work"), where, len(args)+1)
	return q, append(args, limit)
}

// rootsByIDCTE selects the given n film work ids.
func (t Tables) rootsByIDCTE(n int) string {
	return fmt.Sprintf(`SELECT fw.id FROM %s fw WHERE fw.id IN (%s)`, t.Name("film_work"), placeholders(1, n))
}
