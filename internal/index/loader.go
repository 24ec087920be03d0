package index

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vvlad212/moviesync/internal/model"
)

// Bulker upserts actions into an index.
type Bulker interface {
	Bulk(ctx context.Context, index string, actions []Action) error
}

// Loader transforms pages of records into one bulk upsert per page.
type Loader struct {
	bulk  Bulker
	index string
	log   *slog.Logger
}

// NewLoader creates a loader writing into index.
func NewLoader(b Bulker, index string, log *slog.Logger) *Loader {
	if log == nil {
		log = slog.Default()
	}
	return &Loader{bulk: b, index: index, log: log.With("component", "loader", "index", index)}
}

// Index returns the target index name.
func (l *Loader) Index() string {
	return l.index
}

// Load upserts records. An empty page is a no-op.
func (l *Loader) Load(ctx context.Context, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}
	actions := make([]Action, 0, len(records))
	for _, r := range records {
		a, err := Transform(r)
		if err != nil {
			return fmt.Errorf("transform %s: %w", r.RecordID(), err)
		}
		actions = append(actions, a)
	}

	if err := l.bulk.Bulk(ctx, l.index, actions); err != nil {
		if le, ok := AsLoadError(err); ok {
			for _, it := range le.Items {
				l.log.Error("document rejected", "id", it.ID, "status", it.Status, "type", it.Type, "reason", it.Reason)
			}
		}
		return err
	}
	l.log.Info("loaded documents", "count", len(actions))
	return nil
}
