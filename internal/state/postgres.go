package state

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"VulnDigest/internal/domain"
	"VulnDigest/internal/ports"
)

// PostgresStore keeps processed identities and daily counters in Postgres
// for deployments where the state file is not durable enough. Load pulls
// the full snapshot (volume is tens to low hundreds of rows); Persist
// upserts only the rows touched by this run.
type PostgresStore struct {
	db    *sql.DB
	limit int

	snap       snapshot
	loaded     bool
	dirty      map[string]struct{}
	dirtyDates map[string]struct{}
}

var _ ports.StateStore = (*PostgresStore)(nil)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Open connects to Postgres with the lib/pq driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// NewPostgresStore wires a sql.DB and the daily publish limit.
func NewPostgresStore(db *sql.DB, postsPerDay int) *PostgresStore {
	return &PostgresStore{
		db:         db,
		limit:      postsPerDay,
		snap:       emptySnapshot(),
		dirty:      map[string]struct{}{},
		dirtyDates: map[string]struct{}{},
	}
}

// Load reads all processed identities and daily counters.
func (p *PostgresStore) Load(ctx context.Context) error {
	if p.db == nil {
		return &domain.StateLoadError{Err: fmt.Errorf("no database connection")}
	}

	snap := emptySnapshot()

	rows, err := psql.
		Select("identity", "first_seen", "published", "post_id").
		From("processed_vulnerabilities").
		RunWith(p.db).QueryContext(ctx)
	if err != nil {
		return &domain.StateLoadError{Err: fmt.Errorf("query processed: %w", err)}
	}
	for rows.Next() {
		var (
			entry  domain.ProcessedEntry
			postID sql.NullInt64
		)
		if err := rows.Scan(&entry.Identity, &entry.FirstSeen, &entry.Published, &postID); err != nil {
			_ = rows.Close()
			return &domain.StateLoadError{Err: fmt.Errorf("scan processed: %w", err)}
		}
		if postID.Valid {
			entry.PostID = postID.Int64
		}
		snap.Processed[entry.Identity] = entry
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return &domain.StateLoadError{Err: fmt.Errorf("iterate processed: %w", err)}
	}
	if err := rows.Close(); err != nil {
		return &domain.StateLoadError{Err: fmt.Errorf("close processed rows: %w", err)}
	}

	days, err := psql.
		Select("day", "published_count").
		From("daily_publish_counts").
		RunWith(p.db).QueryContext(ctx)
	if err != nil {
		return &domain.StateLoadError{Err: fmt.Errorf("query daily counts: %w", err)}
	}
	for days.Next() {
		var (
			day   string
			count int
		)
		if err := days.Scan(&day, &count); err != nil {
			_ = days.Close()
			return &domain.StateLoadError{Err: fmt.Errorf("scan daily count: %w", err)}
		}
		snap.Daily[day] = count
	}
	if err := days.Err(); err != nil {
		_ = days.Close()
		return &domain.StateLoadError{Err: fmt.Errorf("iterate daily counts: %w", err)}
	}
	if err := days.Close(); err != nil {
		return &domain.StateLoadError{Err: fmt.Errorf("close daily rows: %w", err)}
	}

	p.snap = snap
	p.loaded = true
	return nil
}

func (p *PostgresStore) HasSeen(identity string) bool {
	return p.snap.hasSeen(identity)
}

func (p *PostgresStore) MarkSeen(identity string, entry domain.ProcessedEntry) {
	p.snap.markSeen(identity, entry)
	p.dirty[identity] = struct{}{}
}

func (p *PostgresStore) RemainingQuota(date string) int {
	return p.snap.remainingQuota(date, p.limit)
}

func (p *PostgresStore) IncrementQuota(date string) {
	p.snap.incrementQuota(date)
	p.dirtyDates[date] = struct{}{}
}

// Persist upserts the rows touched during this run.
func (p *PostgresStore) Persist(ctx context.Context) error {
	if !p.loaded {
		return &domain.StatePersistError{Err: fmt.Errorf("store was never loaded")}
	}

	for identity := range p.dirty {
		entry := p.snap.Processed[identity]
		var postID sql.NullInt64
		if entry.PostID != 0 {
			postID = sql.NullInt64{Int64: entry.PostID, Valid: true}
		}

		_, err := psql.
			Insert("processed_vulnerabilities").
			Columns("identity", "first_seen", "published", "post_id").
			Values(entry.Identity, entry.FirstSeen, entry.Published, postID).
			Suffix(`ON CONFLICT (identity) DO UPDATE
                    SET published = EXCLUDED.published,
                        post_id = EXCLUDED.post_id`).
			RunWith(p.db).ExecContext(ctx)
		if err != nil {
			return &domain.StatePersistError{Err: fmt.Errorf("upsert %s: %w", identity, err)}
		}
	}

	for date := range p.dirtyDates {
		_, err := psql.
			Insert("daily_publish_counts").
			Columns("day", "published_count").
			Values(date, p.snap.Daily[date]).
			Suffix(`ON CONFLICT (day) DO UPDATE
                    SET published_count = EXCLUDED.published_count`).
			RunWith(p.db).ExecContext(ctx)
		if err != nil {
			return &domain.StatePersistError{Err: fmt.Errorf("upsert day %s: %w", date, err)}
		}
	}

	p.dirty = map[string]struct{}{}
	p.dirtyDates = map[string]struct{}{}
	return nil
}
