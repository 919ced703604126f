package composition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a Postgres-backed implementation of Repository.
// Snapshots are stored as jsonb; history rows retain full snapshots.
type PostgresRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresRepository connects to the database at dsn and verifies the
// connection.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresRepository{pool: pool, now: time.Now}, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	r.pool.Close()
}

// Migrate creates the schema if it does not exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS compositions (
			id             text PRIMARY KEY,
			name           text NOT NULL,
			tempo          double precision NOT NULL,
			time_signature text NOT NULL,
			created_at     timestamptz NOT NULL,
			updated_at     timestamptz NOT NULL,
			track_count    integer NOT NULL DEFAULT 0,
			clip_count     integer NOT NULL DEFAULT 0,
			snapshot       jsonb NOT NULL,
			autosave       jsonb,
			autosave_at    timestamptz,
			next_version   integer NOT NULL DEFAULT 1
		);
		CREATE TABLE IF NOT EXISTS composition_history (
			composition_id text NOT NULL REFERENCES compositions(id) ON DELETE CASCADE,
			version        integer NOT NULL,
			name           text NOT NULL,
			created_at     timestamptz NOT NULL,
			snapshot       jsonb NOT NULL,
			PRIMARY KEY (composition_id, version)
		);
	`)
	return err
}

func (r *PostgresRepository) scanMeta(row pgx.Row) (Composition, error) {
	var m Composition
	err := row.Scan(&m.ID, &m.Name, &m.Tempo, &m.TimeSignature,
		&m.CreatedAt, &m.UpdatedAt, &m.TrackCount, &m.ClipCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return Composition{}, ErrNotFound
	}
	return m, err
}

const metaColumns = `id, name, tempo, time_signature, created_at, updated_at, track_count, clip_count`

// CreateComposition implements Repository.CreateComposition.
func (r *PostgresRepository) CreateComposition(ctx context.Context, meta Composition, snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	tracks, clips := countTracksAndClips(snap)
	_, err = r.pool.Exec(ctx, `
		INSERT INTO compositions (id, name, tempo, time_signature, created_at, updated_at, track_count, clip_count, snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		meta.ID, meta.Name, meta.Tempo, meta.TimeSignature,
		meta.CreatedAt, meta.UpdatedAt, tracks, clips, raw)
	return err
}

// GetComposition implements Repository.GetComposition.
func (r *PostgresRepository) GetComposition(ctx context.Context, id CompositionID) (Composition, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+metaColumns+` FROM compositions WHERE id = $1`, id)
	return r.scanMeta(row)
}

// ListCompositions implements Repository.ListCompositions.
func (r *PostgresRepository) ListCompositions(ctx context.Context) ([]Composition, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+metaColumns+` FROM compositions ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Composition, 0)
	for rows.Next() {
		var m Composition
		if err := rows.Scan(&m.ID, &m.Name, &m.Tempo, &m.TimeSignature,
			&m.CreatedAt, &m.UpdatedAt, &m.TrackCount, &m.ClipCount); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetDocument implements Repository.GetDocument.
func (r *PostgresRepository) GetDocument(ctx context.Context, id CompositionID, useAutosave bool) (Document, error) {
	column := "snapshot"
	if useAutosave {
		column = "autosave"
	}
	row := r.pool.QueryRow(ctx, `
		SELECT `+metaColumns+`, `+column+`
		FROM compositions WHERE id = $1`, id)

	var m Composition
	var raw []byte
	err := row.Scan(&m.ID, &m.Name, &m.Tempo, &m.TimeSignature,
		&m.CreatedAt, &m.UpdatedAt, &m.TrackCount, &m.ClipCount, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	if raw == nil {
		return Document{}, ErrNoAutosave
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Document{}, err
	}
	return Document{Composition: m, Snapshot: snap}, nil
}

// UpdateMetadata implements Repository.UpdateMetadata.
func (r *PostgresRepository) UpdateMetadata(ctx context.Context, id CompositionID, upd MetadataUpdate) (Composition, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE compositions SET
			name           = COALESCE($2, name),
			tempo          = COALESCE($3, tempo),
			time_signature = COALESCE($4, time_signature),
			updated_at     = $5
		WHERE id = $1
		RETURNING `+metaColumns,
		id, upd.Name, upd.Tempo, upd.TimeSignature, r.now().UTC())
	return r.scanMeta(row)
}

// SaveComposition implements Repository.SaveComposition.
func (r *PostgresRepository) SaveComposition(ctx context.Context, id CompositionID, opts SaveOptions) (SaveResult, error) {
	now := r.now().UTC()

	if opts.IsAutosave {
		tag, err := r.pool.Exec(ctx, `
			UPDATE compositions SET autosave = snapshot, autosave_at = $2 WHERE id = $1`,
			id, now)
		if err != nil {
			return SaveResult{}, err
		}
		if tag.RowsAffected() == 0 {
			return SaveResult{}, ErrNotFound
		}
		return SaveResult{}, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return SaveResult{}, err
	}
	defer tx.Rollback(ctx)

	var raw []byte
	var name string
	var nextVersion int
	err = tx.QueryRow(ctx, `
		SELECT snapshot, name, next_version FROM compositions WHERE id = $1 FOR UPDATE`, id).
		Scan(&raw, &name, &nextVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return SaveResult{}, ErrNotFound
	}
	if err != nil {
		return SaveResult{}, err
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return SaveResult{}, err
	}
	tracks, clips := countTracksAndClips(snap)

	res := SaveResult{}
	if opts.CreateHistory {
		if _, err := tx.Exec(ctx, `
			INSERT INTO composition_history (composition_id, version, name, created_at, snapshot)
			VALUES ($1, $2, $3, $4, $5)`,
			id, nextVersion, name, now, raw); err != nil {
			return SaveResult{}, err
		}
		nextVersion++
		res.HistoryCreated = true
	}

	if _, err := tx.Exec(ctx, `
		UPDATE compositions SET track_count = $2, clip_count = $3, updated_at = $4, next_version = $5
		WHERE id = $1`,
		id, tracks, clips, now, nextVersion); err != nil {
		return SaveResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return SaveResult{}, err
	}
	return res, nil
}

// DeleteComposition implements Repository.DeleteComposition.
func (r *PostgresRepository) DeleteComposition(ctx context.Context, id CompositionID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM compositions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListHistory implements Repository.ListHistory.
func (r *PostgresRepository) ListHistory(ctx context.Context, id CompositionID) ([]VersionEntry, error) {
	if _, err := r.GetComposition(ctx, id); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT version, created_at, name FROM composition_history
		WHERE composition_id = $1 ORDER BY version DESC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]VersionEntry, 0)
	for rows.Next() {
		var e VersionEntry
		if err := rows.Scan(&e.Version, &e.Timestamp, &e.Name); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RestoreVersion implements Repository.RestoreVersion.
func (r *PostgresRepository) RestoreVersion(ctx context.Context, id CompositionID, version int) (Document, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Document{}, err
	}
	defer tx.Rollback(ctx)

	var raw []byte
	err = tx.QueryRow(ctx, `
		SELECT snapshot FROM composition_history WHERE composition_id = $1 AND version = $2`,
		id, version).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, metaErr := r.GetComposition(ctx, id); metaErr != nil {
			return Document{}, metaErr
		}
		return Document{}, ErrVersionNotFound
	}
	if err != nil {
		return Document{}, err
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Document{}, err
	}
	tracks, clips := countTracksAndClips(snap)

	row := tx.QueryRow(ctx, `
		UPDATE compositions SET snapshot = $2, track_count = $3, clip_count = $4, updated_at = $5
		WHERE id = $1
		RETURNING `+metaColumns,
		id, raw, tracks, clips, r.now().UTC())
	meta, err := r.scanMeta(row)
	if err != nil {
		return Document{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Document{}, err
	}
	return Document{Composition: meta, Snapshot: snap}, nil
}

// RecoverAutosave implements Repository.RecoverAutosave.
func (r *PostgresRepository) RecoverAutosave(ctx context.Context, id CompositionID) (Document, error) {
	return r.GetDocument(ctx, id, true)
}

// updateSlice replaces one top-level key of the snapshot jsonb.
func (r *PostgresRepository) updateSlice(ctx context.Context, id CompositionID, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE compositions SET snapshot = jsonb_set(snapshot, ARRAY[$2], $3::jsonb), updated_at = $4
		WHERE id = $1`,
		id, key, raw, r.now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSequence implements Repository.UpdateSequence.
func (r *PostgresRepository) UpdateSequence(ctx context.Context, id CompositionID, doc SequenceDoc) error {
	if err := r.updateSlice(ctx, id, "sequence", doc); err != nil {
		return err
	}
	tracks := len(doc.Tracks)
	clips := 0
	for _, t := range doc.Tracks {
		clips += len(t.Clips)
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE compositions SET track_count = $2, clip_count = $3 WHERE id = $1`,
		id, tracks, clips)
	return err
}

// UpdateMixer implements Repository.UpdateMixer.
func (r *PostgresRepository) UpdateMixer(ctx context.Context, id CompositionID, st MixerState) error {
	return r.updateSlice(ctx, id, "mixer", st)
}

// UpdateEffectChain implements Repository.UpdateEffectChain.
func (r *PostgresRepository) UpdateEffectChain(ctx context.Context, id CompositionID, trackID string, chain []Effect) error {
	raw, err := json.Marshal(chain)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE compositions
		SET snapshot = jsonb_set(snapshot, ARRAY['effect_chains', $2], $3::jsonb), updated_at = $4
		WHERE id = $1`,
		id, trackID, raw, r.now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSampleAssignment implements Repository.UpdateSampleAssignment.
func (r *PostgresRepository) UpdateSampleAssignment(ctx context.Context, id CompositionID, trackID string, a *SampleAssignment) error {
	now := r.now().UTC()

	if a == nil {
		tag, err := r.pool.Exec(ctx, `
			UPDATE compositions
			SET snapshot = snapshot #- ARRAY['sample_assignments', $2], updated_at = $3
			WHERE id = $1`,
			id, trackID, now)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	}

	raw, err := json.Marshal(a)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE compositions
		SET snapshot = jsonb_set(snapshot, ARRAY['sample_assignments', $2], $3::jsonb), updated_at = $4
		WHERE id = $1`,
		id, trackID, raw, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CompositionCount implements Repository.CompositionCount.
func (r *PostgresRepository) CompositionCount(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM compositions`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
