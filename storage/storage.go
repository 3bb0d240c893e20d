// Package storage persists the scene list and exported scene
// payloads in sqlite. Scene payload reads are fronted by a TTL cache
// because the transition orchestrator and autosave hit the same rows
// in quick succession.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	cache "github.com/go-pkgz/expirable-cache/v3"
	"github.com/jmoiron/sqlx"
	"github.com/protolith/scenebridge"
	"github.com/protolith/scenebridge/state"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS scenes (
	position INTEGER NOT NULL,
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS scene_data (
	id TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
`

const (
	sceneDataTTL     = time.Minute
	sceneDataMaxKeys = 128
)

type Store struct {
	db    *sqlx.DB
	cache cache.Cache[string, []byte]
}

func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, scenebridge.WithStack(err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, scenebridge.WithStack(err)
	}
	return &Store{
		db: db,
		cache: cache.NewCache[string, []byte]().
			WithTTL(sceneDataTTL).
			WithMaxKeys(sceneDataMaxKeys),
	}, nil
}

func (s *Store) Close() error {
	return scenebridge.WithStack(s.db.Close())
}

// SaveScenes replaces the stored scene list, preserving order and
// marking the active scene.
func (s *Store) SaveScenes(ctx context.Context, refs []state.SceneRef, activeID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return scenebridge.WithStack(err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM scenes"); err != nil {
		return scenebridge.WithStack(err)
	}
	for position, ref := range refs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO scenes (position, id, name, active) VALUES (?, ?, ?, ?)",
			position, ref.ID, ref.Name, ref.ID == activeID,
		); err != nil {
			return scenebridge.WithStack(err)
		}
	}
	return scenebridge.WithStack(tx.Commit())
}

type sceneRow struct {
	ID     string `db:"id"`
	Name   string `db:"name"`
	Active bool   `db:"active"`
}

// LoadScenes returns the stored scene list in order plus the id of
// the scene that was active when it was saved ("" if none).
func (s *Store) LoadScenes(ctx context.Context) ([]state.SceneRef, string, error) {
	rows := []sceneRow{}
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT id, name, active FROM scenes ORDER BY position",
	); err != nil {
		return nil, "", scenebridge.WithStack(err)
	}
	refs := make([]state.SceneRef, 0, len(rows))
	activeID := ""
	for _, row := range rows {
		refs = append(refs, state.SceneRef{ID: row.ID, Name: row.Name})
		if row.Active {
			activeID = row.ID
		}
	}
	return refs, activeID, nil
}

func (s *Store) SetSceneData(ctx context.Context, id string, data []byte) error {
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO scene_data (id, data, updated_at) VALUES (?, ?, ?)
ON CONFLICT (id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		id, data, time.Now().UnixNano(),
	); err != nil {
		return scenebridge.WithStack(err)
	}
	s.cache.Set(id, data, 0)
	return nil
}

// SceneData returns the cached payload for a scene, or found=false if
// the scene has never been exported.
func (s *Store) SceneData(ctx context.Context, id string) ([]byte, bool, error) {
	if data, found := s.cache.Get(id); found {
		return data, true, nil
	}
	data := []byte{}
	err := s.db.GetContext(ctx, &data, "SELECT data FROM scene_data WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, scenebridge.WithStack(err)
	}
	s.cache.Set(id, data, 0)
	return data, true, nil
}
