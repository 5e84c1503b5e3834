// Package sqlite stores the mesh node registry in a SQLite database.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	proto "github.com/ystepanoff/nrfmesh/protocol"
	"github.com/ystepanoff/nrfmesh/registry"
)

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	id                  INTEGER PRIMARY KEY,
	unique_id           INTEGER NOT NULL UNIQUE,
	address             INTEGER NOT NULL DEFAULT 0,
	release_time_millis INTEGER NOT NULL DEFAULT 0,
	name                TEXT NOT NULL DEFAULT '',
	type                INTEGER NOT NULL DEFAULT 0,
	topic               TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS payloads (
	id                 INTEGER PRIMARY KEY,
	node_unique_id     INTEGER NOT NULL REFERENCES nodes(unique_id) ON DELETE CASCADE,
	type               INTEGER NOT NULL,
	payload_text       TEXT NOT NULL,
	update_time_millis INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS payloads_node ON payloads(node_unique_id, update_time_millis);
`

// Registry is a registry.Registry backed by a SQLite file.
type Registry struct {
	db  *sql.DB
	log *slog.Logger
}

var _ registry.Registry = (*Registry)(nil)

// Open opens or creates the database at path and applies the schema.
func Open(path string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	r := &Registry{db: db, log: logger.With("component", "sqlite")}
	r.log.Debug("registry opened", "path", path)
	return r, nil
}

func (r *Registry) Close() error { return r.db.Close() }

const latestPayload = `
SELECT type, payload_text, update_time_millis FROM payloads
WHERE node_unique_id = ? ORDER BY update_time_millis DESC, id DESC LIMIT 1`

func (r *Registry) Nodes() ([]registry.Node, error) {
	rows, err := r.db.Query(`SELECT unique_id, address, release_time_millis, name, type, topic
		FROM nodes ORDER BY unique_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []registry.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list nodes: %w", err)
	}
	rows.Close()

	for i := range nodes {
		p, ok, err := r.LatestPayload(nodes[i].UniqueID)
		if err != nil {
			return nil, err
		}
		if ok {
			nodes[i].LastPayload = p
		}
	}
	return nodes, nil
}

func (r *Registry) Node(uniqueID uint8) (registry.Node, bool, error) {
	row := r.db.QueryRow(`SELECT unique_id, address, release_time_millis, name, type, topic
		FROM nodes WHERE unique_id = ?`, uniqueID)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Node{}, false, nil
	}
	if err != nil {
		return registry.Node{}, false, err
	}
	p, ok, err := r.LatestPayload(uniqueID)
	if err != nil {
		return registry.Node{}, false, err
	}
	if ok {
		n.LastPayload = p
	}
	return n, true, nil
}

func (r *Registry) UpsertNode(n registry.Node) error {
	_, err := r.db.Exec(`INSERT INTO nodes (unique_id, address, release_time_millis, name, type, topic)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(unique_id) DO UPDATE SET
			address = excluded.address,
			release_time_millis = excluded.release_time_millis,
			name = excluded.name,
			type = excluded.type,
			topic = excluded.topic`,
		n.UniqueID, uint16(n.Address), millis(n.ReleaseTime), n.Name, n.Type, n.Topic)
	if err != nil {
		return fmt.Errorf("sqlite: upsert node %d: %w", n.UniqueID, err)
	}
	r.log.Debug("node saved", "id", n.UniqueID, "address", n.Address)
	return nil
}

// DeleteNode removes the node; its payloads go with it.
func (r *Registry) DeleteNode(uniqueID uint8) error {
	if _, err := r.db.Exec(`DELETE FROM nodes WHERE unique_id = ?`, uniqueID); err != nil {
		return fmt.Errorf("sqlite: delete node %d: %w", uniqueID, err)
	}
	return nil
}

func (r *Registry) LatestPayload(uniqueID uint8) (registry.PayloadRecord, bool, error) {
	var (
		p  registry.PayloadRecord
		at int64
	)
	err := r.db.QueryRow(latestPayload, uniqueID).Scan(&p.Type, &p.Text, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.PayloadRecord{}, false, nil
	}
	if err != nil {
		return registry.PayloadRecord{}, false, fmt.Errorf("sqlite: latest payload of %d: %w", uniqueID, err)
	}
	p.At = time.UnixMilli(at)
	return p, true, nil
}

func (r *Registry) AppendPayload(uniqueID uint8, typeTag byte, text string, at time.Time) error {
	var exists bool
	if err := r.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM nodes WHERE unique_id = ?)`, uniqueID).Scan(&exists); err != nil {
		return fmt.Errorf("sqlite: append payload for %d: %w", uniqueID, err)
	}
	if !exists {
		return registry.ErrUnknownNode
	}
	_, err := r.db.Exec(`INSERT INTO payloads (node_unique_id, type, payload_text, update_time_millis)
		VALUES (?, ?, ?, ?)`, uniqueID, typeTag, text, millis(at))
	if err != nil {
		return fmt.Errorf("sqlite: append payload for %d: %w", uniqueID, err)
	}
	return nil
}

func (r *Registry) NodeCount() (int, error) {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM nodes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count nodes: %w", err)
	}
	return n, nil
}

func (r *Registry) PayloadCount(uniqueID uint8) (int, error) {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM payloads WHERE node_unique_id = ?`, uniqueID).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count payloads of %d: %w", uniqueID, err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(s scanner) (registry.Node, error) {
	var (
		n       registry.Node
		addr    uint16
		release int64
	)
	if err := s.Scan(&n.UniqueID, &addr, &release, &n.Name, &n.Type, &n.Topic); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return registry.Node{}, err
		}
		return registry.Node{}, fmt.Errorf("sqlite: scan node: %w", err)
	}
	n.Address = proto.Address(addr)
	if release != 0 {
		n.ReleaseTime = time.UnixMilli(release)
	}
	return n, nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
