package journal

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"log"
	"strconv"

	"github.com/doctree/syncserver/pointer"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// PGConfig configures the Postgres-backed journal store, built the way
// the teacher's DBRepositoryConfig is built.
type PGConfig struct {
	DBHostName     string
	DBPort         int
	DBUser         string
	DBPassword     string
	DBName         string
	DBSchema       string
	DBMaxOpenConns int
	DBMaxIdleConns int
}

// PGStore is the Postgres adapter for the journal.Store contract (§4.B),
// backed by the nodes/updates/changes tables described in §6.
type PGStore struct {
	db *sqlx.DB

	findByKey      *sqlx.NamedStmt
	insertNode     *sqlx.NamedStmt
	insertUpdate   *sqlx.NamedStmt
	insertChange   *sqlx.NamedStmt
	selectChanges  *sqlx.NamedStmt
	selectMaxVers  *sqlx.NamedStmt
}

// NewPGStore connects to Postgres, ensures the schema exists, and
// prepares the named statements the store reuses across calls.
func NewPGStore(cfg *PGConfig) (*PGStore, error) {
	connInfo := connInfoString(cfg)

	db, err := sqlx.Connect("postgres", connInfo)
	if err != nil {
		log.Fatalf("alert: Connect error. host=%s, port=%d, user=%s, dbname=%s, error=%s",
			cfg.DBHostName, cfg.DBPort, cfg.DBUser, cfg.DBName, err)
	}
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)

	s := &PGStore{db: db}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func connInfoString(cfg *PGConfig) string {
	return "host=" + cfg.DBHostName +
		" port=" + strconv.Itoa(cfg.DBPort) +
		" user=" + cfg.DBUser +
		" dbname=" + cfg.DBName +
		" password=" + cfg.DBPassword +
		" sslmode=disable search_path=" + cfg.DBSchema
}

func (s *PGStore) init() error {
	reportError := func(err error) error {
		return errors.Wrap(err, "Failed to initialize journal schema")
	}

	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS nodes (
	id BIGSERIAL PRIMARY KEY,
	key TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS updates (
	id BIGSERIAL PRIMARY KEY,
	"nodeId" BIGINT NOT NULL REFERENCES nodes(id),
	version BIGINT NOT NULL,
	UNIQUE ("nodeId", version)
);
CREATE TABLE IF NOT EXISTS changes (
	id BIGSERIAL PRIMARY KEY,
	"updateId" BIGINT NOT NULL REFERENCES updates(id),
	ordering INT NOT NULL,
	target TEXT NOT NULL,
	value TEXT
);
CREATE INDEX IF NOT EXISTS updates_node_version_idx ON updates ("nodeId", version);
`)
	if err != nil {
		return reportError(err)
	}

	prepare := func(dest **sqlx.NamedStmt, query string) error {
		stmt, err := s.db.PrepareNamed(query)
		if err != nil {
			return reportError(err)
		}
		*dest = stmt
		return nil
	}

	if err := prepare(&s.findByKey, `SELECT id FROM nodes WHERE key = :key`); err != nil {
		return err
	}
	if err := prepare(&s.insertNode, `INSERT INTO nodes (key) VALUES (:key) RETURNING id`); err != nil {
		return err
	}
	if err := prepare(&s.insertUpdate, `INSERT INTO updates ("nodeId", version) VALUES (:node_id, :version) RETURNING id`); err != nil {
		return err
	}
	if err := prepare(&s.insertChange, `INSERT INTO changes ("updateId", ordering, target, value) VALUES (:update_id, :ordering, :target, :value)`); err != nil {
		return err
	}
	if err := prepare(&s.selectChanges, `
SELECT changes.target AS target, changes.value AS value
FROM updates
INNER JOIN changes ON changes."updateId" = updates.id
WHERE updates."nodeId" = :node_id AND updates.version >= :from_version
ORDER BY updates.version ASC, changes.ordering ASC`); err != nil {
		return err
	}
	if err := prepare(&s.selectMaxVers, `SELECT COALESCE(MAX(version), 0) AS version FROM updates WHERE "nodeId" = :node_id`); err != nil {
		return err
	}

	return nil
}

func (s *PGStore) CreateDocument(ctx context.Context) (int64, string, error) {
	handle := newHandle()

	var id int64
	err := withDBTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return getTx(ctx, tx, s.insertNode, &id, map[string]interface{}{"key": handle})
	})
	if err != nil {
		return 0, "", errors.Wrapf(err, "Failed to create document")
	}

	log.Printf("info: Created document. id: %d, handle: %s", id, handle)
	return id, handle, nil
}

func newHandle() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

func (s *PGStore) LookupDocument(ctx context.Context, handle string) (int64, error) {
	var id int64
	err := withDBTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return getTx(ctx, tx, s.findByKey, &id, map[string]interface{}{"key": handle})
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, errors.Wrapf(err, "Failed to look up document. handle: %s", handle)
	}
	return id, nil
}

func (s *PGStore) AppendUpdate(ctx context.Context, docID int64, version int64, changes []pointer.Change) error {
	return withDBTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var updateID int64
		err := getTx(ctx, tx, s.insertUpdate, &updateID, map[string]interface{}{
			"node_id": docID,
			"version": version,
		})
		if err != nil {
			if isDuplicateKeyError(err) {
				return errors.Errorf("version %d already recorded for document %d", version, docID)
			}
			return errors.Wrapf(err, "Failed to insert update. doc_id: %d, version: %d", docID, version)
		}

		for i, change := range changes {
			value, err := changeValueColumn(change)
			if err != nil {
				return err
			}
			_, err = tx.NamedStmtContext(ctx, s.insertChange).ExecContext(ctx, map[string]interface{}{
				"update_id": updateID,
				"ordering":  i,
				"target":    change.Target,
				"value":     value,
			})
			if err != nil {
				return errors.Wrapf(err, "Failed to insert change. update_id: %d, ordering: %d", updateID, i)
			}
		}
		return nil
	})
}

func changeValueColumn(change pointer.Change) (interface{}, error) {
	if !change.HasValue() {
		return nil, nil
	}
	return string(*change.Value), nil
}

func (s *PGStore) LoadChanges(ctx context.Context, docID int64, fromVersion int64) ([]pointer.Change, error) {
	var rows []struct {
		Target string  `db:"target"`
		Value  *string `db:"value"`
	}

	err := withDBTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return selectTx(ctx, tx, s.selectChanges, &rows, map[string]interface{}{
			"node_id":      docID,
			"from_version": fromVersion,
		})
	})
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to load changes. doc_id: %d, from_version: %d", docID, fromVersion)
	}

	changes := make([]pointer.Change, 0, len(rows))
	for _, r := range rows {
		c := pointer.Change{Target: r.Target}
		if r.Value != nil {
			raw := json.RawMessage(*r.Value)
			c.Value = &raw
		}
		changes = append(changes, c)
	}
	return changes, nil
}

func (s *PGStore) LoadVersion(ctx context.Context, docID int64) (int64, error) {
	var version int64
	err := withDBTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return getTx(ctx, tx, s.selectMaxVers, &version, map[string]interface{}{"node_id": docID})
	})
	if err != nil {
		return 0, errors.Wrapf(err, "Failed to load version. doc_id: %d", docID)
	}
	return version, nil
}

func withDBTx(ctx context.Context, db *sqlx.DB, callback func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return errors.Wrap(err, "Failed to begin DB transaction")
	}

	if err := callback(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			log.Printf("warn: Failed to rollback DB transaction. err: %v", rerr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "Failed to commit DB transaction")
	}
	return nil
}

func getTx(ctx context.Context, tx *sqlx.Tx, stmt *sqlx.NamedStmt, dest interface{}, params map[string]interface{}) error {
	return tx.NamedStmtContext(ctx, stmt).GetContext(ctx, dest, params)
}

func selectTx(ctx context.Context, tx *sqlx.Tx, stmt *sqlx.NamedStmt, dest interface{}, params map[string]interface{}) error {
	return tx.NamedStmtContext(ctx, stmt).SelectContext(ctx, dest, params)
}

func isDuplicateKeyError(err error) bool {
	// The error code is 23505.
	// see https://www.postgresql.org/docs/13/errcodes-appendix.html
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == pq.ErrorCode("23505")
	}
	return false
}
