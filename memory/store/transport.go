package store

import (
	"context"
	"database/sql"

	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"
)

// Row is one result row keyed by column name. Values are their textual
// representation; the codec layer owns parsing.
type Row map[string]string

// Tx is an open transaction on the durable store.
type Tx interface {
	ExecuteUpdate(ctx context.Context, query string) error
	Commit() error
	Rollback() error
}

// Transport is the query/update execution interface of the durable triple
// store. It is the only seam that touches the storage protocol, so the rest
// of the persistence module (and its tests) can run against fakes.
type Transport interface {
	ExecuteQuery(ctx context.Context, query string) ([]Row, error)
	ExecuteUpdate(ctx context.Context, query string) error
	BeginTransaction(ctx context.Context) (Tx, error)

	// Verify health-checks the connection. Called before bulk operations.
	Verify(ctx context.Context) error

	Close() error
}

// SQLiteTransport backs the triple store with an embedded SQLite database
// (modernc.org/sqlite, pure Go). Triples live in a single table scoped by
// named graph.
type SQLiteTransport struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS triples (
	graph     TEXT NOT NULL,
	subject   TEXT NOT NULL,
	predicate TEXT NOT NULL,
	object    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_triples_graph_subject ON triples(graph, subject);
CREATE INDEX IF NOT EXISTS idx_triples_graph_predicate ON triples(graph, predicate);
`

// NewSQLiteTransport opens (or creates) the database at path and ensures
// the triple schema exists. Use ":memory:" for an ephemeral store.
func NewSQLiteTransport(path string) (*SQLiteTransport, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, goerr.Wrap(err, "open sqlite database", goerr.V("path", path))
	}
	// modernc.org/sqlite serializes writes; a single connection avoids
	// table-lock races between overlapping transactions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "initialize triple schema")
	}
	return &SQLiteTransport{db: db}, nil
}

func (t *SQLiteTransport) ExecuteQuery(ctx context.Context, query string) ([]Row, error) {
	rows, err := t.db.QueryContext(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "execute query")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, goerr.Wrap(err, "read result columns")
	}

	var out []Row
	for rows.Next() {
		values := make([]sql.NullString, len(cols))
		scan := make([]any, len(cols))
		for i := range values {
			scan[i] = &values[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, goerr.Wrap(err, "scan result row")
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			row[col] = values[i].String
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (t *SQLiteTransport) ExecuteUpdate(ctx context.Context, query string) error {
	if _, err := t.db.ExecContext(ctx, query); err != nil {
		return goerr.Wrap(err, "execute update")
	}
	return nil
}

func (t *SQLiteTransport) BeginTransaction(ctx context.Context) (Tx, error) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "begin transaction")
	}
	return &sqliteTx{tx: tx}, nil
}

func (t *SQLiteTransport) Verify(ctx context.Context) error {
	if err := t.db.PingContext(ctx); err != nil {
		return goerr.Wrap(err, "store connection unhealthy")
	}
	var one int
	if err := t.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return goerr.Wrap(err, "store probe query failed")
	}
	return nil
}

func (t *SQLiteTransport) Close() error {
	return t.db.Close()
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) ExecuteUpdate(ctx context.Context, query string) error {
	if _, err := t.tx.ExecContext(ctx, query); err != nil {
		return goerr.Wrap(err, "execute update in transaction")
	}
	return nil
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}
