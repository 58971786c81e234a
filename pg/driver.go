// Package pg implements the streamstore storage driver over PostgreSQL using
// pgx. It also carries the schema bootstrap used by the CLI.
package pg

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emberfall-io/streamstore"
)

// DefaultSchema is the Postgres schema the driver operates in.
const DefaultSchema = "streamstore"

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Driver is the pgx-backed streamstore.Driver.
//
// Ownership: the pool is handed over to the driver; Close closes it. Appends
// to one stream are serialized with a transactional advisory lock, so the
// per-stream version sequence stays dense without table locks. The unique
// constraints remain the backstop — their violations surface with the
// constraint names the store classifies.
type Driver struct {
	pool   *pgxpool.Pool
	schema string
}

var _ streamstore.Driver = (*Driver)(nil)

// Option configures the Driver.
type Option func(*Driver) error

// WithSchema sets the Postgres schema (default "streamstore"). The name is
// validated and safely quoted in queries.
func WithSchema(schema string) Option {
	return func(d *Driver) error {
		if !identRe.MatchString(schema) {
			return fmt.Errorf("pg: invalid schema identifier %q", schema)
		}
		d.schema = schema
		return nil
	}
}

// NewDriver constructs a Driver over the given pool.
func NewDriver(pool *pgxpool.Pool, opts ...Option) (*Driver, error) {
	if pool == nil {
		return nil, errors.New("pg: nil pool")
	}

	d := &Driver{
		pool:   pool,
		schema: DefaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Close implements streamstore.Driver.
func (d *Driver) Close() { d.pool.Close() }

func (d *Driver) table(name string) string {
	return pgx.Identifier{d.schema, name}.Sanitize()
}

const messageColumns = `message_id, stream_id, stream_version, type, data, meta, position, created_at`

// Append implements streamstore.Driver.
func (d *Driver) Append(ctx context.Context, streamID string, expectedVersion int64, now time.Time, messages []streamstore.NewMessage) (streamstore.AppendOutcome, error) {
	tx, err := d.begin(ctx)
	if err != nil {
		return streamstore.AppendOutcome{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out, err := d.appendTx(ctx, tx, streamID, expectedVersion, now, messages)
	if err != nil {
		return streamstore.AppendOutcome{}, err
	}
	if out.Version == streamstore.ConflictVersion {
		return out, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return streamstore.AppendOutcome{}, err
	}
	return out, nil
}

// SetMetadata implements streamstore.Driver. The metadata append and the
// retention-hint update on the target stream commit atomically.
func (d *Driver) SetMetadata(ctx context.Context, streamID, metaStreamID string, expectedVersion int64, now time.Time, msg streamstore.NewMessage, maxAge, maxCount *int64) (int64, error) {
	tx, err := d.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out, err := d.appendTx(ctx, tx, metaStreamID, expectedVersion, now, []streamstore.NewMessage{msg})
	if err != nil {
		return 0, err
	}
	if out.Version == streamstore.ConflictVersion {
		return streamstore.ConflictVersion, nil
	}

	// The hints live on the target stream row so appends can surface them
	// without touching the metadata stream. The row may predate its first
	// message.
	if _, err := tx.Exec(ctx,
		`insert into `+d.table("streams")+` (id, version, position, max_age, max_count)
		 values ($1, -1, 0, $2, $3)
		 on conflict on constraint stream_id_key
		 do update set max_age = excluded.max_age, max_count = excluded.max_count`,
		streamID, maxAge, maxCount,
	); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return out.Version, nil
}

// appendTx runs the append protocol inside tx: serialize on the stream,
// check the expected version, insert, bump the stream head.
func (d *Driver) appendTx(ctx context.Context, tx pgx.Tx, streamID string, expectedVersion int64, now time.Time, messages []streamstore.NewMessage) (streamstore.AppendOutcome, error) {
	if _, err := tx.Exec(ctx,
		`select pg_advisory_xact_lock(hashtextextended($1, 0))`, streamID,
	); err != nil {
		return streamstore.AppendOutcome{}, fmt.Errorf("advisory lock: %w", err)
	}

	info, err := d.streamInfoTx(ctx, tx, streamID)
	if err != nil {
		return streamstore.AppendOutcome{}, err
	}

	version := streamstore.NoStream
	position := int64(0)
	if info.Exists {
		version = info.Version
		position = info.Position
	}

	switch {
	case expectedVersion == streamstore.AnyVersion:
	case expectedVersion != version:
		return streamstore.AppendOutcome{Version: streamstore.ConflictVersion}, nil
	}

	for _, m := range messages {
		version++
		if err := tx.QueryRow(ctx,
			`insert into `+d.table("messages")+`
			   (message_id, stream_id, stream_version, type, data, meta, created_at)
			 values ($1, $2, $3, $4, $5, $6, $7)
			 returning position`,
			m.ID, streamID, version, m.Type, m.Data, m.Meta, now,
		).Scan(&position); err != nil {
			return streamstore.AppendOutcome{}, err
		}
	}

	if len(messages) > 0 {
		if _, err := tx.Exec(ctx,
			`insert into `+d.table("streams")+` (id, version, position)
			 values ($1, $2, $3)
			 on conflict on constraint stream_id_key
			 do update set version = excluded.version, position = excluded.position`,
			streamID, version, position,
		); err != nil {
			return streamstore.AppendOutcome{}, err
		}
	}

	return streamstore.AppendOutcome{
		Version:  version,
		Position: position,
		MaxAge:   info.MaxAge,
		MaxCount: info.MaxCount,
	}, nil
}

// ReadStream implements streamstore.Driver. Both queries travel in one batch;
// the stream info is queued after the messages on purpose, so under a
// concurrent append the info can only be ahead of the page.
func (d *Driver) ReadStream(ctx context.Context, streamID string, fromVersion int64, count int, dir streamstore.Direction) (streamstore.StreamSlice, error) {
	var messagesSQL string
	if dir == streamstore.Forward {
		messagesSQL = `select ` + messageColumns + ` from ` + d.table("messages") + `
			where stream_id = $1 and stream_version >= $2
			order by stream_version asc limit $3`
	} else {
		messagesSQL = `select ` + messageColumns + ` from ` + d.table("messages") + `
			where stream_id = $1 and stream_version <= $2
			order by stream_version desc limit $3`
	}

	b := &pgx.Batch{}
	b.Queue(messagesSQL, streamID, fromVersion, count)
	b.Queue(`select version, position, max_age, max_count from `+d.table("streams")+` where id = $1`, streamID)

	br := d.pool.SendBatch(ctx, b)
	defer func() { _ = br.Close() }()

	rows, err := br.Query()
	if err != nil {
		return streamstore.StreamSlice{}, err
	}
	messages, err := scanMessages(rows)
	if err != nil {
		return streamstore.StreamSlice{}, err
	}

	var info streamstore.StreamInfo
	err = br.QueryRow().Scan(&info.Version, &info.Position, &info.MaxAge, &info.MaxCount)
	switch {
	case err == nil:
		info.Exists = true
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return streamstore.StreamSlice{}, err
	}

	return streamstore.StreamSlice{Messages: messages, Info: info}, nil
}

// ReadAll implements streamstore.Driver.
func (d *Driver) ReadAll(ctx context.Context, fromPosition int64, count int, dir streamstore.Direction) ([]streamstore.Message, error) {
	var sql string
	if dir == streamstore.Forward {
		sql = `select ` + messageColumns + ` from ` + d.table("messages") + `
			where position >= $1 order by position asc limit $2`
	} else {
		sql = `select ` + messageColumns + ` from ` + d.table("messages") + `
			where position <= $1 order by position desc limit $2`
	}

	rows, err := d.pool.Query(ctx, sql, fromPosition, count)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// ReadHead implements streamstore.Driver.
func (d *Driver) ReadHead(ctx context.Context) (int64, error) {
	var head int64
	err := d.pool.QueryRow(ctx,
		`select coalesce(max(position), 0) from `+d.table("messages"),
	).Scan(&head)
	if err != nil {
		return 0, err
	}
	return head, nil
}

// DeleteStream implements streamstore.Driver. Deleting a stream that does
// not exist is a no-op under AnyVersion and a conflict otherwise.
func (d *Driver) DeleteStream(ctx context.Context, streamID string, expectedVersion int64, now time.Time, marker streamstore.NewMessage) error {
	tx, err := d.begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`select pg_advisory_xact_lock(hashtextextended($1, 0))`, streamID,
	); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}

	info, err := d.streamInfoTx(ctx, tx, streamID)
	if err != nil {
		return err
	}

	version := streamstore.NoStream
	if info.Exists {
		version = info.Version
	}
	switch {
	case expectedVersion == streamstore.AnyVersion:
	case expectedVersion != version:
		return streamstore.ErrVersionConflict
	}

	if !info.Exists {
		return tx.Commit(ctx)
	}

	metaStreamID := streamstore.MetadataStreamID(streamID)
	if _, err := tx.Exec(ctx,
		`delete from `+d.table("messages")+` where stream_id = $1 or stream_id = $2`,
		streamID, metaStreamID,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`delete from `+d.table("streams")+` where id = $1 or id = $2`,
		streamID, metaStreamID,
	); err != nil {
		return err
	}

	out, err := d.appendTx(ctx, tx, streamstore.DeletedStreamID, streamstore.AnyVersion, now, []streamstore.NewMessage{marker})
	if err != nil {
		return err
	}
	if out.Version == streamstore.ConflictVersion {
		return streamstore.ErrVersionConflict
	}

	return tx.Commit(ctx)
}

// DeleteMessage implements streamstore.Driver.
func (d *Driver) DeleteMessage(ctx context.Context, streamID string, messageID uuid.UUID) error {
	_, err := d.pool.Exec(ctx,
		`delete from `+d.table("messages")+` where stream_id = $1 and message_id = $2`,
		streamID, messageID,
	)
	return err
}

func (d *Driver) begin(ctx context.Context) (pgx.Tx, error) {
	return d.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
}

func (d *Driver) streamInfoTx(ctx context.Context, tx pgx.Tx, streamID string) (streamstore.StreamInfo, error) {
	var info streamstore.StreamInfo
	err := tx.QueryRow(ctx,
		`select version, position, max_age, max_count from `+d.table("streams")+` where id = $1`,
		streamID,
	).Scan(&info.Version, &info.Position, &info.MaxAge, &info.MaxCount)
	switch {
	case err == nil:
		info.Exists = true
		return info, nil
	case errors.Is(err, pgx.ErrNoRows):
		return streamstore.StreamInfo{}, nil
	default:
		return streamstore.StreamInfo{}, err
	}
}

func scanMessages(rows pgx.Rows) ([]streamstore.Message, error) {
	defer rows.Close()

	var messages []streamstore.Message
	for rows.Next() {
		var m streamstore.Message
		if err := rows.Scan(&m.ID, &m.StreamID, &m.StreamVersion, &m.Type,
			&m.Data, &m.Meta, &m.Position, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
