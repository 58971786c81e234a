package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotifyChannel is the channel the message table raises on insert. It must
// match notify.DefaultChannel.
const NotifyChannel = "streamstore_messages"

const (
	sqlstateDuplicateDatabase  = "42P04"
	sqlstateInvalidCatalogName = "3D000"
)

// Setup creates the schema, tables, constraints and the notification trigger.
// It is idempotent: running it against an existing installation is a no-op.
//
// The unique-constraint names are load-bearing — the store classifies append
// conflicts by them — so they are spelled out rather than auto-generated.
func Setup(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if !identRe.MatchString(schema) {
		return fmt.Errorf("pg: invalid schema identifier %q", schema)
	}
	q := func(name string) string { return pgx.Identifier{schema, name}.Sanitize() }

	stmts := []string{
		`create schema if not exists ` + pgx.Identifier{schema}.Sanitize(),

		`create table if not exists ` + q("streams") + ` (
			id text not null constraint stream_id_key primary key,
			stream_type text,
			version bigint not null default -1,
			position bigint not null default 0,
			max_age bigint,
			max_count bigint
		)`,

		`create table if not exists ` + q("messages") + ` (
			position bigint generated always as identity
				constraint message_position_key primary key,
			message_id uuid not null
				constraint message_message_id_key unique,
			stream_id text not null,
			stream_version bigint not null,
			type text not null,
			data jsonb not null,
			meta jsonb,
			created_at timestamptz not null default now(),
			constraint message_stream_id_internal_stream_version_unique
				unique (stream_id, stream_version)
		)`,

		`create or replace function ` + q("notify_messages") + `() returns trigger as $$
		begin
			perform pg_notify('` + NotifyChannel + `', '');
			return null;
		end
		$$ language plpgsql`,

		`drop trigger if exists messages_notify on ` + q("messages"),

		`create trigger messages_notify
			after insert on ` + q("messages") + `
			for each statement execute function ` + q("notify_messages") + `()`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pg: setup: %w", err)
		}
	}
	return nil
}

// MissingDatabase reports whether err is the Postgres "database does not
// exist" failure raised when connecting. Teardown treats it as nothing to
// drop.
func MissingDatabase(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlstateInvalidCatalogName
}

// Teardown drops the schema and everything in it. Dropping a schema that
// does not exist is a no-op.
func Teardown(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if !identRe.MatchString(schema) {
		return fmt.Errorf("pg: invalid schema identifier %q", schema)
	}
	_, err := pool.Exec(ctx, `drop schema if exists `+pgx.Identifier{schema}.Sanitize()+` cascade`)
	if err != nil {
		return fmt.Errorf("pg: teardown: %w", err)
	}
	return nil
}

// EnsureDatabase creates the database named in databaseURL when it does not
// exist yet, by connecting to the maintenance database with the same
// credentials. "Already exists" is swallowed.
func EnsureDatabase(ctx context.Context, databaseURL string) error {
	cfg, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return err
	}
	target := cfg.Database
	if target == "" || !identRe.MatchString(target) {
		return fmt.Errorf("pg: invalid database name %q", target)
	}
	cfg.Database = "postgres"

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(ctx) }()

	_, err = conn.Exec(ctx, `create database `+pgx.Identifier{target}.Sanitize())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == sqlstateDuplicateDatabase {
		return nil
	}
	return err
}
