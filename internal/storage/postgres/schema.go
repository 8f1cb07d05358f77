// Package postgres implements storage.Store on PostgreSQL with the pgvector
// extension.
package postgres

// Schema creates one table per category plus the metadata table. The
// embedding column is an unsized pgvector so any model dimension fits; the
// index keeps the dimension constant per table. No ANN index is created, so
// ordering by cosine distance is an exact scan.
const Schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS devices (
    id BIGINT PRIMARY KEY,
    content_hash TEXT NOT NULL,
    text TEXT NOT NULL,
    embedding vector NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    data TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS variables (
    id BIGINT PRIMARY KEY,
    content_hash TEXT NOT NULL,
    text TEXT NOT NULL,
    embedding vector NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    data TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS actions (
    id BIGINT PRIMARY KEY,
    content_hash TEXT NOT NULL,
    text TEXT NOT NULL,
    embedding vector NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    data TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS index_meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
