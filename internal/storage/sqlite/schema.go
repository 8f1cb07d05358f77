package sqlite

// Schema creates one table per category plus the metadata table. Embeddings
// are little-endian float32 BLOBs; data is the entity snapshot as JSON text.
const Schema = `
CREATE TABLE IF NOT EXISTS devices (
    id INTEGER PRIMARY KEY,
    content_hash TEXT NOT NULL,
    text TEXT NOT NULL,
    embedding BLOB NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    data TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS variables (
    id INTEGER PRIMARY KEY,
    content_hash TEXT NOT NULL,
    text TEXT NOT NULL,
    embedding BLOB NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    data TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS actions (
    id INTEGER PRIMARY KEY,
    content_hash TEXT NOT NULL,
    text TEXT NOT NULL,
    embedding BLOB NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    data TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS index_meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
