package db

// Schema defines the SQLite schema of the artifact ledger: every blob,
// package and OTA request fwpack has produced, with its publish state.
const Schema = `
CREATE TABLE IF NOT EXISTS artifacts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    kind TEXT NOT NULL CHECK(kind IN ('efuse', 'package', 'ota', 'variant')),
    sha256 TEXT NOT NULL DEFAULT '',
    size INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL CHECK(status IN ('pending', 'built', 'published', 'failed')),
    remote_key TEXT,
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_artifacts_status ON artifacts(status);
CREATE INDEX IF NOT EXISTS idx_artifacts_created_at ON artifacts(created_at);
`

// Status constants
const (
	StatusPending   = "pending"
	StatusBuilt     = "built"
	StatusPublished = "published"
	StatusFailed    = "failed"
)

// Kind constants
const (
	KindEfuse   = "efuse"
	KindPackage = "package"
	KindOTA     = "ota"
	KindVariant = "variant"
)

// Artifact is one produced file.
type Artifact struct {
	ID           int64
	Path         string
	Kind         string
	SHA256       string
	Size         int64
	Status       string
	RemoteKey    string
	ErrorMessage string
	CreatedAt    string
	UpdatedAt    string
}
