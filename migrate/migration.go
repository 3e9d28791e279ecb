/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"

	"github.com/acronis/go-sdbmigrate"
)

// TxMode defines whether migration statements run inside a transaction.
type TxMode string

// Transaction modes.
const (
	TxModeTrx   TxMode = "TRX"
	TxModeNoTrx TxMode = "NOTRX"
)

// Scope defines whether a migration body runs once per database or once per shard.
type Scope string

// Scope modes.
const (
	ScopePlain Scope = "PLAIN"
	ScopeShard Scope = "SHARD"
)

// Language is the language of the migration body, it's defined by the file extension.
type Language string

// Body languages.
const (
	LangSQL  Language = "sql"
	LangExpr Language = "expr"
)

// MaxVersion is the highest version representable in a migration file name.
const MaxVersion = 9999

// NamePattern describes migration file names in error messages.
const NamePattern = "V<4-digit version>__<TRX|NOTRX>_<PLAIN|SHARD>__<snake_case_name>.<sql|expr>"

var (
	nameRe      = regexp.MustCompile(`^V([0-9]{4})__(TRX|NOTRX)_(PLAIN|SHARD)__([a-z0-9_]+)\.(sql|expr)$`)
	shortNameRe = regexp.MustCompile(`^[a-z0-9_]+$`)
)

// Migration is an immutable descriptor of a single migration file.
// The body is read lazily on first access and cached.
type Migration struct {
	version   int64
	txMode    TxMode
	scope     Scope
	shortName string
	lang      Language
	fileName  string

	fsys fs.FS
	dir  string

	bodyOnce sync.Once
	body     string
	bodyErr  error
}

// ParseName parses a migration file name. The body isn't attached.
func ParseName(fileName string) (*Migration, error) {
	match := nameRe.FindStringSubmatch(fileName)
	if match == nil {
		return nil, fmt.Errorf("%w: %q, expected pattern: %s", sdbmigrate.ErrInvalidMigrationName, fileName, NamePattern)
	}
	version, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", sdbmigrate.ErrInvalidMigrationName, fileName, err)
	}
	return &Migration{
		version:   version,
		txMode:    TxMode(match[2]),
		scope:     Scope(match[3]),
		shortName: match[4],
		lang:      Language(match[5]),
		fileName:  fileName,
	}, nil
}

// NewMigration creates a migration with the body in memory. It's used for scaffolding and in tests.
func NewMigration(version int64, txMode TxMode, scope Scope, shortName string, lang Language, body string) (*Migration, error) {
	if version < 0 || version > MaxVersion {
		return nil, fmt.Errorf("%w: version %d is out of range [0, %d]", sdbmigrate.ErrInvalidMigrationName, version, MaxVersion)
	}
	if !shortNameRe.MatchString(shortName) {
		return nil, fmt.Errorf("%w: short name %q must be snake_case", sdbmigrate.ErrInvalidMigrationName, shortName)
	}
	fileName := fmt.Sprintf("V%04d__%s_%s__%s.%s", version, txMode, scope, shortName, lang)
	m, err := ParseName(fileName)
	if err != nil {
		return nil, err
	}
	m.bodyOnce.Do(func() { m.body = body })
	return m, nil
}

// Version returns the migration version.
func (m *Migration) Version() int64 { return m.version }

// TxMode returns the transaction mode.
func (m *Migration) TxMode() TxMode { return m.txMode }

// Scope returns the scope mode.
func (m *Migration) Scope() Scope { return m.scope }

// ShortName returns the snake_case descriptive name.
func (m *Migration) ShortName() string { return m.shortName }

// Lang returns the body language.
func (m *Migration) Lang() Language { return m.lang }

// FileName returns the canonical file name. It's also the name recorded in the applied migrations table.
func (m *Migration) FileName() string { return m.fileName }

// Transactional reports whether the migration runs in a transaction.
func (m *Migration) Transactional() bool { return m.txMode == TxModeTrx }

// PerShard reports whether the body runs once per shard.
func (m *Migration) PerShard() bool { return m.scope == ScopeShard }

func (m *Migration) String() string {
	return fmt.Sprintf("Migration(version=%d, name=%s)", m.version, m.fileName)
}

// Body returns the migration body.
func (m *Migration) Body() (string, error) {
	m.bodyOnce.Do(func() {
		if m.fsys == nil {
			m.bodyErr = fmt.Errorf("migration %s has no source", m.fileName)
			return
		}
		data, err := fs.ReadFile(m.fsys, path.Join(m.dir, m.fileName))
		if err != nil {
			m.bodyErr = fmt.Errorf("read migration %s: %w", m.fileName, err)
			return
		}
		m.body = string(data)
	})
	return m.body, m.bodyErr
}

// WriteTo writes the migration body into a new file in the directory and returns its path.
// Existing files are never overwritten.
func (m *Migration) WriteTo(dir string) (string, error) {
	body, err := m.Body()
	if err != nil {
		return "", err
	}
	filePath := filepath.Join(dir, m.fileName)
	f, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644) //nolint:gosec // migrations are not secret
	if err != nil {
		return "", fmt.Errorf("create migration file: %w", err)
	}
	if _, err = f.WriteString(body); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write migration file: %w", err)
	}
	if err = f.Close(); err != nil {
		return "", fmt.Errorf("close migration file: %w", err)
	}
	return filePath, nil
}
