// Package database はPostgreSQL接続とスキーマ移行を扱う。
package database

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// ErrDirtySchema は前回の移行が途中で失敗し、手動修復が必要な状態を表す。
var ErrDirtySchema = errors.New("database schema is dirty")

// MigrationStatus は移行後のスキーマ状態。
type MigrationStatus struct {
	Version uint
	Latest  uint // バイナリに埋め込まれた最新バージョン
	Dirty   bool
	Changed bool
}

func embeddedSource() (source.Driver, error) {
	src, err := iofs.New(migrationsFS, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	return src, nil
}

// EmbeddedVersions は埋め込まれた移行のバージョンを昇順で返す。
func EmbeddedVersions() ([]uint, error) {
	src, err := embeddedSource()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	v, err := src.First()
	if err != nil {
		return nil, fmt.Errorf("failed to read first migration: %w", err)
	}
	versions := []uint{v}
	for {
		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return versions, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read migration after %d: %w", v, err)
		}
		versions = append(versions, next)
		v = next
	}
}

// NewMigrator は埋め込み移行を対象にしたmigrateインスタンスを生成する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	src, err := embeddedSource()
	if err != nil {
		return nil, err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}

// RunMigrations は未適用の移行をすべて適用する。
func RunMigrations(databaseURL string) error {
	_, err := ApplyMigrations(databaseURL)
	return err
}

// ApplyMigrations は未適用の移行を適用し、適用後の状態を返す。
// 最新であればChanged=falseで成功する。dirtyな状態では何もせずErrDirtySchemaを返す。
func ApplyMigrations(databaseURL string) (*MigrationStatus, error) {
	versions, err := EmbeddedVersions()
	if err != nil {
		return nil, err
	}

	m, err := NewMigrator(databaseURL)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	before, dirty, err := currentVersion(m)
	if err != nil {
		return nil, err
	}
	if dirty {
		return &MigrationStatus{Version: before, Latest: versions[len(versions)-1], Dirty: true},
			fmt.Errorf("%w at version %d", ErrDirtySchema, before)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	after, dirty, err := currentVersion(m)
	if err != nil {
		return nil, err
	}
	return &MigrationStatus{
		Version: after,
		Latest:  versions[len(versions)-1],
		Dirty:   dirty,
		Changed: after != before,
	}, nil
}

// currentVersion は未適用（バージョンなし）を0として返す。
func currentVersion(m *migrate.Migrate) (uint, bool, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read migration version: %w", err)
	}
	return v, dirty, nil
}
