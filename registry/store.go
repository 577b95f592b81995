// Package registry manages marketplace sources: named, ordered catalog
// entries with an opaque structured payload, kept in a relational
// store.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"modelmon/config"
)

// ErrSourceNotFound reports a lookup of a source that does not exist.
var ErrSourceNotFound = errors.New("registry: marketplace source not found")

// ErrDuplicateName reports an insert or rename that collides with an
// existing source name.
var ErrDuplicateName = errors.New("registry: marketplace source name already exists")

// MarketplaceSource is one catalog entry. Name uniqueness is enforced
// at the storage layer; Index is the display ordering.
type MarketplaceSource struct {
	ID      uint              `gorm:"primaryKey" json:"id"`
	Name    string            `gorm:"uniqueIndex:_marketplace_sources_uc" json:"name"`
	Index   int               `gorm:"column:index" json:"index"`
	Created time.Time         `gorm:"autoCreateTime" json:"created"`
	Updated time.Time         `gorm:"autoUpdateTime" json:"updated"`
	Object  datatypes.JSONMap `gorm:"type:json" json:"object"`
}

// TableName keeps the historical table name.
func (MarketplaceSource) TableName() string { return "marketplace_sources" }

// Store wraps the relational connection.
type Store struct {
	db *gorm.DB
}

// Connect opens the configured relational store and migrates the
// marketplace sources table.
func Connect(cfg config.RegistryConfig) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dsn := strings.TrimSpace(cfg.DSN)
		if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
			return nil, errors.New("registry dsn must be a postgres:// or postgresql:// URL")
		}
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown registry driver: %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{PrepareStmt: true})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&MarketplaceSource{}); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// Create inserts a new source. A name collision is reported as
// ErrDuplicateName.
func (s *Store) Create(source *MarketplaceSource) error {
	err := s.db.Create(source).Error
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %q", ErrDuplicateName, source.Name)
	}
	return err
}

// Get returns a source by name.
func (s *Store) Get(name string) (*MarketplaceSource, error) {
	var source MarketplaceSource
	err := s.db.Where("name = ?", name).First(&source).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrSourceNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return &source, nil
}

// List returns all sources ordered by their display index.
func (s *Store) List() ([]MarketplaceSource, error) {
	var sources []MarketplaceSource
	if err := s.db.Order(`"index" asc, name asc`).Find(&sources).Error; err != nil {
		return nil, err
	}
	return sources, nil
}

// Update stores new index/object values for the named source.
func (s *Store) Update(name string, index int, object datatypes.JSONMap) (*MarketplaceSource, error) {
	source, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	source.Index = index
	source.Object = object
	if err := s.db.Save(source).Error; err != nil {
		return nil, err
	}
	return source, nil
}

// Delete removes the named source. Deleting an absent source is not an
// error.
func (s *Store) Delete(name string) error {
	return s.db.Where("name = ?", name).Delete(&MarketplaceSource{}).Error
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// isUniqueViolation matches the driver-specific duplicate-key errors
// for both supported backends.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite
		strings.Contains(msg, "duplicate key value") // postgres
}
