package workspace

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/flowforge/flowforge/types"
)

// CatalogEntry is one registered workspace.
type CatalogEntry struct {
	ID          uint   `gorm:"primaryKey"`
	Path        string `gorm:"uniqueIndex"`
	Description string
	CreatedAt   time.Time
}

// TableName names the catalog table.
func (CatalogEntry) TableName() string { return "workspaces" }

// Catalog is a sqlite-backed registry of workspaces by path.
type Catalog struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenCatalog opens (creating if needed) the catalog database at path.
func OpenCatalog(path string, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace catalog: %w", err)
	}
	if err := db.AutoMigrate(&CatalogEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate workspace catalog: %w", err)
	}
	return &Catalog{
		db:     db,
		logger: logger.With(zap.String("component", "catalog")),
	}, nil
}

// Register adds or updates the workspace at path.
func (c *Catalog) Register(path, description string) error {
	entry := CatalogEntry{Path: path, Description: description}
	err := c.db.
		Where(CatalogEntry{Path: path}).
		Assign(CatalogEntry{Description: description}).
		FirstOrCreate(&entry).Error
	if err != nil {
		return fmt.Errorf("failed to register workspace: %w", err)
	}
	c.logger.Debug("workspace registered", zap.String("path", path))
	return nil
}

// Resolve returns the entry registered under path.
func (c *Catalog) Resolve(path string) (*CatalogEntry, error) {
	var entry CatalogEntry
	err := c.db.Where("path = ?", path).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.Errorf(types.ErrNotFound, "workspace %q is not registered", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace: %w", err)
	}
	return &entry, nil
}

// Path returns the path registered under the numeric id.
func (c *Catalog) Path(id uint) (string, error) {
	var entry CatalogEntry
	err := c.db.First(&entry, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", types.Errorf(types.ErrNotFound, "no workspace with id %d", id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace id: %w", err)
	}
	return entry.Path, nil
}

// List returns all registered workspaces ordered by path.
func (c *Catalog) List() ([]CatalogEntry, error) {
	var entries []CatalogEntry
	if err := c.db.Order("path").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	return entries, nil
}

// Remove drops the entry registered under path. Removing an absent
// entry is not an error.
func (c *Catalog) Remove(path string) error {
	if err := c.db.Where("path = ?", path).Delete(&CatalogEntry{}).Error; err != nil {
		return fmt.Errorf("failed to remove workspace: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
