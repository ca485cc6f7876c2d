package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Factory manages the repository store and ensures it is a singleton
type Factory struct {
	db    *gorm.DB
	store Store
	once  sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{db: db}
}

// GetStore returns a singleton store bundling all repositories
func (f *Factory) GetStore() Store {
	f.once.Do(func() {
		f.store = NewStore(f.db)
	})
	return f.store
}

// Global factory instance for application-wide use
var (
	globalFactory *Factory
	globalMu      sync.Mutex
)

// InitGlobalFactory initializes the global repository factory
func InitGlobalFactory(db *gorm.DB) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalFactory = NewFactory(db)
}

// GetGlobalFactory returns the global repository factory
func GetGlobalFactory() *Factory {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalFactory
}
