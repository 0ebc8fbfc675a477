package config

import "sync"

// Global catalog instance and initialization guard.
var (
	globalCatalog *Catalog
	globalOnce    sync.Once
)

// Global returns the singleton catalog instance.
// Creates an empty catalog on first call if not already initialized.
func Global() *Catalog {
	globalOnce.Do(func() {
		globalCatalog = emptyCatalog()
	})
	return globalCatalog
}

// InitGlobal initializes the global catalog with a loaded instance.
// Must be called before any call to Global() to take effect.
// Safe for concurrent use but only the first call has any effect.
func InitGlobal(c *Catalog) {
	globalOnce.Do(func() {
		globalCatalog = c
	})
}

// ResetGlobal resets the global catalog for testing purposes.
// This is NOT thread-safe and should only be used in tests.
func ResetGlobal() {
	globalOnce = sync.Once{}
	globalCatalog = nil
}

func emptyCatalog() *Catalog {
	c, _ := ParseCatalog(nil)
	return c
}
