// Package localstore is the on-device key-value storage the migration reads
// guest data from and writes account-scoped data to.
package localstore

// Store is a minimal key-value store. It offers no transactions; callers
// order their writes to stay crash-safe.
type Store interface {
	// Get returns the value for key and whether it exists.
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
}
