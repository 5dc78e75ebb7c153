package storage

// PersistentStore is durable named-blob storage for one isolation namespace.
// Load reports domain.ErrNotFound for unknown names; Remove of an unknown
// name succeeds.
type PersistentStore interface {
	Load(name string) ([]byte, error)
	Save(name string, data []byte) error
	Remove(name string) error
}
