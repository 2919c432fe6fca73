package storage

// StateStore persists the serialized banking session per account, so the next
// run can skip part of the dialog setup. Blobs are opaque.
type StateStore interface {
	Load(account string) ([]byte, error)
	Save(account string, data []byte) error
	Clear(account string) error
}
