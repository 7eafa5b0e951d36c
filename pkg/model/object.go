// pkg/model/object.go
package model

import "time"

// StoredObject is one content-addressed object in object storage, keyed by
// fingerprint so identical bytes are uploaded once
type StoredObject struct {
	Fingerprint string    `db:"fingerprint" json:"fingerprint"`
	StorageKey  string    `db:"storage_key" json:"storageKey"`
	PublicURL   string    `db:"public_url" json:"publicUrl"`
	ContentType string    `db:"content_type" json:"contentType"`
	ByteSize    int64     `db:"byte_size" json:"byteSize"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}
