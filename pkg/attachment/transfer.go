// pkg/attachment/transfer.go
package attachment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/David-Botos/story-ingress/pkg/model"
)

var (
	ErrTooLarge       = errors.New("attachment too large")
	ErrDownloadFailed = errors.New("attachment download failed")
	ErrUploadFailed   = errors.New("attachment upload failed")
)

// maxExtensionLen rejects filenames whose "extension" is really a sentence
const maxExtensionLen = 10

// Ledger records stored objects by content fingerprint across runs
type Ledger interface {
	LookupObject(ctx context.Context, fingerprint string) (*model.StoredObject, error)
	RecordObject(ctx context.Context, obj model.StoredObject) error
}

// Result describes a transferred attachment
type Result struct {
	PublicURL   string
	StorageKey  string
	Fingerprint string
	ContentType string
	ByteSize    int64
	// Reused is set when no upload happened because the content was stored before
	Reused bool
}

// Transfer moves attachments from source URLs into object storage,
// deduplicating by content fingerprint
type Transfer struct {
	downloader *Downloader
	store      ObjectStore
	ledger     Ledger
	seen       *cache.Cache
	logger     *zap.Logger
}

// NewTransfer creates an attachment transfer. ledger may be nil.
func NewTransfer(downloader *Downloader, store ObjectStore, ledger Ledger, logger *zap.Logger) *Transfer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transfer{
		downloader: downloader,
		store:      store,
		ledger:     ledger,
		seen:       cache.New(cache.NoExpiration, 10*time.Minute),
		logger:     logger.Named("attachment-transfer"),
	}
}

// Transfer downloads desc, stores it under a key derived from entityID and the
// content fingerprint, and returns the durable public URL. Errors wrap
// ErrTooLarge, ErrDownloadFailed or ErrUploadFailed.
func (t *Transfer) Transfer(ctx context.Context, desc model.AttachmentDescriptor, entityID string) (*Result, error) {
	if desc.URL == "" {
		return nil, fmt.Errorf("%w: descriptor has no url", ErrDownloadFailed)
	}

	// Step 1: Download
	data, served, err := t.downloader.Download(ctx, desc.URL)
	if err != nil {
		if !isAttachmentError(err) {
			err = fmt.Errorf("%w: %v", ErrDownloadFailed, err)
		}
		return nil, err
	}

	// Step 2: Fingerprint and key
	sum := sha256.Sum256(data)
	fingerprint := hex.EncodeToString(sum[:])
	contentType := resolveContentType(desc.ContentType, served, data)
	key := StorageKey(entityID, fingerprint, extensionFor(desc.Filename, data))

	result := &Result{
		StorageKey:  key,
		Fingerprint: fingerprint,
		ContentType: contentType,
		ByteSize:    int64(len(data)),
	}

	// Step 3: Reuse content already stored this run or a previous one
	if obj := t.lookup(ctx, fingerprint); obj != nil {
		result.PublicURL = obj.PublicURL
		result.StorageKey = obj.StorageKey
		result.Reused = true
		t.logger.Debug("Attachment content reused",
			zap.String("fingerprint", fingerprint),
			zap.String("key", obj.StorageKey))
		return result, nil
	}

	exists, err := t.store.Exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	// Step 4: Upload
	if !exists {
		if err := t.store.PutObject(ctx, key, data, contentType); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
		}
	}
	result.Reused = exists
	result.PublicURL = t.store.PublicURL(key)

	t.remember(ctx, model.StoredObject{
		Fingerprint: fingerprint,
		StorageKey:  key,
		PublicURL:   result.PublicURL,
		ContentType: contentType,
		ByteSize:    result.ByteSize,
	})

	t.logger.Info("Attachment transferred",
		zap.String("entityId", entityID),
		zap.String("key", key),
		zap.String("contentType", contentType),
		zap.Int64("bytes", result.ByteSize),
		zap.Bool("reused", exists))

	return result, nil
}

func (t *Transfer) lookup(ctx context.Context, fingerprint string) *model.StoredObject {
	if cached, ok := t.seen.Get(fingerprint); ok {
		obj := cached.(model.StoredObject)
		return &obj
	}
	if t.ledger == nil {
		return nil
	}

	obj, err := t.ledger.LookupObject(ctx, fingerprint)
	if err != nil {
		t.logger.Warn("Failed to look up stored object",
			zap.String("fingerprint", fingerprint),
			zap.Error(err))
		return nil
	}
	if obj != nil {
		t.seen.Set(fingerprint, *obj, cache.NoExpiration)
	}
	return obj
}

func (t *Transfer) remember(ctx context.Context, obj model.StoredObject) {
	t.seen.Set(obj.Fingerprint, obj, cache.NoExpiration)
	if t.ledger == nil {
		return
	}
	// The object is stored either way; a missing ledger row only costs an
	// extra Exists check next run
	if err := t.ledger.RecordObject(ctx, obj); err != nil {
		t.logger.Warn("Failed to record stored object",
			zap.String("fingerprint", obj.Fingerprint),
			zap.Error(err))
	}
}

// StorageKey derives the object key for an entity's attachment
func StorageKey(entityID, fingerprint, ext string) string {
	return path.Join("attachments", entityID, fingerprint) + ext
}

func extensionFor(filename string, data []byte) string {
	ext := strings.ToLower(path.Ext(filename))
	if len(ext) > 1 && len(ext) <= maxExtensionLen && !strings.ContainsAny(ext, " /\\") {
		return ext
	}
	return mimetype.Detect(data).Extension()
}

func resolveContentType(declared, served string, data []byte) string {
	for _, ct := range []string{declared, served} {
		ct = strings.TrimSpace(ct)
		if ct != "" && ct != "application/octet-stream" {
			return ct
		}
	}
	return mimetype.Detect(data).String()
}
