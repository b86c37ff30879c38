// Package attach validates and stores message attachments before the
// owning message is persisted, so bad uploads never leave half-written
// conversation state behind.
package attach

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"studypal/internal/util"
	"studypal/pkg/domain"
	"studypal/pkg/storage"
)

const (
	DefaultMaxCount     = 5
	DefaultMaxSizeBytes = 20 << 20
	presignExpiry       = 24 * time.Hour
)

var defaultAllowedExtensions = []string{
	".png", ".jpg", ".jpeg", ".gif", ".webp",
	".pdf", ".txt", ".md", ".doc", ".docx",
}

// Upload is one incoming file before validation.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

// ValidationError reports a rejected upload. It maps to a client error,
// not a server fault.
type ValidationError struct {
	Name   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Name == "" {
		return e.Reason
	}
	return fmt.Sprintf("attachment %q: %s", e.Name, e.Reason)
}

// Resolver validates uploads, stores them, and renders their references
// into message content.
type Resolver struct {
	store        storage.ObjectStore
	maxCount     int
	maxSizeBytes int64
	allowedExt   map[string]struct{}
}

type Config struct {
	MaxCount          int
	MaxSizeBytes      int64
	AllowedExtensions []string
}

func NewResolver(store storage.ObjectStore, cfg Config) *Resolver {
	maxCount := cfg.MaxCount
	if maxCount <= 0 {
		maxCount = DefaultMaxCount
	}
	maxSize := cfg.MaxSizeBytes
	if maxSize <= 0 {
		maxSize = DefaultMaxSizeBytes
	}
	exts := cfg.AllowedExtensions
	if len(exts) == 0 {
		exts = defaultAllowedExtensions
	}
	allowed := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		allowed[strings.ToLower(strings.TrimSpace(ext))] = struct{}{}
	}
	return &Resolver{
		store:        store,
		maxCount:     maxCount,
		maxSizeBytes: maxSize,
		allowedExt:   allowed,
	}
}

// Resolve validates uploads, stores each under the conversation's prefix
// and returns references with presigned URLs. Uploads run concurrently;
// the first failure aborts the rest.
func (r *Resolver) Resolve(ctx context.Context, conversationID string, uploads []Upload) ([]domain.AttachmentRef, error) {
	if len(uploads) == 0 {
		return nil, nil
	}
	if len(uploads) > r.maxCount {
		return nil, &ValidationError{Reason: fmt.Sprintf("too many attachments: %d > %d", len(uploads), r.maxCount)}
	}
	for _, u := range uploads {
		if err := r.validate(u); err != nil {
			return nil, err
		}
	}

	refs := make([]domain.AttachmentRef, len(uploads))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range uploads {
		i, u := i, u
		g.Go(func() error {
			key := objectKey(conversationID, u.Name)
			if err := r.store.Put(gctx, key, bytes.NewReader(u.Data), int64(len(u.Data)), u.ContentType); err != nil {
				return fmt.Errorf("store attachment %q: %w", u.Name, err)
			}
			url, err := r.store.PresignGet(gctx, key, presignExpiry)
			if err != nil {
				return fmt.Errorf("presign attachment %q: %w", u.Name, err)
			}
			refs[i] = domain.AttachmentRef{
				Name:        u.Name,
				URL:         url,
				ContentType: u.ContentType,
				SizeBytes:   int64(len(u.Data)),
				StorageKey:  key,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return refs, nil
}

// Remove deletes the stored objects behind the given references. Every
// object is attempted; the first error is returned.
func (r *Resolver) Remove(ctx context.Context, refs []domain.AttachmentRef) error {
	var firstErr error
	for _, ref := range refs {
		if ref.StorageKey == "" {
			continue
		}
		if err := r.store.Delete(ctx, ref.StorageKey); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("delete attachment %q: %w", ref.Name, err)
		}
	}
	return firstErr
}

func (r *Resolver) validate(u Upload) error {
	name := strings.TrimSpace(u.Name)
	if name == "" {
		return &ValidationError{Reason: "missing file name"}
	}
	ext := strings.ToLower(path.Ext(name))
	if _, ok := r.allowedExt[ext]; !ok {
		return &ValidationError{Name: name, Reason: fmt.Sprintf("extension %q not allowed", ext)}
	}
	if int64(len(u.Data)) > r.maxSizeBytes {
		return &ValidationError{Name: name, Reason: fmt.Sprintf("size %d exceeds limit %d", len(u.Data), r.maxSizeBytes)}
	}
	if len(u.Data) == 0 {
		return &ValidationError{Name: name, Reason: "empty file"}
	}
	return nil
}

func objectKey(conversationID, name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	return fmt.Sprintf("conversation/%s/%s-%s", conversationID, util.NewID(), base)
}

// RenderRefs splices attachment references into message content the way
// the generation backends expect to see them.
func RenderRefs(content string, refs []domain.AttachmentRef) string {
	if len(refs) == 0 {
		return content
	}
	var b strings.Builder
	b.WriteString(content)
	for _, ref := range refs {
		tag := "file"
		if strings.HasPrefix(ref.ContentType, "image/") {
			tag = "image"
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s: %s|%s]", tag, ref.Name, ref.URL)
	}
	return b.String()
}
