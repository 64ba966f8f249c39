// Package blob defines the binary object tier. Upload is the only path by
// which an attachment gains a durable URL.
package blob

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/papercomputeco/keepsake/pkg/chat"
)

// Object is a payload to upload.
type Object struct {
	// ID names this upload. It becomes the final path element of the
	// durable URL, before the extension, and must be unique per upload.
	ID string

	// Owner namespaces the object, typically the user id.
	Owner string

	ContentType string
	Data        []byte
}

// Key returns the object key "owner/id.ext".
func (o Object) Key() string {
	name := o.ID + Extension(o.ContentType)
	if o.Owner == "" {
		return name
	}
	return path.Join(o.Owner, name)
}

// Validate checks the object can be stored.
func (o Object) Validate() error {
	if o.ID == "" {
		return errors.New("blob object has no id")
	}
	if strings.ContainsAny(o.ID, "/.?#") {
		return fmt.Errorf("blob object id %q must not contain '/', '.', '?' or '#'", o.ID)
	}
	if len(o.Data) == 0 {
		return fmt.Errorf("blob object %s has no data", o.ID)
	}
	return nil
}

// Store is a durable object store addressed by URL.
type Store interface {
	// Put uploads o and returns its durable URL. Putting the same key again
	// overwrites it and returns the same URL.
	Put(ctx context.Context, o Object) (string, error)

	// Get downloads the object at url and returns its data and content type.
	Get(ctx context.Context, url string) ([]byte, string, error)

	// Delete removes the object at url. Deleting a missing object is not
	// an error.
	Delete(ctx context.Context, url string) error

	// Close releases any resources held by the store.
	Close() error
}

// ErrNotFound is returned by Get for a missing object. It matches
// chat.ErrNotFound.
var ErrNotFound = notFound{}

type notFound struct{}

func (notFound) Error() string { return "blob not found" }

func (notFound) Is(target error) bool { return target == chat.ErrNotFound }

// Extension returns a file extension for contentType, or "" when none is
// known.
func Extension(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "application/pdf":
		return ".pdf"
	case "text/plain":
		return ".txt"
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// ContentTypeOf guesses a content type from a URL's extension.
func ContentTypeOf(url string) string {
	ext := path.Ext(strings.SplitN(url, "?", 2)[0])
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
