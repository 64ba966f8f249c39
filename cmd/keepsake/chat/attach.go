package chatcmder

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/papercomputeco/keepsake/api"
	"github.com/papercomputeco/keepsake/pkg/chat"
)

// maxAttachmentSize bounds files read by /attach.
const maxAttachmentSize = 20 << 20

// readAttachment loads a file for the next message. Its id is derived from
// the content, so attaching the same file twice names the same content.
func readAttachment(path string) (api.AttachmentInput, error) {
	if path == "" {
		return api.AttachmentInput{}, errors.New("usage: /attach <path>")
	}

	info, err := os.Stat(path)
	if err != nil {
		return api.AttachmentInput{}, err
	}
	if info.IsDir() {
		return api.AttachmentInput{}, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > maxAttachmentSize {
		return api.AttachmentInput{}, fmt.Errorf("%s is larger than %d MiB", path, maxAttachmentSize>>20)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return api.AttachmentInput{}, err
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	return api.AttachmentInput{
		ID:          chat.ContentIDOf(data),
		ContentType: contentType,
		Data:        data,
	}, nil
}
