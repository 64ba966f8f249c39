package orchestrator

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/papercomputeco/keepsake/pkg/blob"
	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/vector"
)

// Vector metadata keys.
const (
	metaUserID      = "user_id"
	metaChatID      = "chat_id"
	metaTurnID      = "turn_id"
	metaRole        = "role"
	metaCreatedAt   = "created_at"
	metaAttachments = "attachments"
	metaOmitted     = "attachments_omitted"
)

func embeddingText(t *chat.Turn) string {
	if t.Text != "" {
		return t.Text
	}
	return fmt.Sprintf("(%d attachments)", len(t.Attachments))
}

// itemFromTurn builds the vector item for a durable turn. Metadata holds
// ids and durable URLs only. Refs that do not fit the metadata budget are
// returned as omitted and counted in the metadata, so a recovered turn is
// never reported durable without them.
func itemFromTurn(t *chat.Turn, vec []float32) (vector.Item, []string) {
	meta := map[string]string{
		metaUserID:    t.UserID,
		metaChatID:    t.ChatID,
		metaTurnID:    t.ID,
		metaRole:      string(t.Role),
		metaCreatedAt: t.CreatedAt.UTC().Format(time.RFC3339Nano),
	}

	budget := vector.MaxMetadataBytes - len(metaAttachments) - len(metaOmitted) - 8
	for k, v := range meta {
		budget -= len(k) + len(v)
	}

	var (
		entries []string
		omitted []string
	)
	for _, ref := range t.Attachments {
		if ref.Kind != chat.KindRemote {
			continue
		}
		entry := attachmentEntry(ref)
		if len(omitted) > 0 || len(entry)+1 > budget {
			omitted = append(omitted, ref.URL)
			continue
		}
		budget -= len(entry) + 1
		entries = append(entries, entry)
	}
	if len(entries) > 0 {
		meta[metaAttachments] = strings.Join(entries, " ")
	}
	if len(omitted) > 0 {
		meta[metaOmitted] = strconv.Itoa(len(omitted))
	}

	return vector.Item{
		ID:       t.ID,
		Vector:   vec,
		Content:  clipContent(t.Text),
		Metadata: meta,
	}, omitted
}

// turnFromItem rebuilds a turn recovered from the vector tier. Recovered
// turns only ever held durable refs; one whose refs did not all fit the
// metadata is marked incomplete.
func turnFromItem(it vector.Item) *chat.Turn {
	created, _ := time.Parse(time.RFC3339Nano, it.Metadata[metaCreatedAt])

	t := &chat.Turn{
		ID:        it.ID,
		UserID:    it.Metadata[metaUserID],
		ChatID:    it.Metadata[metaChatID],
		Role:      chat.Role(it.Metadata[metaRole]),
		Text:      it.Content,
		CreatedAt: created,
	}
	for entry := range strings.FieldsSeq(it.Metadata[metaAttachments]) {
		id, url := parseAttachmentEntry(entry)
		t.Attachments = append(t.Attachments, chat.Remote(id, url, blob.ContentTypeOf(url)))
	}
	if n, _ := strconv.Atoi(it.Metadata[metaOmitted]); n > 0 {
		t.Durability = chat.DurabilityIncomplete
	}
	t.RefreshDurability()
	return t
}

// attachmentEntry encodes a remote ref as "id=url", or the bare URL when
// the id cannot be encoded unambiguously.
func attachmentEntry(ref chat.AttachmentRef) string {
	if ref.ID == "" || strings.ContainsAny(ref.ID, "=:/ \t\n") {
		return ref.URL
	}
	return ref.ID + "=" + ref.URL
}

func parseAttachmentEntry(entry string) (id, url string) {
	if id, url, ok := strings.Cut(entry, "="); ok && !strings.ContainsAny(id, ":/") {
		return id, url
	}
	return chat.ContentIDFromURL(entry), entry
}

// clipContent bounds text to vector.MaxContentBytes on a rune boundary.
func clipContent(s string) string {
	if len(s) <= vector.MaxContentBytes {
		return s
	}
	cut := vector.MaxContentBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
