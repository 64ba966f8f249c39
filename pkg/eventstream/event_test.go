package eventstream_test

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/eventstream"
)

var _ = Describe("DurabilityEvent", func() {
	It("fills envelope fields", func() {
		now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.FixedZone("x", 3600))
		e := eventstream.NewEvent(eventstream.EventTypeSessionSaved, chat.Key{UserID: "u1", ChatID: "c1"}, now)

		Expect(e.SchemaVersion).To(Equal(eventstream.SchemaVersionV1))
		Expect(e.EventID).To(HaveLen(26))
		Expect(e.EmittedAt.Location()).To(Equal(time.UTC))
		Expect(e.PartitionKey()).To(Equal("u1/c1"))
	})

	It("issues distinct ids", func() {
		key := chat.Key{UserID: "u1", ChatID: "c1"}
		a := eventstream.NewEvent(eventstream.EventTypeTurnDurable, key, time.Now())
		b := eventstream.NewEvent(eventstream.EventTypeTurnDurable, key, time.Now())
		Expect(a.EventID).NotTo(Equal(b.EventID))
	})

	It("marshals with stable keys", func() {
		e := eventstream.NewEvent(eventstream.EventTypeTurnFailed, chat.Key{UserID: "u1", ChatID: "c1"}, time.Now())
		e.Job = &eventstream.JobMeta{ID: "j1", Kind: "upload", Attempts: 5, Error: "timeout"}

		payload, err := json.Marshal(e)
		Expect(err).NotTo(HaveOccurred())

		var got map[string]any
		Expect(json.Unmarshal(payload, &got)).To(Succeed())
		Expect(got).To(HaveKey("schema_version"))
		Expect(got).To(HaveKey("event_type"))
		Expect(got).To(HaveKey("job"))
		Expect(got).NotTo(HaveKey("turn_id"))
	})
})
