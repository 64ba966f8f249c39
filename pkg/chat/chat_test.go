package chat_test

import (
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/keepsake/pkg/chat"
)

var _ = Describe("Turn", func() {
	Describe("RefreshDurability", func() {
		It("treats a turn without attachments as durable", func() {
			t := &chat.Turn{ID: "t1", Role: chat.RoleUser, Text: "hi"}
			t.RefreshDurability()
			Expect(t.Durable).To(BeTrue())
			Expect(t.Durability).To(Equal(chat.DurabilityDurable))
		})

		It("is never durable while a PendingRef remains", func() {
			t := &chat.Turn{
				ID: "t1",
				Attachments: []chat.AttachmentRef{
					chat.Remote("a1", "mem://blobs/a1.png", "image/png"),
					chat.Pending("a2", "job-2", "image/png"),
				},
			}
			t.RefreshDurability()
			Expect(t.Durable).To(BeFalse())
			Expect(t.Durability).To(Equal(chat.DurabilityPending))
		})

		It("keeps the failed marker until every ref is remote", func() {
			t := &chat.Turn{
				ID:          "t1",
				Attachments: []chat.AttachmentRef{chat.Pending("a1", "job-1", "image/png")},
			}
			t.MarkFailed()
			t.RefreshDurability()
			Expect(t.Durability).To(Equal(chat.DurabilityFailed))
			Expect(t.Durable).To(BeFalse())
		})
	})

	Describe("Resolve", func() {
		It("flips the turn to durable once the last pending ref resolves", func() {
			t := &chat.Turn{
				ID: "t1",
				Attachments: []chat.AttachmentRef{
					chat.Pending("a1", "job-1", "image/png"),
					chat.Pending("a2", "job-2", "image/png"),
				},
			}
			t.RefreshDurability()

			Expect(t.Resolve("job-1", "mem://blobs/a1")).To(BeTrue())
			Expect(t.Durable).To(BeFalse())

			Expect(t.Resolve("job-2", "mem://blobs/a2")).To(BeTrue())
			Expect(t.Durable).To(BeTrue())
			Expect(t.Attachments[1].Kind).To(Equal(chat.KindRemote))
			Expect(t.Attachments[1].URL).To(Equal("mem://blobs/a2"))
		})

		It("clears a failed marker when the failed upload later succeeds", func() {
			t := &chat.Turn{
				ID:          "t1",
				Attachments: []chat.AttachmentRef{chat.Pending("a1", "job-1", "image/png")},
			}
			t.MarkFailed()
			Expect(t.Resolve("job-1", "mem://blobs/a1")).To(BeTrue())
			Expect(t.Durability).To(Equal(chat.DurabilityDurable))
		})

		It("never reports an incomplete turn as durable", func() {
			t := &chat.Turn{
				ID:          "t1",
				Attachments: []chat.AttachmentRef{chat.Remote("a1", "mem://blobs/a1", "image/png")},
				Durability:  chat.DurabilityIncomplete,
			}
			t.RefreshDurability()
			Expect(t.Durable).To(BeFalse())
			Expect(t.Durability).To(Equal(chat.DurabilityIncomplete))
		})

		It("returns false for an unknown correlation id", func() {
			t := &chat.Turn{ID: "t1"}
			Expect(t.Resolve("nope", "mem://x")).To(BeFalse())
		})
	})

	Describe("Clone", func() {
		It("copies attachments and payloads", func() {
			t := &chat.Turn{
				ID:          "t1",
				Attachments: []chat.AttachmentRef{chat.Inline("a1", "image/png", []byte{1, 2, 3})},
			}
			c := t.Clone()
			c.Attachments[0].Payload[0] = 9
			c.Attachments[0].ID = "changed"

			Expect(t.Attachments[0].Payload[0]).To(Equal(byte(1)))
			Expect(t.Attachments[0].ID).To(Equal("a1"))
		})
	})
})

var _ = Describe("AttachmentRef", func() {
	DescribeTable("Validate",
		func(ref chat.AttachmentRef, ok bool) {
			if ok {
				Expect(ref.Validate()).To(Succeed())
			} else {
				Expect(ref.Validate()).To(HaveOccurred())
			}
		},
		Entry("inline with payload", chat.Inline("a", "image/png", []byte{1}), true),
		Entry("inline without payload", chat.Inline("a", "image/png", nil), false),
		Entry("remote with url", chat.Remote("a", "s3://b/a", ""), true),
		Entry("remote without url", chat.Remote("a", "", ""), false),
		Entry("pending with correlation", chat.Pending("a", "j", ""), true),
		Entry("pending without correlation", chat.Pending("a", "", ""), false),
		Entry("unknown kind", chat.AttachmentRef{Kind: "weird", ID: "a"}, false),
		Entry("missing id", chat.AttachmentRef{Kind: chat.KindRemote, URL: "x"}, false),
	)

	DescribeTable("ContentIDFromURL",
		func(url, want string) {
			Expect(chat.ContentIDFromURL(url)).To(Equal(want))
		},
		Entry("plain key", "mem://blobs/abc", "abc"),
		Entry("with extension", "https://cdn.example.com/u/abc.png", "abc"),
		Entry("with query", "https://cdn.example.com/abc.png?sig=1", "abc"),
		Entry("empty", "", ""),
	)

	It("derives stable, url-safe content ids from payloads", func() {
		id := chat.ContentIDOf([]byte("packing list"))
		Expect(id).To(HaveLen(32))
		Expect(id).To(MatchRegexp(`^[0-9a-f]+$`))
		Expect(chat.ContentIDOf([]byte("packing list"))).To(Equal(id))
		Expect(chat.ContentIDOf([]byte("other"))).NotTo(Equal(id))
	})

	It("prefers the explicit id as content id", func() {
		ref := chat.Remote("content-1", "https://cdn.example.com/other.png", "image/png")
		Expect(ref.ContentID()).To(Equal("content-1"))
	})
})

var _ = Describe("Errors", func() {
	It("keeps the cause when wrapping an unavailable tier", func() {
		cause := errors.New("dial tcp: refused")
		err := chat.Unavailable("blob put", cause)
		Expect(errors.Is(err, chat.ErrUpstreamUnavailable)).To(BeTrue())
		Expect(errors.Is(err, cause)).To(BeTrue())
	})

	It("unwraps partial write errors", func() {
		err := fmt.Errorf("append: %w", &chat.PartialWriteError{Tier: "document", Err: chat.ErrUpstreamUnavailable})
		var pw *chat.PartialWriteError
		Expect(errors.As(err, &pw)).To(BeTrue())
		Expect(pw.Tier).To(Equal("document"))
		Expect(errors.Is(err, chat.ErrUpstreamUnavailable)).To(BeTrue())
	})
})
