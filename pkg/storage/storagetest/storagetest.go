// Package storagetest holds the behaviors every storage.Driver must show,
// shared by the driver test suites.
package storagetest

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/storage"
)

var base = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

// NewSession builds an active session for user/chat active at base+offset.
func NewSession(userID, chatID string, offset time.Duration) *chat.Session {
	return &chat.Session{
		UserID:       userID,
		ChatID:       chatID,
		Title:        "chat " + chatID,
		Status:       chat.StatusActive,
		LastActivity: base.Add(offset),
	}
}

// DriverBehaviors registers the shared specs. newDriver is called before
// each test; the returned driver is closed after it.
func DriverBehaviors(newDriver func() storage.Driver) {
	var (
		driver storage.Driver
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = newDriver()
	})

	AfterEach(func() {
		if driver != nil {
			Expect(driver.Close()).To(Succeed())
		}
	})

	It("reports a missing session as not found", func() {
		_, err := driver.GetSession(ctx, chat.Key{UserID: "u1", ChatID: "missing"})
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, chat.ErrNotFound)).To(BeTrue())

		var nf storage.NotFoundError
		Expect(errors.As(err, &nf)).To(BeTrue())
		Expect(nf.Key.ChatID).To(Equal("missing"))
	})

	It("round-trips every session field", func() {
		s := NewSession("u1", "c1", time.Minute)
		s.PendingPersistence = true
		s.TurnCount = 7
		s.FailedJobs = []chat.FailedJob{{
			JobID:    "job-1",
			Kind:     "upload",
			TargetID: "att-1",
			Attempts: 5,
			Error:    "connection refused",
			FailedAt: base.Add(time.Hour),
		}}
		Expect(driver.PutSession(ctx, s)).To(Succeed())

		got, err := driver.GetSession(ctx, s.Key())
		Expect(err).NotTo(HaveOccurred())
		Expect(got.UserID).To(Equal("u1"))
		Expect(got.ChatID).To(Equal("c1"))
		Expect(got.Title).To(Equal("chat c1"))
		Expect(got.Status).To(Equal(chat.StatusActive))
		Expect(got.PendingPersistence).To(BeTrue())
		Expect(got.TurnCount).To(Equal(7))
		Expect(got.LastActivity.Equal(s.LastActivity)).To(BeTrue())
		Expect(got.FailedJobs).To(HaveLen(1))
		Expect(got.FailedJobs[0].JobID).To(Equal("job-1"))
		Expect(got.FailedJobs[0].FailedAt.Equal(base.Add(time.Hour))).To(BeTrue())
	})

	It("replaces a session on a second put", func() {
		s := NewSession("u1", "c1", 0)
		s.PendingPersistence = true
		Expect(driver.PutSession(ctx, s)).To(Succeed())

		s.PendingPersistence = false
		s.Status = chat.StatusEnded
		Expect(driver.PutSession(ctx, s)).To(Succeed())

		got, err := driver.GetSession(ctx, s.Key())
		Expect(err).NotTo(HaveOccurred())
		Expect(got.PendingPersistence).To(BeFalse())
		Expect(got.Status).To(Equal(chat.StatusEnded))
		Expect(got.FailedJobs).To(BeEmpty())
	})

	It("rejects sessions without a key", func() {
		Expect(driver.PutSession(ctx, &chat.Session{UserID: "u1"})).NotTo(Succeed())
		Expect(driver.PutSession(ctx, nil)).NotTo(Succeed())
	})

	It("lists a user's sessions most recent first", func() {
		Expect(driver.PutSession(ctx, NewSession("u1", "old", time.Minute))).To(Succeed())
		Expect(driver.PutSession(ctx, NewSession("u1", "new", time.Hour))).To(Succeed())
		Expect(driver.PutSession(ctx, NewSession("u2", "other", 2*time.Hour))).To(Succeed())

		list, err := driver.ListSessions(ctx, "u1")
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(HaveLen(2))
		Expect(list[0].ChatID).To(Equal("new"))
		Expect(list[1].ChatID).To(Equal("old"))

		none, err := driver.ListSessions(ctx, "nobody")
		Expect(err).NotTo(HaveOccurred())
		Expect(none).To(BeEmpty())
	})

	It("deletes sessions idempotently", func() {
		s := NewSession("u1", "c1", 0)
		Expect(driver.PutSession(ctx, s)).To(Succeed())
		Expect(driver.DeleteSession(ctx, s.Key())).To(Succeed())
		Expect(driver.DeleteSession(ctx, s.Key())).To(Succeed())

		_, err := driver.GetSession(ctx, s.Key())
		Expect(errors.Is(err, chat.ErrNotFound)).To(BeTrue())
	})
}
