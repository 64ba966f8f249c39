package sessionscmder_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	sessionscmder "github.com/papercomputeco/keepsake/cmd/keepsake/sessions"
	"github.com/papercomputeco/keepsake/api"
	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/orchestrator"
	"github.com/papercomputeco/keepsake/pkg/queue"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var _ = Describe("Sessions command", func() {
	var (
		mux    *http.ServeMux
		server *httptest.Server
		out    *bytes.Buffer
	)

	run := func(args ...string) error {
		cmd := sessionscmder.NewSessionsCmd()
		cmd.PersistentFlags().String("config-dir", "", "")
		cmd.SetOut(out)
		cmd.SetErr(out)
		cmd.SetArgs(append(args, "--api-target", server.URL, "--config-dir", GinkgoT().TempDir()))
		return cmd.Execute()
	}

	BeforeEach(func() {
		mux = http.NewServeMux()
		server = httptest.NewServer(mux)
		DeferCleanup(server.Close)
		out = &bytes.Buffer{}
	})

	It("has every subcommand", func() {
		cmd := sessionscmder.NewSessionsCmd()
		names := make([]string, 0)
		for _, sub := range cmd.Commands() {
			names = append(names, sub.Name())
		}
		Expect(names).To(ContainElements("list", "show", "jobs", "save", "end", "retry", "delete"))
	})

	It("lists sessions with their persistence state", func() {
		mux.HandleFunc("GET /sessions", func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(r.URL.Query().Get("user_id")).To(Equal("alice"))
			writeJSON(w, http.StatusOK, api.SessionsResponse{Count: 2, Sessions: []*chat.Session{
				{UserID: "alice", ChatID: "c1", Title: "Trip planning", Status: chat.StatusActive, TurnCount: 4, LastActivity: time.Now()},
				{UserID: "alice", ChatID: "c2", Status: chat.StatusEnded, FailedJobs: []chat.FailedJob{{JobID: "j1"}}},
			}})
		})

		Expect(run("list", "alice")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("c1"))
		Expect(out.String()).To(ContainSubstring("Trip planning"))
		Expect(out.String()).To(ContainSubstring("1 failed job(s)"))
	})

	It("reports an empty list", func() {
		mux.HandleFunc("GET /sessions", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, api.SessionsResponse{Sessions: []*chat.Session{}})
		})

		Expect(run("list", "bob")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("No conversations for bob."))
	})

	It("shows a conversation's turns", func() {
		mux.HandleFunc("GET /sessions/alice/c1", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, orchestrator.Conversation{
				Session:   &chat.Session{UserID: "alice", ChatID: "c1", Status: chat.StatusActive},
				Recovered: 1,
				Turns: []*chat.Turn{
					{ID: "t1", Role: chat.RoleUser, Text: "Where should we go?", Durability: chat.DurabilityDurable},
					{ID: "t2", Role: chat.RoleAssistant, Text: "Lisbon.", Durability: chat.DurabilityPending,
						Attachments: []chat.AttachmentRef{chat.Remote("img", "s3://b/img", "image/png")}},
				},
			})
		})

		Expect(run("show", "alice", "c1")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("Where should we go?"))
		Expect(out.String()).To(ContainSubstring("Lisbon."))
		Expect(out.String()).To(ContainSubstring("1 attachment(s)"))
		Expect(out.String()).To(ContainSubstring("recovered"))
	})

	It("lists jobs", func() {
		mux.HandleFunc("GET /sessions/alice/c1/jobs", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, api.JobsResponse{Count: 1, Jobs: []queue.Status{
				{ID: "j1", Kind: queue.KindUpload, TargetID: "img", State: queue.StateFailed, Attempts: 5, LastError: "bucket gone"},
			}})
		})

		Expect(run("jobs", "alice", "c1")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("upload"))
		Expect(out.String()).To(ContainSubstring("bucket gone"))
	})

	It("runs lifecycle actions", func() {
		var calls []string
		for _, route := range []string{"POST /sessions/alice/c1/save", "POST /sessions/alice/c1/end"} {
			mux.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
				calls = append(calls, r.URL.Path)
				writeJSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
			})
		}
		mux.HandleFunc("POST /sessions/alice/c1/retry", func(w http.ResponseWriter, r *http.Request) {
			calls = append(calls, r.URL.Path)
			writeJSON(w, http.StatusAccepted, map[string]int{"retried": 2})
		})
		mux.HandleFunc("DELETE /sessions/alice/c1", func(w http.ResponseWriter, r *http.Request) {
			calls = append(calls, r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		})

		Expect(run("save", "alice", "c1")).To(Succeed())
		Expect(run("end", "alice", "c1")).To(Succeed())
		Expect(run("retry", "alice", "c1")).To(Succeed())
		Expect(run("delete", "alice", "c1")).To(Succeed())

		Expect(calls).To(Equal([]string{
			"/sessions/alice/c1/save",
			"/sessions/alice/c1/end",
			"/sessions/alice/c1/retry",
			"/sessions/alice/c1",
		}))
		Expect(out.String()).To(ContainSubstring("Retried 2 job(s)"))
		Expect(out.String()).To(ContainSubstring("Deleted alice/c1"))
	})

	It("surfaces API errors", func() {
		mux.HandleFunc("POST /sessions/alice/nope/save", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: "conversation not found"})
		})

		err := run("save", "alice", "nope")
		Expect(err).To(MatchError(chat.ErrNotFound))
	})

	It("requires a user and chat", func() {
		Expect(run("show", "alice")).To(HaveOccurred())
	})
})
