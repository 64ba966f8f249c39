package chatcmder

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/keepsake/api"
	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/orchestrator"
	"github.com/papercomputeco/keepsake/pkg/sse"
)

func writeEvent(w http.ResponseWriter, typ string, v any) {
	data, _ := json.Marshal(v)
	_ = sse.Write(w, sse.Event{Type: typ, Data: string(data)})
}

var _ = Describe("Chat command", func() {
	var (
		mux    *http.ServeMux
		server *httptest.Server
		out    *bytes.Buffer
		errOut *bytes.Buffer

		mu       sync.Mutex
		requests []api.MessageRequest
		commands []string
	)

	run := func(input string, args ...string) error {
		cmd := NewChatCmd()
		cmd.PersistentFlags().Bool("debug", false, "")
		cmd.PersistentFlags().String("config-dir", "", "")
		cmd.SetIn(strings.NewReader(input))
		cmd.SetOut(out)
		cmd.SetErr(errOut)
		cmd.SetArgs(append([]string{"alice", "c1", "--api-target", server.URL, "--config-dir", GinkgoT().TempDir()}, args...))
		return cmd.Execute()
	}

	BeforeEach(func() {
		requests = nil
		commands = nil
		out = &bytes.Buffer{}
		errOut = &bytes.Buffer{}

		mux = http.NewServeMux()
		mux.HandleFunc("GET /sessions/alice/c1", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(orchestrator.Conversation{Turns: []*chat.Turn{}})
		})
		mux.HandleFunc("POST /sessions/alice/c1/messages", func(w http.ResponseWriter, r *http.Request) {
			var req api.MessageRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			mu.Lock()
			requests = append(requests, req)
			mu.Unlock()

			if req.Prompt == "busy" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusConflict)
				_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "conversation is busy"})
				return
			}

			w.Header().Set("Content-Type", "text/event-stream")
			writeEvent(w, api.EventChunk, api.ChunkEvent{Text: "Hello "})
			writeEvent(w, api.EventChunk, api.ChunkEvent{Text: "there."})
			writeEvent(w, api.EventDone, api.MessageResponse{
				User:      &chat.Turn{ID: "u1", Role: chat.RoleUser, Text: req.Prompt},
				Assistant: &chat.Turn{ID: "a1", Role: chat.RoleAssistant, Text: "Hello there."},
				Cached:    req.Prompt == "again",
			})
		})
		for _, action := range []string{"save", "end"} {
			mux.HandleFunc("POST /sessions/alice/c1/"+action, func(w http.ResponseWriter, _ *http.Request) {
				mu.Lock()
				commands = append(commands, action)
				mu.Unlock()
				w.WriteHeader(http.StatusAccepted)
			})
		}

		server = httptest.NewServer(mux)
		DeferCleanup(server.Close)
	})

	It("streams answers", func() {
		Expect(run("hi\n/exit\n", "--markdown=false")).To(Succeed())

		Expect(out.String()).To(ContainSubstring("New conversation"))
		Expect(out.String()).To(ContainSubstring("Hello there."))
		Expect(requests).To(HaveLen(1))
		Expect(requests[0].Prompt).To(Equal("hi"))
	})

	It("marks cached answers", func() {
		Expect(run("again\n", "--markdown=false")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("answered from cache"))
	})

	It("reports a busy conversation and keeps going", func() {
		Expect(run("busy\nhi\n", "--markdown=false")).To(Succeed())
		Expect(errOut.String()).To(ContainSubstring("still being answered"))
		Expect(requests).To(HaveLen(2))
	})

	It("runs save and end commands", func() {
		Expect(run("/save\n/end\nnever sent\n", "--markdown=false")).To(Succeed())
		Expect(commands).To(Equal([]string{"save", "end"}))
		Expect(requests).To(BeEmpty())
	})

	It("sends attachments with the next message only", func() {
		path := filepath.Join(GinkgoT().TempDir(), "notes.txt")
		Expect(os.WriteFile(path, []byte("packing list"), 0o600)).To(Succeed())

		Expect(run("/attach "+path+"\nfirst\nsecond\n", "--markdown=false")).To(Succeed())

		Expect(requests).To(HaveLen(2))
		Expect(requests[0].Attachments).To(HaveLen(1))
		Expect(requests[0].Attachments[0].ID).To(Equal(chat.ContentIDOf([]byte("packing list"))))
		Expect(requests[0].Attachments[0].ID).NotTo(ContainSubstring("."))
		Expect(requests[0].Attachments[0].ContentType).To(HavePrefix("text/plain"))
		Expect(string(requests[0].Attachments[0].Data)).To(Equal("packing list"))
		Expect(requests[1].Attachments).To(BeEmpty())
	})

	It("rejects unknown commands", func() {
		Expect(run("/dance\n", "--markdown=false")).To(Succeed())
		Expect(errOut.String()).To(ContainSubstring("unknown command /dance"))
	})

	It("renders markdown when asked", func() {
		Expect(run("hi\n", "--markdown")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("Hello there."))
		Expect(out.String()).To(ContainSubstring("thinking"))
	})
})

var _ = Describe("readAttachment", func() {
	It("requires a path", func() {
		_, err := readAttachment("")
		Expect(err).To(MatchError(ContainSubstring("usage")))
	})

	It("rejects directories", func() {
		_, err := readAttachment(GinkgoT().TempDir())
		Expect(err).To(MatchError(ContainSubstring("directory")))
	})

	It("sniffs unknown extensions", func() {
		path := filepath.Join(GinkgoT().TempDir(), "blob")
		Expect(os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n0000"), 0o600)).To(Succeed())

		a, err := readAttachment(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(a.ContentType).To(Equal("image/png"))
	})
})
