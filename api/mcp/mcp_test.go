package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/logger"
	"github.com/papercomputeco/keepsake/pkg/orchestrator"
	"github.com/papercomputeco/keepsake/pkg/queue"
	testutils "github.com/papercomputeco/keepsake/pkg/utils/test"
)

func newOrchestrator(withVectors bool) *orchestrator.Orchestrator {
	GinkgoHelper()
	c := orchestrator.Config{
		Documents: testutils.NewFlakyDocuments(),
		Blobs:     testutils.NewFlakyBlobStore(),
		Queue: queue.Config{
			MaxAttempts: 3,
			Backoff:     queue.Backoff{Base: 5 * time.Millisecond, Max: 20 * time.Millisecond},
		},
		Logger: logger.Nop(),
	}
	if withVectors {
		c.Vectors = testutils.NewMockVectorDriver()
		c.Embedder = testutils.NewMockEmbedder()
	}
	o, err := orchestrator.New(c)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(o.Close)
	return o
}

func resultText(res *mcp.CallToolResult) string {
	GinkgoHelper()
	Expect(res.Content).To(HaveLen(1))
	text, ok := res.Content[0].(*mcp.TextContent)
	Expect(ok).To(BeTrue())
	return text.Text
}

var _ = Describe("MCP Server", func() {
	var (
		ctx    context.Context
		key    chat.Key
		o      *orchestrator.Orchestrator
		server *Server
	)

	BeforeEach(func() {
		ctx = context.Background()
		key = chat.Key{UserID: "user-1", ChatID: "chat-1"}
		o = newOrchestrator(true)

		var err error
		server, err = NewServer(Config{Orchestrator: o, Logger: logger.Nop()})
		Expect(err).NotTo(HaveOccurred())

		for _, t := range testutils.NewTestConversation(key, 2) {
			_, err := o.Append(ctx, t)
			Expect(err).NotTo(HaveOccurred())
		}
	})

	Describe("NewServer", func() {
		It("returns an error when the orchestrator is nil", func() {
			_, err := NewServer(Config{Logger: logger.Nop()})
			Expect(err).To(MatchError(ContainSubstring("orchestrator is required")))
		})

		It("returns an error when logger is nil", func() {
			_, err := NewServer(Config{Orchestrator: o})
			Expect(err).To(MatchError(ContainSubstring("logger is required")))
		})

		It("creates an empty server in noop mode", func() {
			s, err := NewServer(Config{Noop: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Handler()).NotTo(BeNil())
		})

		It("returns an HTTP handler", func() {
			Expect(server.Handler()).NotTo(BeNil())
		})
	})

	Describe("conversation_load", func() {
		It("requires a user and chat id", func() {
			res, _, err := server.handleLoad(ctx, nil, LoadInput{UserID: "user-1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsError).To(BeTrue())
		})

		It("returns the conversation turns in order", func() {
			res, out, err := server.handleLoad(ctx, nil, LoadInput{UserID: "user-1", ChatID: "chat-1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsError).To(BeFalse())
			Expect(out.Status).To(Equal(chat.StatusActive))
			Expect(out.Turns).To(HaveLen(2))
			Expect(out.Turns[0].Text).To(Equal("message 0"))
			Expect(out.Turns[1].Role).To(Equal(chat.RoleAssistant))

			var decoded LoadOutput
			Expect(json.Unmarshal([]byte(resultText(res)), &decoded)).To(Succeed())
			Expect(decoded.Turns).To(HaveLen(2))
		})

		It("returns an unknown conversation empty", func() {
			_, out, err := server.handleLoad(ctx, nil, LoadInput{UserID: "user-1", ChatID: "nope"})
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Turns).To(BeEmpty())
		})
	})

	Describe("conversation_list", func() {
		It("lists the user's conversations", func() {
			_, out, err := server.handleList(ctx, nil, ListInput{UserID: "user-1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Count).To(Equal(1))
			Expect(out.Sessions[0].ChatID).To(Equal("chat-1"))
			Expect(out.Sessions[0].TurnCount).To(Equal(2))
		})

		It("requires a user id", func() {
			res, _, err := server.handleList(ctx, nil, ListInput{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsError).To(BeTrue())
		})
	})

	Describe("memory_search", func() {
		It("returns saved turns with previews", func() {
			long := testutils.NewTestTurn(key, 2, chat.RoleUser, strings.Repeat("x", 500))
			_, err := o.Append(ctx, long)
			Expect(err).NotTo(HaveOccurred())
			Expect(o.Save(ctx, key)).To(Succeed())
			dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			Expect(o.Drain(dctx)).To(Succeed())

			_, out, err := server.handleSearch(ctx, nil, SearchInput{UserID: "user-1", Query: "message", TopK: 10})
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Count).To(Equal(3))
			for _, r := range out.Results {
				Expect(r.ChatID).To(Equal("chat-1"))
				Expect(len(r.Preview)).To(BeNumerically("<=", previewLen+3))
			}
		})

		It("reports an error result without a vector store", func() {
			s, err := NewServer(Config{Orchestrator: newOrchestrator(false), Logger: logger.Nop()})
			Expect(err).NotTo(HaveOccurred())

			res, _, err := s.handleSearch(ctx, nil, SearchInput{UserID: "user-1", Query: "message"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsError).To(BeTrue())
			Expect(resultText(res)).To(ContainSubstring("vector store"))
		})
	})

	It("serves tools to a connected client", func() {
		clientTransport, serverTransport := mcp.NewInMemoryTransports()
		ss, err := server.mcpServer.Connect(ctx, serverTransport, nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(ss.Close)

		client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.0"}, nil)
		cs, err := client.Connect(ctx, clientTransport, nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(cs.Close)

		res, err := cs.CallTool(ctx, &mcp.CallToolParams{
			Name:      loadToolName,
			Arguments: map[string]any{"user_id": "user-1", "chat_id": "chat-1"},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.IsError).To(BeFalse())

		var out LoadOutput
		Expect(json.Unmarshal([]byte(resultText(res)), &out)).To(Succeed())
		Expect(out.Turns).To(HaveLen(2))
	})
})
