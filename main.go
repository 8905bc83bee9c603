package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Global page cache instance
var pageCache *PageCache

func main() {
	LoadConfig()

	pageCache = NewPageCache(PageCacheTTL)

	router := NewRouter()

	log.Printf("Starting LLM Council backend on port %s...", ServerPort)
	if err := router.Run(":" + ServerPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// NewRouter builds the gin engine with middleware and all routes.
func NewRouter() *gin.Engine {
	router := gin.Default()

	// Request size limit middleware
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestBodySize)
		c.Next()
	})

	// CORS middleware with dynamic origin validation
	router.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			// In production, use environment-configured origins
			if len(CORSAllowedOrigins) > 0 {
				for _, allowedOrigin := range CORSAllowedOrigins {
					if origin == allowedOrigin {
						return true
					}
				}
				return false
			}
			// In development, allow any localhost/127.0.0.1 origin
			return len(origin) > 0 && (len(origin) >= 16 && origin[:16] == "http://localhost" ||
				len(origin) >= 14 && origin[:14] == "http://127.0.0")
		},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
	}))

	router.GET("/", healthCheck)
	router.GET("/api/conversations", listConversationsHandler)
	router.POST("/api/conversations", createConversationHandler)
	router.GET("/api/conversations/:id", getConversationHandler)
	router.POST("/api/conversations/:id/message", sendMessageHandler)
	router.POST("/api/conversations/:id/message/stream", sendMessageStreamHandler)
	router.POST("/api/fetch-url", fetchURLHandler)

	return router
}

// healthCheck returns a simple health check response.
// GET / - Returns service status information.
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "LLM Council API",
	})
}

// listConversationsHandler lists all conversations with metadata only.
// GET /api/conversations - Returns array of conversation metadata sorted by date.
func listConversationsHandler(c *gin.Context) {
	conversations, err := ListConversations()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to list conversations: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, conversations)
}

// createConversationHandler creates a new conversation.
// POST /api/conversations - Generates a new UUID and creates an empty conversation.
func createConversationHandler(c *gin.Context) {
	conversationID := uuid.New().String()

	conversation, err := CreateConversation(conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to create conversation: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, conversation)
}

// getConversationHandler gets a specific conversation by ID.
// GET /api/conversations/:id - Returns full conversation including all messages.
func getConversationHandler(c *gin.Context) {
	conversationID := c.Param("id")

	conversation, err := GetConversation(conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to get conversation: %v", err),
		})
		return
	}

	if conversation == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Conversation not found",
		})
		return
	}

	c.JSON(http.StatusOK, conversation)
}

// sendMessageHandler sends a message and runs the 3-stage council process.
// POST /api/conversations/:id/message - Runs full council and returns all stages at once.
// Use sendMessageStreamHandler for the SSE streaming version.
func sendMessageHandler(c *gin.Context) {
	conversationID := c.Param("id")

	var request SendMessageRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	conversation, err := GetConversation(conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to get conversation: %v", err),
		})
		return
	}
	if conversation == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Conversation not found",
		})
		return
	}

	isFirstMessage := len(conversation.Messages) == 0

	if err := AddUserMessage(conversationID, request.Content); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to add user message: %v", err),
		})
		return
	}

	// Generate title if first message (run in background)
	if isFirstMessage {
		go generateTitleInBackground(conversationID, request.Content, nil)
	}

	// Model calls run on a background context so a dropped client doesn't
	// abort in-flight work; per-call timeouts bound each model instead.
	run := NewCouncilRun(request.Content, nil)
	err = run.Execute(context.Background())
	logRunOutcome(run, err)
	if err != nil {
		// Keep whatever stages completed before the failure.
		if saveErr := AddAssistantMessage(conversationID, run.AssistantMessage()); saveErr != nil {
			log.Printf("Failed to save partial message: %v", saveErr)
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Council process failed: %v", err),
		})
		return
	}

	if err := AddAssistantMessage(conversationID, run.AssistantMessage()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to add assistant message: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, SendMessageResponse{
		Stage1:   run.Stage1,
		Stage2:   run.Stage2,
		Stage3:   *run.Stage3,
		Metadata: run.Metadata,
	})
}

// sendMessageStreamHandler sends a message and streams the 3-stage council process via SSE.
// POST /api/conversations/:id/message/stream - Streams progress events as each stage completes.
// The client always receives either a complete event or an error event before the stream closes.
func sendMessageStreamHandler(c *gin.Context) {
	conversationID := c.Param("id")

	var request SendMessageRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	conversation, err := GetConversation(conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to get conversation: %v", err),
		})
		return
	}
	if conversation == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Conversation not found",
		})
		return
	}

	// Set SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	// The sink writes each event as its own data frame. Write errors after
	// a client disconnect are ignored; the run finishes for persistence.
	sink := func(event CouncilEvent) {
		if err := WriteEvent(c.Writer, event); err != nil {
			log.Printf("Failed to write SSE event: %v", err)
			return
		}
		c.Writer.Flush()
	}

	isFirstMessage := len(conversation.Messages) == 0

	if err := AddUserMessage(conversationID, request.Content); err != nil {
		sink(CouncilEvent{Type: EventError, Message: fmt.Sprintf("Failed to add user message: %v", err)})
		return
	}

	// Start title generation in background if first message
	var titleChan chan string
	if isFirstMessage {
		titleChan = make(chan string, 1)
		go generateTitleInBackground(conversationID, request.Content, titleChan)
	}

	run := NewCouncilRun(request.Content, sink)
	err = run.Execute(context.Background())
	logRunOutcome(run, err)

	// The terminal message keeps whatever stages completed, failed or not.
	if saveErr := AddAssistantMessage(conversationID, run.AssistantMessage()); saveErr != nil {
		log.Printf("Failed to save message: %v", saveErr)
		if err == nil {
			sink(CouncilEvent{Type: EventError, Message: fmt.Sprintf("Failed to save message: %v", saveErr)})
			return
		}
	}
	if err != nil {
		// The run already emitted its error event before reaching here.
		return
	}

	// Wait for title if it was being generated
	if titleChan != nil {
		if title := <-titleChan; title != "" {
			sink(CouncilEvent{Type: EventTitleComplete, Data: gin.H{"title": title}})
		}
	}

	sink(CouncilEvent{Type: EventComplete})
}

// generateTitleInBackground creates a title for a conversation's first
// message and stores it, falling back to the default title on failure.
// When titleChan is non-nil, the generated title is delivered on it (the
// channel is always closed).
func generateTitleInBackground(conversationID, content string, titleChan chan string) {
	if titleChan != nil {
		defer close(titleChan)
	}

	title, err := GenerateConversationTitle(context.Background(), content)
	if err != nil {
		log.Printf("Failed to generate title: %v", err)
		UpdateConversationTitle(conversationID, "New Conversation")
		return
	}

	UpdateConversationTitle(conversationID, title)
	if titleChan != nil {
		titleChan <- title
	}
}

// fetchURLHandler fetches and extracts readable content from a URL so it
// can be pasted into a question as context.
// POST /api/fetch-url - Body: {"url": "https://..."}
// Query params: ?refresh=true (bypass the page cache)
func fetchURLHandler(c *gin.Context) {
	var request struct {
		URL string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	forceRefresh := c.Query("refresh") == "true"

	if !forceRefresh {
		if content, ok := pageCache.Get(request.URL); ok {
			c.JSON(http.StatusOK, gin.H{
				"content": content,
				"cached":  true,
			})
			return
		}
	}

	content, err := FetchURLContent(c.Request.Context(), request.URL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to fetch URL content: %v", err),
		})
		return
	}

	pageCache.Set(request.URL, content)

	c.JSON(http.StatusOK, gin.H{
		"content": content,
		"cached":  false,
	})
}
