package piazza

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

// mockServer creates an httptest server that mimics the Piazza API.
func mockServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	// Always register the token endpoint unless the test overrides it.
	if _, ok := handlers["POST /auth/token"]; !ok {
		mux.HandleFunc("POST /auth/token", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"token":      "test-token-xyz",
				"expires_at": time.Now().Add(1 * time.Hour).Format(time.RFC3339),
			})
		})
	}

	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}

	return httptest.NewServer(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail map[string]any) {
	writeJSON(w, status, map[string]any{"detail": detail})
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL: serverURL,
		APIKey:  "ap_test_key",
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestRegisterReturnsCredentials(t *testing.T) {
	agentID := uuid.New()
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /agents/register": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "" {
				t.Error("register must not send credentials")
			}
			var req RegisterAgentRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeDetail(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusCreated, RegisterAgentResponse{
				ID:          agentID,
				Name:        req.Name,
				APIKey:      "ap_generated",
				ClaimToken:  "claim_generated",
				ClaimStatus: "pending_claim",
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.Register(context.Background(), RegisterAgentRequest{Name: "scout-1"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if resp.ID != agentID {
		t.Errorf("expected agent ID %s, got %s", agentID, resp.ID)
	}
	if resp.APIKey != "ap_generated" {
		t.Errorf("expected plaintext api key, got %q", resp.APIKey)
	}
}

func TestCreateInsightSendsToken(t *testing.T) {
	var gotAuth string
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /insights": func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			var req CreateInsightRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeDetail(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusCreated, Insight{
				ID:      uuid.New(),
				Topic:   req.Topic,
				Phase:   req.Phase,
				Content: req.Content,
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	insight, err := client.CreateInsight(context.Background(), CreateInsightRequest{
		Topic: "RAG Pipelines",
		Phase: PhaseDebug,
		Content: InsightContent{
			Problem:  "retriever returns noise",
			Solution: "rerank with a cross-encoder",
		},
	})
	if err != nil {
		t.Fatalf("CreateInsight failed: %v", err)
	}
	if gotAuth != "Bearer test-token-xyz" {
		t.Errorf("expected JWT bearer header, got %q", gotAuth)
	}
	if insight.Topic != "RAG Pipelines" {
		t.Errorf("expected topic round-trip, got %q", insight.Topic)
	}
}

func TestScopeViolationError(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /insights": func(w http.ResponseWriter, r *http.Request) {
			writeDetail(w, http.StatusForbidden, map[string]any{
				"error":            "content is outside the platform scope",
				"hint":             "insights must relate to agentic web research",
				"similarity_score": 0.12,
				"threshold":        0.3,
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.CreateInsight(context.Background(), CreateInsightRequest{
		Topic:   "Sourdough",
		Phase:   PhaseOther,
		Content: InsightContent{Problem: "dense crumb", Solution: "longer proof"},
	})
	if err == nil {
		t.Fatal("expected scope violation error")
	}
	if !IsScopeViolation(err) {
		t.Fatalf("expected IsScopeViolation, got %v", err)
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if apiErr.SimilarityScore == nil || *apiErr.SimilarityScore != 0.12 {
		t.Errorf("expected similarity score 0.12, got %v", apiErr.SimilarityScore)
	}
	if apiErr.Threshold == nil || *apiErr.Threshold != 0.3 {
		t.Errorf("expected threshold 0.3, got %v", apiErr.Threshold)
	}
}

func TestTokenIsCachedAcrossRequests(t *testing.T) {
	var tokenCalls atomic.Int32
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			tokenCalls.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{
				"token":      "cached-token",
				"expires_at": time.Now().Add(1 * time.Hour).Format(time.RFC3339),
			})
		},
		"GET /agents/me": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, Agent{ID: uuid.New(), Name: "scout-1"})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	for i := 0; i < 3; i++ {
		if _, err := client.Me(context.Background()); err != nil {
			t.Fatalf("Me failed: %v", err)
		}
	}
	if got := tokenCalls.Load(); got != 1 {
		t.Errorf("expected 1 token exchange, got %d", got)
	}
}

func TestSearchEncodesQuery(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /search/semantic": func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("q"); got != "rate limits & retries" {
				t.Errorf("unexpected query %q", got)
			}
			if got := r.URL.Query().Get("top_k"); got != "3" {
				t.Errorf("unexpected top_k %q", got)
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"query":   r.URL.Query().Get("q"),
				"results": []SemanticSearchResult{{Insight: Insight{Topic: "API Backoff"}, Score: 0.91}},
				"total":   1,
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	results, err := client.Search(context.Background(), "rate limits & retries", 3)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].Score != 0.91 {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestChatFlow(t *testing.T) {
	agentID := uuid.New()
	pending := PendingPost{
		ContentType: "insight",
		Topic:       "Tool Use",
		Phase:       PhaseImplementation,
		Problem:     "tool schemas drift",
		Solution:    "generate schemas from source",
		Tags:        []string{"tools"},
	}

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /chat/{agent_id}": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, ChatResponse{
				Reply:       "Here's what I'm about to post.",
				SessionID:   "sess-1",
				PendingPost: &pending,
			})
		},
		"POST /chat/{agent_id}/confirm": func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				SessionID   string      `json:"session_id"`
				PendingPost PendingPost `json:"pending_post"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeDetail(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
				return
			}
			if body.PendingPost.Topic != pending.Topic {
				writeDetail(w, http.StatusConflict, map[string]any{"error": "pending post has changed"})
				return
			}
			writeJSON(w, http.StatusOK, ChatResponse{Reply: "posted", SessionID: body.SessionID})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	ctx := context.Background()

	sent, err := client.SendMessage(ctx, agentID, "", "post an insight about tool schemas")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if sent.SessionID != "sess-1" {
		t.Errorf("expected minted session id, got %q", sent.SessionID)
	}
	if sent.PendingPost == nil {
		t.Fatal("expected a staged pending post")
	}

	confirmed, err := client.ConfirmPost(ctx, agentID, sent.SessionID, *sent.PendingPost)
	if err != nil {
		t.Fatalf("ConfirmPost failed: %v", err)
	}
	if confirmed.Reply != "posted" {
		t.Errorf("unexpected confirm reply %q", confirmed.Reply)
	}

	// A mismatched echo is a conflict.
	stale := *sent.PendingPost
	stale.Topic = "Something Else"
	_, err = client.ConfirmPost(ctx, agentID, sent.SessionID, stale)
	if !IsConflict(err) {
		t.Errorf("expected conflict error, got %v", err)
	}
}

func TestAuthedRequestWithoutKeyFails(t *testing.T) {
	srv := mockServer(t, nil)
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if _, err := client.Me(context.Background()); err == nil {
		t.Fatal("expected error for authenticated request without APIKey")
	}
}
