package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
)

type AuthResponse struct {
	Token    string `json:"access_token"`
	Username string `json:"username"`
}

type frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type stats struct {
	sent     atomic.Int64
	received atomic.Int64
	failed   atomic.Int64
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "server base url")
	pairs := flag.Int("pairs", 50, "number of user pairs") // ⚠️ Start small. The store might choke on 1000 immediately.
	msgCount := flag.Int("messages", 20, "messages per user")
	level := flag.String("log-level", "INFO", "log level")
	flag.Parse()

	log := logs.GetLoggerFromString(*level)
	log.Info("🔥 Starting stress test", "users", *pairs*2, "messages_per_user", *msgCount)

	var (
		wg sync.WaitGroup
		st stats
	)
	start := time.Now()

	// Pairs: u_0_a talks to u_0_b, u_1_a talks to u_1_b...
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(log, *baseURL, pairID, *msgCount, &st)
		}(i)
	}

	wg.Wait()
	log.Info("✅ Load test complete",
		"elapsed", time.Since(start),
		"sent", st.sent.Load(),
		"received", st.received.Load(),
		"failed", st.failed.Load(),
	)
}

func runPair(log *slog.Logger, baseURL string, pairID, msgCount int, st *stats) {
	userA := fmt.Sprintf("u_%d_a", pairID)
	userB := fmt.Sprintf("u_%d_b", pairID)
	pass := "password123"

	tokenA := authenticate(log, baseURL, userA, pass)
	tokenB := authenticate(log, baseURL, userB, pass)
	if tokenA == "" || tokenB == "" {
		st.failed.Add(1)
		return
	}

	var wsWg sync.WaitGroup
	wsWg.Add(2)
	go spamChat(log, &wsWg, baseURL, tokenA, userA, userB, msgCount, st)
	go spamChat(log, &wsWg, baseURL, tokenB, userB, userA, msgCount, st)
	wsWg.Wait()
}

// authenticate registers (an existing user is fine) and logs in.
func authenticate(log *slog.Logger, baseURL, username, password string) string {
	creds := map[string]string{"username": username, "password": password}
	if resp, err := postJSON(baseURL+"/register", creds); err == nil {
		resp.Body.Close()
	}

	resp, err := postJSON(baseURL+"/login", creds)
	if err != nil {
		log.Error("❌ Login failed", "username", username, "error", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Error("❌ Login refused", "username", username, "status", resp.StatusCode)
		return ""
	}

	var data AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		log.Error("❌ Login response unreadable", "username", username, "error", err)
		return ""
	}
	return data.Token
}

func spamChat(log *slog.Logger, wg *sync.WaitGroup, baseURL, token, self, peer string, msgCount int, st *stats) {
	defer wg.Done()

	wsURL := strings.Replace(baseURL, "http", "ws", 1) + "/ws?token=" + url.QueryEscape(token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Error("❌ WS connect failed", "username", self, "error", err)
		st.failed.Add(1)
		return
	}
	defer conn.Close()

	// Count private messages echoed back or received from the peer.
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			for _, line := range bytes.Split(data, []byte{'\n'}) {
				var f struct {
					Type string `json:"type"`
				}
				if json.Unmarshal(line, &f) == nil && f.Type == "private_message" {
					st.received.Add(1)
				}
			}
		}
	}()

	if err := conn.WriteJSON(frame{Type: "join", Payload: map[string]string{"sender": self}}); err != nil {
		log.Error("❌ Join failed", "username", self, "error", err)
		st.failed.Add(1)
		return
	}

	for i := 0; i < msgCount; i++ {
		err := conn.WriteJSON(frame{Type: "private_message", Payload: map[string]string{
			"sender":    self,
			"recipient": peer,
			"content":   fmt.Sprintf("LoadTest Msg %d from %s", i, self),
		}})
		if err != nil {
			log.Error("❌ Send failed", "username", self, "error", err)
			st.failed.Add(1)
			break
		}
		st.sent.Add(1)
		// Small sleep to avoid an instant localhost bottleneck
		time.Sleep(10 * time.Millisecond)
	}
	// let the last deliveries arrive before closing
	time.Sleep(500 * time.Millisecond)
	log.Debug("Finished sending", "username", self, "messages", msgCount)
}

func postJSON(endpoint string, data any) (*http.Response, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return http.Post(endpoint, "application/json", bytes.NewBuffer(jsonData))
}
