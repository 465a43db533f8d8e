// gateway-sim is a local stand-in for a channel delivery gateway. It
// verifies the HMAC signature on incoming sends, records them, and can be
// told to fail deliveries for failure-path testing.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

type delivery struct {
	Timestamp string `json:"timestamp"`
	Channel   string `json:"channel"`
	Tenant    string `json:"tenant"`
	To        string `json:"to"`
	Content   string `json:"content"`
	Signed    bool   `json:"signed"`
}

type payload struct {
	Tenant  string `json:"tenant"`
	Channel string `json:"channel"`
	To      string `json:"to"`
	Content string `json:"content"`
}

type stats struct {
	Count          int64      `json:"count"`
	BadSignatures  int64      `json:"bad_signatures"`
	LastDeliveries []delivery `json:"last_deliveries"`
	Since          string     `json:"since"`
}

var (
	mu             sync.Mutex
	count          int64
	badSignatures  int64
	lastDeliveries []delivery
	since          time.Time
	failMode       bool
	maxStored      = 50
	secret         string
)

func main() {
	since = time.Now().UTC()
	secret = os.Getenv("GATEWAY_SECRET")

	addr := ":8081"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	http.HandleFunc("/send", sendHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/fail", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		failMode = r.URL.Query().Get("on") == "true"
		current := failMode
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "fail mode: %v\n", current)
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		badSignatures = 0
		lastDeliveries = nil
		failMode = false
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("gateway-sim listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func sendHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	signed := verify(secret, body, r.Header.Get("X-Outreach-Signature"))
	if secret != "" && !signed {
		mu.Lock()
		badSignatures++
		mu.Unlock()
		log.Printf("send rejected: bad signature")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprintln(w, `{"error":"bad signature"}`)
		return
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintln(w, `{"error":"invalid json"}`)
		return
	}

	d := delivery{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Channel:   r.Header.Get("X-Outreach-Channel"),
		Tenant:    r.Header.Get("X-Outreach-Tenant"),
		To:        p.To,
		Content:   p.Content,
		Signed:    signed,
	}

	mu.Lock()
	failing := failMode
	count++
	lastDeliveries = append(lastDeliveries, d)
	if len(lastDeliveries) > maxStored {
		lastDeliveries = lastDeliveries[len(lastDeliveries)-maxStored:]
	}
	current := count
	mu.Unlock()

	if failing {
		log.Printf("send #%d rejected (fail mode): channel=%s to=%s", current, d.Channel, d.To)
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprintln(w, `{"error":"simulated failure"}`)
		return
	}

	log.Printf("send #%d: channel=%s tenant=%s to=%s", current, d.Channel, d.Tenant, d.To)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"delivered":%d}`, current)
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Count:          count,
		BadSignatures:  badSignatures,
		LastDeliveries: lastDeliveries,
		Since:          since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

func verify(secret string, body []byte, signature string) bool {
	if secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
