// Package main runs a demo: an admin dashboard connection watching a simulated guard patrol.
package main

import (
	"bytes"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func dial(host, token string) *websocket.Conn {
	u := url.URL{Scheme: "ws", Host: host, Path: "/ws", RawQuery: "token=" + url.QueryEscape(token)}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("dial %s: %v", token, err)
	}
	return c
}

func send(c *websocket.Conn, event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Fatal(err)
	}
	if err := c.WriteJSON(frame{Event: event, Data: raw}); err != nil {
		log.Fatalf("send %s: %v", event, err)
	}
}

func printFrames(name string, c *websocket.Conn) {
	for {
		_, b, err := c.ReadMessage()
		if err != nil {
			log.Printf("%s read: %v", name, err)
			return
		}
		var f frame
		if err := json.Unmarshal(b, &f); err != nil {
			log.Printf("%s bad frame: %s", name, b)
			continue
		}
		log.Printf("%s <- %s: %s", name, f.Event, string(f.Data))
	}
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	host := "localhost:" + port
	guardID := "g_demo"

	admin := dial(host, "admin")
	defer func() { _ = admin.Close() }()
	go printFrames("admin", admin)
	send(admin, "join-room", map[string]string{"room": "admin"})

	guard := dial(host, "guard:"+guardID)
	defer func() { _ = guard.Close() }()
	go printFrames("guard", guard)
	send(guard, "join-room", "guard-"+guardID)

	// Walk north roughly 11 m per step, 5 s apart.
	start := time.Now().UTC()
	for i := 0; i < 8; i++ {
		send(guard, "location-update", map[string]any{
			"guardId":   guardID,
			"latitude":  28.6139 + float64(i)*0.0001,
			"longitude": 77.2090,
			"battery":   90 - i,
			"timestamp": start.Add(time.Duration(i) * 5 * time.Second),
		})
		time.Sleep(200 * time.Millisecond)
	}
	send(guard, "sos-alert", map[string]any{"guardId": guardID, "guardName": "Demo Guard", "latitude": 28.6146, "longitude": 77.2090})
	send(admin, "admin-command", map[string]any{"command": "return_to_post", "guardId": guardID, "message": "Hold position", "priority": "high"})

	body := []byte(fmt.Sprintf(`{"type":"reminder","title":"Shift ends in 15m","targetGuardId":%q}`, guardID))
	req, _ := http.NewRequest(http.MethodPost, "http://"+host+"/v1/notifications", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer admin")
	if resp, err := http.DefaultClient.Do(req); err != nil {
		log.Printf("notify: %v", err)
	} else {
		log.Printf("notify: %s", resp.Status)
		_ = resp.Body.Close()
	}

	send(admin, "ping", nil)
	time.Sleep(2 * time.Second)
}
