// Command macro-client is an example control-plane client: it connects to a
// running procon-server, records a short button-press sequence and replays it.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nxpad/go-procon-server/internal/input"
)

type EventMessage struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// ProconClient talks to the procon-server HTTP and WebSocket API.
type ProconClient struct {
	baseURL string
	wsURL   string
	http    *http.Client
	ws      *websocket.Conn
	logger  func(string, ...interface{})
}

func NewProconClient(host string, port int) *ProconClient {
	return &ProconClient{
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		wsURL:   fmt.Sprintf("ws://%s:%d/ws", host, port),
		http:    &http.Client{Timeout: 10 * time.Second},
		logger: func(format string, args ...interface{}) {
			log.Printf(format, args...)
		},
	}
}

// Connect opens the WebSocket event stream.
func (c *ProconClient) Connect(ctx context.Context) error {
	c.logger("🔌 Connecting to procon-server at %s", c.wsURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}
	c.ws = conn
	c.logger("✅ Connected to procon-server event stream")

	go c.readEvents(ctx)
	return nil
}

func (c *ProconClient) readEvents(ctx context.Context) {
	defer c.ws.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			var msg json.RawMessage
			if err := c.ws.ReadJSON(&msg); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					c.logger("❌ Error reading event: %v", err)
				}
				return
			}

			var event EventMessage
			if err := json.Unmarshal(msg, &event); err == nil && event.Event != "" {
				c.logger("📢 Event: %s - %v", event.Event, event.Data)
			} else {
				c.logger("📨 Status: %s", string(msg))
			}
		}
	}
}

func (c *ProconClient) Close() error {
	if c.ws != nil {
		return c.ws.Close()
	}
	return nil
}

func (c *ProconClient) do(method, path string, payload interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, data)
	}
	return nil
}

// SetGamepad pushes a live input packet.
func (c *ProconClient) SetGamepad(p input.Packet) error {
	return c.do("PUT", "/api/gamepad", p)
}

func (c *ProconClient) SetRecording(on bool) error {
	return c.do("PUT", "/api/recording", map[string]bool{"recording": on})
}

func (c *ProconClient) SetPlaying(on bool) error {
	return c.do("PUT", "/api/playing", map[string]bool{"playing": on})
}

func (c *ProconClient) SaveMacro(name string) error {
	return c.do("POST", "/api/macros/"+name, nil)
}

func (c *ProconClient) LoadMacro(name string) error {
	return c.do("POST", "/api/macros/"+name+"/load", nil)
}

// buttonB returns an idle packet with the B button held.
func buttonB() input.Packet {
	p := input.Idle()
	p[2] |= 0x04
	return p
}

func main() {
	host := flag.String("host", "127.0.0.1", "procon-server host")
	port := flag.Int("port", 5680, "procon-server port")
	macro := flag.String("macro", "demo", "macro name to save and replay")
	flag.Parse()

	fmt.Println("🎮 Pro Controller Macro Client")
	fmt.Println("==============================")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n🛑 Shutting down...")
		cancel()
	}()

	client := NewProconClient(*host, *port)
	if err := client.Connect(ctx); err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer client.Close()

	if err := runDemo(ctx, client, *macro); err != nil {
		log.Fatalf("❌ Demo failed: %v", err)
	}

	fmt.Println("✅ Demo complete, watching events (Ctrl+C to exit)")
	<-ctx.Done()
}

// runDemo records one second of B presses, saves it as a macro and replays
// it in a loop for a few seconds.
func runDemo(ctx context.Context, client *ProconClient, macro string) error {
	log.Println("⏺️  Starting recording")
	if err := client.SetRecording(true); err != nil {
		return err
	}

	// Press B for half a second, then release.
	log.Println("🅱️  Pressing B")
	if err := client.SetGamepad(buttonB()); err != nil {
		return err
	}
	if !sleepCtx(ctx, 500*time.Millisecond) {
		return ctx.Err()
	}

	log.Println("🅱️  Releasing B")
	if err := client.SetGamepad(input.Idle()); err != nil {
		return err
	}
	if !sleepCtx(ctx, 500*time.Millisecond) {
		return ctx.Err()
	}

	log.Println("⏹️  Stopping recording")
	if err := client.SetRecording(false); err != nil {
		return err
	}

	log.Printf("💾 Saving macro %q", macro)
	if err := client.SaveMacro(macro); err != nil {
		return err
	}

	log.Printf("▶️  Replaying macro %q", macro)
	if err := client.LoadMacro(macro); err != nil {
		return err
	}
	if err := client.SetPlaying(true); err != nil {
		return err
	}
	if !sleepCtx(ctx, 5*time.Second) {
		return ctx.Err()
	}

	log.Println("⏹️  Stopping playback")
	return client.SetPlaying(false)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
