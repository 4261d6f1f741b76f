package terminal

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/sadlab/sadserver/internal/metrics"
	"github.com/sadlab/sadserver/internal/registry"
	"github.com/sadlab/sadserver/pkg/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Event is one message on the terminal channel. Clients send
// {"type":"input"} with raw keystrokes; the server sends {"type":"output"}
// with raw shell bytes.
type Event struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// ShellAttacher opens an interactive shell stream inside a container.
type ShellAttacher interface {
	AttachShell(ctx context.Context, containerID string) (io.ReadWriteCloser, error)
}

// Bridge relays bytes between a websocket connection and an interactive
// shell inside the instance's container. The instance id embedded in the
// connection path is the only capability check on this channel.
type Bridge struct {
	attacher ShellAttacher
	registry *registry.Registry
}

// NewBridge creates a terminal bridge.
func NewBridge(attacher ShellAttacher, reg *registry.Registry) *Bridge {
	return &Bridge{attacher: attacher, registry: reg}
}

// HandleTerminal serves one terminal connection for /ws/{instanceId}.
//
// Closing the connection kills the attached shell, but the instance keeps
// running so a new connection can reattach within the expiry window.
func (b *Bridge) HandleTerminal(w http.ResponseWriter, r *http.Request, instanceID string) {
	// Reject malformed ids before any registry or container access.
	if !models.ValidInstanceID(instanceID) {
		http.Error(w, "invalid instance id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade terminal connection: %v", err)
		return
	}
	defer conn.Close()

	inst, ok := b.registry.Get(instanceID)
	if !ok {
		// Never leave the client waiting: say why, then close.
		conn.WriteJSON(Event{Type: "output", Data: fmt.Sprintf("instance %s is not running\r\n", instanceID)})
		return
	}

	shell, err := b.attacher.AttachShell(context.Background(), inst.ContainerID)
	if err != nil {
		log.Printf("❌ Shell attach failed for %s: %v", instanceID, err)
		conn.WriteJSON(Event{Type: "output", Data: fmt.Sprintf("failed to start shell: %v\r\n", err)})
		return
	}
	defer shell.Close()

	log.Printf("✅ Terminal attached to %s", instanceID)
	metrics.TerminalConnections.Inc()
	defer metrics.TerminalConnections.Dec()

	// Shell → client. Chunks go out as they arrive; ordering is the read
	// order, with no batching beyond OS buffering.
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		for {
			n, err := shell.Read(buf)
			if n > 0 {
				if werr := conn.WriteJSON(Event{Type: "output", Data: string(buf[:n])}); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	// Client → shell. Input bytes are written verbatim to the shell's stdin.
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Terminal read error for %s: %v", instanceID, err)
			}
			break
		}
		if ev.Type != "input" {
			continue
		}
		if _, err := shell.Write([]byte(ev.Data)); err != nil {
			break
		}
	}

	// Hanging up the shell stream terminates the shell process; the
	// instance itself stays up for reattach.
	shell.Close()
	<-done
	log.Printf("❌ Terminal detached from %s", instanceID)
}
