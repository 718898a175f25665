package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/unifyinbox/unifyinbox/pkg/models"
)

const (
	discordGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

	// DIRECT_MESSAGES | MESSAGE_CONTENT
	discordIntents = 4608

	gatewayReconnectMin = 5 * time.Second
	gatewayReconnectMax = 10 * time.Second
)

// Gateway opcodes.
const (
	opDispatch     = 0
	opHeartbeat    = 1
	opIdentify     = 2
	opHello        = 10
	opHeartbeatAck = 11
)

// gatewayFrame is one gateway payload in either direction.
type gatewayFrame struct {
	Op int             `json:"op"`
	T  string          `json:"t,omitempty"`
	S  *int64          `json:"s,omitempty"`
	D  json.RawMessage `json:"d,omitempty"`
}

// GatewayHandler receives messages pushed over a user's gateway socket.
type GatewayHandler func(userID string, msg *models.Message)

// DiscordGateway holds one user's gateway socket, delivering DM creates in
// real time between syncs. It reconnects on failure until stopped.
type DiscordGateway struct {
	gatewayURL string
	userID     string
	token      string
	selfID     string
	handler    GatewayHandler
	logger     *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewDiscordGateway creates a gateway client for one credential.
func NewDiscordGateway(userID, token, selfID string, handler GatewayHandler) *DiscordGateway {
	return &DiscordGateway{
		gatewayURL: discordGatewayURL,
		userID:     userID,
		token:      token,
		selfID:     selfID,
		handler:    handler,
		logger:     slog.Default().With("component", "discord-gateway", "user_id", userID),
	}
}

// Start runs the gateway loop in the background until Stop or ctx cancel.
func (g *DiscordGateway) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.done = make(chan struct{})
	go func() {
		defer close(g.done)
		g.run(runCtx)
	}()
}

// Stop tears the socket down and waits for the loop to exit.
func (g *DiscordGateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	if g.done != nil {
		<-g.done
	}
}

// run dials and serves the socket, reconnecting with backoff on any error.
func (g *DiscordGateway) run(ctx context.Context) {
	backoff := gatewayReconnectMin
	for {
		if ctx.Err() != nil {
			return
		}

		err := g.serve(ctx)
		if ctx.Err() != nil {
			return
		}
		g.logger.Warn("Gateway connection lost", "error", err, "reconnect_in", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, gatewayReconnectMax)
	}
}

// serve handles one socket lifetime: Hello, Identify, then heartbeats and
// dispatches until the connection drops.
func (g *DiscordGateway) serve(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, g.gatewayURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(1 << 22)

	hello, err := g.read(ctx, conn)
	if err != nil {
		return err
	}
	var helloData struct {
		HeartbeatInterval int64 `json:"heartbeat_interval"`
	}
	if hello.Op != opHello || json.Unmarshal(hello.D, &helloData) != nil || helloData.HeartbeatInterval <= 0 {
		return errUnexpectedHello
	}

	identify := map[string]any{
		"token":   g.token,
		"intents": discordIntents,
		"properties": map[string]string{
			"os":      "linux",
			"browser": "unifyinbox",
			"device":  "unifyinbox",
		},
	}
	if err := g.send(ctx, conn, gatewayFrame{Op: opIdentify}, identify); err != nil {
		return err
	}

	var (
		seqMu sync.Mutex
		seq   int64
	)

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	heartbeatErr := make(chan error, 1)
	go func() {
		ticker := time.NewTicker(time.Duration(helloData.HeartbeatInterval) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatCtx.Done():
				return
			case <-ticker.C:
				seqMu.Lock()
				s := seq
				seqMu.Unlock()
				if err := g.send(heartbeatCtx, conn, gatewayFrame{Op: opHeartbeat}, s); err != nil {
					heartbeatErr <- err
					return
				}
			}
		}
	}()

	for {
		select {
		case err := <-heartbeatErr:
			return err
		default:
		}

		frame, err := g.read(ctx, conn)
		if err != nil {
			return err
		}
		if frame.S != nil {
			seqMu.Lock()
			seq = *frame.S
			seqMu.Unlock()
		}

		if frame.Op != opDispatch || frame.T != "MESSAGE_CREATE" {
			continue
		}

		var raw discordMessage
		if err := json.Unmarshal(frame.D, &raw); err != nil {
			g.logger.Warn("Failed to decode MESSAGE_CREATE", "error", err)
			continue
		}
		if msg := normalizeDiscordMessage(raw, g.selfID); msg != nil {
			g.handler(g.userID, msg)
		}
	}
}

var errUnexpectedHello = errors.New("gateway did not open with Hello")

func (g *DiscordGateway) read(ctx context.Context, conn *websocket.Conn) (*gatewayFrame, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	var frame gatewayFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

func (g *DiscordGateway) send(ctx context.Context, conn *websocket.Conn, frame gatewayFrame, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame.D = payload
	encoded, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, encoded)
}

// GatewayManager tracks one DiscordGateway per connected user.
type GatewayManager struct {
	mu       sync.Mutex
	gateways map[string]*DiscordGateway
	handler  GatewayHandler
	logger   *slog.Logger
}

// NewGatewayManager creates a GatewayManager delivering into handler.
func NewGatewayManager(handler GatewayHandler) *GatewayManager {
	return &GatewayManager{
		gateways: make(map[string]*DiscordGateway),
		handler:  handler,
		logger:   slog.Default().With("component", "discord-gateway-manager"),
	}
}

// StartFor opens a gateway socket for one user's credential, replacing any
// existing socket for that user.
func (m *GatewayManager) StartFor(ctx context.Context, userID, token, selfID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.gateways[userID]; ok {
		existing.Stop()
	}
	gw := NewDiscordGateway(userID, token, selfID, m.handler)
	gw.Start(ctx)
	m.gateways[userID] = gw
	m.logger.Info("Discord gateway started", "user_id", userID)
}

// StopFor closes the user's gateway socket if one is open.
func (m *GatewayManager) StopFor(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gw, ok := m.gateways[userID]; ok {
		gw.Stop()
		delete(m.gateways, userID)
		m.logger.Info("Discord gateway stopped", "user_id", userID)
	}
}

// StopAll closes every gateway socket. Called on shutdown.
func (m *GatewayManager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for userID, gw := range m.gateways {
		gw.Stop()
		delete(m.gateways, userID)
	}
}
