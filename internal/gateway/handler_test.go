package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/senutpal/devradar/internal/apperrors"
	"github.com/senutpal/devradar/internal/config"
	"github.com/senutpal/devradar/internal/connection"
	"github.com/senutpal/devradar/internal/protocol"
)

func testGatewayConfig() config.GatewayConfig {
	return config.GatewayConfig{
		HeartbeatTimeout:  90 * time.Second,
		MessageRateLimit:  60,
		MessageRateWindow: 10 * time.Second,
		WriteTimeout:      time.Second,
	}
}

// newTestPair 建立真实的进程内 WebSocket 连接对
// 返回服务端 Connection 和客户端 ws
func newTestPair(t *testing.T, userID int64) (*connection.Connection, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	serverConns := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("升级失败: %v", err)
			return
		}
		serverConns <- ws
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("连接失败: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	serverWS := <-serverConns
	conn := connection.New(userID, "device-test", nil, serverWS, time.Second, slog.Default())
	t.Cleanup(func() { conn.CloseWithCode(protocol.CloseNormal, "") })

	return conn, client
}

func readEnvelope(t *testing.T, client *websocket.Conn) *protocol.Envelope {
	t.Helper()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("读取应答失败: %v", err)
	}
	env, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("解析应答失败: %v", err)
	}
	return env
}

func TestDispatch_Heartbeat(t *testing.T) {
	conn, client := newTestPair(t, 1)
	h := NewHandler(testGatewayConfig(), connection.NewManager(), nil, nil, slog.Default())

	env, _ := protocol.NewEnvelope(protocol.TypeHeartbeat, &protocol.HeartbeatPayload{})
	env.CorrelationID = "hb-1"
	h.dispatch(context.Background(), conn, env)

	reply := readEnvelope(t, client)
	if reply.Type != protocol.TypePong {
		t.Fatalf("Expected PONG, got %s", reply.Type)
	}
	if reply.CorrelationID != "hb-1" {
		t.Errorf("Expected correlation id echoed, got %q", reply.CorrelationID)
	}

	var pong protocol.PongPayload
	if err := json.Unmarshal(reply.Payload, &pong); err != nil {
		t.Fatalf("解析 PONG 载荷失败: %v", err)
	}
	if pong.Timestamp == 0 {
		t.Error("Expected pong timestamp to be set")
	}
}

func TestDispatch_UnknownType(t *testing.T) {
	conn, client := newTestPair(t, 1)
	h := NewHandler(testGatewayConfig(), connection.NewManager(), nil, nil, slog.Default())

	env, _ := protocol.NewEnvelope("TELEPORT", nil)
	env.CorrelationID = "x-1"
	h.dispatch(context.Background(), conn, env)

	reply := readEnvelope(t, client)
	if reply.Type != protocol.TypeError {
		t.Fatalf("Expected ERROR, got %s", reply.Type)
	}
	if reply.CorrelationID != "x-1" {
		t.Errorf("Expected correlation id echoed, got %q", reply.CorrelationID)
	}

	var ep protocol.ErrorPayload
	if err := json.Unmarshal(reply.Payload, &ep); err != nil {
		t.Fatalf("解析错误载荷失败: %v", err)
	}
	if ep.Code != apperrors.CodeUnknownMessageType {
		t.Errorf("Expected code %d, got %d", apperrors.CodeUnknownMessageType, ep.Code)
	}
}

func TestDispatch_SubscribeRejected(t *testing.T) {
	conn, client := newTestPair(t, 1)
	h := NewHandler(testGatewayConfig(), connection.NewManager(), nil, nil, slog.Default())

	env, _ := protocol.NewEnvelope(protocol.TypeSubscribe, nil)
	h.dispatch(context.Background(), conn, env)

	reply := readEnvelope(t, client)
	if reply.Type != protocol.TypeError {
		t.Fatalf("Expected ERROR, got %s", reply.Type)
	}

	var ep protocol.ErrorPayload
	if err := json.Unmarshal(reply.Payload, &ep); err != nil {
		t.Fatalf("解析错误载荷失败: %v", err)
	}
	if ep.Code != apperrors.CodeUnsupportedOp {
		t.Errorf("Expected code %d, got %d", apperrors.CodeUnsupportedOp, ep.Code)
	}
}

func TestDispatch_PokeInvalidTarget(t *testing.T) {
	conn, client := newTestPair(t, 1)
	h := NewHandler(testGatewayConfig(), connection.NewManager(), nil, nil, slog.Default())

	// 戳自己
	env, _ := protocol.NewEnvelope(protocol.TypePoke, &protocol.PokePayload{ToUserID: 1})
	h.dispatch(context.Background(), conn, env)

	reply := readEnvelope(t, client)
	if reply.Type != protocol.TypeError {
		t.Fatalf("Expected ERROR, got %s", reply.Type)
	}

	var ep protocol.ErrorPayload
	if err := json.Unmarshal(reply.Payload, &ep); err != nil {
		t.Fatalf("解析错误载荷失败: %v", err)
	}
	if ep.Code != apperrors.CodeInvalidParams {
		t.Errorf("Expected code %d, got %d", apperrors.CodeInvalidParams, ep.Code)
	}
}

func TestRateWindow(t *testing.T) {
	var w rateWindow

	for i := 0; i < 5; i++ {
		if !w.allow(5, time.Minute) {
			t.Fatalf("Expected message %d to be allowed", i+1)
		}
	}
	if w.allow(5, time.Minute) {
		t.Error("Expected 6th message to be rejected")
	}

	// 窗口过期后重新计数
	w.start = time.Now().Add(-2 * time.Minute)
	if !w.allow(5, time.Minute) {
		t.Error("Expected new window to allow again")
	}
}

func TestOfflineTaskID(t *testing.T) {
	if got := offlineTaskID(42); got != "offline:42" {
		t.Errorf("Unexpected task id: %s", got)
	}
}
