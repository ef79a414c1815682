package mcpclient_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/tmaxmax/go-sse"

	mcpclient "github.com/MegaGrindStone/go-mcp-client"
)

// fakeSSEServer is a minimal MCP server speaking the HTTP-with-SSE transport:
// a GET stream that announces the message endpoint and pushes responses, and a
// POST endpoint receiving client requests. It serves one client at a time.
type fakeSSEServer struct {
	t   *testing.T
	srv *httptest.Server

	// endpointData produces the payload of the "endpoint" event; it defaults
	// to a relative URL on the same origin.
	endpointData func(base string) string
	// heartbeat makes the stream emit an unrelated event after the endpoint
	// announcement.
	heartbeat bool

	respond func(msg mcpclient.JSONRPCMessage) []mcpclient.JSONRPCMessage

	outbound chan mcpclient.JSONRPCMessage

	mu       sync.Mutex
	traceIDs []string
}

func newFakeSSEServer(t *testing.T, respond func(msg mcpclient.JSONRPCMessage) []mcpclient.JSONRPCMessage) *fakeSSEServer {
	s := &fakeSSEServer{
		t:        t,
		respond:  respond,
		outbound: make(chan mcpclient.JSONRPCMessage, 16),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", s.handleSSE)
	mux.HandleFunc("/message", s.handleMessage)
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)

	return s
}

func (s *fakeSSEServer) connectURL() string { return s.srv.URL + "/sse" }

func (s *fakeSSEServer) seenTraceIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.traceIDs...)
}

func (s *fakeSSEServer) handleSSE(w http.ResponseWriter, r *http.Request) {
	sess, err := sse.Upgrade(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := "/message"
	if s.endpointData != nil {
		data = s.endpointData(s.srv.URL)
	}

	msg := sse.Message{Type: sse.Type("endpoint")}
	msg.AppendData(data)
	if err := sess.Send(&msg); err != nil {
		return
	}
	if err := sess.Flush(); err != nil {
		return
	}

	if s.heartbeat {
		hb := sse.Message{Type: sse.Type("heartbeat")}
		hb.AppendData("{}")
		if err := sess.Send(&hb); err != nil {
			return
		}
		if err := sess.Flush(); err != nil {
			return
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case out := <-s.outbound:
			bs, err := json.Marshal(out)
			if err != nil {
				s.t.Errorf("failed to marshal outbound message: %v", err)
				return
			}
			m := sse.Message{Type: sse.Type("message")}
			m.AppendData(string(bs))
			if err := sess.Send(&m); err != nil {
				return
			}
			if err := sess.Flush(); err != nil {
				return
			}
		}
	}
}

func (s *fakeSSEServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg mcpclient.JSONRPCMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.traceIDs = append(s.traceIDs, r.Header.Get("trace-id"))
	s.mu.Unlock()

	w.WriteHeader(http.StatusAccepted)

	if s.respond == nil {
		return
	}
	for _, res := range s.respond(msg) {
		s.outbound <- res
	}
}

// streamableResponse describes one canned response of the fake streamable
// server.
type streamableResponse struct {
	status      int    // defaults to 200
	contentType string // defaults to application/json when body is set
	body        []byte
	sessionID   string // Mcp-Session-Id header, when set
}

// fakeStreamableServer is a minimal MCP server speaking the streamable HTTP
// transport: one POST per call, answered by whatever the respond function
// returns.
type fakeStreamableServer struct {
	srv     *httptest.Server
	respond func(msg mcpclient.JSONRPCMessage) streamableResponse

	mu             sync.Mutex
	seenSessionIDs []string
	seenAccepts    []string
}

func newFakeStreamableServer(
	t *testing.T,
	respond func(msg mcpclient.JSONRPCMessage) streamableResponse,
) *fakeStreamableServer {
	s := &fakeStreamableServer{respond: respond}

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.handle)
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)

	return s
}

func (s *fakeStreamableServer) url() string { return s.srv.URL + "/mcp" }

func (s *fakeStreamableServer) sessionIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seenSessionIDs...)
}

func (s *fakeStreamableServer) handle(w http.ResponseWriter, r *http.Request) {
	var msg mcpclient.JSONRPCMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.seenSessionIDs = append(s.seenSessionIDs, r.Header.Get("Mcp-Session-Id"))
	s.seenAccepts = append(s.seenAccepts, r.Header.Get("Accept"))
	s.mu.Unlock()

	res := s.respond(msg)

	if res.sessionID != "" {
		w.Header().Set("Mcp-Session-Id", res.sessionID)
	}
	if len(res.body) > 0 {
		contentType := res.contentType
		if contentType == "" {
			contentType = "application/json"
		}
		w.Header().Set("Content-Type", contentType)
	}

	status := res.status
	if status == 0 {
		if len(res.body) == 0 {
			status = http.StatusAccepted
		} else {
			status = http.StatusOK
		}
	}
	w.WriteHeader(status)
	if len(res.body) > 0 {
		_, _ = w.Write(res.body)
	}
}

func resultEnvelope(id mcpclient.MustString, result string) mcpclient.JSONRPCMessage {
	return mcpclient.JSONRPCMessage{
		JSONRPC: mcpclient.JSONRPCVersion,
		ID:      id,
		Result:  json.RawMessage(result),
	}
}

func errorEnvelope(id mcpclient.MustString, code int, message string) mcpclient.JSONRPCMessage {
	return mcpclient.JSONRPCMessage{
		JSONRPC: mcpclient.JSONRPCVersion,
		ID:      id,
		Error:   &mcpclient.JSONRPCError{Code: code, Message: message},
	}
}

const initializeResultJSON = `{"protocolVersion":"2024-11-05","capabilities":{},` +
	`"serverInfo":{"name":"fake","version":"1.0.0"}}`

func toolsResultJSON(t *testing.T, tools []mcpclient.Tool) string {
	t.Helper()
	bs, err := json.Marshal(map[string]any{"tools": tools})
	if err != nil {
		t.Fatalf("failed to marshal tools: %v", err)
	}
	return string(bs)
}

func calledToolName(t *testing.T, msg mcpclient.JSONRPCMessage) string {
	t.Helper()
	var params struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		t.Fatalf("failed to unmarshal tools/call params: %v", err)
	}
	return params.Name
}

// standardSSERespond answers the handshake and tool methods the way a
// well-behaved server would, echoing the called tool's name as text content.
func standardSSERespond(
	t *testing.T,
	tools []mcpclient.Tool,
) func(msg mcpclient.JSONRPCMessage) []mcpclient.JSONRPCMessage {
	return func(msg mcpclient.JSONRPCMessage) []mcpclient.JSONRPCMessage {
		switch msg.Method {
		case "initialize":
			return []mcpclient.JSONRPCMessage{resultEnvelope(msg.ID, initializeResultJSON)}
		case "notifications/initialized":
			return nil
		case mcpclient.MethodToolsList:
			return []mcpclient.JSONRPCMessage{resultEnvelope(msg.ID, toolsResultJSON(t, tools))}
		case mcpclient.MethodToolsCall:
			result := fmt.Sprintf(`{"content":[{"type":"text","text":%q}]}`, calledToolName(t, msg))
			return []mcpclient.JSONRPCMessage{resultEnvelope(msg.ID, result)}
		default:
			t.Errorf("unexpected method: %s", msg.Method)
			return nil
		}
	}
}

// standardStreamableRespond is the streamable counterpart of
// standardSSERespond, issuing the given session ID on every response.
func standardStreamableRespond(
	t *testing.T,
	tools []mcpclient.Tool,
	sessionID string,
) func(msg mcpclient.JSONRPCMessage) streamableResponse {
	return func(msg mcpclient.JSONRPCMessage) streamableResponse {
		switch msg.Method {
		case "initialize":
			return streamableResponse{
				body:      marshalMessage(t, resultEnvelope(msg.ID, initializeResultJSON)),
				sessionID: sessionID,
			}
		case "notifications/initialized":
			return streamableResponse{sessionID: sessionID}
		case mcpclient.MethodToolsList:
			return streamableResponse{
				body:      marshalMessage(t, resultEnvelope(msg.ID, toolsResultJSON(t, tools))),
				sessionID: sessionID,
			}
		case mcpclient.MethodToolsCall:
			result := fmt.Sprintf(`{"content":[{"type":"text","text":%q}]}`, calledToolName(t, msg))
			return streamableResponse{
				body:      marshalMessage(t, resultEnvelope(msg.ID, result)),
				sessionID: sessionID,
			}
		default:
			t.Errorf("unexpected method: %s", msg.Method)
			return streamableResponse{status: http.StatusBadRequest}
		}
	}
}

func marshalMessage(t *testing.T, msg mcpclient.JSONRPCMessage) []byte {
	t.Helper()
	bs, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("failed to marshal message: %v", err)
	}
	return bs
}
