package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"slices"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog/log"
)

// NoSessionCode is the JSON-RPC error code returned when a message arrives
// without a live session.
const NoSessionCode = -32000

// Tools is the tool surface the router exposes.
type Tools interface {
	Capabilities() []mcp.Tool
	Call(ctx context.Context, req mcp.CallToolRequest) *mcp.CallToolResult
}

// message is the inbound JSON-RPC envelope. A nil ID marks a notification.
type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *mcp.RequestId  `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Router answers JSON-RPC messages.
type Router struct {
	tools        Tools
	info         mcp.Implementation
	instructions string
}

// NewRouter creates a router serving tools under the given server identity.
func NewRouter(tools Tools, info mcp.Implementation, instructions string) *Router {
	return &Router{
		tools:        tools,
		info:         info,
		instructions: instructions,
	}
}

// Handle processes one raw message and returns the response to send, or nil
// when the message is a notification.
func (r *Router) Handle(ctx context.Context, raw []byte) any {
	if !json.Valid(raw) {
		return mcp.NewJSONRPCError(mcp.NewRequestId(nil), mcp.PARSE_ERROR, "Parse error", nil)
	}

	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return mcp.NewJSONRPCError(mcp.NewRequestId(nil), mcp.INVALID_REQUEST, "Invalid request", err.Error())
	}
	id := mcp.NewRequestId(nil)
	if msg.ID != nil {
		id = *msg.ID
	}
	if msg.JSONRPC != mcp.JSONRPC_VERSION || msg.Method == "" {
		return mcp.NewJSONRPCError(id, mcp.INVALID_REQUEST, "Invalid request", nil)
	}

	if msg.ID == nil {
		log.Debug().Str("method", msg.Method).Msg("Notification received")
		return nil
	}

	log.Debug().Str("method", msg.Method).Str("id", id.String()).Msg("Request received")

	switch mcp.MCPMethod(msg.Method) {
	case mcp.MethodInitialize:
		return r.initialize(id, msg.Params)
	case mcp.MethodPing:
		return mcp.NewJSONRPCResultResponse(id, struct{}{})
	case mcp.MethodToolsList:
		return mcp.NewJSONRPCResultResponse(id, mcp.NewListToolsResult(r.tools.Capabilities(), ""))
	case mcp.MethodToolsCall:
		return r.callTool(ctx, id, msg.Params)
	default:
		return mcp.NewJSONRPCError(id, mcp.METHOD_NOT_FOUND, "Method not found", msg.Method)
	}
}

func (r *Router) initialize(id mcp.RequestId, raw json.RawMessage) any {
	var params mcp.InitializeParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return mcp.NewJSONRPCError(id, mcp.INVALID_PARAMS, "Invalid params", err.Error())
		}
	}

	version := mcp.LATEST_PROTOCOL_VERSION
	if slices.Contains(mcp.ValidProtocolVersions, params.ProtocolVersion) {
		version = params.ProtocolVersion
	}

	log.Info().
		Str("client", params.ClientInfo.Name).
		Str("client_version", params.ClientInfo.Version).
		Str("protocol", version).
		Msg("Client initialized")

	caps := mcp.ServerCapabilities{
		Tools: &struct {
			ListChanged bool `json:"listChanged,omitempty"`
		}{},
	}
	return mcp.NewJSONRPCResultResponse(id, mcp.NewInitializeResult(version, caps, r.info, r.instructions))
}

func (r *Router) callTool(ctx context.Context, id mcp.RequestId, raw json.RawMessage) any {
	var params mcp.CallToolParams
	if len(bytes.TrimSpace(raw)) == 0 {
		return mcp.NewJSONRPCError(id, mcp.INVALID_PARAMS, "Invalid params", "missing params")
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return mcp.NewJSONRPCError(id, mcp.INVALID_PARAMS, "Invalid params", err.Error())
	}
	if params.Name == "" {
		return mcp.NewJSONRPCError(id, mcp.INVALID_PARAMS, "Invalid params", "tool name is required")
	}

	req := mcp.CallToolRequest{Params: params}
	req.Method = string(mcp.MethodToolsCall)
	return mcp.NewJSONRPCResultResponse(id, r.tools.Call(ctx, req))
}

// noSessionError is the transport error for messages without a live session.
func noSessionError(id mcp.RequestId) mcp.JSONRPCError {
	return mcp.NewJSONRPCError(id, NoSessionCode, "No active session", nil)
}

// requestID extracts the id of a raw message for error replies.
func requestID(raw []byte) mcp.RequestId {
	var msg struct {
		ID *mcp.RequestId `json:"id"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || msg.ID == nil {
		return mcp.NewRequestId(nil)
	}
	return *msg.ID
}
