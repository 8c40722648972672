// Package control implements the local IPC transport: a UNIX-domain
// stream socket carrying newline-delimited JSON requests and replies
// between a CLI client and the running agent, dispatched against a
// manager.Manager.
package control

import (
	"encoding/json"

	"github.com/tunnelmesh/wgagentd/config"
)

// Action is one of the verbs a request may carry.
type Action string

const (
	ActionConnect    Action = "connect"
	ActionDisconnect Action = "disconnect"
	ActionStatus     Action = "status"
	ActionReload     Action = "reload"
	ActionRotateKeys Action = "rotate_keys"
)

// ErrorKind is one of the exact wire strings a failed reply's error.type
// carries.
type ErrorKind string

const (
	ErrParseError          ErrorKind = "parse_error"
	ErrSerializationError  ErrorKind = "serialization_error"
	ErrInvalidState        ErrorKind = "invalid_state"
	ErrNetworkNotFound     ErrorKind = "network_not_found"
	ErrConfigError         ErrorKind = "config_error"
	ErrPlatformError       ErrorKind = "platform_error"
	ErrInternalError       ErrorKind = "internal_error"
	ErrAuthenticationError ErrorKind = "authentication_failed"
	ErrPermissionDenied    ErrorKind = "permission_denied"
)

// Request is one line sent from client to server.
type Request struct {
	ID      string                `json:"id"`
	Action  Action                `json:"action"`
	Network string                `json:"network,omitempty"`
	Config  *config.NetworkConfig `json:"config,omitempty"`
}

// ResponseError is the error object of a failed reply.
type ResponseError struct {
	Type    ErrorKind `json:"type"`
	Message string    `json:"message"`
}

// Response is one line sent from server to client.
type Response struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// PeerSummary is the peers object embedded in status.data.
type PeerSummary struct {
	Total  int      `json:"total"`
	Active int      `json:"active"`
	Names  []string `json:"names"`
}

// Traffic is the traffic object embedded in status.data.
type Traffic struct {
	TxBytes uint64 `json:"tx_bytes"`
	RxBytes uint64 `json:"rx_bytes"`
}

// Drops is the drops object embedded in status.data, surfacing the
// engine's failure counters to an operator.
type Drops struct {
	NoPeer         uint64 `json:"no_peer"`
	NoEndpoint     uint64 `json:"no_endpoint"`
	TUNReadErrors  uint64 `json:"tun_read_errors"`
	RxAuthFailures uint64 `json:"rx_auth_failures"`
	TxDrops        uint64 `json:"tx_drops"`
}

// StatusData is the data payload of a successful "status" reply.
type StatusData struct {
	Network   string      `json:"network"`
	State     string      `json:"state"`
	Interface string      `json:"interface"`
	Peers     PeerSummary `json:"peers"`
	Traffic   Traffic     `json:"traffic"`
	Drops     Drops       `json:"drops"`
}

// ConnectData is the data payload of a successful "connect" reply.
type ConnectData struct {
	Network   string `json:"network"`
	State     string `json:"state"`
	Interface string `json:"interface"`
	Peers     int    `json:"peers"`
}

func errorResponse(id string, kind ErrorKind, message string) Response {
	return Response{ID: id, Success: false, Error: &ResponseError{Type: kind, Message: message}}
}

func dataResponse(id string, data any) Response {
	raw, err := json.Marshal(data)
	if err != nil {
		return errorResponse(id, ErrSerializationError, err.Error())
	}
	return Response{ID: id, Success: true, Data: raw}
}
