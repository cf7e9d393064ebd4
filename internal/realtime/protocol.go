package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// ActionCable frame types sent by the server.
const (
	TypeWelcome             = "welcome"
	TypePing                = "ping"
	TypeConfirmSubscription = "confirm_subscription"
	TypeRejectSubscription  = "reject_subscription"
	TypeDisconnect          = "disconnect"
)

const (
	commandSubscribe   = "subscribe"
	commandUnsubscribe = "unsubscribe"

	graphqlChannel = "GraphqlChannel"
	cablePath      = "/-/cable"
)

// Subprotocols offered during the upgrade, in preference order.
var Subprotocols = []string{"actioncable-v1-json", "actioncable-unsupported"}

// identifier is the subscription key. The server echoes its JSON encoding
// verbatim on every push, so field order here fixes the wire form.
type identifier struct {
	Channel       string         `json:"channel"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
	OperationName string         `json:"operationName"`
	Nonce         string         `json:"nonce"`
}

func encodeIdentifier(query string, variables map[string]any, operationName, nonce string) (string, error) {
	if variables == nil {
		variables = map[string]any{}
	}
	data, err := json.Marshal(identifier{
		Channel:       graphqlChannel,
		Query:         query,
		Variables:     variables,
		OperationName: operationName,
		Nonce:         nonce,
	})
	if err != nil {
		return "", fmt.Errorf("encode subscription identifier: %w", err)
	}
	return string(data), nil
}

type command struct {
	Command    string `json:"command"`
	Identifier string `json:"identifier"`
}

type pong struct {
	Type string `json:"type"`
}

// inboundFrame covers every server frame shape; only the fields relevant to
// the frame's type are populated.
type inboundFrame struct {
	Type       string          `json:"type"`
	Identifier string          `json:"identifier"`
	Message    json.RawMessage `json:"message"`
	Reason     string          `json:"reason"`
}

// isDataPush reports whether the frame carries a subscription payload.
func (f inboundFrame) isDataPush() bool {
	msg := bytes.TrimSpace(f.Message)
	return f.Identifier != "" && len(msg) > 0 && msg[0] == '{'
}

// CableURL derives the ActionCable endpoint from a GitLab base URL.
func CableURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid GitLab URL %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "wss", "ws":
	default:
		return "", fmt.Errorf("unsupported GitLab URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid GitLab URL %q: missing host", baseURL)
	}
	u.Path += cablePath
	return u.String(), nil
}
