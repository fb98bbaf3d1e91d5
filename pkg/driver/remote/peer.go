package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	modrunerrors "github.com/architect-io/modrun/pkg/errors"
	"github.com/architect-io/modrun/pkg/wire"
	"github.com/gorilla/websocket"
)

// Peer is a round-trip request/response channel to a remote runtime,
// framed as wire.Envelope messages. It is the seam the Driver depends on,
// so tests can substitute an in-process fake instead of a real socket.
type Peer interface {
	Call(ctx context.Context, op string, payload, out interface{}) error
	Close() error
}

// errorPayload is the envelope payload op "error" carries.
type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// wsPeer is a Peer backed by a persistent gorilla/websocket connection.
// Calls are serialized: the peer protocol is a minimal one-at-a-time
// request/response exchange with no multiplexing or request IDs, matching
// the transport-agnostic InstantiateModule/RunModule contract rather than
// a full RPC framework (out of core scope).
type wsPeer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// Dial opens a websocket connection to url and wraps it as a Peer.
func Dial(ctx context.Context, url string) (Peer, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, modrunerrors.Internal("failed to dial remote runtime", err)
	}
	return &wsPeer{conn: conn}, nil
}

func (p *wsPeer) Call(ctx context.Context, op string, payload, out interface{}) error {
	env, err := wire.MarshalEnvelope(op, payload)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.conn.WriteJSON(env); err != nil {
		return modrunerrors.Internal("failed to write remote request", err)
	}

	var respEnv wire.Envelope
	if err := p.conn.ReadJSON(&respEnv); err != nil {
		return modrunerrors.Internal("failed to read remote response", err)
	}

	if respEnv.Op == "error" {
		var errPayload errorPayload
		if err := json.Unmarshal(respEnv.Payload, &errPayload); err != nil {
			return modrunerrors.Internal("failed to decode remote error payload", err)
		}
		return modrunerrors.Wrap(modrunerrors.CodeInternal, fmt.Sprintf("remote runtime error: %s", errPayload.Message), nil).
			WithDetail("remote_code", errPayload.Code)
	}
	if out != nil {
		if err := json.Unmarshal(respEnv.Payload, out); err != nil {
			return modrunerrors.Internal("failed to decode remote response payload", err)
		}
	}
	return nil
}

func (p *wsPeer) Close() error {
	return p.conn.Close()
}
