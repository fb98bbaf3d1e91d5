// Package server hosts the Remote Driver's peer protocol: an HTTP handler
// that upgrades to a persistent websocket connection and dispatches the
// minimal InstantiateModule/RunModule/DropInstance/ping envelope exchange
// against a local Runtime, the symmetric counterpart to
// pkg/driver/remote's client side.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	modrunerrors "github.com/architect-io/modrun/pkg/errors"
	"github.com/architect-io/modrun/pkg/module"
	"github.com/architect-io/modrun/pkg/runtime"
	"github.com/architect-io/modrun/pkg/value"
	"github.com/architect-io/modrun/pkg/wire"
)

// upgrader has no origin restrictions: the peer protocol is meant for
// service-to-service traffic inside a deployment, not browser clients.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server dispatches the peer protocol's envelopes against rt.
type Server struct {
	rt  *runtime.Runtime
	log *zap.Logger
}

// New constructs a Server backed by rt.
func New(rt *runtime.Runtime, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{rt: rt, log: log}
}

// ServeHTTP upgrades the connection and serves envelopes on it until the
// peer disconnects or sends a message the connection-level framing cannot
// decode.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("failed to upgrade peer connection", zap.Error(err))
		return
	}
	defer conn.Close()

	for {
		var env wire.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}

		resp := s.dispatch(r.Context(), env)
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

// dispatch routes one envelope to its handler, converting any error into
// the "error" envelope the client-side Peer recognizes.
func (s *Server) dispatch(ctx context.Context, env wire.Envelope) wire.Envelope {
	var (
		payload interface{}
		err     error
	)

	switch env.Op {
	case "ping":
		payload = struct{}{}
	case "instantiate_module":
		payload, err = s.instantiateModule(ctx, env.Payload)
	case "run_module":
		payload, err = s.runModule(ctx, env.Payload)
	case "drop_instance":
		payload, err = s.dropInstance(ctx, env.Payload)
	default:
		err = modrunerrors.BadRequest(fmt.Sprintf("unknown op %q", env.Op), nil)
	}

	if err != nil {
		resp, encErr := wire.MarshalEnvelope("error", errorPayload(err))
		if encErr != nil {
			return wire.Envelope{Op: "error"}
		}
		return resp
	}

	resp, encErr := wire.MarshalEnvelope(env.Op, payload)
	if encErr != nil {
		errResp, _ := wire.MarshalEnvelope("error", errorPayload(encErr))
		return errResp
	}
	return resp
}

type wireErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorPayload(err error) wireErrorPayload {
	if e, ok := err.(*modrunerrors.Error); ok {
		return wireErrorPayload{Code: string(e.Code), Message: e.Message}
	}
	return wireErrorPayload{Code: string(modrunerrors.CodeInternal), Message: err.Error()}
}

func (s *Server) instantiateModule(ctx context.Context, raw json.RawMessage) (wire.InstantiateModuleResponse, error) {
	var req wire.InstantiateModuleRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return wire.InstantiateModuleResponse{}, modrunerrors.BadRequest("malformed instantiate_module payload", nil)
	}

	def, input, inputLabels, err := decodeDefinition(req)
	if err != nil {
		return wire.InstantiateModuleResponse{}, err
	}

	instanceID, err := s.rt.InstantiateModule(ctx, def, input, inputLabels)
	if err != nil {
		return wire.InstantiateModuleResponse{}, err
	}

	moduleID, err := def.ModuleID()
	if err != nil {
		return wire.InstantiateModuleResponse{}, err
	}

	return wire.InstantiateModuleResponse{ModuleID: moduleID.String(), InstanceID: instanceID.String()}, nil
}

func (s *Server) runModule(ctx context.Context, raw json.RawMessage) (wire.RunModuleResponse, error) {
	var req wire.RunModuleRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return wire.RunModuleResponse{}, modrunerrors.BadRequest("malformed run_module payload", nil)
	}
	if err := module.ValidateHex(req.InstanceID); err != nil {
		return wire.RunModuleResponse{}, err
	}

	input, err := decodeValues(req.Input)
	if err != nil {
		return wire.RunModuleResponse{}, err
	}
	inputLabels, err := decodeLabels(req.InputLabels)
	if err != nil {
		return wire.RunModuleResponse{}, err
	}

	outputs, err := s.rt.RunModule(ctx, module.InstanceID(req.InstanceID), input, inputLabels)
	if err != nil {
		return wire.RunModuleResponse{}, err
	}

	wireOutput := make(map[string]wire.Value, len(outputs))
	wireLabels := make(map[string]wire.Label, len(outputs))
	for k, d := range outputs {
		wireOutput[k] = wire.EncodeValue(d.Value)
		wireLabels[k] = wire.EncodeLabel(d.Label)
	}
	return wire.RunModuleResponse{Output: wireOutput, OutputLabels: wireLabels}, nil
}

type dropInstanceRequest struct {
	InstanceID string `json:"instance_id"`
}

func (s *Server) dropInstance(ctx context.Context, raw json.RawMessage) (struct{}, error) {
	var req dropInstanceRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return struct{}{}, modrunerrors.BadRequest("malformed drop_instance payload", nil)
	}
	return struct{}{}, s.rt.DropInstance(ctx, module.InstanceID(req.InstanceID))
}

// decodeDefinition reconstructs a module.Definition from an
// InstantiateModuleRequest. Affinity is always LocalOnly: by the time a
// request reaches a peer server, the client's own affinity dispatch has
// already decided to delegate here, so this side drives its local
// Function/Function-VM driver directly rather than re-running the affinity
// table against its own (potentially different) remote configuration.
func decodeDefinition(req wire.InstantiateModuleRequest) (module.Definition, map[string]value.Value, map[string]value.Label, error) {
	input, err := decodeValues(req.DefaultInput)
	if err != nil {
		return module.Definition{}, nil, nil, err
	}
	inputLabels, err := decodeLabels(req.DefaultInputLabels)
	if err != nil {
		return module.Definition{}, nil, nil, err
	}

	inputShape := make(map[string]value.Kind, len(input))
	for k, v := range input {
		inputShape[k] = v.Kind()
	}
	outputShape := make(map[string]value.Kind, len(req.OutputShape))
	for k, kindStr := range req.OutputShape {
		kind := value.Kind(kindStr)
		if !value.ValidKind(kind) {
			return module.Definition{}, nil, nil, modrunerrors.BadRequest(fmt.Sprintf("unknown output kind %q", kindStr), nil)
		}
		outputShape[k] = kind
	}

	body, err := decodeModuleReference(req.ModuleReference)
	if err != nil {
		return module.Definition{}, nil, nil, err
	}

	def := module.Definition{
		Target:      module.Target(req.Target),
		Affinity:    module.AffinityLocalOnly,
		InputShape:  inputShape,
		OutputShape: outputShape,
		Body:        body,
	}
	return def, input, inputLabels, nil
}

func decodeModuleReference(ref wire.ModuleReference) (module.Body, error) {
	if ref.ModuleID != nil {
		if err := module.ValidateHex(*ref.ModuleID); err != nil {
			return module.Body{}, err
		}
		id := module.ID(*ref.ModuleID)
		return module.Body{Signature: &id}, nil
	}
	if len(ref.SourceCode) == 0 {
		return module.Body{}, modrunerrors.BadRequest("module reference must set either module_id or source_code", nil)
	}
	entries := make([]module.SourceEntry, len(ref.SourceCode))
	for i, e := range ref.SourceCode {
		entries[i] = module.SourceEntry{Name: e.Name, ContentType: e.ContentType, Bytes: e.Bytes}
	}
	return module.Body{SourceCode: entries}, nil
}

func decodeValues(in map[string]wire.Value) (map[string]value.Value, error) {
	out := make(map[string]value.Value, len(in))
	for k, w := range in {
		v, err := wire.DecodeValue(w)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func decodeLabels(in map[string]wire.Label) (map[string]value.Label, error) {
	out := make(map[string]value.Label, len(in))
	for k, w := range in {
		l, err := wire.DecodeLabel(w)
		if err != nil {
			return nil, err
		}
		out[k] = l
	}
	return out, nil
}
