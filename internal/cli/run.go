package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/architect-io/modrun/pkg/driver/remote"
	modrunerrors "github.com/architect-io/modrun/pkg/errors"
	"github.com/architect-io/modrun/pkg/module"
	"github.com/architect-io/modrun/pkg/value"
	"github.com/architect-io/modrun/pkg/wire"
)

func newRunCmd() *cobra.Command {
	var (
		port  int
		stdin bool
	)

	cmd := &cobra.Command{
		Use:   "run <module-path>",
		Short: "Invoke a module against a running runtime",
		Long: `run loads a module manifest, connects to a runtime started with
"serve", instantiates the module, invokes it once, and prints its output as
JSON to stdout.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), runOptions{manifestPath: args[0], port: port, stdin: stdin})
		},
	}

	cmd.Flags().IntVar(&port, "port", defaultPort, "runtime listener port to connect to")
	cmd.Flags().BoolVar(&stdin, "stdin", false, "read input values as a JSON object on stdin")

	return cmd
}

type runOptions struct {
	manifestPath string
	port         int
	stdin        bool
}

func runRun(ctx context.Context, opts runOptions) error {
	manifest, err := module.LoadManifest(opts.manifestPath)
	if err != nil {
		return configErr(err)
	}
	def, err := manifest.Definition()
	if err != nil {
		return configErr(err)
	}

	input, err := readInput(os.Stdin, opts.stdin, def)
	if err != nil {
		return configErr(err)
	}

	url := fmt.Sprintf("ws://127.0.0.1:%d/", opts.port)
	peer, err := remote.Dial(ctx, url)
	if err != nil {
		return runtimeErr(err)
	}
	defer peer.Close()

	moduleRef, err := encodeModuleBody(def.Body)
	if err != nil {
		return runtimeErr(err)
	}

	wireInput := make(map[string]wire.Value, len(input))
	wireLabels := make(map[string]wire.Label, len(input))
	for k, v := range input {
		wireInput[k] = wire.EncodeValue(v)
		// No CLI surface exists for declaring an input's label; every
		// value entered this way carries the bottom label, the least
		// restrictive point a caller can assert without elevated access.
		wireLabels[k] = wire.EncodeLabel(value.Bottom())
	}

	outputShape := make(map[string]string, len(def.OutputShape))
	for k, kind := range def.OutputShape {
		outputShape[k] = string(kind)
	}

	instReq := wire.InstantiateModuleRequest{
		Target:             string(def.Target),
		ModuleReference:    moduleRef,
		DefaultInput:       wireInput,
		DefaultInputLabels: wireLabels,
		OutputShape:        outputShape,
	}

	var instResp wire.InstantiateModuleResponse
	if err := peer.Call(ctx, "instantiate_module", instReq, &instResp); err != nil {
		return runtimeErr(err)
	}

	runReq := wire.RunModuleRequest{InstanceID: instResp.InstanceID, Input: wireInput, InputLabels: wireLabels}
	var runResp wire.RunModuleResponse
	if err := peer.Call(ctx, "run_module", runReq, &runResp); err != nil {
		return runtimeErr(err)
	}

	_ = peer.Call(ctx, "drop_instance", struct {
		InstanceID string `json:"instance_id"`
	}{InstanceID: instResp.InstanceID}, nil)

	return printOutput(os.Stdout, runResp)
}

// readInput produces the default/run input map a manifest's declared input
// shape expects. With --stdin, it decodes a JSON object from r, converting
// each value to the Kind the shape declares for its key. Without --stdin, a
// connected terminal gets an empty input map (a module with no inputs runs
// fine this way); a piped, non-terminal stdin with no --stdin flag is
// refused, since its bytes would otherwise be silently ignored.
func readInput(r *os.File, useStdin bool, def module.Definition) (map[string]value.Value, error) {
	if !useStdin {
		if !term.IsTerminal(int(r.Fd())) {
			return nil, modrunerrors.BadRequest("stdin is not a terminal; pass --stdin to read input from it", nil)
		}
		return map[string]value.Value{}, nil
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, modrunerrors.Internal("failed to read stdin", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, modrunerrors.BadRequest("stdin must be a JSON object of input values", nil)
	}

	out := make(map[string]value.Value, len(fields))
	for k, raw := range fields {
		kind, ok := def.InputShape[k]
		if !ok {
			return nil, modrunerrors.BadRequest(fmt.Sprintf("input key %q is not in the module's declared input shape", k), nil)
		}
		v, err := decodeJSONValue(kind, raw)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func decodeJSONValue(kind value.Kind, raw json.RawMessage) (value.Value, error) {
	switch kind {
	case value.KindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return value.Value{}, modrunerrors.BadRequest("expected a JSON string", nil)
		}
		return value.String(s), nil
	case value.KindBoolean:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return value.Value{}, modrunerrors.BadRequest("expected a JSON boolean", nil)
		}
		return value.Boolean(b), nil
	case value.KindNumber:
		var n float64
		if err := json.Unmarshal(raw, &n); err != nil {
			return value.Value{}, modrunerrors.BadRequest("expected a JSON number", nil)
		}
		return value.Number(n), nil
	case value.KindBuffer:
		var b []byte
		if err := json.Unmarshal(raw, &b); err != nil {
			return value.Value{}, modrunerrors.BadRequest("expected a base64-encoded JSON string", nil)
		}
		return value.Buffer(b), nil
	default:
		return value.Value{}, modrunerrors.BadRequest(fmt.Sprintf("unknown input kind %q", kind), nil)
	}
}

func encodeModuleBody(body module.Body) (wire.ModuleReference, error) {
	if body.IsSignature() {
		id := body.Signature.String()
		return wire.ModuleReference{ModuleID: &id}, nil
	}
	entries := make([]wire.SourceEntry, len(body.SourceCode))
	for i, e := range body.SourceCode {
		entries[i] = wire.SourceEntry{Name: e.Name, ContentType: e.ContentType, Bytes: e.Bytes}
	}
	return wire.ModuleReference{SourceCode: entries}, nil
}

func printOutput(w io.Writer, resp wire.RunModuleResponse) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(resp.Output)
}
