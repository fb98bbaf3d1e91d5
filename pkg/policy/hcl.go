package policy

import (
	"fmt"
	"os"

	modrunerrors "github.com/architect-io/modrun/pkg/errors"
	"github.com/architect-io/modrun/pkg/value"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// document is the shape a policy HCL file is parsed into:
//
//	confidentiality {
//	  public   = "server"
//	  internal = "server"
//	  secret   = "web_browser"
//	}
//	integrity {
//	  low    = "web_browser"
//	  medium = "server"
//	  high   = "server"
//	}
type document struct {
	Confidentiality map[string]string `hcl:"confidentiality,block"`
	Integrity       map[string]string `hcl:"integrity,block"`
}

// LoadHCL parses an HCL policy document from path, grounded on the same
// hashicorp/hcl/v2 parse-then-evaluate pattern the rest of the runtime's
// configuration uses. Unlike a general-purpose HCL document this one has no
// expression evaluation to perform — every attribute is a literal
// environment name — but parsing still goes through hcl.Body/cty so the
// error messages carry source positions.
func LoadHCL(path string) (Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, modrunerrors.Wrap(modrunerrors.CodeBadRequest, "failed to read policy file", err)
	}
	return ParseHCL(raw, path)
}

// ParseHCL parses an HCL policy document from raw bytes. filename is used
// only for diagnostics.
func ParseHCL(raw []byte, filename string) (Policy, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCL(raw, filename)
	if diags.HasErrors() {
		return Policy{}, modrunerrors.Wrap(modrunerrors.CodeBadRequest, "failed to parse policy HCL", diags)
	}

	content, diags := f.Body.Content(policySchema)
	if diags.HasErrors() {
		return Policy{}, modrunerrors.Wrap(modrunerrors.CodeBadRequest, "failed to read policy document body", diags)
	}

	conf := make(map[value.Confidentiality]Context)
	integ := make(map[value.Integrity]Context)

	for _, block := range content.Blocks {
		switch block.Type {
		case "confidentiality":
			if err := decodeLevelBlock(block, confidentialityLevel, func(c value.Confidentiality, ctx Context) {
				conf[c] = ctx
			}); err != nil {
				return Policy{}, err
			}
		case "integrity":
			if err := decodeLevelBlock(block, integrityLevel, func(i value.Integrity, ctx Context) {
				integ[i] = ctx
			}); err != nil {
				return Policy{}, err
			}
		}
	}

	return New(conf, integ)
}

var policySchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "confidentiality"},
		{Type: "integrity"},
	},
}

func confidentialityLevel(name string) (value.Confidentiality, error) {
	switch name {
	case "public":
		return value.Public, nil
	case "internal":
		return value.Internal, nil
	case "secret":
		return value.Secret, nil
	default:
		return 0, modrunerrors.BadRequest(fmt.Sprintf("unknown confidentiality level %q", name), nil)
	}
}

func integrityLevel(name string) (value.Integrity, error) {
	switch name {
	case "low":
		return value.LowIntegrity, nil
	case "medium":
		return value.MediumIntegrity, nil
	case "high":
		return value.HighIntegrity, nil
	default:
		return 0, modrunerrors.BadRequest(fmt.Sprintf("unknown integrity level %q", name), nil)
	}
}

func decodeLevelBlock[L comparable](block *hcl.Block, parseLevel func(string) (L, error), set func(L, Context)) error {
	attrs, diags := block.Body.JustAttributes()
	if diags.HasErrors() {
		return modrunerrors.Wrap(modrunerrors.CodeBadRequest, "failed to read policy block attributes", diags)
	}
	for name, attr := range attrs {
		level, err := parseLevel(name)
		if err != nil {
			return err
		}
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return modrunerrors.Wrap(modrunerrors.CodeBadRequest, fmt.Sprintf("failed to evaluate %q", name), diags)
		}
		if val.Type() != cty.String {
			return modrunerrors.BadRequest(fmt.Sprintf("%q must be a string environment name", name), nil)
		}
		env, err := ParseEnvironment(val.AsString())
		if err != nil {
			return err
		}
		set(level, Context{Environment: env})
	}
	return nil
}
