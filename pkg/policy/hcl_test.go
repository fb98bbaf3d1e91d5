package policy

import (
	"testing"

	"github.com/architect-io/modrun/pkg/value"
)

const samplePolicy = `
confidentiality {
  public   = "server"
  internal = "server"
  secret   = "web_browser"
}

integrity {
  low    = "web_browser"
  medium = "server"
  high   = "server"
}
`

func TestParseHCL(t *testing.T) {
	p, err := ParseHCL([]byte(samplePolicy), "policy.hcl")
	if err != nil {
		t.Fatalf("ParseHCL: %v", err)
	}

	req := p.Requirement(value.Label{Confidentiality: value.Secret, Integrity: value.HighIntegrity})
	if req.Environment != WebBrowser {
		t.Fatalf("Requirement for secret/high = %v, want WebBrowser", req.Environment)
	}

	req = p.Requirement(value.Label{Confidentiality: value.Public, Integrity: value.LowIntegrity})
	if req.Environment != WebBrowser {
		t.Fatalf("Requirement for public/low = %v, want WebBrowser (low integrity dominates)", req.Environment)
	}
}

func TestParseHCLRejectsUnknownLevel(t *testing.T) {
	bad := `
confidentiality {
  bogus = "server"
}
integrity {
  low = "server"
  medium = "server"
  high = "server"
}
`
	if _, err := ParseHCL([]byte(bad), "bad.hcl"); err == nil {
		t.Fatal("expected error for unknown confidentiality level")
	}
}
