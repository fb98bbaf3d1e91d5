package build

import (
	"fmt"
	"sort"

	modrunerrors "github.com/architect-io/modrun/pkg/errors"
)

// BundleSourceCode produces the single bytes blob a Function-VM driver (or
// a subsequent BuildComponent call with bundleCommonImports set) embeds or
// compiles: entries are concatenated in Name order, each preceded by a
// comment banner naming its source file, so a stack trace from the
// interpreted or compiled result still points at a recognizable origin.
// Resolving a source language's own import syntax (ES module specifiers,
// Python package imports) is explicitly out of scope — this is the "combine
// a flat file list the caller has already resolved" half of bundling, not a
// transpiler.
func BundleSourceCode(contentType string, entries map[string][]byte) ([]byte, error) {
	if len(entries) == 0 {
		return nil, modrunerrors.BadRequest("bundle request must include at least one source entry", nil)
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	banner, ok := bannerStyle[contentType]
	if !ok {
		return nil, modrunerrors.BadRequest(fmt.Sprintf("no bundler registered for content type %q", contentType), nil)
	}

	var out []byte
	for _, name := range names {
		out = append(out, []byte(fmt.Sprintf(banner, name))...)
		out = append(out, entries[name]...)
		out = append(out, '\n')
	}
	return out, nil
}

// bannerStyle is the per-language single-line-comment prefix used to mark
// each bundled file's origin.
var bannerStyle = map[string]string{
	"application/javascript": "// --- %s ---\n",
	"text/javascript":        "// --- %s ---\n",
	"text/x-python":          "# --- %s ---\n",
	"application/x-python":   "# --- %s ---\n",
}
