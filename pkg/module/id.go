// Package module defines the runtime's unit of deployable code: Module ID
// and Instance ID computation, and the Definition/Artifact types a driver
// prepares and instantiates.
package module

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	modrunerrors "github.com/architect-io/modrun/pkg/errors"
)

// ID is the content hash of a module's canonical body representation,
// stable across invocations and used as the Factory Cache key.
type ID string

// SourceEntry is one named file in a SourceCode body.
type SourceEntry struct {
	Name        string
	ContentType string
	Bytes       []byte
}

// ComputeSourceID hashes entries' canonical concatenation: for each entry,
// in lexicographic order of Name, the bytes of name ‖ content-type ‖ bytes.
// Any mutation to any byte of any entry changes the result; reordering the
// input slice does not, since entries are sorted before hashing.
func ComputeSourceID(entries []SourceEntry) (ID, error) {
	if len(entries) == 0 {
		return "", modrunerrors.BadRequest("source body must contain at least one entry", nil)
	}

	sorted := make([]SourceEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	h := sha256.New()
	for _, e := range sorted {
		h.Write([]byte(e.Name))
		h.Write([]byte(e.ContentType))
		h.Write(e.Bytes)
	}
	return ID(hex.EncodeToString(h.Sum(nil))), nil
}

// ComputeArtifactHash hashes raw artifact bytes, the key the Artifact Store
// indexes by.
func ComputeArtifactHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// InstanceID is a cryptographically unique, opaque identifier minted once
// per instantiation.
type InstanceID string

// NewInstanceID derives an Instance ID from (module-id, wall-clock,
// entropy): an HMAC-SHA256 keyed by the module ID's bytes, computed over
// the big-endian wall-clock millisecond timestamp concatenated with the 16
// random bytes of a freshly generated UUID (the same entropy source the
// teacher reaches for in its own ID minting, `uuid.New()` in
// `pkg/state/backend/local`). Keying the HMAC by the module ID ties the
// instance to its module without making the module ID recoverable from the
// instance ID; the entropy keeps two instantiations of the same module
// within the same millisecond from colliding.
func NewInstanceID(moduleID ID) (InstanceID, error) {
	entropy, err := uuid.NewRandom()
	if err != nil {
		return "", modrunerrors.Internal("failed to generate entropy for instance id", err)
	}

	var millis [8]byte
	binary.BigEndian.PutUint64(millis[:], uint64(time.Now().UnixMilli()))

	mac := hmac.New(sha256.New, []byte(moduleID))
	mac.Write(millis[:])
	mac.Write(entropy[:])

	return InstanceID(hex.EncodeToString(mac.Sum(nil))), nil
}

func (id ID) String() string         { return string(id) }
func (id InstanceID) String() string { return string(id) }

// ValidateHex reports whether s is a well-formed lowercase-hex 256-bit
// digest, the format Module IDs, Instance IDs, and artifact hashes all
// share.
func ValidateHex(s string) error {
	if len(s) != 64 {
		return modrunerrors.BadRequest(fmt.Sprintf("expected a 64-character hex digest, got %d characters", len(s)), nil)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return modrunerrors.BadRequest("not valid lowercase hex", err)
	}
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'F' {
			return modrunerrors.BadRequest("not valid lowercase hex", nil)
		}
	}
	return nil
}
