package bytecode

import "github.com/zeebo/blake3"

// Digest returns a content hash of p's serialized form. It is not part of
// the wire format — the fixed header is unaffected — it exists purely as
// an embedder convenience: a host recompiling the same Program
// repeatedly can key a verify-result cache by digest instead of re-running
// the verifier's worklist pass every time. See vm.VerifyCached.
func Digest(p *Program) [32]byte {
	return blake3.Sum256(Serialize(p))
}
