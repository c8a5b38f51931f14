package primitives

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math/big"
)

// SignatureProofKind discriminates the two signature proof variants a
// transaction's Proof field can carry.
type SignatureProofKind uint8

const (
	ProofKindEdDSA    SignatureProofKind = 0
	ProofKindWebAuthn SignatureProofKind = 1
)

// SignatureProof is the sum type a Transaction.Proof deserializes into:
// either a (possibly multisig) Ed25519 proof or a WebAuthn/P-256 proof.
type SignatureProof interface {
	Kind() SignatureProofKind
	// ComputeSigner returns the address authorized by this proof, given
	// message is the data that was signed (normally the transaction's
	// SerializeContent() hash).
	ComputeSigner(message []byte) (Address, error)
}

// EdDSAMerklePathNode is one step of the Merkle path binding a single
// Ed25519 signer's key into a multisig account's root address.
type EdDSAMerklePathNode struct {
	Hash     Hash
	LeftSide bool // true if this node is the proof's left sibling
}

// EdDSASignatureProof carries an Ed25519 signature plus an optional Merkle
// path. A single-signer account has an empty path (the public key's hash
// is directly the address); an m-of-n multisig account's address is the
// Merkle root over all n authorized public keys, and the path proves this
// particular key belongs to that set.
type EdDSASignatureProof struct {
	PublicKey ed25519.PublicKey
	MerklePath []EdDSAMerklePathNode
	Signature  []byte
}

func (EdDSASignatureProof) Kind() SignatureProofKind { return ProofKindEdDSA }

// computeSignerRoot walks the Merkle path from the public key hash up to
// the multisig root, matching the original's compute_signer algorithm.
func (p EdDSASignatureProof) computeSignerRoot() Hash {
	cur := ComputeHash(p.PublicKey)
	for _, node := range p.MerklePath {
		if node.LeftSide {
			cur = CombineHashes(node.Hash, cur)
		} else {
			cur = CombineHashes(cur, node.Hash)
		}
	}
	return cur
}

// ComputeSigner verifies the embedded signature against message and, on
// success, returns the address this proof authorizes (the Merkle root of
// the multisig key set, or simply the key's own address if MerklePath is
// empty).
func (p EdDSASignatureProof) ComputeSigner(message []byte) (Address, error) {
	if !ed25519.Verify(p.PublicKey, message, p.Signature) {
		return Address{}, fmt.Errorf("primitives: invalid EdDSA signature")
	}
	root := p.computeSignerRoot()
	var a Address
	copy(a[:], root[len(root)-AddressSize:])
	return a, nil
}

// WebauthnClientDataFlags controls how the client data JSON envelope is
// reconstructed: browsers vary in whether they omit crossOrigin and
// whether they escape forward slashes, so the flags must be witnessed and
// folded back in deterministically rather than guessed.
type WebauthnClientDataFlags uint8

const (
	FlagNoCrossOriginField     WebauthnClientDataFlags = 0b01
	FlagEscapedOriginSlashes   WebauthnClientDataFlags = 0b10
)

// WebauthnSignatureProof carries a P-256 signature produced by a WebAuthn
// authenticator, plus the minimum material needed to deterministically
// reconstruct the exact clientDataJSON bytes that were actually hashed and
// signed by the browser.
type WebauthnSignatureProof struct {
	PublicKeyX, PublicKeyY *big.Int
	AuthenticatorData      []byte
	Host                    string
	Flags                   WebauthnClientDataFlags
	R, S                    *big.Int
}

func (WebauthnSignatureProof) Kind() SignatureProofKind { return ProofKindWebAuthn }

// buildClientDataJSON reconstructs the exact clientDataJSON bytes a
// compliant browser would have produced for a "webauthn.get" challenge
// over challenge, honoring the flags that record browser-specific
// omissions. Field order is fixed: type, challenge, origin, then
// (conditionally) crossOrigin.
func (p WebauthnSignatureProof) buildClientDataJSON(challenge []byte) []byte {
	origin := "https://" + p.Host
	if p.Host == "localhost" {
		origin = "http://localhost"
	}

	type clientData struct {
		Type        string `json:"type"`
		Challenge   string `json:"challenge"`
		Origin      string `json:"origin"`
		CrossOrigin *bool  `json:"crossOrigin,omitempty"`
	}

	cd := clientData{
		Type:      "webauthn.get",
		Challenge: base64URLEncode(challenge),
		Origin:    origin,
	}
	if p.Flags&FlagNoCrossOriginField == 0 {
		f := false
		cd.CrossOrigin = &f
	}

	// encoding/json field order follows struct declaration order, which
	// matches the required type/challenge/origin/crossOrigin sequence.
	b, _ := json.Marshal(cd)

	// encoding/json never escapes '/', so browsers that do (encoding the
	// origin as "https:\/\/...") are reproduced by rewriting the
	// marshaled bytes after the fact, not by pre-escaping origin before
	// marshaling — json.Marshal would otherwise re-escape that
	// backslash and double-escape the slash.
	if p.Flags&FlagEscapedOriginSlashes != 0 {
		b = bytes.ReplaceAll(b, []byte("/"), []byte("\\/"))
	}
	return b
}

// ComputeSigner reconstructs clientDataJSON around message (the WebAuthn
// "challenge"), verifies the P-256 signature over
// authenticatorData || sha256(clientDataJSON), and returns the address
// derived from the public key.
func (p WebauthnSignatureProof) ComputeSigner(message []byte) (Address, error) {
	clientDataJSON := p.buildClientDataJSON(message)
	clientDataHash := sha256.Sum256(clientDataJSON)

	signedData := make([]byte, 0, len(p.AuthenticatorData)+len(clientDataHash))
	signedData = append(signedData, p.AuthenticatorData...)
	signedData = append(signedData, clientDataHash[:]...)
	digest := sha256.Sum256(signedData)

	pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: p.PublicKeyX, Y: p.PublicKeyY}
	if !ecdsa.Verify(pub, digest[:], p.R, p.S) {
		return Address{}, fmt.Errorf("primitives: invalid WebAuthn signature")
	}

	pubBytes := elliptic.Marshal(elliptic.P256(), p.PublicKeyX, p.PublicKeyY)
	h := ComputeHash(pubBytes)
	var a Address
	copy(a[:], h[len(h)-AddressSize:])
	return a, nil
}

func base64URLEncode(b []byte) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
	var out []byte
	for i := 0; i < len(b); i += 3 {
		chunk := b[i:min(i+3, len(b))]
		var n uint32
		for _, c := range chunk {
			n = n<<8 | uint32(c)
		}
		n <<= uint(8 * (3 - len(chunk)))
		nChars := (len(chunk)*8 + 5) / 6
		for j := 0; j < nChars; j++ {
			shift := uint(18 - 6*j)
			out = append(out, alphabet[(n>>shift)&0x3f])
		}
	}
	return string(out)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
