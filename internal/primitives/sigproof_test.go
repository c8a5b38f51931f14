package primitives

import (
	"crypto/ed25519"
	"testing"
)

func TestEdDSASignatureProofSingleSigner(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	msg := []byte("transfer 100 to bob")
	proof := EdDSASignatureProof{
		PublicKey: pub,
		Signature: ed25519.Sign(priv, msg),
	}

	addr, err := proof.ComputeSigner(msg)
	if err != nil {
		t.Fatalf("ComputeSigner: %v", err)
	}
	want := AddressFromEd25519PublicKey(pub)
	if addr != want {
		t.Fatalf("ComputeSigner() = %x, want %x", addr, want)
	}
}

func TestEdDSASignatureProofRejectsBadSignature(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	proof := EdDSASignatureProof{
		PublicKey: pub,
		Signature: ed25519.Sign(priv, []byte("original")),
	}
	if _, err := proof.ComputeSigner([]byte("tampered")); err == nil {
		t.Fatal("expected ComputeSigner to reject a mismatched message")
	}
}

func TestEdDSASignatureProofMultisigMerklePath(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	msg := []byte("multisig spend")
	sig := ed25519.Sign(priv, msg)

	sibling := ComputeHash([]byte("co-signer pubkey hash"))
	proof := EdDSASignatureProof{
		PublicKey:  pub,
		Signature:  sig,
		MerklePath: []EdDSAMerklePathNode{{Hash: sibling, LeftSide: false}},
	}

	addrWithPath, err := proof.ComputeSigner(msg)
	if err != nil {
		t.Fatalf("ComputeSigner: %v", err)
	}

	soloProof := EdDSASignatureProof{PublicKey: pub, Signature: sig}
	addrSolo, _ := soloProof.ComputeSigner(msg)

	if addrWithPath == addrSolo {
		t.Fatal("expected the multisig root address to differ from the solo-key address")
	}
}

func TestWebauthnSignatureProofClientDataJSONFlags(t *testing.T) {
	p := WebauthnSignatureProof{Host: "example.com"}
	challenge := []byte("challenge-bytes")

	withCrossOrigin := p.buildClientDataJSON(challenge)
	p.Flags = FlagNoCrossOriginField
	withoutCrossOrigin := p.buildClientDataJSON(challenge)

	if string(withCrossOrigin) == string(withoutCrossOrigin) {
		t.Fatal("FlagNoCrossOriginField had no effect on clientDataJSON")
	}
}
