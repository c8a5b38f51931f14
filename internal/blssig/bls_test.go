package blssig

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	msg := []byte("macro block header at height 128")
	sig, err := priv.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !pub.Verify(sig, msg) {
		t.Fatal("Verify returned false for a valid signature")
	}
	if pub.Verify(sig, []byte("tampered")) {
		t.Fatal("Verify returned true for a tampered message")
	}
}

func TestDomainSeparationPreventsCrossDomainReplay(t *testing.T) {
	priv, pub, _ := GenerateKeyPair()
	msg := []byte("round 3 proposal hash")

	sig, err := priv.SignWithDomain(DomainTendermintPrevote, msg)
	if err != nil {
		t.Fatalf("SignWithDomain: %v", err)
	}
	if !pub.VerifyWithDomain(sig, DomainTendermintPrevote, msg) {
		t.Fatal("expected valid prevote signature to verify")
	}
	if pub.VerifyWithDomain(sig, DomainTendermintPrecommit, msg) {
		t.Fatal("a prevote signature must not verify as a precommit")
	}
}

func TestAggregateSignatureVerification(t *testing.T) {
	const n = 5
	msg := []byte("election block 512 commit")

	var pubs []*PublicKey
	var sigs []*Signature
	for i := 0; i < n; i++ {
		priv, pub, err := GenerateKeyPairFromSeed([]byte{byte(i), 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31})
		if err != nil {
			t.Fatalf("GenerateKeyPairFromSeed: %v", err)
		}
		sig, err := priv.Sign(msg)
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		pubs = append(pubs, pub)
		sigs = append(sigs, sig)
	}

	aggSig, err := AggregateSignatures(sigs)
	if err != nil {
		t.Fatalf("AggregateSignatures: %v", err)
	}
	if !VerifyAggregateSignature(aggSig, pubs, msg) {
		t.Fatal("aggregate signature failed to verify against the full signer set")
	}
	if VerifyAggregateSignature(aggSig, pubs[:n-1], msg) {
		t.Fatal("aggregate signature verified against an incomplete signer set")
	}
}

func TestPublicKeyAndSignatureByteRoundTrip(t *testing.T) {
	priv, pub, _ := GenerateKeyPair()
	sig, _ := priv.Sign([]byte("x"))

	pub2, err := PublicKeyFromBytes(pub.Bytes())
	if err != nil {
		t.Fatalf("PublicKeyFromBytes: %v", err)
	}
	if pub2.Hex() != pub.Hex() {
		t.Fatal("public key round trip changed encoding")
	}

	sig2, err := SignatureFromBytes(sig.Bytes())
	if err != nil {
		t.Fatalf("SignatureFromBytes: %v", err)
	}
	if sig2.Hex() != sig.Hex() {
		t.Fatal("signature round trip changed encoding")
	}
}

func TestValidateSubgroupRejectsWrongSizes(t *testing.T) {
	if err := ValidatePublicKeySubgroup(make([]byte, 10)); err == nil {
		t.Fatal("expected error for undersized public key")
	}
	if err := ValidateSignatureSubgroup(make([]byte, 10)); err == nil {
		t.Fatal("expected error for undersized signature")
	}
}
