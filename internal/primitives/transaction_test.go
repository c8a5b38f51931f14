package primitives

import (
	"bytes"
	"testing"
)

func sampleTransaction() Transaction {
	var sender, recipient Address
	sender[0] = 0xaa
	recipient[0] = 0xbb
	return Transaction{
		Format:              FormatBasic,
		Sender:              sender,
		SenderType:          0,
		Recipient:           recipient,
		RecipientType:       0,
		Value:               1000,
		Fee:                 1,
		ValidityStartHeight: 42,
		Network:             NetworkTestAlbatross,
		Flags:               0,
	}
}

func TestSerializeContentFieldOrder(t *testing.T) {
	tx := sampleTransaction()
	content := tx.SerializeContent()

	// recipient-data length prefix (0, no data for Basic) is the first
	// two bytes.
	if content[0] != 0 || content[1] != 0 {
		t.Fatalf("expected zero-length recipient-data prefix, got %v", content[:2])
	}
	offset := 2
	if !bytes.Equal(content[offset:offset+AddressSize], tx.Sender[:]) {
		t.Fatal("sender address not at expected offset")
	}
	offset += AddressSize
	if content[offset] != tx.SenderType {
		t.Fatal("sender type not at expected offset")
	}
	offset++
	if !bytes.Equal(content[offset:offset+AddressSize], tx.Recipient[:]) {
		t.Fatal("recipient address not at expected offset")
	}
}

func TestSerializeContentExtendedAppendsSenderData(t *testing.T) {
	tx := sampleTransaction()
	tx.Format = FormatExtended
	tx.SenderData = []byte("memo")

	basicLen := len(tx.SerializeContent())
	tx2 := tx
	tx2.Format = FormatBasic
	// Basic strips the trailing sender-data section entirely.
	if len(tx2.SerializeContent()) >= basicLen {
		t.Fatal("expected Basic serialization to be shorter than Extended")
	}
}

func TestHashIsDeterministic(t *testing.T) {
	tx := sampleTransaction()
	if tx.Hash() != tx.Hash() {
		t.Fatal("Hash() is not deterministic")
	}
	tx2 := tx
	tx2.Value++
	if tx.Hash() == tx2.Hash() {
		t.Fatal("changing Value did not change the hash")
	}
}

func TestIsValidAtWindow(t *testing.T) {
	tx := sampleTransaction() // ValidityStartHeight = 42
	const blocksPerBatch, window = 60, 7200

	if !tx.IsValidAt(42, blocksPerBatch, window) {
		t.Error("expected valid exactly at ValidityStartHeight")
	}
	if tx.IsValidAt(42+window, blocksPerBatch, window) {
		t.Error("expected invalid at the end of the window")
	}
	if !tx.IsValidAt(0, blocksPerBatch, window) {
		t.Error("expected valid within blocksPerBatch before ValidityStartHeight")
	}
}

func TestContractCreationAddressDependsOnSender(t *testing.T) {
	tx := sampleTransaction()
	tx.Flags = FlagContractCreation
	addr1 := tx.ContractCreationAddress()

	tx2 := tx
	tx2.Sender[1] = 0xcc
	addr2 := tx2.ContractCreationAddress()

	if addr1 == addr2 {
		t.Fatal("contract creation address did not depend on sender")
	}
}
