package accounts

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/albatross-go/node/internal/primitives"
	"github.com/albatross-go/node/internal/storage"
)

var ErrAccountNotFound = errors.New("accounts: account not found")

// nibbleCount is the address key length in nibbles (4 bits each): 20
// bytes, two nibbles per byte.
const nibbleCount = primitives.AddressSize * 2

func addressNibbles(addr primitives.Address) []byte {
	out := make([]byte, nibbleCount)
	for i, b := range addr {
		out[2*i] = b >> 4
		out[2*i+1] = b & 0x0f
	}
	return out
}

type nodeKind uint8

const (
	nodeLeaf   nodeKind = 0
	nodeBranch nodeKind = 1
)

// node is one entry of the accounts trie, content-addressed by the Blake2b
// hash of its serialized form: a leaf carries the remaining nibble suffix
// and an account's serialized bytes, a branch carries a consumed nibble
// prefix (path compression, the "Patricia" half of the name) plus up to 16
// children, one per next nibble.
type node struct {
	Kind     nodeKind
	Prefix   []byte // nibbles, 0-15 each
	Value    []byte // leaf only: Account.SerializeContent()
	Children [16]primitives.Hash
}

var trieNodeTag = []byte("albatross-accounts-trie-node")
var emptyTrieRootTag = []byte("albatross-accounts-trie-empty")

// EmptyRoot is the canonical root of an accounts trie with no accounts.
func EmptyRoot() primitives.Hash {
	return primitives.ComputeTaggedHash(emptyTrieRootTag, nil)
}

func (n node) serialize() []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, byte(n.Kind))
	buf = append(buf, byte(len(n.Prefix)))
	buf = append(buf, n.Prefix...)

	switch n.Kind {
	case nodeLeaf:
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(n.Value)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, n.Value...)
	case nodeBranch:
		for _, child := range n.Children {
			buf = append(buf, child[:]...)
		}
	}
	return buf
}

func deserializeNode(raw []byte) (*node, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("accounts: trie node too short (%d bytes)", len(raw))
	}
	n := &node{Kind: nodeKind(raw[0])}
	prefixLen := int(raw[1])
	rest := raw[2:]
	if len(rest) < prefixLen {
		return nil, fmt.Errorf("accounts: trie node prefix truncated")
	}
	n.Prefix = append([]byte(nil), rest[:prefixLen]...)
	rest = rest[prefixLen:]

	switch n.Kind {
	case nodeLeaf:
		if len(rest) < 4 {
			return nil, fmt.Errorf("accounts: trie leaf missing value length")
		}
		valLen := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint32(len(rest)) != valLen {
			return nil, fmt.Errorf("accounts: trie leaf value length mismatch: want %d, got %d", valLen, len(rest))
		}
		n.Value = append([]byte(nil), rest...)
	case nodeBranch:
		if len(rest) != 16*primitives.HashSize {
			return nil, fmt.Errorf("accounts: trie branch children length mismatch: got %d bytes", len(rest))
		}
		for i := 0; i < 16; i++ {
			copy(n.Children[i][:], rest[i*primitives.HashSize:(i+1)*primitives.HashSize])
		}
	default:
		return nil, fmt.Errorf("accounts: unknown trie node kind %d", n.Kind)
	}
	return n, nil
}

func (n node) hash() primitives.Hash {
	return primitives.ComputeTaggedHash(trieNodeTag, n.serialize())
}

func loadNode(rtx storage.ReadTransaction, h primitives.Hash) (*node, error) {
	raw, err := rtx.Get(storage.TableAccountsTree, h[:])
	if err != nil {
		return nil, fmt.Errorf("accounts: load trie node %s: %w", h, err)
	}
	return deserializeNode(raw)
}

func saveNode(wtx storage.WriteTransaction, n *node) (primitives.Hash, error) {
	h := n.hash()
	if err := wtx.Put(storage.TableAccountsTree, h[:], n.serialize()); err != nil {
		return primitives.Hash{}, fmt.Errorf("accounts: save trie node %s: %w", h, err)
	}
	return h, nil
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// Get looks up the account stored at addr under root, returning
// ErrAccountNotFound if no leaf matches.
func Get(rtx storage.ReadTransaction, root primitives.Hash, addr primitives.Address) (*Account, error) {
	nibbles := addressNibbles(addr)
	cur := root
	consumed := 0
	for !cur.IsZero() {
		n, err := loadNode(rtx, cur)
		if err != nil {
			return nil, err
		}
		rem := nibbles[consumed:]
		cl := commonPrefixLen(n.Prefix, rem)
		switch n.Kind {
		case nodeLeaf:
			if cl == len(n.Prefix) && cl == len(rem) {
				return DecodeAccount(n.Value)
			}
			return nil, ErrAccountNotFound
		case nodeBranch:
			if cl < len(n.Prefix) {
				return nil, ErrAccountNotFound
			}
			consumed += cl
			next := rem[cl]
			consumed++
			cur = n.Children[next]
		}
	}
	return nil, ErrAccountNotFound
}

// Put inserts or overwrites the account at addr, returning the trie's new
// root hash.
func Put(wtx storage.WriteTransaction, root primitives.Hash, addr primitives.Address, acct *Account) (primitives.Hash, error) {
	nibbles := addressNibbles(addr)
	return insert(wtx, root, nibbles, acct.SerializeContent())
}

func insert(wtx storage.WriteTransaction, cur primitives.Hash, rem []byte, value []byte) (primitives.Hash, error) {
	if cur.IsZero() {
		return saveNode(wtx, &node{Kind: nodeLeaf, Prefix: rem, Value: value})
	}
	n, err := loadNode(wtx, cur)
	if err != nil {
		return primitives.Hash{}, err
	}
	cl := commonPrefixLen(n.Prefix, rem)

	switch n.Kind {
	case nodeLeaf:
		if cl == len(n.Prefix) && cl == len(rem) {
			return saveNode(wtx, &node{Kind: nodeLeaf, Prefix: n.Prefix, Value: value})
		}
		oldLeafHash, err := saveNode(wtx, &node{Kind: nodeLeaf, Prefix: n.Prefix[cl+1:], Value: n.Value})
		if err != nil {
			return primitives.Hash{}, err
		}
		newLeafHash, err := saveNode(wtx, &node{Kind: nodeLeaf, Prefix: rem[cl+1:], Value: value})
		if err != nil {
			return primitives.Hash{}, err
		}
		branch := &node{Kind: nodeBranch, Prefix: n.Prefix[:cl]}
		branch.Children[n.Prefix[cl]] = oldLeafHash
		branch.Children[rem[cl]] = newLeafHash
		return saveNode(wtx, branch)

	case nodeBranch:
		if cl < len(n.Prefix) {
			shiftedHash, err := saveNode(wtx, &node{Kind: nodeBranch, Prefix: n.Prefix[cl+1:], Children: n.Children})
			if err != nil {
				return primitives.Hash{}, err
			}
			newLeafHash, err := saveNode(wtx, &node{Kind: nodeLeaf, Prefix: rem[cl+1:], Value: value})
			if err != nil {
				return primitives.Hash{}, err
			}
			branch := &node{Kind: nodeBranch, Prefix: n.Prefix[:cl]}
			branch.Children[n.Prefix[cl]] = shiftedHash
			branch.Children[rem[cl]] = newLeafHash
			return saveNode(wtx, branch)
		}
		next := rem[cl]
		newChild, err := insert(wtx, n.Children[next], rem[cl+1:], value)
		if err != nil {
			return primitives.Hash{}, err
		}
		updated := &node{Kind: nodeBranch, Prefix: n.Prefix, Children: n.Children}
		updated.Children[next] = newChild
		return saveNode(wtx, updated)
	}
	return primitives.Hash{}, fmt.Errorf("accounts: unreachable trie insert case")
}

// Delete removes addr's account from the trie, returning the new root. It
// is a no-op (returns the unchanged root) if addr has no account.
func Delete(wtx storage.WriteTransaction, root primitives.Hash, addr primitives.Address) (primitives.Hash, error) {
	nibbles := addressNibbles(addr)
	newRoot, _, err := deleteRec(wtx, root, nibbles)
	return newRoot, err
}

// deleteRec returns (newRootHash, found, error). When a branch is left
// with exactly one child after a delete, it is collapsed into its
// remaining child (merging prefixes) to keep the trie path-compressed.
func deleteRec(wtx storage.WriteTransaction, cur primitives.Hash, rem []byte) (primitives.Hash, bool, error) {
	if cur.IsZero() {
		return cur, false, nil
	}
	n, err := loadNode(wtx, cur)
	if err != nil {
		return primitives.Hash{}, false, err
	}
	cl := commonPrefixLen(n.Prefix, rem)

	switch n.Kind {
	case nodeLeaf:
		if cl == len(n.Prefix) && cl == len(rem) {
			return primitives.Hash{}, true, nil
		}
		return cur, false, nil

	case nodeBranch:
		if cl < len(n.Prefix) {
			return cur, false, nil
		}
		next := rem[cl]
		newChild, found, err := deleteRec(wtx, n.Children[next], rem[cl+1:])
		if err != nil || !found {
			return cur, found, err
		}

		updated := node{Kind: nodeBranch, Prefix: n.Prefix, Children: n.Children}
		updated.Children[next] = newChild

		remaining := -1
		count := 0
		for i, c := range updated.Children {
			if !c.IsZero() {
				count++
				remaining = i
			}
		}
		if count == 0 {
			return primitives.Hash{}, true, nil
		}
		if count == 1 {
			child, err := loadNode(wtx, updated.Children[remaining])
			if err != nil {
				return primitives.Hash{}, false, err
			}
			mergedPrefix := append(append(append([]byte(nil), updated.Prefix...), byte(remaining)), child.Prefix...)
			merged := &node{Kind: child.Kind, Prefix: mergedPrefix, Value: child.Value, Children: child.Children}
			h, err := saveNode(wtx, merged)
			return h, true, err
		}
		h, err := saveNode(wtx, &updated)
		return h, true, err
	}
	return primitives.Hash{}, false, fmt.Errorf("accounts: unreachable trie delete case")
}
