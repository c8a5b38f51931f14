package zkp

import (
	"crypto/sha256"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

// Keys holds the compiled constraint systems and Groth16 proving/
// verification keys for every stage of the proof chain, plus a commitment
// to all five verifying keys together (the VksCommitment public input the
// merger-wrapper circuit's proof is bound to).
type Keys struct {
	PkTreeCS constraint.ConstraintSystem
	PkTreePK groth16.ProvingKey
	PkTreeVK groth16.VerifyingKey

	MacroBlockCS constraint.ConstraintSystem
	MacroBlockPK groth16.ProvingKey
	MacroBlockVK groth16.VerifyingKey

	WrapperCS constraint.ConstraintSystem
	WrapperPK groth16.ProvingKey
	WrapperVK groth16.VerifyingKey

	MergerCS constraint.ConstraintSystem
	MergerPK groth16.ProvingKey
	MergerVK groth16.VerifyingKey

	MergerWrapperCS constraint.ConstraintSystem
	MergerWrapperPK groth16.ProvingKey
	MergerWrapperVK groth16.VerifyingKey

	VksCommitmentField []byte // sha256 over all five verifying keys, reduced on demand by callers
}

// Setup compiles all five circuits and runs their (per-circuit, untrusted
// for this in-process deployment) Groth16 setup. This is a multi-second,
// one-time operation normally run once at node startup or by the
// cmd/bls-zk-setup tool and persisted with SaveToFiles/LoadFromFiles, mirroring the
// teacher's BLSZKProver.Initialize/InitializeFromKeys split.
func Setup() (*Keys, error) {
	k := &Keys{}
	var err error

	k.PkTreeCS, k.PkTreePK, k.PkTreeVK, err = setupCircuit(&PkTreeCircuit{})
	if err != nil {
		return nil, fmt.Errorf("zkp: pk-tree setup: %w", err)
	}
	k.MacroBlockCS, k.MacroBlockPK, k.MacroBlockVK, err = setupCircuit(&MacroBlockCircuit{})
	if err != nil {
		return nil, fmt.Errorf("zkp: macro-block setup: %w", err)
	}
	k.WrapperCS, k.WrapperPK, k.WrapperVK, err = setupCircuit(&MacroBlockWrapperCircuit{})
	if err != nil {
		return nil, fmt.Errorf("zkp: macro-block-wrapper setup: %w", err)
	}
	k.MergerCS, k.MergerPK, k.MergerVK, err = setupCircuit(&MergerCircuit{})
	if err != nil {
		return nil, fmt.Errorf("zkp: merger setup: %w", err)
	}
	k.MergerWrapperCS, k.MergerWrapperPK, k.MergerWrapperVK, err = setupCircuit(&MergerWrapperCircuit{})
	if err != nil {
		return nil, fmt.Errorf("zkp: merger-wrapper setup: %w", err)
	}

	digest, err := computeVksDigest(k)
	if err != nil {
		return nil, fmt.Errorf("zkp: verifying-key commitment: %w", err)
	}
	k.VksCommitmentField = digest
	return k, nil
}

func setupCircuit(circuit frontend.Circuit) (constraint.ConstraintSystem, groth16.ProvingKey, groth16.VerifyingKey, error) {
	cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, circuit)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("compile: %w", err)
	}
	pk, vk, err := groth16.Setup(cs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("groth16 setup: %w", err)
	}
	return cs, pk, vk, nil
}

// computeVksDigest hashes all five verifying keys together, the Pedersen-
// hash-of-the-key commitment spec.md's merger circuit names, substituted to
// sha256 here since it runs outside any circuit (only the field-reduced
// digest ever becomes a witness value).
func computeVksDigest(k *Keys) ([]byte, error) {
	h := sha256.New()
	for _, vk := range []groth16.VerifyingKey{k.PkTreeVK, k.MacroBlockVK, k.WrapperVK, k.MergerVK, k.MergerWrapperVK} {
		if _, err := vk.WriteTo(h); err != nil {
			return nil, err
		}
	}
	return h.Sum(nil), nil
}

// VksCommitment reduces the digest computed at Setup time into the field
// element every merger-wrapper proof binds as its VksCommitment public
// input.
func (k *Keys) VksCommitment() *big.Int {
	return fieldElement(k.VksCommitmentField)
}

type stageFiles struct {
	name string
	cs   constraint.ConstraintSystem
	pk   groth16.ProvingKey
	vk   groth16.VerifyingKey
}

func (k *Keys) stages() []stageFiles {
	return []stageFiles{
		{"pk-tree", k.PkTreeCS, k.PkTreePK, k.PkTreeVK},
		{"macro-block", k.MacroBlockCS, k.MacroBlockPK, k.MacroBlockVK},
		{"macro-block-wrapper", k.WrapperCS, k.WrapperPK, k.WrapperVK},
		{"merger", k.MergerCS, k.MergerPK, k.MergerVK},
		{"merger-wrapper", k.MergerWrapperCS, k.MergerWrapperPK, k.MergerWrapperVK},
	}
}

// SaveToFiles writes every stage's constraint system, proving key and
// verifying key to dir, plus the verifying-key-set commitment, following
// pkg/crypto/bls_zkp.BLSZKProver.SaveKeys's one-file-per-artifact layout
// extended to five stages.
func (k *Keys) SaveToFiles(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("zkp: create key directory: %w", err)
	}
	for _, s := range k.stages() {
		if err := writeArtifact(filepath.Join(dir, s.name+".cs"), s.cs); err != nil {
			return fmt.Errorf("zkp: save %s constraint system: %w", s.name, err)
		}
		if err := writeArtifact(filepath.Join(dir, s.name+".pk"), s.pk); err != nil {
			return fmt.Errorf("zkp: save %s proving key: %w", s.name, err)
		}
		if err := writeArtifact(filepath.Join(dir, s.name+".vk"), s.vk); err != nil {
			return fmt.Errorf("zkp: save %s verifying key: %w", s.name, err)
		}
	}
	return os.WriteFile(filepath.Join(dir, "vks.commitment"), k.VksCommitmentField, 0o644)
}

// LoadFromFiles reads back a key set saved by SaveToFiles, the counterpart
// to pkg/crypto/bls_zkp.BLSZKProver.InitializeFromKeys.
func LoadFromFiles(dir string) (*Keys, error) {
	k := &Keys{}
	load := func(name string) (constraint.ConstraintSystem, groth16.ProvingKey, groth16.VerifyingKey, error) {
		cs := groth16.NewCS(ecc.BN254)
		if err := readArtifact(filepath.Join(dir, name+".cs"), cs); err != nil {
			return nil, nil, nil, fmt.Errorf("read %s constraint system: %w", name, err)
		}
		pk := groth16.NewProvingKey(ecc.BN254)
		if err := readArtifact(filepath.Join(dir, name+".pk"), pk); err != nil {
			return nil, nil, nil, fmt.Errorf("read %s proving key: %w", name, err)
		}
		vk := groth16.NewVerifyingKey(ecc.BN254)
		if err := readArtifact(filepath.Join(dir, name+".vk"), vk); err != nil {
			return nil, nil, nil, fmt.Errorf("read %s verifying key: %w", name, err)
		}
		return cs, pk, vk, nil
	}

	var err error
	if k.PkTreeCS, k.PkTreePK, k.PkTreeVK, err = load("pk-tree"); err != nil {
		return nil, err
	}
	if k.MacroBlockCS, k.MacroBlockPK, k.MacroBlockVK, err = load("macro-block"); err != nil {
		return nil, err
	}
	if k.WrapperCS, k.WrapperPK, k.WrapperVK, err = load("macro-block-wrapper"); err != nil {
		return nil, err
	}
	if k.MergerCS, k.MergerPK, k.MergerVK, err = load("merger"); err != nil {
		return nil, err
	}
	if k.MergerWrapperCS, k.MergerWrapperPK, k.MergerWrapperVK, err = load("merger-wrapper"); err != nil {
		return nil, err
	}

	digest, err := os.ReadFile(filepath.Join(dir, "vks.commitment"))
	if err != nil {
		return nil, fmt.Errorf("zkp: read verifying-key commitment: %w", err)
	}
	k.VksCommitmentField = digest
	return k, nil
}

func writeArtifact(path string, artifact io.WriterTo) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = artifact.WriteTo(f)
	return err
}

func readArtifact(path string, artifact io.ReaderFrom) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = artifact.ReadFrom(f)
	return err
}
