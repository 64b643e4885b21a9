// Package auditlog records one CBOR-encoded journal entry per boot-image
// method patch, the way vm/dist/wire.go wraps its wire types in a canonical
// CBOR encoding mode for deterministic bytes. Entries are content-tagged
// with a SHA-256 hash for integrity checking on replay, never for dedup: the
// OAT writer's own BlobID tables are the only dedup key that matters to the
// build (see nativecode's package doc).
package auditlog

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/chazu/oatwriter/oat"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("auditlog: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// PatchEntry is one boot-image back-patch decision, as applied by
// oat.RuntimeBootImageBridge.Patch.
type PatchEntry struct {
	DexLocation   string `cbor:"dex_location"`
	ClassDefIdx   int    `cbor:"class_def_idx"`
	MethodIdx     int    `cbor:"method_idx"`
	FrameSize     uint32 `cbor:"frame_size"`
	CoreSpillMask uint32 `cbor:"core_spill_mask"`
	FPSpillMask   uint32 `cbor:"fp_spill_mask"`
	MappingOffset uint32 `cbor:"mapping_offset"`
	VMapOffset    uint32 `cbor:"vmap_offset"`
	GCMapOffset   uint32 `cbor:"gc_map_offset"`
	InvokeStub    uint32 `cbor:"invoke_stub_offset"`
	CodeOffset    uint32 `cbor:"code_offset"`
	Patched       bool   `cbor:"patched"` // false when the method kept its trampoline
}

// Journal accumulates PatchEntry records during one build and serializes them
// as a single CBOR-encoded, content-hashed file tagged with a build ID.
type Journal struct {
	BuildID uuid.UUID
	entries []PatchEntry
}

// NewJournal starts an empty journal under a fresh build ID.
func NewJournal() *Journal {
	return &Journal{BuildID: uuid.New()}
}

// Record appends one patch decision. patched mirrors the gating
// rule in oat.RuntimeBootImageBridge.Patch: callers should set Patched to
// whether SetCodeOffset was actually invoked for this method.
func (j *Journal) Record(dex oat.DexFile, classDefIdx, methodIdx int, mo oat.OatMethodOffsets, patched bool) {
	j.entries = append(j.entries, PatchEntry{
		DexLocation:   dex.Location(),
		ClassDefIdx:   classDefIdx,
		MethodIdx:     methodIdx,
		FrameSize:     mo.FrameSize,
		CoreSpillMask: mo.CoreSpillMask,
		FPSpillMask:   mo.FPSpillMask,
		MappingOffset: mo.MappingTableOffset,
		VMapOffset:    mo.VmapTableOffset,
		GCMapOffset:   mo.GCMapOffset,
		InvokeStub:    mo.InvokeStubOffset,
		CodeOffset:    mo.CodeOffset,
		Patched:       patched,
	})
}

// journalFile is the on-disk envelope: the build ID, the entries, and a
// SHA-256 over the CBOR-encoded entry list so a later audit can detect a
// truncated or hand-edited journal.
type journalFile struct {
	BuildID string       `cbor:"build_id"`
	Hash    [32]byte     `cbor:"hash"`
	Entries []PatchEntry `cbor:"entries"`
}

// Marshal encodes the journal to its canonical CBOR form.
func (j *Journal) Marshal() ([]byte, error) {
	entryBytes, err := cborEncMode.Marshal(j.entries)
	if err != nil {
		return nil, fmt.Errorf("auditlog: marshal entries: %w", err)
	}
	f := journalFile{
		BuildID: j.BuildID.String(),
		Hash:    sha256.Sum256(entryBytes),
		Entries: j.entries,
	}
	out, err := cborEncMode.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("auditlog: marshal journal: %w", err)
	}
	return out, nil
}

// WriteFile marshals the journal and writes it to dir/<build-id>.cbor,
// creating dir if necessary.
func (j *Journal) WriteFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("auditlog: create dir: %w", err)
	}
	data, err := j.Marshal()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, j.BuildID.String()+".cbor")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("auditlog: write %s: %w", path, err)
	}
	return path, nil
}

// ErrHashMismatch is returned by Unmarshal when the journal's stored hash
// does not match the hash recomputed over its decoded entries.
var ErrHashMismatch = fmt.Errorf("auditlog: entry hash mismatch")

// Unmarshal decodes and verifies a journal file produced by Marshal.
func Unmarshal(data []byte) (*Journal, error) {
	var f journalFile
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("auditlog: unmarshal journal: %w", err)
	}
	entryBytes, err := cborEncMode.Marshal(f.Entries)
	if err != nil {
		return nil, fmt.Errorf("auditlog: re-marshal entries: %w", err)
	}
	if sha256.Sum256(entryBytes) != f.Hash {
		return nil, ErrHashMismatch
	}
	id, err := uuid.Parse(f.BuildID)
	if err != nil {
		return nil, fmt.Errorf("auditlog: parse build id: %w", err)
	}
	return &Journal{BuildID: id, entries: f.Entries}, nil
}

// Entries returns the journal's recorded patch decisions.
func (j *Journal) Entries() []PatchEntry { return j.entries }
