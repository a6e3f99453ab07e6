package assets

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// gobMetadata and gobRef mirror Metadata/Ref but with gob-friendly field
// types ([16]byte instead of Id, so gob doesn't need a custom codec for a
// named array type in every caller).
type gobRef struct {
	Kind RefKind
	Id   [16]byte
	Path []byte
}

type gobArtifactHandle struct {
	Hash [32]byte
}

type gobMetadata struct {
	Id         [16]byte
	Source     Source
	LoadDeps   []gobRef
	HasArtifact bool
	Artifact   gobArtifactHandle
	Attributes []byte
}

// EncodeMetadata serializes a Metadata record for storage or wire
// transfer. The store and the RPC layer share this single encoding so a
// stored record can be forwarded verbatim without re-serialization.
func EncodeMetadata(m Metadata) ([]byte, error) {
	g := gobMetadata{
		Id:         [16]byte(m.Id),
		Source:     m.Source,
		Attributes: m.Attributes,
	}
	for _, d := range m.LoadDeps {
		g.LoadDeps = append(g.LoadDeps, gobRef{Kind: d.Kind, Id: [16]byte(d.Id), Path: d.Path})
	}
	if m.Artifact != nil {
		g.HasArtifact = true
		g.Artifact = gobArtifactHandle{Hash: m.Artifact.Hash}
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(g); err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeMetadata is the inverse of EncodeMetadata. A decode failure is
// reported as KindSchemaError, matching spec.md §7's SchemaError for
// malformed wire messages on read.
func DecodeMetadata(data []byte) (Metadata, error) {
	var g gobMetadata
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return Metadata{}, Wrap(KindSchemaError, "decode metadata", err)
	}
	if !g.Source.Valid() {
		return Metadata{}, New(KindSchemaError, "decode metadata: unknown asset source variant")
	}
	m := Metadata{
		Id:         Id(g.Id),
		Source:     g.Source,
		Attributes: g.Attributes,
	}
	for _, d := range g.LoadDeps {
		m.LoadDeps = append(m.LoadDeps, Ref{Kind: d.Kind, Id: Id(d.Id), Path: d.Path})
	}
	if g.HasArtifact {
		h := g.Artifact.Hash
		m.Artifact = &ArtifactHandle{Hash: h}
	}
	return m, nil
}
