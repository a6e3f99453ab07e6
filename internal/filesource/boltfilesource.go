package filesource

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"fmt"

	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/assethub/internal/assets"
	"github.com/cuemby/assethub/internal/store"
)

// pathRecord is the gob-encoded value stored under a canonical path key in
// the store's paths bucket.
type pathRecord struct {
	Ids [][16]byte
}

// BoltFileSource is the reference FileAssetSource: it reads raw asset
// bytes from an "artifacts" bucket (populated out of band by whatever
// import pipeline feeds this daemon) and regenerates on demand by
// zstd-compressing them, filling in ArtifactMetadata's compressed and
// uncompressed sizes and a content hash. It stands in for a real importer
// per spec.md §1; production deployments wire their own FileAssetSource.
type BoltFileSource struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewBoltFileSource builds a BoltFileSource with a shared zstd
// encoder/decoder pair, matching the scratch-buffer reuse the source
// implementation performs across regeneration calls (SPEC_FULL.md §9).
func NewBoltFileSource() (*BoltFileSource, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("init zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("init zstd decoder: %w", err)
	}
	return &BoltFileSource{enc: enc, dec: dec}, nil
}

// Close releases the decoder's background goroutines.
func (s *BoltFileSource) Close() {
	s.dec.Close()
}

// PutRawContent stores the uncompressed bytes an asset would load from
// disk, keyed by asset id, for later regeneration. Test and
// import-pipeline code populate the store this way.
func (s *BoltFileSource) PutRawContent(tx *bolt.Tx, id assets.Id, raw []byte) error {
	b := tx.Bucket(store.BucketArtifacts())
	return b.Put(id.Bytes(), raw)
}

// Regenerate implements AssetSource.
func (s *BoltFileSource) Regenerate(tx *bolt.Tx, id assets.Id, scratch []byte) (assets.SerializedAsset, error) {
	raw := tx.Bucket(store.BucketArtifacts()).Get(id.Bytes())
	if raw == nil {
		return assets.SerializedAsset{}, assets.NotFound("no raw content for asset " + id.String())
	}

	scratch = scratch[:0]
	scratch = s.enc.EncodeAll(raw, scratch)

	hash := sha256.Sum256(raw)
	return assets.SerializedAsset{
		Metadata: assets.ArtifactMetadata{
			Hash:             hash,
			CompressedSize:   uint64(len(scratch)),
			UncompressedSize: uint64(len(raw)),
		},
		Data: append([]byte(nil), scratch...),
	}, nil
}

// Decompress reverses Regenerate's compression, for callers (tests,
// in-process loaders) that need the original bytes back from an Artifact.
func (s *BoltFileSource) Decompress(compressed []byte) ([]byte, error) {
	return s.dec.DecodeAll(compressed, nil)
}

// PathForAsset implements AssetSource by scanning the paths bucket for a
// record containing id. This core keeps the path index small enough (tens
// of thousands of entries) that a linear scan under the pinned transaction
// is acceptable; a production FileTracker would maintain a reverse index.
func (s *BoltFileSource) PathForAsset(tx *bolt.Tx, id assets.Id) ([]byte, bool) {
	c := tx.Bucket(store.BucketPaths()).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var rec pathRecord
		if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&rec); err != nil {
			continue
		}
		for _, candidate := range rec.Ids {
			if candidate == [16]byte(id) {
				return append([]byte(nil), k...), true
			}
		}
	}
	return nil, false
}

// AssetsForPath implements AssetSource.
func (s *BoltFileSource) AssetsForPath(tx *bolt.Tx, canonicalPath string) ([]assets.Id, bool) {
	v := tx.Bucket(store.BucketPaths()).Get([]byte(canonicalPath))
	if v == nil {
		return nil, false
	}
	var rec pathRecord
	if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&rec); err != nil {
		return nil, false
	}
	ids := make([]assets.Id, len(rec.Ids))
	for i, raw := range rec.Ids {
		ids[i] = assets.Id(raw)
	}
	return ids, true
}

// EncodePathRecord serializes the set of ids tracked at a path, for
// writer-side code (tests, the import pipeline) building paths-bucket
// values.
func EncodePathRecord(ids []assets.Id) ([]byte, error) {
	rec := pathRecord{Ids: make([][16]byte, len(ids))}
	for i, id := range ids {
		rec.Ids[i] = [16]byte(id)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("encode path record: %w", err)
	}
	return buf.Bytes(), nil
}
