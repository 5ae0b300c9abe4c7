// Package image reads and writes compiled program images (.rlc files).
// An image wraps one serialized top-level chunk with the identity a cache
// needs: the SHA-256 of the source it was compiled from, the source name,
// and a build timestamp. The container is canonical CBOR behind a fixed
// magic, so identical programs encode to identical bytes.
package image

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/rill-lang/rill/pkg/bytecode"
)

// Version is the image container version. Increment when making
// incompatible changes to the container layout.
const Version uint16 = 1

// Magic bytes for image files: "RLCI" (Rill Compiled Image).
var Magic = []byte{'R', 'L', 'C', 'I'}

// Ext is the conventional file extension for compiled images.
const Ext = ".rlc"

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Image is one compiled program. Bytecode holds the top-level chunk in the
// bytecode package's serialized form, so nested functions travel inside it.
type Image struct {
	SourceHash [32]byte `cbor:"1,keyasint"`
	Name       string   `cbor:"2,keyasint,omitempty"` // source file name
	CreatedAt  int64    `cbor:"3,keyasint"`           // unix seconds
	Bytecode   []byte   `cbor:"4,keyasint"`
}

// HashSource returns the cache key for a source text.
func HashSource(source []byte) [32]byte {
	return sha256.Sum256(source)
}

// Build wraps a compiled function in an image keyed by its source text.
func Build(name string, source []byte, fn *bytecode.Function) (*Image, error) {
	code, err := fn.Chunk.Serialize()
	if err != nil {
		return nil, fmt.Errorf("image: serialize bytecode: %w", err)
	}
	return &Image{
		SourceHash: HashSource(source),
		Name:       name,
		CreatedAt:  time.Now().Unix(),
		Bytecode:   code,
	}, nil
}

// Function reconstructs the runnable top-level function. Scripts always
// compile to an arity-0 function named "$main", so only the chunk is stored.
func (img *Image) Function() (*bytecode.Function, error) {
	chunk, err := bytecode.Deserialize(img.Bytecode)
	if err != nil {
		return nil, fmt.Errorf("image: decode bytecode: %w", err)
	}
	fn := bytecode.NewFunction("$main", 0)
	fn.Chunk = chunk
	return fn, nil
}

// Verify checks that the image was compiled from exactly this source.
func (img *Image) Verify(source []byte) error {
	computed := HashSource(source)
	if computed != img.SourceHash {
		return fmt.Errorf("image: source hash mismatch: declared %x, computed %x", img.SourceHash, computed)
	}
	return nil
}

// Encode serializes an image: magic, container version, canonical CBOR body.
func Encode(img *Image) ([]byte, error) {
	body, err := cborEncMode.Marshal(img)
	if err != nil {
		return nil, fmt.Errorf("image: encode: %w", err)
	}
	buf := make([]byte, 0, len(body)+6)
	buf = append(buf, Magic...)
	buf = binary.BigEndian.AppendUint16(buf, Version)
	return append(buf, body...), nil
}

// Decode deserializes an image produced by Encode.
func Decode(data []byte) (*Image, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("image: too short: need at least 6 bytes, got %d", len(data))
	}
	if !bytes.Equal(data[:4], Magic) {
		return nil, fmt.Errorf("image: invalid magic: expected %q, got %q", Magic, data[:4])
	}
	version := binary.BigEndian.Uint16(data[4:6])
	if version > Version {
		return nil, fmt.Errorf("image: container version %d is newer than supported version %d", version, Version)
	}
	var img Image
	if err := cbor.Unmarshal(data[6:], &img); err != nil {
		return nil, fmt.Errorf("image: decode: %w", err)
	}
	return &img, nil
}

// WriteFile encodes an image and writes it to path.
func WriteFile(path string, img *Image) error {
	data, err := Encode(img)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("image: write %s: %w", path, err)
	}
	return nil
}

// ReadFile reads and decodes an image file.
func ReadFile(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("image: read %s: %w", path, err)
	}
	img, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}
