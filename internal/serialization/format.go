package serialization

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Format constants.
const (
	MagicBytes      = "BF2P"
	FormatVersion   = 1
	FixedHeaderSize = 64   // 0x40 bytes
	HeaderAlignment = 64   // Tensor data starts on a 64-byte boundary
	ChecksumSize    = 32   // SHA-256
	ChecksumOffset  = 0x20 // Checksum position in the fixed header
)

// DTypeFloat64 is the only element type stored in .bf2 files.
const DTypeFloat64 = "float64"

// Flags for the .bf2 format.
const (
	FlagHasOptimizer uint32 = 1 << 0 // optimizer state tensors included
	FlagHasMetadata  uint32 = 1 << 1 // custom metadata included
)

// Header represents the JSON header in a .bf2 file.
type Header struct {
	FormatVersion int               `json:"format_version"`
	Version       string            `json:"bf2_version"`
	ModelType     string            `json:"model_type"`
	RunID         string            `json:"run_id,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	Tensors       []TensorMeta      `json:"tensors"`
	Metadata      map[string]string `json:"metadata"`
	Checkpoint    *CheckpointMeta   `json:"checkpoint,omitempty"`
}

// CheckpointMeta contains training state information.
type CheckpointMeta struct {
	Epoch           int            `json:"epoch"`            // Completed epochs
	Step            int64          `json:"step"`             // Parameter updates applied
	Seen            int64          `json:"seen"`             // Training triples accepted
	OptimizerType   string         `json:"optimizer_type"`   // "momentum" or "adam"
	OptimizerConfig map[string]any `json:"optimizer_config"` // Optimizer hyperparameters
	TrainingMeta    map[string]any `json:"training_meta"`    // Additional training options
}

// TensorMeta describes a tensor in the .bf2 file.
type TensorMeta struct {
	Name   string `json:"name"`   // Tensor name (e.g., "C", "velocity.G")
	DType  string `json:"dtype"`  // Always "float64"
	Shape  []int  `json:"shape"`  // Tensor shape
	Offset int64  `json:"offset"` // Offset in the data section
	Size   int64  `json:"size"`   // Size in bytes
}

// Tensor is a named, row-major float64 array.
type Tensor struct {
	Name  string
	Shape []int
	Data  []float64
}

// NumElements returns the product of the shape dimensions.
func (t Tensor) NumElements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Validate checks that the data length matches the shape.
func (t Tensor) Validate() error {
	for _, d := range t.Shape {
		if d < 0 {
			return &ValidationError{
				Type:    "invalid_shape",
				Tensor:  t.Name,
				Details: fmt.Sprintf("negative dimension in %v", t.Shape),
			}
		}
	}
	if len(t.Data) != t.NumElements() {
		return &ValidationError{
			Type:    "size_mismatch",
			Tensor:  t.Name,
			Details: fmt.Sprintf("shape %v holds %d elements, got %d", t.Shape, t.NumElements(), len(t.Data)),
		}
	}
	return nil
}

// encodeFloats packs values as little-endian float64.
func encodeFloats(dst []byte, values []float64) {
	for i, v := range values {
		binary.LittleEndian.PutUint64(dst[i*8:], math.Float64bits(v))
	}
}

// decodeFloats unpacks little-endian float64 values.
func decodeFloats(src []byte) []float64 {
	values := make([]float64, len(src)/8)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(src[i*8:]))
	}
	return values
}

// ComputeChecksum computes the SHA-256 checksum of the data section.
func ComputeChecksum(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// ValidateChecksum compares computed checksum against stored checksum.
// Returns ErrChecksumMismatch if they don't match.
func ValidateChecksum(computed, stored [32]byte) error {
	if computed != stored {
		return ErrChecksumMismatch
	}
	return nil
}

// dataOffset returns where tensor data starts for a JSON header of the given size.
func dataOffset(headerSize uint64) int64 {
	//nolint:gosec // G115: header size is bounded by MaxHeaderSize
	pos := int64(FixedHeaderSize) + int64(headerSize)
	padding := (HeaderAlignment - (pos % HeaderAlignment)) % HeaderAlignment
	return pos + padding
}
