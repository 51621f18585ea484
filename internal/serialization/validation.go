package serialization

import (
	"fmt"
	"slices"
	"strings"
)

// Limits on what a .bf2 header may declare.
const (
	MaxHeaderSize    = 100 * 1024 * 1024 // JSON header bytes
	MaxTensorCount   = 64                // C, G, V plus updater state fits with room to spare
	MaxTensorNameLen = 256
)

// ValidationLevel selects how much of a header is checked on load.
type ValidationLevel int

const (
	// ValidationStrict checks names, dtypes, declared sizes and that every
	// tensor lies inside the data section without overlapping another.
	ValidationStrict ValidationLevel = iota

	// ValidationNone trusts the header. Reads are still bounds-checked
	// against the data section.
	ValidationNone
)

// ValidateTensorOffsets checks that every tensor region lies inside
// [0, dataSize) and that no two regions overlap.
func ValidateTensorOffsets(tensors []TensorMeta, dataSize int64) error {
	byOffset := slices.Clone(tensors)
	slices.SortFunc(byOffset, func(a, b TensorMeta) int {
		switch {
		case a.Offset < b.Offset:
			return -1
		case a.Offset > b.Offset:
			return 1
		default:
			return 0
		}
	})

	for i, t := range byOffset {
		if t.Offset < 0 || t.Size < 0 {
			return &ValidationError{
				Type:    "negative_offset",
				Tensor:  t.Name,
				Details: fmt.Sprintf("offset=%d size=%d", t.Offset, t.Size),
				Err:     ErrOutOfBounds,
			}
		}
		// Written as a subtraction so a huge size cannot wrap around.
		if t.Offset > dataSize || t.Size > dataSize-t.Offset {
			return &ValidationError{
				Type:    "out_of_bounds",
				Tensor:  t.Name,
				Details: fmt.Sprintf("[%d, %d+%d) exceeds data section of %d bytes", t.Offset, t.Offset, t.Size, dataSize),
				Err:     ErrOutOfBounds,
			}
		}
		if i+1 < len(byOffset) {
			next := byOffset[i+1]
			if t.Offset+t.Size > next.Offset {
				return &ValidationError{
					Type:    "offset_overlap",
					Tensor:  t.Name,
					Tensor2: next.Name,
					Details: fmt.Sprintf("[%d, %d) and [%d, %d)", t.Offset, t.Offset+t.Size, next.Offset, next.Offset+next.Size),
					Err:     ErrOffsetOverlap,
				}
			}
		}
	}
	return nil
}

// ValidateTensorName accepts the plain dotted names the trainer writes
// ("C", "velocity.G") and rejects anything path-like.
func ValidateTensorName(name string) error {
	invalid := func(why string) error {
		return &ValidationError{Type: "invalid_name", Tensor: name, Details: why}
	}
	switch {
	case name == "":
		return invalid("empty")
	case len(name) > MaxTensorNameLen:
		return invalid(fmt.Sprintf("length %d > %d", len(name), MaxTensorNameLen))
	case strings.Contains(name, ".."):
		return invalid("contains ..")
	case strings.ContainsAny(name, "/\\"):
		return invalid("contains a path separator")
	case strings.ContainsRune(name, 0):
		return invalid("contains a NUL byte")
	}
	return nil
}

// ValidateHeader checks the tensor table of h against a data section of
// dataSize bytes.
func ValidateHeader(h *Header, dataSize int64, level ValidationLevel) error {
	if level == ValidationNone {
		return nil
	}

	if len(h.Tensors) > MaxTensorCount {
		return &ValidationError{
			Type:    "too_many_tensors",
			Details: fmt.Sprintf("got %d, max %d", len(h.Tensors), MaxTensorCount),
		}
	}

	for _, t := range h.Tensors {
		if err := ValidateTensorName(t.Name); err != nil {
			return err
		}
		if t.DType != DTypeFloat64 {
			return &ValidationError{
				Type:    "unsupported_dtype",
				Tensor:  t.Name,
				Details: fmt.Sprintf("got %q, want %q", t.DType, DTypeFloat64),
			}
		}
		n := int64(1)
		for _, d := range t.Shape {
			n *= int64(d)
		}
		if n*8 != t.Size {
			return &ValidationError{
				Type:    "size_mismatch",
				Tensor:  t.Name,
				Details: fmt.Sprintf("shape %v needs %d bytes, header declares %d", t.Shape, n*8, t.Size),
			}
		}
	}

	return ValidateTensorOffsets(h.Tensors, dataSize)
}
