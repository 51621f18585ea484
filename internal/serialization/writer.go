package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Version is the bf2 version recorded in written headers.
const Version = "0.3.0"

// Writer writes tensors in .bf2 format.
type Writer struct {
	file   *os.File
	closed bool
}

// NewWriter creates a new .bf2 file writer.
func NewWriter(path string) (*Writer, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model saving
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	return &Writer{file: file}, nil
}

// Write writes tensors with the given header.
//
// Version, CreatedAt and the tensor table are filled in by the writer; the
// rest of the header (model type, run id, metadata, checkpoint) is kept.
func (w *Writer) Write(tensors []Tensor, header Header) error {
	if w.closed {
		return ErrClosed
	}
	return Encode(w.file, tensors, header)
}

// Close closes the writer and the underlying file.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

// SaveFile writes tensors to path. Any error, including one from closing
// the file, is returned: a partially written checkpoint is never reported
// as saved.
func SaveFile(path string, tensors []Tensor, header Header) (err error) {
	w, err := NewWriter(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
	}()
	return w.Write(tensors, header)
}

// Encode writes tensors in .bf2 format to an io.Writer.
// This is useful for writing to buffers or network connections.
func Encode(writer io.Writer, tensors []Tensor, header Header) error {
	header.FormatVersion = FormatVersion
	header.Version = Version
	header.CreatedAt = time.Now().UTC()
	if header.Metadata == nil {
		header.Metadata = make(map[string]string)
	}

	// Calculate tensor offsets
	var currentOffset int64
	header.Tensors = make([]TensorMeta, 0, len(tensors))
	for _, t := range tensors {
		if err := t.Validate(); err != nil {
			return err
		}
		if err := ValidateTensorName(t.Name); err != nil {
			return err
		}
		size := int64(t.NumElements() * 8)
		header.Tensors = append(header.Tensors, TensorMeta{
			Name:   t.Name,
			DType:  DTypeFloat64,
			Shape:  append([]int(nil), t.Shape...),
			Offset: currentOffset,
			Size:   size,
		})
		currentOffset += size
	}

	// Collect all tensor data to compute checksum
	data := make([]byte, currentOffset)
	for i, t := range tensors {
		encodeFloats(data[header.Tensors[i].Offset:], t.Data)
	}
	checksum := ComputeChecksum(data)

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	headerSize := uint64(len(headerJSON))
	if headerSize > MaxHeaderSize {
		return ErrHeaderTooLarge
	}

	fixed := make([]byte, FixedHeaderSize)

	// 0x00-0x03: Magic bytes
	copy(fixed[0:4], MagicBytes)

	// 0x04-0x07: Version
	binary.LittleEndian.PutUint32(fixed[4:8], uint32(FormatVersion))

	// 0x08-0x0B: Flags
	flags := uint32(0)
	if len(header.Metadata) > 0 {
		flags |= FlagHasMetadata
	}
	if header.Checkpoint != nil && header.Checkpoint.OptimizerType != "" {
		flags |= FlagHasOptimizer
	}
	binary.LittleEndian.PutUint32(fixed[8:12], flags)

	// 0x10-0x17: Header size, 0x18-0x1F: data size
	binary.LittleEndian.PutUint64(fixed[16:24], headerSize)
	binary.LittleEndian.PutUint64(fixed[24:32], uint64(len(data)))

	// 0x20-0x3F: SHA-256 checksum
	copy(fixed[ChecksumOffset:ChecksumOffset+ChecksumSize], checksum[:])

	if _, err := writer.Write(fixed); err != nil {
		return fmt.Errorf("failed to write fixed header: %w", err)
	}
	if _, err := writer.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header JSON: %w", err)
	}

	//nolint:gosec // G115: headerSize is bounded by MaxHeaderSize
	padding := dataOffset(headerSize) - int64(FixedHeaderSize) - int64(headerSize)
	if padding > 0 {
		if _, err := writer.Write(make([]byte, padding)); err != nil {
			return fmt.Errorf("failed to write padding: %w", err)
		}
	}

	if _, err := writer.Write(data); err != nil {
		return fmt.Errorf("failed to write tensor data: %w", err)
	}

	return nil
}
