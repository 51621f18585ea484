package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
)

// Reader reads tensors from .bf2 files.
type Reader struct {
	file       *os.File
	header     Header
	flags      uint32
	dataOffset int64    // Offset where tensor data starts
	dataSize   int64    // Size of the data section
	checksum   [32]byte // SHA-256 checksum of the data section
	opts       ReaderOptions
	closed     bool
}

// ReaderOptions configures the behavior of Reader.
type ReaderOptions struct {
	SkipChecksumValidation bool            // Skip checksum validation (faster but less safe)
	ValidationLevel        ValidationLevel // Validation strictness level
}

// NewReader creates a new .bf2 file reader with strict validation.
func NewReader(path string) (*Reader, error) {
	return NewReaderWithOptions(path, ReaderOptions{
		ValidationLevel: ValidationStrict,
	})
}

// NewReaderWithOptions creates a new .bf2 file reader with custom options.
func NewReaderWithOptions(path string, opts ReaderOptions) (*Reader, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	reader := &Reader{file: file, opts: opts}

	if err := reader.parseHeader(); err != nil {
		_ = file.Close() // Best effort close on error
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if err := ValidateHeader(&reader.header, reader.dataSize, opts.ValidationLevel); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return reader, nil
}

// parseHeader reads the fixed header and the JSON header, and verifies the
// data checksum unless disabled.
func (r *Reader) parseHeader() error {
	fixed := make([]byte, FixedHeaderSize)
	if _, err := io.ReadFull(r.file, fixed); err != nil {
		return fmt.Errorf("failed to read fixed header: %w", err)
	}

	header, flags, dataSize, checksum, err := parseFixedHeader(fixed, r.file)
	if err != nil {
		return err
	}
	r.header = header
	r.flags = flags
	r.checksum = checksum
	//nolint:gosec // G115: parseFixedHeader bounds dataSize by math.MaxInt64
	r.dataSize = int64(dataSize)

	r.dataOffset = dataOffset(binary.LittleEndian.Uint64(fixed[16:24]))

	info, err := r.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if r.dataOffset > info.Size() || r.dataSize > info.Size()-r.dataOffset {
		return fmt.Errorf("%w: data section [%d, %d) exceeds file size %d",
			ErrOutOfBounds, r.dataOffset, r.dataOffset+r.dataSize, info.Size())
	}

	if !r.opts.SkipChecksumValidation {
		data := make([]byte, r.dataSize)
		if _, err := r.file.ReadAt(data, r.dataOffset); err != nil {
			return fmt.Errorf("failed to read tensor data for checksum: %w", err)
		}
		if err := ValidateChecksum(ComputeChecksum(data), r.checksum); err != nil {
			return err
		}
	}

	return nil
}

// parseFixedHeader decodes the 64-byte fixed header and reads the JSON
// header that follows it from src.
func parseFixedHeader(fixed []byte, src io.Reader) (Header, uint32, uint64, [32]byte, error) {
	var checksum [32]byte
	if string(fixed[0:4]) != MagicBytes {
		return Header{}, 0, 0, checksum, ErrInvalidMagic
	}

	version := binary.LittleEndian.Uint32(fixed[4:8])
	if version != FormatVersion {
		return Header{}, 0, 0, checksum, fmt.Errorf("%w: got %d, expected %d", ErrUnsupportedVersion, version, FormatVersion)
	}

	flags := binary.LittleEndian.Uint32(fixed[8:12])
	headerSize := binary.LittleEndian.Uint64(fixed[16:24])
	dataSize := binary.LittleEndian.Uint64(fixed[24:32])
	copy(checksum[:], fixed[ChecksumOffset:ChecksumOffset+ChecksumSize])

	if headerSize > MaxHeaderSize {
		return Header{}, 0, 0, checksum, ErrHeaderTooLarge
	}
	if dataSize > math.MaxInt64 {
		return Header{}, 0, 0, checksum, fmt.Errorf("%w: declared data size %d", ErrOutOfBounds, dataSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(src, headerBytes); err != nil {
		return Header{}, 0, 0, checksum, fmt.Errorf("failed to read header JSON: %w", err)
	}

	var header Header
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return Header{}, 0, 0, checksum, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	return header, flags, dataSize, checksum, nil
}

// Header returns the file header.
func (r *Reader) Header() Header {
	return r.header
}

// HasOptimizerState reports whether optimizer tensors were saved.
func (r *Reader) HasOptimizerState() bool {
	return r.flags&FlagHasOptimizer != 0
}

// TensorNames returns all tensor names in file order.
func (r *Reader) TensorNames() []string {
	names := make([]string, len(r.header.Tensors))
	for i, meta := range r.header.Tensors {
		names[i] = meta.Name
	}
	return names
}

// TensorInfo returns information about a specific tensor.
func (r *Reader) TensorInfo(name string) (*TensorMeta, error) {
	for i := range r.header.Tensors {
		if r.header.Tensors[i].Name == name {
			return &r.header.Tensors[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
}

// ReadTensor reads a single tensor.
func (r *Reader) ReadTensor(name string) (Tensor, error) {
	if r.closed {
		return Tensor{}, ErrClosed
	}

	meta, err := r.TensorInfo(name)
	if err != nil {
		return Tensor{}, err
	}

	// The header may be unvalidated (ValidationNone).
	if meta.Offset < 0 || meta.Size < 0 || meta.Offset > r.dataSize || meta.Size > r.dataSize-meta.Offset {
		return Tensor{}, fmt.Errorf("%w: tensor %s at [%d, %d+%d)", ErrOutOfBounds, name, meta.Offset, meta.Offset, meta.Size)
	}
	raw := make([]byte, meta.Size)
	if _, err := r.file.ReadAt(raw, r.dataOffset+meta.Offset); err != nil {
		return Tensor{}, fmt.Errorf("failed to read tensor %s: %w", name, err)
	}

	t := Tensor{Name: meta.Name, Shape: append([]int(nil), meta.Shape...), Data: decodeFloats(raw)}
	if err := t.Validate(); err != nil {
		return Tensor{}, err
	}
	return t, nil
}

// ReadAll reads every tensor in file order.
func (r *Reader) ReadAll() ([]Tensor, error) {
	tensors := make([]Tensor, 0, len(r.header.Tensors))
	for _, meta := range r.header.Tensors {
		t, err := r.ReadTensor(meta.Name)
		if err != nil {
			return nil, err
		}
		tensors = append(tensors, t)
	}
	return tensors, nil
}

// Close closes the reader and the underlying file.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}

// LoadFile reads every tensor and the header from path.
func LoadFile(path string) ([]Tensor, Header, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, Header{}, err
	}
	defer r.Close()

	tensors, err := r.ReadAll()
	if err != nil {
		return nil, Header{}, err
	}
	return tensors, r.Header(), nil
}

// Decode reads a .bf2 stream from an io.Reader, verifying its checksum.
func Decode(reader io.Reader) ([]Tensor, Header, error) {
	fixed := make([]byte, FixedHeaderSize)
	if _, err := io.ReadFull(reader, fixed); err != nil {
		return nil, Header{}, fmt.Errorf("failed to read fixed header: %w", err)
	}

	header, _, dataSize, checksum, err := parseFixedHeader(fixed, reader)
	if err != nil {
		return nil, Header{}, err
	}

	headerSize := binary.LittleEndian.Uint64(fixed[16:24])
	//nolint:gosec // G115: headerSize is bounded by MaxHeaderSize
	padding := dataOffset(headerSize) - int64(FixedHeaderSize) - int64(headerSize)
	if _, err := io.CopyN(io.Discard, reader, padding); err != nil {
		return nil, Header{}, fmt.Errorf("failed to read padding: %w", err)
	}

	var data bytes.Buffer
	//nolint:gosec // G115: a truncated stream is reported by CopyN
	if _, err := io.CopyN(&data, reader, int64(dataSize)); err != nil {
		return nil, Header{}, fmt.Errorf("failed to read tensor data: %w", err)
	}
	if err := ValidateChecksum(ComputeChecksum(data.Bytes()), checksum); err != nil {
		return nil, Header{}, err
	}
	//nolint:gosec // G115: data size fits in memory once read
	if err := ValidateHeader(&header, int64(dataSize), ValidationStrict); err != nil {
		return nil, Header{}, err
	}

	tensors := make([]Tensor, 0, len(header.Tensors))
	for _, meta := range header.Tensors {
		raw := data.Bytes()[meta.Offset : meta.Offset+meta.Size]
		t := Tensor{Name: meta.Name, Shape: append([]int(nil), meta.Shape...), Data: decodeFloats(raw)}
		if err := t.Validate(); err != nil {
			return nil, Header{}, err
		}
		tensors = append(tensors, t)
	}

	return tensors, header, nil
}
