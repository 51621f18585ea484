package serialization

import (
	"errors"
	"testing"
)

// TestValidateTensorOffsets checks overlap, bounds and sign handling.
func TestValidateTensorOffsets(t *testing.T) {
	tests := []struct {
		name     string
		tensors  []TensorMeta
		dataSize int64
		wantType string // empty means valid
		wantErr  error
	}{
		{
			name: "contiguous",
			tensors: []TensorMeta{
				{Name: "C", Offset: 0, Size: 64},
				{Name: "G", Offset: 64, Size: 128},
			},
			dataSize: 192,
		},
		{
			name: "overlap by one byte",
			tensors: []TensorMeta{
				{Name: "C", Offset: 0, Size: 64},
				{Name: "G", Offset: 63, Size: 64},
			},
			dataSize: 200,
			wantType: "offset_overlap",
			wantErr:  ErrOffsetOverlap,
		},
		{
			name:     "beyond data section",
			tensors:  []TensorMeta{{Name: "V", Offset: 64, Size: 64}},
			dataSize: 100,
			wantType: "out_of_bounds",
			wantErr:  ErrOutOfBounds,
		},
		{
			name:     "size overflows offset",
			tensors:  []TensorMeta{{Name: "V", Offset: 8, Size: 1<<63 - 1}},
			dataSize: 100,
			wantType: "out_of_bounds",
			wantErr:  ErrOutOfBounds,
		},
		{
			name:     "negative offset",
			tensors:  []TensorMeta{{Name: "V", Offset: -8, Size: 8}},
			dataSize: 100,
			wantType: "negative_offset",
			wantErr:  ErrOutOfBounds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTensorOffsets(tt.tensors, tt.dataSize)
			if tt.wantType == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("Expected ValidationError, got %T (%v)", err, err)
			}
			if validationErr.Type != tt.wantType {
				t.Errorf("Type = %s, want %s", validationErr.Type, tt.wantType)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.wantErr)
			}
		})
	}
}

// TestValidateTensorName rejects names that could escape a directory.
func TestValidateTensorName(t *testing.T) {
	valid := []string{"C", "G", "V", "velocity.C", "moment2.G"}
	for _, name := range valid {
		if err := ValidateTensorName(name); err != nil {
			t.Errorf("ValidateTensorName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"../C", "dir/C", "C\\G", "C\x00"}
	for _, name := range invalid {
		if err := ValidateTensorName(name); err == nil {
			t.Errorf("ValidateTensorName(%q) = nil, want error", name)
		}
	}
}

// TestValidateHeader checks dtype and declared-size consistency.
func TestValidateHeader(t *testing.T) {
	good := Header{Tensors: []TensorMeta{
		{Name: "C", DType: DTypeFloat64, Shape: []int{2, 4}, Offset: 0, Size: 64},
	}}
	if err := ValidateHeader(&good, 64, ValidationStrict); err != nil {
		t.Fatalf("valid header rejected: %v", err)
	}

	badDType := Header{Tensors: []TensorMeta{
		{Name: "C", DType: "float32", Shape: []int{2, 4}, Offset: 0, Size: 32},
	}}
	var validationErr *ValidationError
	if err := ValidateHeader(&badDType, 64, ValidationStrict); !errors.As(err, &validationErr) || validationErr.Type != "unsupported_dtype" {
		t.Errorf("expected unsupported_dtype, got %v", err)
	}

	badSize := Header{Tensors: []TensorMeta{
		{Name: "C", DType: DTypeFloat64, Shape: []int{2, 4}, Offset: 0, Size: 60},
	}}
	if err := ValidateHeader(&badSize, 64, ValidationStrict); !errors.As(err, &validationErr) || validationErr.Type != "size_mismatch" {
		t.Errorf("expected size_mismatch, got %v", err)
	}

	overlap := Header{Tensors: []TensorMeta{
		{Name: "C", DType: DTypeFloat64, Shape: []int{2, 4}, Offset: 0, Size: 64},
		{Name: "V", DType: DTypeFloat64, Shape: []int{2, 4}, Offset: 32, Size: 64},
	}}
	if err := ValidateHeader(&overlap, 96, ValidationStrict); !errors.Is(err, ErrOffsetOverlap) {
		t.Errorf("expected ErrOffsetOverlap, got %v", err)
	}

	if err := ValidateHeader(&badSize, 64, ValidationNone); err != nil {
		t.Errorf("ValidationNone should skip checks, got %v", err)
	}
}

// TestValidationError_ErrorMessages checks the message format.
func TestValidationError_ErrorMessages(t *testing.T) {
	tests := []struct {
		err  ValidationError
		want string
	}{
		{ValidationError{Type: "t", Details: "d"}, "t: d"},
		{ValidationError{Type: "t", Tensor: "C", Details: "d"}, `t: tensor "C": d`},
		{ValidationError{Type: "t", Tensor: "C", Tensor2: "G", Details: "d"}, `t: tensors "C" and "G": d`},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}
