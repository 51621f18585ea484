// Package serialization provides the .bf2 checkpoint format for trained
// embedding tensors and optimizer state.
//
// The format is a small, checksummed binary container:
//
//	Format Structure:
//	  [64 bytes: fixed header]
//	    0x00-0x03  magic "BF2P"
//	    0x04-0x07  version (uint32 LE)
//	    0x08-0x0B  flags (uint32 LE)
//	    0x0C-0x0F  reserved
//	    0x10-0x17  JSON header size (uint64 LE)
//	    0x18-0x1F  data size (uint64 LE)
//	    0x20-0x3F  SHA-256 of the data section
//	  [Header: JSON metadata]
//	  [Tensor data: float64 LE, 64-byte aligned]
//
// Tensors are written in the order given, so files are reproducible for a
// fixed parameter state.
//
// Example usage:
//
//	// Save
//	if err := serialization.SaveFile("model.bf2", params.StateDict(), header); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Load
//	tensors, header, err := serialization.LoadFile("model.bf2")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	params, err := energy.ParamsFromStateDict(tensors)
package serialization
