// Package protocol implements the wire format spoken by the radiator valves
// over the fff0 GATT service.
//
// The device keeps a 240-byte state buffer. Every named attribute (lock flag,
// temperatures, name, serial number) lives at a fixed offset inside it and is
// addressed by byte offset and length. This package provides:
//   - Frame construction (wake-up, state read, chunked state write)
//   - CRC-8/MAXIM checksums over the length+opcode+payload region
//   - The static field registry (offset, length, encoding)
//   - Encoding and decoding of field values
//   - Response parsing and terminator detection
//
// Nothing here performs I/O; see package valve for the request/response engine.
package protocol
