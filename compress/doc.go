// Package compress provides the codecs that message payloads may be
// compressed with before they are split into message frames.
//
// The message checksum always covers the bytes as transmitted, so a receiver
// verifies the reassembled payload first and decompresses it afterwards with
// the codec selected by the same format.CompressionType.
//
// Available codecs:
//   - None: payload is sent as-is
//   - Zstd: best ratio, pure Go by default, cgo-backed with the cgozstd build tag
//   - S2: fast Snappy-compatible compression
//   - LZ4: fastest decompression
//
// All codecs are stateless values and safe for concurrent use.
package compress
