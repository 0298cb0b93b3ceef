// Package canonical serializes values into a canonical JSON form whose
// bytes are identical on every platform, then hashes that form with
// domain separation. Replay hashes are computed over this form only.
//
// Rules:
//   - Object keys sort by UTF-16 code units (RFC 8785), not UTF-8 bytes
//   - Strings are NFC normalized at the serialization boundary
//   - No HTML escaping; U+2028 and U+2029 stay literal
//   - No floats and no nulls: scale fractional values to integers first
package canonical
