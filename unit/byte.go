package unit

const (
	Byte     = 1
	Kibibyte = 1024 * Byte
	Mebibyte = 1024 * Kibibyte
)

// DefaultChunkSize is the read size used when streaming a single-resource
// download. Progress advances by one unit per chunk.
const DefaultChunkSize = 4 * Kibibyte
