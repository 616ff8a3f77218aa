package consts

import "time"

// Buffer sizes for stream decoding
const (
	// BufferSize256KB is 256 kilobytes
	BufferSize256KB = 256 * 1024
	// BufferSize1MB is 1 megabyte
	BufferSize1MB = 1024 * 1024
)

// Timeouts for various operations
const (
	// Timeout1Second is a 1 second timeout
	Timeout1Second = 1 * time.Second
	// Timeout5Seconds is a 5 second timeout
	Timeout5Seconds = 5 * time.Second
	// Timeout10Seconds is a 10 second timeout
	Timeout10Seconds = 10 * time.Second
	// Timeout2Minutes is a 2 minute timeout
	Timeout2Minutes = 2 * time.Minute
)

// Conversation defaults
const (
	// DefaultMaxHistoryMessages is the number of non-system messages a
	// stored conversation retains under the count-cap policy
	DefaultMaxHistoryMessages = 50
)
