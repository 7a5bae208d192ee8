package sink

import "strings"

// PipePrefix marks an output path as a Windows named pipe.
const PipePrefix = `\\.\pipe\`

// IsPipePath reports whether path names a Windows named pipe.
func IsPipePath(path string) bool {
	return len(path) > len(PipePrefix) && strings.EqualFold(path[:len(PipePrefix)], PipePrefix)
}
