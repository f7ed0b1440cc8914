package upload

import (
	"regexp"
	"strconv"
)

// contentRangePattern matches "bytes {start}-{end}/{total}"
var contentRangePattern = regexp.MustCompile(`^bytes (\d+)-(\d+)/(\d+)$`)

// ByteRange is the client-declared span of one chunk within the upload
type ByteRange struct {
	Start int64
	End   int64
	Total int64
}

// ChunkSize returns the number of bytes the range declares
func (r ByteRange) ChunkSize() int64 {
	return r.End - r.Start + 1
}

// ParseContentRange parses a Content-Range header value. A malformed or
// inverted range is rejected; ordering itself is enforced later against the
// session offset.
func ParseContentRange(header string) (ByteRange, error) {
	match := contentRangePattern.FindStringSubmatch(header)
	if match == nil {
		return ByteRange{}, errMalformedRange()
	}

	start, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return ByteRange{}, errMalformedRange()
	}
	end, err := strconv.ParseInt(match[2], 10, 64)
	if err != nil {
		return ByteRange{}, errMalformedRange()
	}
	total, err := strconv.ParseInt(match[3], 10, 64)
	if err != nil {
		return ByteRange{}, errMalformedRange()
	}

	if end < start || total <= end {
		return ByteRange{}, errMalformedRange()
	}

	return ByteRange{Start: start, End: end, Total: total}, nil
}

// WholeFileRange synthesizes the range for a single-shot whole-file upload
func WholeFileRange(size int64) ByteRange {
	return ByteRange{Start: 0, End: size - 1, Total: size}
}
