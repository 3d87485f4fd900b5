package proxy

import (
	"errors"
	"strconv"
	"strings"
)

var (
	errMultipleRanges = errors.New("multiple ranges not supported")
	errInvalidRange   = errors.New("invalid range")
)

// byteRange 对应单个 Range 规格。suffix > 0 表示 "bytes=-n"；end < 0 表示开放区间。
type byteRange struct {
	start  int64
	end    int64
	suffix int64
}

// parseRange 只接受单段 bytes 区间。
func parseRange(header string) (byteRange, error) {
	header = strings.TrimSpace(header)
	ranges, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return byteRange{}, errInvalidRange
	}
	if strings.Contains(ranges, ",") {
		return byteRange{}, errMultipleRanges
	}
	first, last, ok := strings.Cut(strings.TrimSpace(ranges), "-")
	if !ok {
		return byteRange{}, errInvalidRange
	}
	first = strings.TrimSpace(first)
	last = strings.TrimSpace(last)

	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return byteRange{}, errInvalidRange
		}
		return byteRange{start: -1, end: -1, suffix: n}, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return byteRange{}, errInvalidRange
	}
	if last == "" {
		return byteRange{start: start, end: -1}, nil
	}
	end, err := strconv.ParseInt(last, 10, 64)
	if err != nil || end < start {
		return byteRange{}, errInvalidRange
	}
	return byteRange{start: start, end: end}, nil
}

// resolve 结合总长度（未知时为 -1）给出实际的闭区间；end 为 -1 表示读到末尾。
func (r byteRange) resolve(total int64) (int64, int64, bool) {
	if r.suffix > 0 {
		if total <= 0 {
			return 0, 0, false
		}
		start := total - r.suffix
		if start < 0 {
			start = 0
		}
		return start, total - 1, true
	}
	if total < 0 {
		return r.start, r.end, true
	}
	if r.start >= total {
		return 0, 0, false
	}
	end := r.end
	if end < 0 || end > total-1 {
		end = total - 1
	}
	return r.start, end, true
}
