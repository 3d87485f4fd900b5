package proxy

import (
	"errors"
	"testing"
)

func TestParseRange(t *testing.T) {
	cases := []struct {
		header string
		want   byteRange
		err    error
	}{
		{header: "bytes=0-99", want: byteRange{start: 0, end: 99}},
		{header: "bytes=100-", want: byteRange{start: 100, end: -1}},
		{header: "bytes=-500", want: byteRange{start: -1, end: -1, suffix: 500}},
		{header: "bytes=0-1,5-6", err: errMultipleRanges},
		{header: "bytes=9-3", err: errInvalidRange},
		{header: "items=0-1", err: errInvalidRange},
		{header: "bytes=abc-", err: errInvalidRange},
		{header: "bytes=-0", err: errInvalidRange},
		{header: "bytes=5", err: errInvalidRange},
	}
	for _, tc := range cases {
		t.Run(tc.header, func(t *testing.T) {
			got, err := parseRange(tc.header)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("expected %v, got %v", tc.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestResolveRange(t *testing.T) {
	cases := []struct {
		name       string
		r          byteRange
		total      int64
		start, end int64
		ok         bool
	}{
		{"clamped end", byteRange{start: 100, end: 5000}, 1000, 100, 999, true},
		{"open end", byteRange{start: 10, end: -1}, 1000, 10, 999, true},
		{"start past total", byteRange{start: 1000, end: -1}, 1000, 0, 0, false},
		{"unknown total keeps end", byteRange{start: 10, end: 20}, -1, 10, 20, true},
		{"unknown total open", byteRange{start: 10, end: -1}, -1, 10, -1, true},
		{"suffix", byteRange{start: -1, end: -1, suffix: 100}, 1000, 900, 999, true},
		{"suffix larger than file", byteRange{start: -1, end: -1, suffix: 5000}, 1000, 0, 999, true},
		{"suffix without total", byteRange{start: -1, end: -1, suffix: 100}, -1, 0, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			start, end, ok := tc.r.resolve(tc.total)
			if ok != tc.ok || start != tc.start || end != tc.end {
				t.Fatalf("expected (%d,%d,%v), got (%d,%d,%v)", tc.start, tc.end, tc.ok, start, end, ok)
			}
		})
	}
}

func TestContentTypeFor(t *testing.T) {
	cases := map[string]string{
		"http://h/a/movie.MKV":          "video/x-matroska",
		"http://h/a/live.ts?token=1":    "video/mp2t",
		"http://h/a/index.m3u8":         "application/vnd.apple.mpegurl",
		"http://h/a/noext":              "application/octet-stream",
		"http://h/a/file.unknownext123": "application/octet-stream",
	}
	for raw, want := range cases {
		if got := contentTypeFor(raw); got != want {
			t.Fatalf("%s: expected %s, got %s", raw, want, got)
		}
	}
}
