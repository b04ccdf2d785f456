package sevenzip

import (
	"bufio"
	"bytes"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrListUnreadable means the archive listing could not be obtained or
// understood.
var ErrListUnreadable = errors.New("archive listing unreadable")

// parseListing parses a 7z "l -ba -slt" listing.
//
// Records are separated by a blank line; each line within a record is
// "Key = Value".  Records without a Path are dropped.  Missing numeric
// fields default to 0, missing timestamps stay zero.
func parseListing(out []byte) []Entry {
	var (
		entries []Entry
		cur     map[string]string
	)
	flush := func() {
		if cur == nil {
			return
		}
		if e, ok := entryFromRecord(cur); ok {
			entries = append(entries, e)
		}
		cur = nil
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			flush()
			continue
		}
		key, value, ok := strings.Cut(line, " = ")
		if !ok {
			continue
		}
		if cur == nil {
			cur = make(map[string]string)
		}
		cur[key] = value
	}
	flush()
	return entries
}

// entryFromRecord converts one Key = Value record to an Entry.
func entryFromRecord(record map[string]string) (Entry, bool) {
	path := record["Path"]
	if path == "" {
		return Entry{}, false
	}
	return Entry{
		Path:       path,
		Size:       parseSize(record["Size"]),
		PackedSize: parseSize(record["Packed Size"]),
		Modified:   parseTime(record["Modified"]),
		Created:    parseTime(record["Created"]),
		IsDir:      strings.Contains(record["Attributes"], "D"),
		Encrypted:  record["Encrypted"] == "+",
	}, true
}

func parseSize(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	// Some formats append fractional seconds - keep the canonical part.
	if len(s) > len(TimeFormat) {
		s = s[:len(TimeFormat)]
	}
	t, err := time.ParseInLocation(TimeFormat, s, time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

// extractSucceeded reports whether the binary's diagnostic output
// claims a successful extraction.
func extractSucceeded(out []byte) bool {
	return bytes.Contains(out, []byte("Everything is Ok"))
}
