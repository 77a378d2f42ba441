package wim

import "time"

// filetimeEpochOffsetTicks is the number of 100-nanosecond intervals between
// the FILETIME epoch (1601-01-01) and the Unix epoch (1970-01-01):
// 11_644_473_600 seconds * 1e7.
const filetimeEpochOffsetTicks = 116444736000000000

// Filetime is a Windows FILETIME value: the number of 100-nanosecond ticks
// since 1601-01-01 UTC. It is read directly from directory entry records as
// a little-endian uint64, so it is defined here rather than reused from
// syscall.Filetime to keep this package buildable on any OS.
type Filetime uint64

// UnixNano returns the timestamp as nanoseconds since the Unix epoch.
func (f Filetime) UnixNano() int64 {
	return (int64(f) - filetimeEpochOffsetTicks) * 100
}

// Time returns the timestamp as a UTC time.Time.
func (f Filetime) Time() time.Time {
	return time.Unix(0, f.UnixNano()).UTC()
}
