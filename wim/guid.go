package wim

import (
	"encoding/binary"
	"fmt"
)

// GUID represents the 16-byte GUID carried in the WIM header. It is defined
// as its own type, rather than reusing a Windows-specific GUID type, so that
// this package has no dependency on the host OS: a WIM archive is just as
// readable on Linux or macOS as on Windows.
type GUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

// guidFromWindowsArray decodes a GUID from its 16-byte Windows (mixed
// little-endian) on-disk encoding.
func guidFromWindowsArray(b [16]byte) GUID {
	return GUID{
		Data1: binary.LittleEndian.Uint32(b[0:4]),
		Data2: binary.LittleEndian.Uint16(b[4:6]),
		Data3: binary.LittleEndian.Uint16(b[6:8]),
		Data4: [8]byte(b[8:16]),
	}
}

// String renders the GUID in the canonical
// xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx form.
func (g GUID) String() string {
	return fmt.Sprintf(
		"%08x-%04x-%04x-%04x-%012x",
		g.Data1, g.Data2, g.Data3, g.Data4[:2], g.Data4[2:],
	)
}
