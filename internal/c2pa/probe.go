package c2pa

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/Eyevinn/mp4ff/mp4"
)

// C2PABoxUUID is the extended type of the ISO BMFF uuid box that carries
// C2PA data.
const C2PABoxUUID = "d8fec3d61b0e483c92975828877ec481"

// Box purposes defined for C2PA uuid boxes.
const (
	PurposeManifest = "manifest"
	PurposeMerkle   = "merkle"
	PurposeUpdate   = "update"
)

// BoxInfo describes one C2PA uuid box found at the top level of a segment.
type BoxInfo struct {
	Offset  uint64
	Size    uint64
	Purpose string
}

// ProbeBoxes walks the top-level boxes of an ISO BMFF buffer and returns the
// C2PA uuid boxes it contains.
func ProbeBoxes(data []byte) ([]BoxInfo, error) {
	var found []BoxInfo
	var offset uint64
	total := uint64(len(data))

	for offset < total {
		hdr, err := mp4.DecodeHeader(bytes.NewReader(data[offset:]))
		if err != nil {
			return found, fmt.Errorf("decode box header at offset %d: %w", offset, err)
		}
		size := hdr.Size
		if size == 0 {
			size = total - offset
		}
		if size < uint64(hdr.Hdrlen) || offset+size > total {
			return found, fmt.Errorf("box %q at offset %d overruns buffer (size %d)", hdr.Name, offset, size)
		}

		if hdr.Name == "uuid" {
			payload := data[offset+uint64(hdr.Hdrlen) : offset+size]
			if info, ok := parseC2PABox(payload); ok {
				info.Offset = offset
				info.Size = size
				found = append(found, info)
			}
		}
		offset += size
	}
	return found, nil
}

// HasManifestBox reports whether the buffer carries a C2PA manifest box.
func HasManifestBox(data []byte) (bool, error) {
	boxes, err := ProbeBoxes(data)
	for _, b := range boxes {
		if b.Purpose == PurposeManifest {
			return true, nil
		}
	}
	return false, err
}

// parseC2PABox reads the extended type, the full box header and the purpose
// string of a uuid box payload.
func parseC2PABox(payload []byte) (BoxInfo, bool) {
	if len(payload) < 16 || hex.EncodeToString(payload[:16]) != C2PABoxUUID {
		return BoxInfo{}, false
	}
	rest := payload[16:]
	if len(rest) < 4 {
		return BoxInfo{}, true
	}
	rest = rest[4:]
	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		end = len(rest)
	}
	return BoxInfo{Purpose: string(rest[:end])}, true
}
