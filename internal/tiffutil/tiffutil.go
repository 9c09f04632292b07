// Package tiffutil splits a multi-page TIFF into single-page TIFF byte
// buffers so each page can be decoded independently (spec.md §4.2):
// golang.org/x/image/tiff.Decode only ever reads the first IFD in a file,
// so a page beyond the first must be repackaged as its own single-IFD
// TIFF before handing it to that decoder. No library in the retrieval
// pack exposes multi-page TIFF splitting directly, so this walks the IFD
// chain by hand.
package tiffutil

import (
	"encoding/binary"
	"fmt"
)

const (
	byteOrderLE = 0x4949 // "II"
	byteOrderBE = 0x4D4D // "MM"
	tiffMagic   = 42
)

// ErrMalformed marks a TIFF that tiffutil could not parse — spec.md §4.2
// routes this to DLQ-converted as invalid_image, non-retryable.
type ErrMalformed struct {
	Reason string
}

func (e *ErrMalformed) Error() string { return "tiffutil: malformed TIFF: " + e.Reason }

// SplitPages returns one self-contained single-IFD TIFF buffer per page,
// in physical (on-disk IFD chain) order. Each returned buffer can be
// handed directly to golang.org/x/image/tiff.Decode.
func SplitPages(data []byte) ([][]byte, error) {
	if len(data) < 8 {
		return nil, &ErrMalformed{Reason: "file shorter than TIFF header"}
	}

	order, err := byteOrder(data)
	if err != nil {
		return nil, err
	}
	if order.Uint16(data[2:4]) != tiffMagic {
		return nil, &ErrMalformed{Reason: "bad magic number"}
	}

	firstIFD := order.Uint32(data[4:8])
	if firstIFD == 0 || int(firstIFD) >= len(data) {
		return nil, &ErrMalformed{Reason: "first IFD offset out of range"}
	}

	var offsets []uint32
	offset := firstIFD
	seen := map[uint32]bool{}
	for offset != 0 {
		if seen[offset] {
			return nil, &ErrMalformed{Reason: "cyclic IFD chain"}
		}
		seen[offset] = true
		offsets = append(offsets, offset)

		next, err := nextIFDOffset(data, order, offset)
		if err != nil {
			return nil, err
		}
		offset = next
	}
	if len(offsets) == 0 {
		return nil, &ErrMalformed{Reason: "no IFDs found"}
	}

	pages := make([][]byte, 0, len(offsets))
	for _, ifdOffset := range offsets {
		page, err := buildSinglePageTIFF(data, order, ifdOffset)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	return pages, nil
}

// PageCount reports how many IFDs the TIFF chains together. It runs a
// full SplitPages, so every per-page buffer is built and then discarded.
func PageCount(data []byte) (int, error) {
	pages, err := SplitPages(data)
	if err != nil {
		return 0, err
	}
	return len(pages), nil
}

func byteOrder(data []byte) (binary.ByteOrder, error) {
	switch binary.BigEndian.Uint16(data[0:2]) {
	case byteOrderLE:
		return binary.LittleEndian, nil
	case byteOrderBE:
		return binary.BigEndian, nil
	default:
		return nil, &ErrMalformed{Reason: "unrecognized byte-order marker"}
	}
}

// nextIFDOffset reads the entry count at ifdOffset, skips that many
// 12-byte entries, and returns the 4-byte "offset to next IFD" that
// follows (0 if this is the last page).
func nextIFDOffset(data []byte, order binary.ByteOrder, ifdOffset uint32) (uint32, error) {
	if int(ifdOffset)+2 > len(data) {
		return 0, &ErrMalformed{Reason: "IFD entry count out of range"}
	}
	count := order.Uint16(data[ifdOffset : ifdOffset+2])
	nextFieldStart := int(ifdOffset) + 2 + int(count)*12
	if nextFieldStart+4 > len(data) {
		return 0, &ErrMalformed{Reason: "IFD next-pointer out of range"}
	}
	return order.Uint32(data[nextFieldStart : nextFieldStart+4]), nil
}

// buildSinglePageTIFF copies the full file (so every strip/tile offset an
// IFD's entries reference remains valid) and patches two fields: the
// header's first-IFD offset, redirected to ifdOffset, and that IFD's own
// "next IFD" pointer, zeroed so the copy looks like a standalone,
// single-page TIFF.
func buildSinglePageTIFF(data []byte, order binary.ByteOrder, ifdOffset uint32) ([]byte, error) {
	page := make([]byte, len(data))
	copy(page, data)

	order.PutUint32(page[4:8], ifdOffset)

	count := order.Uint16(page[ifdOffset : ifdOffset+2])
	nextFieldStart := int(ifdOffset) + 2 + int(count)*12
	if nextFieldStart+4 > len(page) {
		return nil, &ErrMalformed{Reason: "IFD next-pointer out of range"}
	}
	order.PutUint32(page[nextFieldStart:nextFieldStart+4], 0)

	return page, nil
}

// Validate is a structural check for callers that want to distinguish
// invalid_image failures from store/transient failures. It calls
// PageCount, so it performs a full split itself.
func Validate(data []byte) error {
	_, err := PageCount(data)
	if err != nil {
		return fmt.Errorf("tiffutil: %w", err)
	}
	return nil
}
