// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package halfkay

import (
	"encoding/binary"
	"fmt"
)

// Image is a flat firmware image loaded at address 0.
type Image struct {
	Data []byte
}

// Len returns the image length in bytes.
func (img Image) Len() int {
	return len(img.Data)
}

// Page is one flash page of a paginated image.
type Page struct {
	Address uint16
	Data    []byte // exactly one page long
	Erased  bool   // every byte is ErasedByte; safe to skip
}

// IsSentinel reports whether the page is the commit page.
func (p Page) IsSentinel() bool {
	return p.Address == SentinelAddress
}

// Frame returns the on-wire payload: little-endian address then page data.
func (p Page) Frame() []byte {
	buf := make([]byte, AddressSize+len(p.Data))
	binary.LittleEndian.PutUint16(buf[:AddressSize], p.Address)
	copy(buf[AddressSize:], p.Data)
	return buf
}

// SentinelPage returns the commit page for the given page size.
func SentinelPage(pageSize int) Page {
	return Page{
		Address: SentinelAddress,
		Data:    make([]byte, pageSize),
	}
}

// ParseFrame splits a page frame back into a Page. The page size is taken
// from the frame length.
func ParseFrame(frame []byte) (Page, error) {
	if len(frame) <= AddressSize {
		return Page{}, fmt.Errorf("frame too short: %d bytes", len(frame))
	}
	data := append([]byte(nil), frame[AddressSize:]...)
	return Page{
		Address: binary.LittleEndian.Uint16(frame[:AddressSize]),
		Data:    data,
		Erased:  isErased(data),
	}, nil
}

// Paginate partitions img into pageSize pages in ascending address order.
// The last page is padded with ErasedByte. Images longer than capacity are
// rejected before any page is produced.
func Paginate(img Image, pageSize, capacity int) ([]Page, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("invalid page size %d", pageSize)
	}
	if img.Len() > capacity {
		return nil, &ImageTooLargeError{Size: img.Len(), Capacity: capacity}
	}
	if capacity > SentinelAddress {
		return nil, fmt.Errorf("capacity 0x%X overlaps the sentinel address", capacity)
	}

	count := (img.Len() + pageSize - 1) / pageSize
	pages := make([]Page, 0, count)
	for i := 0; i < count; i++ {
		start := i * pageSize
		end := start + pageSize
		if end > img.Len() {
			end = img.Len()
		}

		data := make([]byte, pageSize)
		n := copy(data, img.Data[start:end])
		for j := n; j < pageSize; j++ {
			data[j] = ErasedByte
		}

		pages = append(pages, Page{
			Address: uint16(start),
			Data:    data,
			Erased:  isErased(data),
		})
	}
	return pages, nil
}

// CountWritable returns the number of pages that will be transmitted.
func CountWritable(pages []Page) int {
	n := 0
	for _, p := range pages {
		if !p.Erased {
			n++
		}
	}
	return n
}

func isErased(data []byte) bool {
	for _, b := range data {
		if b != ErasedByte {
			return false
		}
	}
	return true
}
