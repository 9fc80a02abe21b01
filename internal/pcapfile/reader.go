// Package pcapfile reads the classic pcap capture container from a
// byte stream. The stream never needs to be seekable, so piped input
// (gunzip | tcpdump -r - -w -) works the same as a file on disk.
package pcapfile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/mafuba8/iex-parser/internal/core"
)

const (
	globalHeaderLen = 24
	recordHeaderLen = 16

	// Global header magics. The swapped forms appear when the capture
	// was written on a machine with the opposite byte order.
	magicMicros        = 0xa1b2c3d4
	magicMicrosSwapped = 0xd4c3b2a1
	magicNanos         = 0xa1b23c4d
	magicNanosSwapped  = 0x4d3cb2a1

	// First block type of a pcapng file, recognized only to say so.
	magicPcapng = 0x0a0d0d0a

	versionMajor = 2

	// A record claiming more than this is framing desync, not data.
	maxCaptureLen = 1 << 26
)

// Reader decodes a pcap stream record by record. It implements
// gopacket.PacketDataSource, so it is interchangeable with pcapgo's
// file reader where one is expected.
type Reader struct {
	r          *bufio.Reader
	byteOrder  binary.ByteOrder
	nanoFactor int64 // sub-second field unit in nanoseconds
	linkType   layers.LinkType
	snapLen    uint32

	offset  int64  // bytes consumed from the stream
	packets uint64 // records fully read

	hdr [recordHeaderLen]byte
}

// NewReader consumes and validates the 24-byte global header.
// An unrecognized magic or version fails with core.ErrInvalidContainer.
func NewReader(r io.Reader) (*Reader, error) {
	pr := &Reader{
		r:          bufio.NewReader(r),
		nanoFactor: int64(time.Microsecond),
	}

	var hdr [globalHeaderLen]byte
	if err := pr.need(hdr[:]); err != nil {
		return nil, err
	}

	magic := binary.LittleEndian.Uint32(hdr[0:4])
	switch magic {
	case magicMicros:
		pr.byteOrder = binary.LittleEndian
	case magicMicrosSwapped:
		pr.byteOrder = binary.BigEndian
	case magicNanos:
		pr.byteOrder = binary.LittleEndian
		pr.nanoFactor = 1
	case magicNanosSwapped:
		pr.byteOrder = binary.BigEndian
		pr.nanoFactor = 1
	case magicPcapng:
		return nil, fmt.Errorf("%w: pcapng input is not supported, convert with tcpdump -r FILE -w -", core.ErrInvalidContainer)
	default:
		return nil, fmt.Errorf("%w: unknown magic 0x%08x", core.ErrInvalidContainer, magic)
	}

	if major := pr.byteOrder.Uint16(hdr[4:6]); major != versionMajor {
		return nil, fmt.Errorf("%w: unsupported version %d.%d", core.ErrInvalidContainer, major, pr.byteOrder.Uint16(hdr[6:8]))
	}

	pr.snapLen = pr.byteOrder.Uint32(hdr[16:20])
	pr.linkType = layers.LinkType(pr.byteOrder.Uint32(hdr[20:24]))
	return pr, nil
}

// LinkType returns the container's declared link layer.
func (r *Reader) LinkType() layers.LinkType {
	return r.linkType
}

// ReadPacketData returns the next record's bytes and capture metadata.
// A clean end of stream at a record boundary is io.EOF; running out of
// bytes inside a record fails with core.ErrTruncated.
func (r *Reader) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	var ci gopacket.CaptureInfo

	if r.atEnd() {
		return nil, ci, io.EOF
	}

	if err := r.need(r.hdr[:]); err != nil {
		return nil, ci, err
	}

	sec := r.byteOrder.Uint32(r.hdr[0:4])
	frac := r.byteOrder.Uint32(r.hdr[4:8])
	capLen := r.byteOrder.Uint32(r.hdr[8:12])
	origLen := r.byteOrder.Uint32(r.hdr[12:16])

	if capLen > origLen {
		return nil, ci, fmt.Errorf("%w: packet %d at offset %d: captured length %d exceeds original length %d",
			core.ErrInvalidContainer, r.packets, r.offset-recordHeaderLen, capLen, origLen)
	}
	if capLen > maxCaptureLen {
		return nil, ci, fmt.Errorf("%w: packet %d at offset %d: captured length %d out of bounds",
			core.ErrInvalidContainer, r.packets, r.offset-recordHeaderLen, capLen)
	}

	ci.Timestamp = time.Unix(int64(sec), int64(frac)*r.nanoFactor)
	ci.CaptureLength = int(capLen)
	ci.Length = int(origLen)

	data := make([]byte, capLen)
	if err := r.need(data); err != nil {
		return nil, ci, err
	}

	r.packets++
	return data, ci, nil
}

// need fills buf completely or fails with core.ErrTruncated.
func (r *Reader) need(buf []byte) error {
	n, err := io.ReadFull(r.r, buf)
	r.offset += int64(n)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return fmt.Errorf("%w: need %d bytes at offset %d, packet %d",
				core.ErrTruncated, len(buf), r.offset, r.packets)
		}
		return err
	}
	return nil
}

// atEnd reports a clean end of stream between records.
func (r *Reader) atEnd() bool {
	_, err := r.r.Peek(1)
	return err == io.EOF
}
