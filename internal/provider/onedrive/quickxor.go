package onedrive

import (
	"encoding/base64"
	"encoding/binary"
	"hash"
)

// QuickXorHash is the content hash OneDrive reports for every file. Each
// input byte is XORed into a 160-bit circular buffer, the insertion point
// advancing 11 bits per byte; the digest finally mixes in the byte count.
//
// Adapted from rclone's backend/onedrive/quickxorhash (BSD-0).
const (
	quickXorSize  = 20
	quickXorWidth = 160
	quickXorShift = 11
	quickXorCells = 3 // uint64 cells covering quickXorWidth bits
)

type quickXor struct {
	cells  [quickXorCells]uint64
	offset int    // bit position the next Write starts at
	length uint64 // bytes absorbed
}

var _ hash.Hash = (*quickXor)(nil)

func newQuickXor() *quickXor { return &quickXor{} }

// cellBits is the width of cell i; the last cell holds the 32 bits left
// over from two full cells.
func cellBits(i int) int {
	if i == quickXorCells-1 {
		return quickXorWidth - 64*(quickXorCells-1)
	}

	return 64
}

func nextCell(i int) int {
	if i == quickXorCells-1 {
		return 0
	}

	return i + 1
}

func (q *quickXor) Write(p []byte) (int, error) {
	cell := q.offset / 64
	bit := q.offset % 64

	// Bytes quickXorWidth apart land on the same bit position, so each of
	// the first quickXorWidth positions folds its whole column at once.
	for i := range min(len(p), quickXorWidth) {
		var column byte
		for j := i; j < len(p); j += quickXorWidth {
			column ^= p[j]
		}

		width := cellBits(cell)
		q.cells[cell] ^= uint64(column) << bit

		if bit > width-8 {
			q.cells[nextCell(cell)] ^= uint64(column) >> (width - bit)
		}

		bit += quickXorShift
		for bit >= cellBits(cell) {
			bit -= cellBits(cell)
			cell = nextCell(cell)
		}
	}

	q.offset = (q.offset + quickXorShift*(len(p)%quickXorWidth)) % quickXorWidth
	q.length += uint64(len(p))

	return len(p), nil
}

// Sum appends the digest to b without changing the state.
func (q *quickXor) Sum(b []byte) []byte {
	var out [quickXorSize]byte

	binary.LittleEndian.PutUint64(out[0:8], q.cells[0])
	binary.LittleEndian.PutUint64(out[8:16], q.cells[1])
	binary.LittleEndian.PutUint32(out[16:20], uint32(q.cells[2])) //nolint:gosec // the last cell holds 32 bits

	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], q.length)

	for i, v := range n {
		out[quickXorSize-len(n)+i] ^= v
	}

	return append(b, out[:]...)
}

func (q *quickXor) Reset()         { *q = quickXor{} }
func (q *quickXor) Size() int      { return quickXorSize }
func (q *quickXor) BlockSize() int { return 64 }

// encoded returns the digest in the base64 form Graph reports.
func (q *quickXor) encoded() string {
	return base64.StdEncoding.EncodeToString(q.Sum(nil))
}
