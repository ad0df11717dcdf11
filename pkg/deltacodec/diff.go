package deltacodec

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
)

const (
	opCopy   byte = 0
	opInsert byte = 1

	blockSize = 16
	// maxCandidates bounds how many old offsets are kept per
	// weak hash.
	maxCandidates = 8
)

// Diff produces a patch that rebuilds newBytes from oldBytes.
// The output only depends on the inputs and the options.
func Diff(oldBytes, newBytes []byte, opts Options) ([]byte, error) {
	if opts.MaxPatchRatio <= 0 {
		opts.MaxPatchRatio = DefaultMaxPatchRatio
	}
	h := Header{
		Mode:        ModeOps,
		Compression: opts.Compression,
		OldSum:      sha1.Sum(oldBytes),
		NewSum:      sha1.Sum(newBytes),
		NewSize:     uint64(len(newBytes)),
	}

	body := encodeOps(oldBytes, newBytes)
	if float64(len(body)) > opts.MaxPatchRatio*float64(len(newBytes)) {
		h.Mode = ModeVerbatim
		body = newBytes
	}
	body, err := compress(h.Compression, body)
	if err != nil {
		return nil, fmt.Errorf("compressing patch: %w", err)
	}

	buf := bytes.Buffer{}
	buf.Grow(headerSize + binary.MaxVarintLen64 + len(body))
	writeHeader(&buf, h)
	buf.Write(body)
	return buf.Bytes(), nil
}

func writeHeader(buf *bytes.Buffer, h Header) {
	buf.WriteString(Magic)
	buf.WriteByte(byte(h.Mode))
	buf.WriteByte(byte(h.Compression))
	buf.Write(h.OldSum[:])
	buf.Write(h.NewSum[:])
	buf.Write(binary.AppendUvarint(nil, h.NewSize))
}

// encodeOps finds blocks of old that reappear in new and emits
// copy instructions for them, with inserts for everything else.
func encodeOps(oldBytes, newBytes []byte) []byte {
	var out []byte
	emitInsert := func(lit []byte) {
		if len(lit) == 0 {
			return
		}
		out = append(out, opInsert)
		out = binary.AppendUvarint(out, uint64(len(lit)))
		out = append(out, lit...)
	}
	emitCopy := func(off, n int) {
		out = append(out, opCopy)
		out = binary.AppendUvarint(out, uint64(off))
		out = binary.AppendUvarint(out, uint64(n))
	}

	if len(oldBytes) < blockSize || len(newBytes) < blockSize {
		emitInsert(newBytes)
		return out
	}

	index := make(map[uint32][]int, len(oldBytes)/blockSize+1)
	for i := 0; i+blockSize <= len(oldBytes); i += blockSize {
		sum := newRolling(oldBytes[i : i+blockSize]).sum()
		if c := index[sum]; len(c) < maxCandidates {
			index[sum] = append(c, i)
		}
	}

	lit := 0
	p := 0
	r := newRolling(newBytes[:blockSize])
	for p+blockSize <= len(newBytes) {
		off, n := bestMatch(index[r.sum()], oldBytes, newBytes, p)
		if n == 0 {
			if p+blockSize < len(newBytes) {
				r.roll(newBytes[p], newBytes[p+blockSize])
			}
			p++
			continue
		}
		// grow the match backwards into pending literals
		for p > lit && off > 0 && oldBytes[off-1] == newBytes[p-1] {
			p--
			off--
			n++
		}
		emitInsert(newBytes[lit:p])
		emitCopy(off, n)
		p += n
		lit = p
		if p+blockSize <= len(newBytes) {
			r = newRolling(newBytes[p : p+blockSize])
		}
	}
	emitInsert(newBytes[lit:])
	return out
}

// bestMatch returns the longest forward match among the
// candidates, preferring the lowest offset on ties.
func bestMatch(candidates []int, oldBytes, newBytes []byte, p int) (int, int) {
	bestOff, bestLen := 0, 0
	for _, off := range candidates {
		n := 0
		for off+n < len(oldBytes) && p+n < len(newBytes) && oldBytes[off+n] == newBytes[p+n] {
			n++
		}
		if n >= blockSize && n > bestLen {
			bestOff, bestLen = off, n
		}
	}
	return bestOff, bestLen
}

// rolling is an Adler-style checksum over a fixed window.
type rolling struct {
	a, b uint32
	n    uint32
}

func newRolling(window []byte) rolling {
	r := rolling{n: uint32(len(window))}
	for i, c := range window {
		r.a += uint32(c)
		r.b += uint32(len(window)-i) * uint32(c)
	}
	return r
}

func (r *rolling) roll(out, in byte) {
	r.a = r.a - uint32(out) + uint32(in)
	r.b = r.b - r.n*uint32(out) + r.a
}

func (r rolling) sum() uint32 {
	return r.b<<16 | r.a&0xffff
}
