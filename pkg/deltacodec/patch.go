package deltacodec

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
)

// ReadHeader decodes the fixed prefix of a patch and returns
// the remaining body.
func ReadHeader(patch []byte) (Header, []byte, error) {
	if len(patch) < headerSize || string(patch[:len(Magic)]) != Magic {
		return Header{}, nil, fmt.Errorf("%w: bad magic", ErrPatchCorrupt)
	}
	p := patch[len(Magic):]
	h := Header{
		Mode:        Mode(p[0]),
		Compression: Compression(p[1]),
	}
	p = p[2:]
	copy(h.OldSum[:], p[:20])
	copy(h.NewSum[:], p[20:40])
	p = p[40:]

	size, n := binary.Uvarint(p)
	if n <= 0 {
		return Header{}, nil, fmt.Errorf("%w: bad length", ErrPatchCorrupt)
	}
	h.NewSize = size
	if h.Mode != ModeOps && h.Mode != ModeVerbatim {
		return Header{}, nil, fmt.Errorf("%w: unknown mode %s", ErrPatchCorrupt, h.Mode)
	}
	return h, p[n:], nil
}

// Patch rebuilds the new content from oldBytes. The base is
// checked against the digest recorded by Diff before anything
// is decoded, and the output against the recorded new digest.
func Patch(oldBytes, patch []byte) ([]byte, error) {
	h, body, err := ReadHeader(patch)
	if err != nil {
		return nil, err
	}
	if sha1.Sum(oldBytes) != h.OldSum {
		return nil, ErrPatchBaseMismatch
	}
	body, err = decompress(h.Compression, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPatchCorrupt, err)
	}

	var out []byte
	switch h.Mode {
	case ModeVerbatim:
		out = body
	case ModeOps:
		out, err = applyOps(oldBytes, body, h.NewSize)
		if err != nil {
			return nil, err
		}
	}
	if uint64(len(out)) != h.NewSize {
		return nil, fmt.Errorf("%w: expected %d bytes but got %d", ErrPatchCorrupt, h.NewSize, len(out))
	}
	if sha1.Sum(out) != h.NewSum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrPatchCorrupt)
	}
	return out, nil
}

func applyOps(oldBytes, body []byte, size uint64) ([]byte, error) {
	out := bytes.NewBuffer(make([]byte, 0, min(size, 1<<30)))
	for len(body) > 0 {
		op := body[0]
		body = body[1:]
		switch op {
		case opCopy:
			off, n := binary.Uvarint(body)
			if n <= 0 {
				return nil, fmt.Errorf("%w: truncated copy", ErrPatchCorrupt)
			}
			body = body[n:]
			length, n := binary.Uvarint(body)
			if n <= 0 {
				return nil, fmt.Errorf("%w: truncated copy", ErrPatchCorrupt)
			}
			body = body[n:]
			if off > uint64(len(oldBytes)) || length > uint64(len(oldBytes))-off {
				return nil, fmt.Errorf("%w: copy out of range", ErrPatchCorrupt)
			}
			out.Write(oldBytes[off : off+length])
		case opInsert:
			length, n := binary.Uvarint(body)
			if n <= 0 {
				return nil, fmt.Errorf("%w: truncated insert", ErrPatchCorrupt)
			}
			body = body[n:]
			if length > uint64(len(body)) {
				return nil, fmt.Errorf("%w: insert out of range", ErrPatchCorrupt)
			}
			out.Write(body[:length])
			body = body[length:]
		default:
			return nil, fmt.Errorf("%w: unknown op %d", ErrPatchCorrupt, op)
		}
		if uint64(out.Len()) > size {
			return nil, fmt.Errorf("%w: output exceeds declared length", ErrPatchCorrupt)
		}
	}
	return out.Bytes(), nil
}
