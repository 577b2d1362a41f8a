package scanner

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

var pngSignature = []byte{137, 80, 78, 71, 13, 10, 26, 10}

// pngInfo is what a single pass over a PNG yields: the IHDR dimensions
// and every tEXt keyword/value pair. ComfyUI stores the execution
// graph under "prompt" and the editor graph under "workflow".
type pngInfo struct {
	Width      int
	Height     int
	TextChunks map[string]string
}

// readPNGInfo walks the chunk stream once, decoding IHDR for the image
// dimensions and collecting tEXt chunks. CRCs are skipped, not
// verified; a damaged file surfaces as a short read.
func readPNGInfo(r io.Reader) (*pngInfo, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if !bytes.Equal(header, pngSignature) {
		return nil, errors.New("not a valid PNG file")
	}

	info := &pngInfo{TextChunks: make(map[string]string)}

	for {
		var length uint32
		err := binary.Read(r, binary.BigEndian, &length)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		chunkType := make([]byte, 4)
		if _, err := io.ReadFull(r, chunkType); err != nil {
			return nil, err
		}

		switch string(chunkType) {
		case "IHDR":
			data := make([]byte, length)
			if _, err := io.ReadFull(r, data); err != nil {
				return nil, err
			}
			if len(data) >= 8 {
				info.Width = int(binary.BigEndian.Uint32(data[0:4]))
				info.Height = int(binary.BigEndian.Uint32(data[4:8]))
			}
		case "tEXt":
			data := make([]byte, length)
			if _, err := io.ReadFull(r, data); err != nil {
				return nil, err
			}
			keywordEnd := bytes.IndexByte(data, 0)
			if keywordEnd == -1 {
				return nil, errors.New("malformed tEXt chunk")
			}
			info.TextChunks[string(data[:keywordEnd])] = string(data[keywordEnd+1:])
		case "IEND":
			// Nothing useful follows.
			if _, err := io.CopyN(io.Discard, r, int64(length)+4); err != nil && err != io.EOF {
				return nil, err
			}
			return info, nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
				return nil, err
			}
		}

		// Skip the CRC
		if _, err := io.CopyN(io.Discard, r, 4); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
	}

	return info, nil
}
