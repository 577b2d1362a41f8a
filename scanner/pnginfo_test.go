package scanner

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunk encodes a PNG chunk with a zeroed CRC, which readPNGInfo
// deliberately does not verify.
func chunk(typ string, data []byte) []byte {
	buf := make([]byte, 0, len(data)+12)
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	buf = append(buf, length[:]...)
	buf = append(buf, typ...)
	buf = append(buf, data...)
	return append(buf, 0, 0, 0, 0)
}

func ihdr(width, height uint32) []byte {
	data := make([]byte, 13)
	binary.BigEndian.PutUint32(data[0:4], width)
	binary.BigEndian.PutUint32(data[4:8], height)
	data[8] = 8 // bit depth
	data[9] = 6 // color type RGBA
	return chunk("IHDR", data)
}

func textChunk(keyword, value string) []byte {
	data := append([]byte(keyword), 0)
	data = append(data, value...)
	return chunk("tEXt", data)
}

func buildPNG(parts ...[]byte) []byte {
	buf := append([]byte(nil), pngSignature...)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return append(buf, chunk("IEND", nil)...)
}

func TestReadPNGInfo(t *testing.T) {
	png := buildPNG(
		ihdr(512, 768),
		textChunk("prompt", `{"1":{"class_type":"KSampler","inputs":{}}}`),
		textChunk("workflow", `{"nodes":[]}`),
	)

	info, err := readPNGInfo(bytes.NewReader(png))
	require.NoError(t, err)
	assert.Equal(t, 512, info.Width)
	assert.Equal(t, 768, info.Height)
	assert.Equal(t, `{"1":{"class_type":"KSampler","inputs":{}}}`, info.TextChunks["prompt"])
	assert.Equal(t, `{"nodes":[]}`, info.TextChunks["workflow"])
}

func TestReadPNGInfoBadSignature(t *testing.T) {
	_, err := readPNGInfo(bytes.NewReader([]byte("GIF89a notapng")))
	assert.Error(t, err)
}

func TestReadPNGInfoNoTextChunks(t *testing.T) {
	info, err := readPNGInfo(bytes.NewReader(buildPNG(ihdr(64, 64))))
	require.NoError(t, err)
	assert.Equal(t, 64, info.Width)
	assert.Empty(t, info.TextChunks)
}

func TestReadPNGInfoStopsAtIEND(t *testing.T) {
	png := buildPNG(ihdr(10, 10))
	png = append(png, []byte("trailing garbage after the image stream")...)

	info, err := readPNGInfo(bytes.NewReader(png))
	require.NoError(t, err)
	assert.Equal(t, 10, info.Width)
}

func TestReadPNGInfoTruncated(t *testing.T) {
	png := buildPNG(ihdr(10, 10), textChunk("prompt", "{}"))
	_, err := readPNGInfo(bytes.NewReader(png[:len(png)-20]))
	assert.Error(t, err)
}

func TestReadPNGInfoMalformedText(t *testing.T) {
	// tEXt with no NUL separator.
	bad := chunk("tEXt", []byte("promptwithoutseparator"))
	_, err := readPNGInfo(bytes.NewReader(buildPNG(ihdr(10, 10), bad)))
	assert.Error(t, err)
}
