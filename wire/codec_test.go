package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	body := []byte(`{"api":"ping"}`)

	require.NoError(t, WriteFrame(&buf, body))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestWriteFrameRejectsEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, nil)
	assert.ErrorIs(t, err, ErrEmptyFrame)
	assert.Zero(t, buf.Len())
}

func TestReadFrameRejectsOversizedHeader(t *testing.T) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], MaxFrameSize+1)

	_, err := ReadFrame(bytes.NewReader(hdr[:]))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrameTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], 10)
	buf.Write(hdr[:])
	buf.WriteString("short")

	_, err := ReadFrame(&buf)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := &Request{
		API:    APIConnect,
		Params: map[string]any{"sharing": "docs", "password": "secret"},
	}
	require.NoError(t, WriteRequest(&buf, req))

	got, err := ReadRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, APIConnect, got.API)

	var params ConnectParams
	require.NoError(t, got.DecodeParams(&params))
	assert.Equal(t, "docs", params.Sharing)
	assert.Equal(t, "secret", params.Password)
}

func TestReadRequestRejectsNonEnvelope(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte(`[1,2,3]`)))

	_, err := ReadRequest(&buf)
	assert.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestReadRequestRejectsMissingAPI(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte(`{"params":{}}`)))

	_, err := ReadRequest(&buf)
	assert.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestResponseRoundTripWithData(t *testing.T) {
	var buf bytes.Buffer
	resp := OKData(TransferStart{Transaction: "abc", Port: 40123})
	require.NoError(t, WriteResponse(&buf, resp))

	got, err := ReadResponse(&buf)
	require.NoError(t, err)
	require.True(t, got.Success)

	var start TransferStart
	require.NoError(t, got.DecodeData(&start))
	assert.Equal(t, "abc", start.Transaction)
	assert.Equal(t, 40123, start.Port)
}

func TestFailureResponseCarriesCode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResponse(&buf, Fail(ErrInvalidPath)))

	got, err := ReadResponse(&buf)
	require.NoError(t, err)
	assert.False(t, got.Success)
	assert.Equal(t, ErrInvalidPath, got.Error)
	assert.Equal(t, "INVALID_PATH", got.Error.String())
}

func TestDecodeParamsWeakTyping(t *testing.T) {
	req := &Request{
		API: APIPutNext,
		// JSON numbers decode as float64; size must still land in uint64.
		Params: map[string]any{"transaction": "t1", "name": "a.txt", "size": float64(12)},
	}

	var params NextParams
	require.NoError(t, req.DecodeParams(&params))
	assert.Equal(t, uint64(12), params.Size)
}

func TestDecodeParamsMissing(t *testing.T) {
	req := &Request{API: APIRcd}
	var params PathParams
	assert.ErrorIs(t, req.DecodeParams(&params), ErrMissingParams)
}
