package serializer

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
)

// ResponseToBytes converts a response to a byte slice.
// It returns the HTTP/1.1 representation of the response.
// The response body is consumed and replaced with an identical in-memory body,
// so the response can still be sent to the client afterwards.
func ResponseToBytes(res *http.Response) ([]byte, error) {
	body, err := readBody(res)
	if err != nil {
		return nil, err
	}
	// set response body back
	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))
	res.TransferEncoding = nil

	snapshot := *res
	snapshot.Body = io.NopCloser(bytes.NewReader(body))
	snapshot.Header = res.Header.Clone()
	snapshot.Trailer = nil
	snapshot.Close = false
	if snapshot.ProtoMajor == 0 {
		snapshot.ProtoMajor, snapshot.ProtoMinor = 1, 1
	}
	// write response to buffer
	buf := &bytes.Buffer{}
	if err := snapshot.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BytesToResponse converts a byte slice back to a http.Response.
// The request, if given, is attached to the response.
func BytesToResponse(b []byte, req *http.Request) (*http.Response, error) {
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), req)
}

func readBody(res *http.Response) ([]byte, error) {
	if res.Body == nil || res.Body == http.NoBody {
		return []byte{}, nil
	}
	defer res.Body.Close()
	return io.ReadAll(res.Body)
}
