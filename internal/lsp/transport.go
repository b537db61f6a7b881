package lsp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/sjson"
)

const (
	contentLengthPrefix = "Content-Length:"
	headerSeparator     = "\r\n"
	jsonrpcVersion      = "2.0"

	// maxFrameSize caps the Content-Length accepted from a server.
	maxFrameSize = 64 << 20
)

// errInvalidUTF8 marks a frame whose body was read in full but is not UTF-8.
// The stream is still aligned on a frame boundary after it.
var errInvalidUTF8 = errors.New("body is not valid UTF-8")

// WriteMessage writes body as a single Content-Length framed message.
// If w can be flushed it is flushed before returning.
func WriteMessage(w io.Writer, body []byte) error {
	frame := make([]byte, 0, len(body)+32)
	frame = append(frame, contentLengthPrefix...)
	frame = append(frame, ' ')
	frame = strconv.AppendInt(frame, int64(len(body)), 10)
	frame = append(frame, headerSeparator...)
	frame = append(frame, headerSeparator...)
	frame = append(frame, body...)

	if _, err := w.Write(frame); err != nil {
		return errors.Wrap(err, "write frame")
	}
	if f, ok := w.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return errors.Wrap(err, "flush frame")
		}
	}
	return nil
}

// ReadMessage reads one Content-Length framed message from r.
//
// Header lines are consumed up to a line that is exactly "\r\n". The value of
// the last case-sensitive "Content-Length:" header gives the body size, and
// exactly that many bytes are read. A clean end of stream before any header
// byte returns io.EOF. Every other failure is a *FrameError; the reader is
// not resynchronized.
func ReadMessage(r *bufio.Reader) ([]byte, error) {
	length := -1
	sawHeader := false

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && !sawHeader && line == "" {
				return nil, io.EOF
			}
			return nil, &FrameError{Reason: "read header", Err: err}
		}
		sawHeader = true

		if line == headerSeparator {
			break
		}
		if !strings.HasPrefix(line, contentLengthPrefix) {
			// Content-Type and unknown headers are ignored.
			continue
		}

		value := strings.TrimSpace(line[len(contentLengthPrefix):])
		n, perr := strconv.Atoi(value)
		if perr != nil || n < 0 {
			return nil, &FrameError{
				Reason: "invalid Content-Length " + strconv.Quote(value),
				Err:    perr,
			}
		}
		if n > maxFrameSize {
			return nil, &FrameError{Reason: "Content-Length too large " + strconv.Quote(value)}
		}
		length = n
	}

	if length < 0 {
		return nil, &FrameError{Reason: "no length in header block", Err: ErrMissingContentLength}
	}

	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, r, int64(length)); err != nil {
		return nil, &FrameError{Reason: "short body", Err: err}
	}
	body := buf.Bytes()
	if !utf8.Valid(body) {
		return nil, &FrameError{Reason: "decode body", Err: errInvalidUTF8}
	}
	return body, nil
}

// encodeRequest builds a JSON-RPC request envelope with fields in wire order.
func encodeRequest(id int64, method string, params any) ([]byte, error) {
	body, err := sjson.SetBytes([]byte(`{"jsonrpc":"`+jsonrpcVersion+`"}`), "id", id)
	if err != nil {
		return nil, errors.Wrap(err, "set id")
	}
	return encodeCall(body, method, params)
}

// encodeNotification builds a JSON-RPC notification envelope.
func encodeNotification(method string, params any) ([]byte, error) {
	return encodeCall([]byte(`{"jsonrpc":"`+jsonrpcVersion+`"}`), method, params)
}

func encodeCall(body []byte, method string, params any) ([]byte, error) {
	body, err := sjson.SetBytes(body, "method", method)
	if err != nil {
		return nil, errors.Wrap(err, "set method")
	}
	if params == nil {
		return body, nil
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s params", method)
	}
	body, err = sjson.SetRawBytes(body, "params", raw)
	if err != nil {
		return nil, errors.Wrap(err, "set params")
	}
	return body, nil
}
