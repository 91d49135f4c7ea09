package proto

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/go-playground/validator/v10"
)

// maxLineBytes bounds a single framed record. The largest legal payload is a
// 1000-char message, so this leaves generous headroom for escaping.
const maxLineBytes = 64 * 1024

// ErrProtocol marks unframeable or unrecognized input. The connection is
// terminated on it; there is no recovery short of reconnecting.
var ErrProtocol = errors.New("protocol error")

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func recordValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Codec frames newline-delimited JSON records over a byte stream. Reads and
// writes are independently safe for one reader plus one writer; concurrent
// writers must serialize externally (the transport funnels all writes
// through a single goroutine).
type Codec struct {
	scan *bufio.Scanner
	w    io.Writer
}

// NewCodec wraps a bidirectional stream.
func NewCodec(rw io.ReadWriter) *Codec {
	scan := bufio.NewScanner(rw)
	scan.Buffer(make([]byte, 4096), maxLineBytes)
	return &Codec{scan: scan, w: rw}
}

// Write frames one outbound record as a JSON line.
func (c *Codec) Write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	data = append(data, '\n')
	if _, err := c.w.Write(data); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// ReadAuth reads the pre-session auth record. It must be the first record on
// the wire.
func (c *Codec) ReadAuth() (AuthData, error) {
	var auth AuthData
	line, err := c.readLine()
	if err != nil {
		return auth, err
	}
	if err := json.Unmarshal(line, &auth); err != nil {
		return auth, fmt.Errorf("%w: bad auth record: %v", ErrProtocol, err)
	}
	if err := recordValidator().Struct(auth); err != nil {
		return auth, fmt.Errorf("%w: bad auth record: %v", ErrProtocol, err)
	}
	return auth, nil
}

// ReadRecord reads one post-auth inbound record and returns it as a concrete
// *Data value. Unknown types are a protocol error, not silently skipped.
func (c *Codec) ReadRecord() (Record, error) {
	line, err := c.readLine()
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &envelope); err != nil {
		return nil, fmt.Errorf("%w: bad record: %v", ErrProtocol, err)
	}

	rec, err := decodeByType(envelope.Type, line)
	if err != nil {
		return nil, err
	}
	if err := recordValidator().Struct(rec); err != nil {
		return nil, fmt.Errorf("%w: invalid %s record: %v", ErrProtocol, envelope.Type, err)
	}
	return rec, nil
}

func decodeByType(typ string, line []byte) (Record, error) {
	var rec Record
	switch typ {
	case TypeMsg:
		rec = &MsgData{}
	case TypeJoin:
		rec = &JoinData{}
	case TypeCreateRoom:
		rec = &CreateRoomData{}
	case TypeDeleteRoom:
		rec = &DeleteRoomData{}
	case TypeDM:
		rec = &DMData{}
	case TypeDMHistory:
		rec = &DMHistoryData{}
	case TypeHistory:
		rec = &HistoryData{}
	case TypeRooms:
		return &RoomsData{}, nil
	case TypeOnline:
		return &OnlineData{}, nil
	case TypePing:
		return &PingData{}, nil
	case TypeQuit:
		return &QuitData{}, nil
	case TypeWhois:
		rec = &WhoisData{}
	case TypeSetBio:
		rec = &SetBioData{}
	default:
		return nil, fmt.Errorf("%w: unknown record type %q", ErrProtocol, typ)
	}
	if err := json.Unmarshal(line, rec); err != nil {
		return nil, fmt.Errorf("%w: bad %s record: %v", ErrProtocol, typ, err)
	}
	return rec, nil
}

func (c *Codec) readLine() ([]byte, error) {
	for c.scan.Scan() {
		line := c.scan.Bytes()
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
	if err := c.scan.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, fmt.Errorf("%w: record exceeds %d bytes", ErrProtocol, maxLineBytes)
		}
		return nil, err
	}
	return nil, io.EOF
}
