package protocol

// MsgType identifies the outer array's first element: the 1-byte
// message type that every frame carries.
type MsgType uint8

const (
	MsgPing MsgType = iota
	MsgPong
	MsgEnv
	MsgExec
	MsgLog
	MsgResult
	MsgGetFile
	MsgSetFile
	MsgData
	msgMax = MsgData
)

// Message is the decoded payload of one inbound frame.
type Message interface {
	isMessage()
}

// PingMsg is the zero-payload `[0]` ping request.
type PingMsg struct{}

func (PingMsg) isMessage() {}

// ExecMsg is a decoded `[3, table_id, path]` exec request. Extra
// trailing arguments (argv passing is reserved) are rejected by
// DecodeNext itself with a protocol error that reports their count, so
// ArgsN on a decoded ExecMsg is always 2.
type ExecMsg struct {
	TableID uint8
	Path    string
	ArgsN   int // number of elements after the type byte (table_id + path + ...)
}

func (ExecMsg) isMessage() {}

// GetFileMsg is a decoded `[6, path]` get_file request.
type GetFileMsg struct {
	Path string
}

func (GetFileMsg) isMessage() {}

// DecodeNext attempts to decode exactly one frame from data. It returns
// ok=false (with consumed=0) when data holds a genuine half-frame: the
// caller must retain data unchanged and retry after the next fill. Any
// byte sequence that isn't a well-formed frame in this protocol's strict
// subset panics with a *ProtocolError, which is always fatal.
func DecodeNext(data []byte) (msg Message, consumed int, ok bool) {
	cur := NewCursor(data)

	arrLen, ok := cur.ReadArrayLen()
	if !ok {
		return nil, 0, false
	}
	if arrLen < 1 {
		panic(protoErr("frame array must carry at least a message type, got length %d", arrLen))
	}

	typeVal, ok := cur.ReadUint()
	if !ok {
		return nil, 0, false
	}
	if typeVal > uint64(msgMax) {
		panic(protoErr("unknown message type %d", typeVal))
	}
	msgType := MsgType(typeVal)

	switch msgType {
	case MsgPing:
		if arrLen != 1 {
			panic(protoErr("Ping: (msg_arr_len = %d) != 1", arrLen))
		}
		return PingMsg{}, len(data) - cur.Len(), true

	case MsgExec:
		if arrLen <= 2 {
			panic(protoErr("Exec: (msg_arr_len = %d) < 3", arrLen))
		}
		tableID, ok := cur.ReadUint()
		if !ok {
			return nil, 0, false
		}
		if tableID >= 0x7f {
			panic(protoErr("Exec: (table_id = %d) >= 127", tableID))
		}
		path, ok := cur.ReadString()
		if !ok {
			return nil, 0, false
		}
		argsN := arrLen - 1
		if argsN != 2 {
			panic(protoErr("Exec: argsv not implemented (args_n = %d)", argsN))
		}
		return ExecMsg{TableID: uint8(tableID), Path: path, ArgsN: argsN}, len(data) - cur.Len(), true

	case MsgGetFile:
		if arrLen != 2 {
			panic(protoErr("Get File: (msg_arr_len = %d) != 2", arrLen))
		}
		path, ok := cur.ReadString()
		if !ok {
			return nil, 0, false
		}
		return GetFileMsg{Path: path}, len(data) - cur.Len(), true

	case MsgEnv:
		panic(protoErr("env: not implemented"))
	case MsgSetFile:
		panic(protoErr("set_file: not implemented"))
	case MsgPong:
		panic(protoErr("pong: not handled by executor"))
	case MsgLog:
		panic(protoErr("log: not handled by executor"))
	case MsgResult:
		panic(protoErr("result: not handled by executor"))
	case MsgData:
		panic(protoErr("data: not handled by executor"))
	default:
		panic(protoErr("(msg_type = %d) >= max", msgType))
	}
}

// EncodePingEcho writes the empty `[0]` ping echo.
func EncodePingEcho(buf *Buffer) {
	AppendArrayLen(buf, 1)
	AppendUint(buf, uint64(MsgPing))
}

// EncodePong writes `[1, nowNs]`.
func EncodePong(buf *Buffer, nowNs uint64) {
	AppendArrayLen(buf, 2)
	AppendUint(buf, uint64(MsgPong))
	AppendUint(buf, nowNs)
}

// EncodeExecEcho writes the exec echo frame: the same element layout as
// the inbound exec request that triggered it.
func EncodeExecEcho(buf *Buffer, tableID uint8, path string) {
	AppendArrayLen(buf, 3)
	AppendUint(buf, uint64(MsgExec))
	AppendUint(buf, uint64(tableID))
	AppendString(buf, path)
}

// EncodeLog writes `[4, table_id|nil, nowNs, text]`. tableID == nil
// encodes the nil table_id used for engine-level (not child) diagnostics.
func EncodeLog(buf *Buffer, tableID *uint8, nowNs uint64, text string) {
	AppendArrayLen(buf, 4)
	AppendUint(buf, uint64(MsgLog))
	if tableID == nil {
		AppendNil(buf)
	} else {
		AppendUint(buf, uint64(*tableID))
	}
	AppendUint(buf, nowNs)
	AppendString(buf, text)
}

// EncodeResult writes `[5, table_id, nowNs, siCode, siStatus]`.
func EncodeResult(buf *Buffer, tableID uint8, nowNs uint64, siCode, siStatus uint32) {
	AppendArrayLen(buf, 5)
	AppendUint(buf, uint64(MsgResult))
	AppendUint(buf, uint64(tableID))
	AppendUint(buf, nowNs)
	AppendUint(buf, uint64(siCode))
	AppendUint(buf, uint64(siStatus))
}

// EncodeGetFileEcho writes `[6, path]`.
func EncodeGetFileEcho(buf *Buffer, path string) {
	AppendArrayLen(buf, 2)
	AppendUint(buf, uint64(MsgGetFile))
	AppendString(buf, path)
}

// EncodeDataHeader writes `[8]`'s array header, the message type, and
// the bin header declaring a payload of length n. The raw payload bytes
// are never buffered here: the caller streams them directly to the
// outbound fd (see internal/xfer).
func EncodeDataHeader(buf *Buffer, n uint32) {
	AppendArrayLen(buf, 1)
	AppendUint(buf, uint64(MsgData))
	AppendBinHeader(buf, n)
}
