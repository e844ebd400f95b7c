package protocol

// Response is one wire line sent back to a client: `{"type":...,"data":...}`.
// Data is whatever payload shape the variant in Type defines; Response
// itself stays untyped (any) because a single connection interleaves
// distinct response variants through one Codec, and each handler owns
// its own response shape.
type Response struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// NewResponse builds a Response of the given variant.
func NewResponse(typ string, data any) Response {
	return Response{Type: typ, Data: data}
}

// NewErrorResponse builds the `error` variant carrying a stringified
// message: every handler converts any error into a single error response
// carrying that message.
func NewErrorResponse(err error) Response {
	return Response{Type: "error", Data: err.Error()}
}

// ItemResult is the per-item outcome shape for batch operations
// (stop/delete/restart/restore/info), which report failures per item
// inside the success response rather than as a top-level error.
// View/Metrics are mutually exclusive with Error being set; omitempty
// keeps absent fields out of the wire form so a failed item serializes as
// exactly `{"name":"nope","error":"process not found"}` with no extra keys.
type ItemResult struct {
	Name    string          `json:"name"`
	View    *ProcessView    `json:"view,omitempty"`
	Metrics *ProcessMetrics `json:"metrics,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// LogsResponseKind tags the three shapes the `logs` response stream can
// take.
type LogsResponseKind string

const (
	LogsSubscribed   LogsResponseKind = "subscribed"
	LogsEntryKind    LogsResponseKind = "entry"
	LogsUnsubscribed LogsResponseKind = "unsubscribed"
)

// LogsResponseData is the inner payload of every `logs` response line.
type LogsResponseData struct {
	Kind  LogsResponseKind `json:"kind"`
	Entry *LogEntry        `json:"entry,omitempty"`
}

// VersionResponseData is the payload of a `version` response.
type VersionResponseData struct {
	DaemonVersion   string `json:"daemon_version"`
	ProtocolVersion uint   `json:"protocol_version"`
}
