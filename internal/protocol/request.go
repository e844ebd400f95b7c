package protocol

import (
	"bytes"
	"fmt"

	"github.com/edirooss/persistd/pkg/jsonx"
)

// Request type discriminators, kebab-case per the wire convention.
const (
	TypeList    = "list"
	TypeStart   = "start"
	TypeStop    = "stop"
	TypeRestart = "restart"
	TypeInfo    = "info"
	TypeDelete  = "delete"
	TypeDump    = "dump"
	TypeRestore = "restore"
	TypeLogs    = "logs"
	TypePrune   = "prune"
	TypeVersion = "version"
	TypeKill    = "kill"
)

// envelope is the outer `{ "type": ..., "data": ... }` shape every wire
// line carries, decoded strictly via jsonx.ParseJSONObject (unknown
// top-level fields rejected).
type envelope struct {
	Type string          `json:"type"`
	Data jsonx.RawOrNull `json:"data"`
}

// StartRequest is the payload of a `start` request.
type StartRequest struct {
	Name   string    `json:"name"`
	Cmd    []string  `json:"cmd"`
	Cwd    string    `json:"cwd"`
	Env    []EnvPair `json:"env"`
	Status Status    `json:"status"`
}

// FilterRequest is the payload shared by stop/delete/dump/info: an
// optional set of names, nil meaning "all".
type FilterRequest struct {
	Filters *[]string `json:"filters"`
}

// RestartRequest additionally accepts an optional fresh env to apply
// before restart.
type RestartRequest struct {
	Filters *[]string  `json:"filters"`
	Env     *[]EnvPair `json:"env"`
}

// LogsRequest is the payload of a `logs` request.
type LogsRequest struct {
	Filters      *[]string  `json:"filters"`
	SourceFilter *LogSource `json:"source_filter"`
	Stream       bool       `json:"stream"`
	Lines        int        `json:"lines"`
}

// PruneRequest is the payload of a `prune` request.
type PruneRequest struct {
	Stopped bool `json:"stopped"`
}

// RestoreRequest is the payload of a `restore` request.
type RestoreRequest struct {
	Specs []ProcessSpec `json:"specs"`
}

// Request is the decoded form of one wire line. Dispatch is flat: exactly
// one of the typed fields below is populated, selected by Type.
type Request struct {
	Type string

	Start   *StartRequest
	Stop    *FilterRequest
	Restart *RestartRequest
	Info    *FilterRequest
	Delete  *FilterRequest
	Dump    *FilterRequest
	Restore *RestoreRequest
	Logs    *LogsRequest
	Prune   *PruneRequest
	// List, Version, Kill carry no payload.
}

// DecodeRequest parses one newline-stripped wire line into a Request.
func DecodeRequest(line []byte) (*Request, error) {
	var env envelope
	if err := jsonx.ParseJSONObject(bytes.NewReader(line), &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	req := &Request{Type: env.Type}

	switch env.Type {
	case TypeList, TypeVersion, TypeKill:
		// No payload.
	case TypeStart:
		req.Start = &StartRequest{}
		if err := env.Data.Decode(req.Start); err != nil {
			return nil, fmt.Errorf("decode %q data: %w", env.Type, err)
		}
	case TypeStop:
		req.Stop = &FilterRequest{}
		if err := env.Data.Decode(req.Stop); err != nil {
			return nil, fmt.Errorf("decode %q data: %w", env.Type, err)
		}
	case TypeRestart:
		req.Restart = &RestartRequest{}
		if err := env.Data.Decode(req.Restart); err != nil {
			return nil, fmt.Errorf("decode %q data: %w", env.Type, err)
		}
	case TypeInfo:
		req.Info = &FilterRequest{}
		if err := env.Data.Decode(req.Info); err != nil {
			return nil, fmt.Errorf("decode %q data: %w", env.Type, err)
		}
	case TypeDelete:
		req.Delete = &FilterRequest{}
		if err := env.Data.Decode(req.Delete); err != nil {
			return nil, fmt.Errorf("decode %q data: %w", env.Type, err)
		}
	case TypeDump:
		req.Dump = &FilterRequest{}
		if err := env.Data.Decode(req.Dump); err != nil {
			return nil, fmt.Errorf("decode %q data: %w", env.Type, err)
		}
	case TypeRestore:
		req.Restore = &RestoreRequest{}
		if err := env.Data.Decode(req.Restore); err != nil {
			return nil, fmt.Errorf("decode %q data: %w", env.Type, err)
		}
	case TypeLogs:
		req.Logs = &LogsRequest{}
		if err := env.Data.Decode(req.Logs); err != nil {
			return nil, fmt.Errorf("decode %q data: %w", env.Type, err)
		}
	case TypePrune:
		req.Prune = &PruneRequest{}
		if err := env.Data.Decode(req.Prune); err != nil {
			return nil, fmt.Errorf("decode %q data: %w", env.Type, err)
		}
	default:
		return nil, fmt.Errorf("unknown request type %q", env.Type)
	}

	return req, nil
}
