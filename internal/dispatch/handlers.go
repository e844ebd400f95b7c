//go:build linux

package dispatch

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/edirooss/persistd/internal/procmgr"
	"github.com/edirooss/persistd/internal/protocol"
)

// killDaemon terminates the process immediately on a Kill request,
// exiting 0 without writing any response.
func killDaemon() { os.Exit(0) }

// dispatch routes one decoded request to its handler and writes the
// resulting response(s). Returns a non-nil error only when the connection
// itself must be closed (write failure); handler-level errors are
// converted to an `error` response and the connection stays open.
func (s *Server) dispatch(log *zap.Logger, codec *protocol.Codec, req *protocol.Request) error {
	switch req.Type {
	case protocol.TypeList:
		return s.handleList(codec)
	case protocol.TypeStart:
		return s.handleStart(codec, req.Start)
	case protocol.TypeStop:
		return s.handleFiltered(codec, protocol.TypeStop, req.Stop, s.reg.Stop)
	case protocol.TypeRestart:
		return s.handleRestart(codec, req.Restart)
	case protocol.TypeInfo:
		return s.handleInfo(codec, req.Info)
	case protocol.TypeDelete:
		return s.handleFiltered(codec, protocol.TypeDelete, req.Delete, s.reg.Delete)
	case protocol.TypeDump:
		return s.handleDump(codec, req.Dump)
	case protocol.TypeRestore:
		return s.handleRestore(codec, req.Restore)
	case protocol.TypeLogs:
		return s.handleLogs(log, codec, req.Logs)
	case protocol.TypePrune:
		return s.handlePrune(codec, req.Prune)
	case protocol.TypeVersion:
		return codec.WriteResponse(protocol.NewResponse(protocol.TypeVersion, protocol.VersionResponseData{
			DaemonVersion:   DaemonVersion,
			ProtocolVersion: ProtocolVersion,
		}))
	default:
		return codec.WriteResponse(protocol.NewErrorResponse(fmt.Errorf("unhandled request type %q", req.Type)))
	}
}

func (s *Server) handleList(codec *protocol.Codec) error {
	metrics := s.reg.List()
	return codec.WriteResponse(protocol.NewResponse(protocol.TypeList, metrics))
}

func (s *Server) handleStart(codec *protocol.Codec, req *protocol.StartRequest) error {
	spec := protocol.ProcessSpec{
		Name:   req.Name,
		Cmd:    req.Cmd,
		Cwd:    req.Cwd,
		Env:    req.Env,
		Status: req.Status,
	}
	if err := spec.Validate(); err != nil {
		return codec.WriteResponse(protocol.NewErrorResponse(err))
	}

	view, err := s.reg.Start(spec)
	if err != nil {
		return codec.WriteResponse(protocol.NewErrorResponse(err))
	}
	return codec.WriteResponse(protocol.NewResponse(protocol.TypeStart, view))
}

// handleFiltered runs op against every name in req.Filters (or every
// registered name when Filters is nil), reporting each outcome
// individually: batch operations report per item, never as a single
// top-level error.
func (s *Server) handleFiltered(codec *protocol.Codec, typ string, req *protocol.FilterRequest, op func(name string) error) error {
	names := resolveNames(s.reg, req)

	results := make([]protocol.ItemResult, len(names))
	for i, name := range names {
		if err := op(name); err != nil {
			results[i] = protocol.ItemResult{Name: name, Error: err.Error()}
			continue
		}
		results[i] = protocol.ItemResult{Name: name}
	}
	return codec.WriteResponse(protocol.NewResponse(typ, results))
}

func (s *Server) handleInfo(codec *protocol.Codec, req *protocol.FilterRequest) error {
	names := resolveNames(s.reg, req)

	results := make([]protocol.ItemResult, len(names))
	for i, name := range names {
		h, ok := s.reg.Get(name)
		if !ok {
			results[i] = protocol.ItemResult{Name: name, Error: procmgr.ErrProcessNotFound.Error()}
			continue
		}
		view := h.View()
		results[i] = protocol.ItemResult{Name: name, View: &view}
	}
	return codec.WriteResponse(protocol.NewResponse(protocol.TypeInfo, results))
}

func (s *Server) handleRestart(codec *protocol.Codec, req *protocol.RestartRequest) error {
	var filters *[]string
	if req != nil {
		filters = req.Filters
	}
	names := resolveNames(s.reg, &protocol.FilterRequest{Filters: filters})

	var newEnv []protocol.EnvPair
	if req != nil && req.Env != nil {
		newEnv = *req.Env
	}

	results := make([]protocol.ItemResult, len(names))
	for i, name := range names {
		view, err := s.reg.Restart(name, newEnv)
		if err != nil {
			results[i] = protocol.ItemResult{Name: name, Error: err.Error()}
			continue
		}
		results[i] = protocol.ItemResult{Name: name, View: &view}
	}
	return codec.WriteResponse(protocol.NewResponse(protocol.TypeRestart, results))
}

func (s *Server) handleDump(codec *protocol.Codec, req *protocol.FilterRequest) error {
	var filters []string
	if req != nil {
		filters = derefFilters(req.Filters)
	}
	specs := s.reg.Dump(filters)
	return codec.WriteResponse(protocol.NewResponse(protocol.TypeDump, specs))
}

func (s *Server) handleRestore(codec *protocol.Codec, req *protocol.RestoreRequest) error {
	var specs []protocol.ProcessSpec
	if req != nil {
		specs = req.Specs
	}

	outcomes := s.reg.Restore(specs)
	results := make([]protocol.ItemResult, len(outcomes))
	for i, o := range outcomes {
		if o.Err != nil {
			results[i] = protocol.ItemResult{Name: o.Name, Error: o.Err.Error()}
			continue
		}
		view := o.View
		results[i] = protocol.ItemResult{Name: o.Name, View: &view}
	}
	return codec.WriteResponse(protocol.NewResponse(protocol.TypeRestore, results))
}

func (s *Server) handlePrune(codec *protocol.Codec, req *protocol.PruneRequest) error {
	stopped := false
	if req != nil {
		stopped = req.Stopped
	}
	result, err := s.reg.Prune(stopped)
	if err != nil {
		return codec.WriteResponse(protocol.NewErrorResponse(err))
	}
	return codec.WriteResponse(protocol.NewResponse(protocol.TypePrune, result.Removed))
}

func (s *Server) handleLogs(log *zap.Logger, codec *protocol.Codec, req *protocol.LogsRequest) error {
	if req == nil {
		return codec.WriteResponse(protocol.NewErrorResponse(errors.New("logs request requires data")))
	}

	filters := derefFilters(req.Filters)
	sess := s.reg.Logs(filters, req.SourceFilter, req.Lines, req.Stream)
	defer sess.Cancel()

	if err := codec.WriteResponse(protocol.NewResponse(protocol.TypeLogs, protocol.LogsResponseData{Kind: protocol.LogsSubscribed})); err != nil {
		return err
	}

	for entry := range sess.Entries {
		e := entry
		if err := codec.WriteResponse(protocol.NewResponse(protocol.TypeLogs, protocol.LogsResponseData{
			Kind:  protocol.LogsEntryKind,
			Entry: &e,
		})); err != nil {
			return err
		}
	}

	return codec.WriteResponse(protocol.NewResponse(protocol.TypeLogs, protocol.LogsResponseData{Kind: protocol.LogsUnsubscribed}))
}

func resolveNames(reg *procmgr.Registry, req *protocol.FilterRequest) []string {
	if req == nil || req.Filters == nil {
		return reg.Names()
	}
	return *req.Filters
}

func derefFilters(p *[]string) []string {
	if p == nil {
		return nil
	}
	return *p
}

