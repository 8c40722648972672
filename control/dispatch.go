package control

import (
	"context"
	"errors"
	"fmt"

	"github.com/tunnelmesh/wgagentd/agentlog"
	"github.com/tunnelmesh/wgagentd/config"
	"github.com/tunnelmesh/wgagentd/manager"
	"github.com/tunnelmesh/wgagentd/platform"
	"github.com/tunnelmesh/wgagentd/tunnel"
)

// Dispatcher translates wire requests into manager.Manager calls and
// manager/config/platform errors back into the protocol's error kinds.
type Dispatcher struct {
	mgr *manager.Manager
	log *agentlog.Logger
}

// NewDispatcher builds a Dispatcher bound to a manager.
func NewDispatcher(mgr *manager.Manager, log *agentlog.Logger) *Dispatcher {
	return &Dispatcher{mgr: mgr, log: log}
}

// Dispatch processes one decoded request and returns the reply to send.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	switch req.Action {
	case ActionConnect:
		return d.connect(ctx, req)
	case ActionDisconnect:
		return d.disconnect(ctx, req)
	case ActionStatus:
		return d.status(req)
	case ActionReload:
		return d.reload(ctx, req)
	case ActionRotateKeys:
		return errorResponse(req.ID, ErrInternalError, "rotate_keys not implemented")
	default:
		return errorResponse(req.ID, ErrParseError, fmt.Sprintf("unknown action %q", req.Action))
	}
}

func (d *Dispatcher) connect(ctx context.Context, req Request) Response {
	if req.Network == "" {
		return errorResponse(req.ID, ErrParseError, "network is required")
	}
	if err := d.mgr.Connect(ctx, req.Network); err != nil {
		return d.translate(req.ID, err)
	}
	snap, err := d.mgr.Status(req.Network)
	if err != nil {
		return d.translate(req.ID, err)
	}
	return dataResponse(req.ID, ConnectData{
		Network:   snap.Network,
		State:     snap.State.String(),
		Interface: snap.Interface,
		Peers:     snap.PeersTotal,
	})
}

func (d *Dispatcher) disconnect(ctx context.Context, req Request) Response {
	if req.Network == "" {
		return errorResponse(req.ID, ErrParseError, "network is required")
	}
	if err := d.mgr.Disconnect(ctx, req.Network); err != nil {
		return d.translate(req.ID, err)
	}
	return dataResponse(req.ID, map[string]string{
		"network": req.Network,
		"state":   tunnel.Stopped.String(),
	})
}

func (d *Dispatcher) status(req Request) Response {
	if req.Network == "" {
		return errorResponse(req.ID, ErrParseError, "network is required")
	}
	snap, err := d.mgr.Status(req.Network)
	if err != nil {
		return d.translate(req.ID, err)
	}
	return dataResponse(req.ID, StatusData{
		Network:   snap.Network,
		State:     snap.State.String(),
		Interface: snap.Interface,
		Peers: PeerSummary{
			Total:  snap.PeersTotal,
			Active: snap.PeersActive,
			Names:  snap.PeerNames,
		},
		Traffic: Traffic{TxBytes: snap.TxBytes, RxBytes: snap.RxBytes},
		Drops: Drops{
			NoPeer:         snap.DropsNoPeer,
			NoEndpoint:     snap.DropsNoEndpoint,
			TUNReadErrors:  snap.TUNReadErrors,
			RxAuthFailures: snap.RxAuthFailures,
			TxDrops:        snap.TxDrops,
		},
	})
}

func (d *Dispatcher) reload(ctx context.Context, req Request) Response {
	if req.Network == "" {
		return errorResponse(req.ID, ErrParseError, "network is required")
	}
	if req.Config == nil {
		return errorResponse(req.ID, ErrParseError, "config is required")
	}

	check := &config.Config{Networks: map[string]config.NetworkConfig{req.Network: *req.Config}}
	if err := check.Validate(); err != nil {
		return errorResponse(req.ID, ErrConfigError, err.Error())
	}

	if err := d.mgr.Reload(ctx, req.Network, *req.Config); err != nil {
		return d.translate(req.ID, err)
	}
	snap, err := d.mgr.Status(req.Network)
	if err != nil {
		return d.translate(req.ID, err)
	}
	return dataResponse(req.ID, StatusData{
		Network:   snap.Network,
		State:     snap.State.String(),
		Interface: snap.Interface,
		Peers: PeerSummary{
			Total:  snap.PeersTotal,
			Active: snap.PeersActive,
			Names:  snap.PeerNames,
		},
		Traffic: Traffic{TxBytes: snap.TxBytes, RxBytes: snap.RxBytes},
		Drops: Drops{
			NoPeer:         snap.DropsNoPeer,
			NoEndpoint:     snap.DropsNoEndpoint,
			TUNReadErrors:  snap.TUNReadErrors,
			RxAuthFailures: snap.RxAuthFailures,
			TxDrops:        snap.TxDrops,
		},
	})
}

func (d *Dispatcher) translate(id string, err error) Response {
	var invalid *manager.InvalidStateError
	switch {
	case errors.Is(err, manager.ErrNetworkNotFound):
		return errorResponse(id, ErrNetworkNotFound, err.Error())
	case errors.As(err, &invalid):
		return errorResponse(id, ErrInvalidState, err.Error())
	case errors.Is(err, config.ErrInvalid):
		return errorResponse(id, ErrConfigError, err.Error())
	case errors.Is(err, platform.ErrUnsupported):
		return errorResponse(id, ErrPlatformError, err.Error())
	default:
		d.log.Error("internal error dispatching control request", "error", err)
		return errorResponse(id, ErrInternalError, err.Error())
	}
}
