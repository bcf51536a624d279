package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/overlaygate/gatewayd/internal/config"
	"github.com/overlaygate/gatewayd/internal/reconciler"
	"github.com/overlaygate/gatewayd/internal/xerrors"
)

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reconciler.Desired())
}

func (s *Server) handlePostConfig(w http.ResponseWriter, r *http.Request) {
	var desired config.DesiredState
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&desired); err != nil {
		writeError(w, xerrors.Wrap(err, xerrors.KindValidation, "malformed request body"))
		return
	}
	if err := desired.Validate(); err != nil {
		writeError(w, err)
		return
	}
	if err := s.reconciler.Apply(desired); err != nil {
		writeError(w, xerrors.Wrap(err, xerrors.KindInternal, "reconcile"))
		return
	}
	writeJSON(w, http.StatusOK, s.reconciler.Desired())
}

type portStatus struct {
	State       reconciler.State `json:"state"`
	Reason      string           `json:"reason,omitempty"`
	LastApplyID string           `json:"last_apply_id"`
}

type conflictView struct {
	Hostname    string `json:"hostname"`
	LosingPort  int    `json:"losing_port"`
	WinningPort int    `json:"winning_port"`
}

type dispatcherView struct {
	Active   int64 `json:"active"`
	Accepted int64 `json:"accepted"`
	Rejected int64 `json:"rejected"`
}

type statusResponse struct {
	Ports      map[string]portStatus `json:"ports"`
	Dispatcher dispatcherView        `json:"dispatcher"`
	Conflicts  []conflictView        `json:"conflicts"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	statuses := s.reconciler.Status()
	ports := make(map[string]portStatus, len(statuses))
	for port, st := range statuses {
		ports[strconv.Itoa(port)] = portStatus{
			State:       st.State,
			Reason:      st.Reason,
			LastApplyID: st.LastApplyID.String(),
		}
	}

	var dispatcher dispatcherView
	if s.dispatcher != nil {
		st := s.dispatcher.Stats()
		dispatcher = dispatcherView{Active: st.Active, Accepted: st.Accepted, Rejected: st.Rejected}
	}

	conflicts := make([]conflictView, 0, len(s.reconciler.Conflicts()))
	for _, c := range s.reconciler.Conflicts() {
		conflicts = append(conflicts, conflictView{Hostname: c.Hostname, LosingPort: c.LosingPort, WinningPort: c.WinningPort})
	}

	writeJSON(w, http.StatusOK, statusResponse{Ports: ports, Dispatcher: dispatcher, Conflicts: conflicts})
}

type trafficSample struct {
	Time uint64 `json:"time"`
	Rx   uint64 `json:"rx"`
	Tx   uint64 `json:"tx"`
}

type trafficSeries struct {
	Network string          `json:"network"`
	Peer    string          `json:"peer"`
	Samples []trafficSample `json:"samples"`
}

func (s *Server) handleTraffic(w http.ResponseWriter, r *http.Request) {
	since := time.Unix(0, 0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		secs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, xerrors.Wrapf(err, xerrors.KindValidation, "invalid since %q", raw))
			return
		}
		since = time.Unix(secs, 0)
	}

	series, err := s.store.Query(since)
	if err != nil {
		writeError(w, xerrors.Wrap(err, xerrors.KindInternal, "query traffic"))
		return
	}

	out := make([]trafficSeries, 0, len(series))
	for _, sr := range series {
		samples := make([]trafficSample, 0, len(sr.Points))
		for _, p := range sr.Points {
			samples = append(samples, trafficSample{Time: uint64(p.Time.Unix()), Rx: p.RxDelta, Tx: p.TxDelta})
		}
		out = append(out, trafficSeries{Network: sr.NetworkPubkey, Peer: sr.PeerPubkey, Samples: samples})
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(openAPIDoc)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch xerrors.GetKind(err) {
	case xerrors.KindValidation:
		status = http.StatusBadRequest
	case xerrors.KindUnauthorized:
		status = http.StatusUnauthorized
	case xerrors.KindNotFound:
		status = http.StatusNotFound
	case xerrors.KindConflict:
		status = http.StatusConflict
	case xerrors.KindUnavailable:
		status = http.StatusServiceUnavailable
	case xerrors.KindTimeout:
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
