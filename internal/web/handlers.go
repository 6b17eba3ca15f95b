package web

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/andresmejia3/tryon/internal/shade"
	"github.com/andresmejia3/tryon/internal/snapshot"
	"github.com/andresmejia3/tryon/internal/state"
)

//go:embed static/index.html
var indexHTML []byte

const maxBody = 1 << 16

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// stateResponse is the view plus the derived status line.
type stateResponse struct {
	state.View
	Status string `json:"status"`
	Notice string `json:"notice,omitempty"`
}

func viewResponse(v state.View) stateResponse {
	res := stateResponse{View: v, Status: v.Status()}
	if v.Degraded {
		res.Notice = state.DegradedNotice
	}
	return res
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, viewResponse(s.state.Snapshot()))
}

func (s *Server) listShades(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.catalog.All())
}

type addShadeRequest struct {
	Name     string `json:"name"`
	ColorHex string `json:"colorHex"`
}

func (s *Server) addShade(w http.ResponseWriter, r *http.Request) {
	var req addShadeRequest
	if !decode(w, r, &req) {
		return
	}
	sh, err := s.catalog.AddCustom(r.Context(), req.Name, req.ColorHex)
	switch {
	case errors.Is(err, shade.ErrInvalidColor), errors.Is(err, shade.ErrEmptyName):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.log.Error().Err(err).Msg("Failed to add custom shade")
		respondError(w, http.StatusInternalServerError, "failed to save shade")
		return
	}
	respondJSON(w, http.StatusCreated, sh)
}

type selectShadeRequest struct {
	ID string `json:"id"`
}

func (s *Server) selectShade(w http.ResponseWriter, r *http.Request) {
	var req selectShadeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		s.state.SetSelectedShade(nil)
	} else {
		sh, ok := s.catalog.Get(req.ID)
		if !ok {
			respondError(w, http.StatusNotFound, "shade not found")
			return
		}
		s.state.SetSelectedShade(&sh)
	}
	respondJSON(w, http.StatusOK, viewResponse(s.state.Snapshot()))
}

// retry and interaction may wait on the camera, so they run detached from
// the request and the client follows progress through /api/events.
func (s *Server) retry(w http.ResponseWriter, r *http.Request) {
	go func() {
		if err := s.controls.Retry(s.ctx); err != nil {
			s.log.Debug().Err(err).Msg("Camera retry failed")
		}
	}()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) interaction(w http.ResponseWriter, r *http.Request) {
	go func() {
		if err := s.controls.NotifyInteraction(s.ctx); err != nil {
			s.log.Debug().Err(err).Msg("Interaction did not start the camera")
		}
	}()
	w.WriteHeader(http.StatusAccepted)
}

type visibilityRequest struct {
	Visible bool `json:"visible"`
}

func (s *Server) visibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if !decode(w, r, &req) {
		return
	}
	s.controls.SetVisible(req.Visible)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) downloadSnapshot(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := snapshot.Encode(&buf, s.controls.Snapshot()); err != nil {
		if errors.Is(err, snapshot.ErrEmpty) {
			respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to encode snapshot")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", `attachment; filename="`+s.opts.Filename+`"`)
	w.Write(buf.Bytes())
}

func (s *Server) saveSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		respondError(w, http.StatusNotImplemented, "snapshot saving is disabled")
		return
	}
	var shadeID string
	if sh := s.state.Snapshot().SelectedShade; sh != nil {
		shadeID = sh.ID
	}
	rec, err := s.exporter.Save(r.Context(), s.controls.Snapshot(), shadeID)
	if errors.Is(err, snapshot.ErrEmpty) {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to save snapshot")
		respondError(w, http.StatusInternalServerError, "failed to save snapshot")
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}
