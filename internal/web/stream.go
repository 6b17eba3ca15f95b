package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"
)

const mjpegBoundary = "tryonframe"

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}

// events streams the view on connect and after every change.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id, ch := s.state.Subscribe()
	defer s.state.Unsubscribe(id)

	sendSSEEvent(w, flusher, "state", viewResponse(s.state.Snapshot()))
	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.ctx.Done():
			return
		case v, ok := <-ch:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, "state", viewResponse(v))
		}
	}
}

// stream serves the output surface as multipart JPEG.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(mjpegBoundary); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	w.Header().Set("Cache-Control", "no-cache")

	ticker := time.NewTicker(time.Second / time.Duration(s.opts.StreamFPS))
	defer ticker.Stop()

	var buf bytes.Buffer
	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		img := s.controls.Snapshot()
		if img == nil || img.Rect.Empty() {
			continue
		}
		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
			s.log.Warn().Err(err).Msg("Failed to encode preview frame")
			continue
		}
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":   {"image/jpeg"},
			"Content-Length": {strconv.Itoa(buf.Len())},
		})
		if err != nil {
			return
		}
		if _, err := part.Write(buf.Bytes()); err != nil {
			return
		}
		if _, err := fmt.Fprint(w, "\r\n"); err != nil {
			return
		}
		flusher.Flush()
	}
}
