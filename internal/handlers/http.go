package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"

	"lowpansniff/internal/engine"
	"lowpansniff/internal/log"
	"lowpansniff/internal/metrics"
)

const maxUploadSize = 100 << 20 // 100 MB

// RegisterRoutes sets up all HTTP routes on the given mux.
func RegisterRoutes(mux *http.ServeMux, eng *engine.Engine, metricsPath string) {
	// WebSocket endpoint
	mux.HandleFunc("/ws", HandleWebSocket(eng))

	mux.HandleFunc("GET /api/packets", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, eng.Packets())
	})
	mux.HandleFunc("GET /api/packets/{number}", handlePacketDetail(eng))
	mux.HandleFunc("GET /api/topology", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, eng.Topology())
	})
	mux.HandleFunc("GET /api/nodes", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, eng.Nodes())
	})
	mux.HandleFunc("GET /api/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, eng.Stats())
	})

	// PCAP file upload
	mux.HandleFunc("/api/upload", handleUpload(eng))

	if metricsPath != "" {
		mux.Handle(metricsPath, metrics.Handler())
	}
}

func handlePacketDetail(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := strconv.Atoi(r.PathValue("number"))
		if err != nil {
			http.Error(w, "invalid packet number", http.StatusBadRequest)
			return
		}
		info, ok := eng.PacketDetail(n)
		if !ok {
			http.Error(w, "packet not found", http.StatusNotFound)
			return
		}
		writeJSON(w, info)
	}
}

func handleUpload(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			http.Error(w, "File too large (max 100MB)", http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "Missing file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		tmpFile, err := os.CreateTemp("", "lowpansniff-*.pcap")
		if err != nil {
			http.Error(w, "Failed to create temp file", http.StatusInternalServerError)
			return
		}
		tmpPath := tmpFile.Name()
		defer os.Remove(tmpPath)

		if _, err := io.Copy(tmpFile, file); err != nil {
			tmpFile.Close()
			http.Error(w, "Failed to save file", http.StatusInternalServerError)
			return
		}
		tmpFile.Close()

		log.GetLogger().WithField("file", header.Filename).Info("replaying uploaded capture")
		if err := eng.LoadPcap(tmpPath); err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, engine.ErrAlreadyRunning) {
				status = http.StatusConflict
			}
			http.Error(w, "Failed to read pcap: "+err.Error(), status)
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.GetLogger().WithError(err).Warn("write JSON response")
	}
}
