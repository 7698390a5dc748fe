package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/brunobiangulo/gotopics"
	"github.com/brunobiangulo/gotopics/source"
)

type handler struct {
	engine  gotopics.Engine
	timeout time.Duration
}

func newHandler(e gotopics.Engine) *handler {
	return &handler{engine: e, timeout: 30 * time.Minute}
}

type analyzeRequest struct {
	Records        []gotopics.Record `json:"records"`
	Seeds          []string          `json:"seeds,omitempty"`
	MinClusterSize int               `json:"min_cluster_size,omitempty"`
	Seed           *int64            `json:"seed,omitempty"`
	Save           bool              `json:"save,omitempty"`
	Source         string            `json:"source,omitempty"`
}

type analyzeResponse struct {
	*gotopics.Result
	Messages []string `json:"messages"`
	Saved    bool     `json:"saved"`
}

// POST /analyze
// Accepts a multipart CSV upload ("file", optional "seeds") or a JSON body
// with inline records.
func (h *handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req analyzeRequest
	if err := r.ParseMultipartForm(32 << 20); err == nil {
		upload, err := h.readUpload(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req = upload
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: expected multipart file or JSON with 'records'")
		return
	}

	var opts []gotopics.RunOption
	if len(req.Seeds) > 0 {
		opts = append(opts, gotopics.WithSeeds(req.Seeds))
	}
	if req.MinClusterSize > 0 {
		opts = append(opts, gotopics.WithMinClusterSize(req.MinClusterSize))
	}
	if req.Seed != nil {
		opts = append(opts, gotopics.WithSeed(*req.Seed))
	}

	res, err := h.engine.Run(ctx, req.Records, opts...)
	if err != nil {
		status := statusFor(err)
		writeError(w, status, err.Error())
		slog.Error("analyze error", "records", len(req.Records), "status", status, "error", err)
		return
	}

	resp := analyzeResponse{Result: res, Messages: res.Report.Messages()}
	if req.Save {
		if err := h.engine.Save(ctx, res, req.Source); err != nil {
			slog.Warn("saving run failed", "run_id", res.RunID, "error", err)
		} else {
			resp.Saved = true
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// readUpload stores the uploaded CSV files under a temp directory and loads
// records and seeds from them.
func (h *handler) readUpload(r *http.Request) (analyzeRequest, error) {
	var req analyzeRequest

	dir, err := os.MkdirTemp("", "gotopics-upload-")
	if err != nil {
		return req, fmt.Errorf("failed to process upload")
	}
	defer os.RemoveAll(dir)

	path, name, err := saveFormFile(r, "file", dir)
	if err != nil {
		return req, err
	}
	if path == "" {
		return req, fmt.Errorf("file is required")
	}
	req.Source = name

	req.Records, err = source.LoadRecords(path, source.Options{
		Column:   r.FormValue("column"),
		IDColumn: r.FormValue("id_column"),
	})
	if err != nil {
		return req, err
	}

	seedPath, _, err := saveFormFile(r, "seeds", dir)
	if err != nil {
		return req, err
	}
	if seedPath != "" {
		if req.Seeds, err = source.LoadSeeds(seedPath, r.FormValue("seed_column")); err != nil {
			return req, err
		}
	}

	if v := r.FormValue("min_cluster_size"); v != "" {
		if req.MinClusterSize, err = strconv.Atoi(v); err != nil {
			return req, fmt.Errorf("invalid min_cluster_size")
		}
	}
	if v := r.FormValue("seed"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return req, fmt.Errorf("invalid seed")
		}
		req.Seed = &seed
	}
	req.Save, _ = strconv.ParseBool(r.FormValue("save"))
	return req, nil
}

// saveFormFile copies one uploaded file into dir. It returns an empty path
// when the field is absent.
func saveFormFile(r *http.Request, field, dir string) (string, string, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("reading %s: %v", field, err)
	}
	defer file.Close()

	// Sanitise filename to prevent path traversal.
	safeName := filepath.Base(header.Filename)
	path := filepath.Join(dir, field+"-"+safeName)
	dst, err := os.Create(path)
	if err != nil {
		slog.Error("creating temp file", "error", err)
		return "", "", fmt.Errorf("failed to process file")
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		slog.Error("saving uploaded file", "error", err)
		return "", "", fmt.Errorf("failed to save file")
	}
	return path, safeName, nil
}

// GET /runs
func (h *handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	runs, err := h.engine.Runs(r.Context(), limit)
	if err != nil {
		writeError(w, statusFor(err), "failed to list runs")
		slog.Error("list runs error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs": runs,
	})
}

// GET /runs/{id}
func (h *handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := h.engine.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// DELETE /runs/{id}
func (h *handler) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.DeleteRun(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err.Error())
		if !errors.Is(err, gotopics.ErrRunNotFound) {
			slog.Error("delete error", "run_id", id, "error", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, gotopics.ErrInput),
		errors.Is(err, gotopics.ErrInvalidConfig),
		errors.Is(err, source.ErrInvalidFile):
		return http.StatusBadRequest
	case errors.Is(err, gotopics.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, gotopics.ErrStoreDisabled):
		return http.StatusNotImplemented
	case errors.Is(err, gotopics.ErrModelUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, gotopics.ErrCanceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
