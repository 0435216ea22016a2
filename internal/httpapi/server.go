package httpapi

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
	"sort"
	"strings"

	"github.com/clipsmith/clipsmith/internal/events"
	"github.com/clipsmith/clipsmith/internal/jobs"
	"github.com/clipsmith/clipsmith/internal/pipeline"
	"github.com/clipsmith/clipsmith/internal/types"
)

// Server is the thin request layer over the job manager, broadcaster, and
// render pipeline.
type Server struct {
	jobs        *jobs.Manager
	broadcaster *events.Broadcaster
	runner      *pipeline.Runner
	exportsDir  string
	logger      *slog.Logger
}

func NewServer(jm *jobs.Manager, b *events.Broadcaster, runner *pipeline.Runner, exportsDir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{jobs: jm, broadcaster: b, runner: runner, exportsDir: exportsDir, logger: logger}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /projects/{id}/render", s.handleStartRender)
	mux.HandleFunc("GET /projects/{id}/jobs", s.handleProjectJobs)
	mux.HandleFunc("GET /projects/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /projects/{id}/exports", s.handleExports)
	mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /jobs/{id}/cancel", s.handleCancelJob)
	return mux
}

type renderRequest struct {
	SourcePath string           `json:"source_path"`
	ShotList   types.ShotList   `json:"shot_list"`
	Transcript types.Transcript `json:"transcript"`
}

// handleStartRender submits a render job and returns immediately with its id.
// Progress flows to the job record and to the project's event stream; the
// final outcome is published as render.complete or render.error.
func (s *Server) handleStartRender(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")

	var req renderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.SourcePath) == "" {
		writeError(w, http.StatusBadRequest, "source_path is required")
		return
	}
	if len(req.ShotList.Scenes) == 0 {
		writeError(w, http.StatusBadRequest, "shot list has no scenes")
		return
	}

	jobID := s.jobs.Submit(projectID, "render", func(ctx context.Context, jobID string) (any, error) {
		report := func(stage string, progress float64, message string) {
			s.broadcaster.Publish(projectID, events.Progress("render.progress", stage, progress, message))
			s.jobs.UpdateProgress(jobID, progress, message)
		}

		clips, err := s.runner.RenderClips(ctx, pipeline.Request{
			ProjectID:  projectID,
			SourcePath: req.SourcePath,
			ShotList:   req.ShotList,
			Transcript: req.Transcript,
			Report:     report,
		})
		if err != nil {
			if ctx.Err() == nil {
				s.broadcaster.Publish(projectID, events.Failed("render.error", err.Error()))
			}
			return nil, err
		}

		s.broadcaster.Publish(projectID, events.Completed("render.complete",
			map[string]any{"clips": clips},
			fmt.Sprintf("Rendered %d clips", len(clips))))
		return clips, nil
	})

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id":     jobID,
		"project_id": projectID,
		"status":     "started",
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetJob(r.PathValue("id"))
	if errors.Is(err, jobs.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.jobs.GetJob(id); errors.Is(err, jobs.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	cancelled := s.jobs.Cancel(id)
	writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "cancelled": cancelled})
}

func (s *Server) handleProjectJobs(w http.ResponseWriter, r *http.Request) {
	list := s.jobs.GetJobsForProject(r.PathValue("id"))
	if list == nil {
		list = []jobs.Job{}
	}
	writeJSON(w, http.StatusOK, list)
}

// handleEvents streams the project's live events as server-sent events, one
// event per publish, until the client disconnects or the project is closed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	projectID := r.PathValue("id")

	sub := s.broadcaster.Subscribe(projectID)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, open := <-sub.C:
			if !open {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				s.logger.Error("marshal event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
			flusher.Flush()
		}
	}
}

type exportEntry struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}

func (s *Server) handleExports(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	dir := filepath.Join(s.exportsDir, projectID)

	entries, err := os.ReadDir(dir)
	if err != nil {
		writeJSON(w, http.StatusOK, []exportEntry{})
		return
	}

	out := make([]exportEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".mp4") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, exportEntry{
			Filename: e.Name(),
			Size:     info.Size(),
			URL:      fmt.Sprintf("/exports/%s/%s", projectID, e.Name()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
