package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dygy/midi-scribe/internal/audio"
)

const maxUploadSize = 100 * 1024 * 1024 // 100MB

var allowedExtensions = map[string]bool{
	".wav": true, ".mp3": true, ".flac": true, ".ogg": true,
	".m4a": true, ".mp4": true, ".webm": true, ".mkv": true,
}

// handleIndex serves the upload page
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, "index.html", nil)
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUpload accepts an audio file or a YouTube URL and starts a
// transcription job.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	if err := r.ParseMultipartForm(maxUploadSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		jsonError(w, "File too large. Maximum size is 100MB.", http.StatusBadRequest)
		return
	}

	// YouTube URL takes precedence over file upload
	if url := r.FormValue("url"); url != "" {
		if !audio.IsYouTubeURL(url) {
			jsonError(w, "Invalid YouTube URL. Please provide a youtube.com or youtu.be link.", http.StatusBadRequest)
			return
		}
		s.handleYouTubeURL(w, r, url)
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		jsonError(w, "Please upload an audio file or paste a YouTube URL.", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		jsonError(w, "Unsupported format. Upload WAV, MP3, FLAC, OGG, M4A or a video file.", http.StatusBadRequest)
		return
	}

	job, err := s.jobs.Create(header.Filename, "")
	if err != nil {
		jsonError(w, "Failed to create job.", http.StatusInternalServerError)
		return
	}

	inputPath := filepath.Join(job.WorkDir, "input"+ext)
	dst, err := os.Create(inputPath)
	if err != nil {
		jsonError(w, "Failed to save file.", http.StatusInternalServerError)
		return
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		jsonError(w, "Failed to save file.", http.StatusInternalServerError)
		return
	}
	job.InputPath = inputPath

	go s.jobs.Process(job)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":       job.ID,
		"filename": header.Filename,
	})
}

// handleYouTubeURL starts a job that downloads audio before transcribing
func (s *Server) handleYouTubeURL(w http.ResponseWriter, r *http.Request, url string) {
	title := "YouTube Video"
	if t := s.jobs.VideoTitle(r.Context(), url); t != "" {
		title = t
	}

	job, err := s.jobs.Create(title, url)
	if err != nil {
		jsonError(w, "Failed to create job.", http.StatusInternalServerError)
		return
	}

	go s.jobs.Process(job)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":       job.ID,
		"filename": title,
	})
}

// handleStatus returns the current job state for polling clients
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job := s.jobs.Get(chi.URLParam(r, "id"))
	if job == nil {
		jsonError(w, "Job not found.", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.View())
}

// handleDownloadMIDI serves the transcribed MIDI file
func (s *Server) handleDownloadMIDI(w http.ResponseWriter, r *http.Request) {
	job := s.jobs.Get(chi.URLParam(r, "id"))
	if job == nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	midiPath := job.MIDIPath()
	if midiPath == "" {
		http.Error(w, "MIDI file not available", http.StatusNotFound)
		return
	}
	if _, err := os.Stat(midiPath); err != nil {
		http.Error(w, "MIDI file not available", http.StatusNotFound)
		return
	}

	name := strings.TrimSuffix(job.Filename, filepath.Ext(job.Filename))
	if name == "" {
		name = "transcription"
	}

	w.Header().Set("Content-Type", "audio/midi")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".mid"))
	http.ServeFile(w, r, midiPath)
}

// handleReport serves the prediction summary for a finished job
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	job := s.jobs.Get(chi.URLParam(r, "id"))
	if job == nil {
		jsonError(w, "Job not found.", http.StatusNotFound)
		return
	}

	reportPath := job.ReportPath()
	if reportPath == "" {
		jsonError(w, "Report not available.", http.StatusNotFound)
		return
	}
	if _, err := os.Stat(reportPath); err != nil {
		jsonError(w, "Report not available.", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	http.ServeFile(w, r, reportPath)
}

// render renders a template
func (s *Server) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("template error", "template", name, "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
