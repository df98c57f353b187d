// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package server implements the HTTP API of the style transfer service: image uploads start jobs, whose
// status and results can then be polled.
package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gomlx/styletransfer/internal/fsutil"
	"github.com/gomlx/styletransfer/pkg/jobs"
	"github.com/gomlx/styletransfer/pkg/styletransfer"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// JobRunner starts and tracks style transfer jobs. It is implemented by *jobs.Manager.
type JobRunner interface {
	Start(contentPath, stylePath, resultPath string) (jobs.ID, error)
	Status(id jobs.ID) (jobs.Record, error)
	Result(id jobs.ID) (string, error)
	List() ([]jobs.Record, error)
	Stats() jobs.Stats
}

var _ JobRunner = (*jobs.Manager)(nil)

const (
	UploadsDirName = "uploads"
	ResultsDirName = "results"

	// DefaultMaxUploadBytes is the default limit of the multipart upload request size.
	DefaultMaxUploadBytes = 32 << 20
)

// Server serves the HTTP API. Uploads and results are stored under a data directory.
type Server struct {
	runner                 JobRunner
	uploadsDir, resultsDir string
	maxUploadBytes         int64
}

// New returns a Server storing files under dataDir, creating the sub-directories if needed.
func New(runner JobRunner, dataDir string) (*Server, error) {
	dataDir, err := fsutil.ReplaceTildeInDir(dataDir)
	if err != nil {
		return nil, err
	}
	s := &Server{
		runner:         runner,
		uploadsDir:     filepath.Join(dataDir, UploadsDirName),
		resultsDir:     filepath.Join(dataDir, ResultsDirName),
		maxUploadBytes: DefaultMaxUploadBytes,
	}
	for _, dir := range []string{s.uploadsDir, s.resultsDir} {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "creating directory %q", dir)
		}
	}
	return s, nil
}

// WithMaxUploadBytes sets the limit of the upload request size.
func (s *Server) WithMaxUploadBytes(n int64) *Server {
	s.maxUploadBytes = n
	return s
}

// Routes returns the handler of all routes.
func (s *Server) Routes() http.Handler {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = []string{"Content-Type", "Accept", "X-Requested-With"}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery(), requestLogger(), cors.New(corsConfig))

	r.GET("/", s.IndexHandler)
	r.GET("/api/upload", s.UploadUsageHandler)
	r.POST("/api/upload", s.UploadHandler)
	r.GET("/api/jobs", s.ListHandler)
	r.GET("/api/jobs/:id", s.StatusHandler)
	r.GET("/api/jobs/:id/result", s.ResultHandler)
	r.GET("/api/uploads/:filename", s.fileHandler(s.uploadsDir))
	r.GET("/api/results/:filename", s.fileHandler(s.resultsDir))
	return r
}

// requestLogger logs requests with klog.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		klog.V(1).Infof("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func abortWithError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// IndexHandler describes the API.
func (s *Server) IndexHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Image Style Transfer API",
		"endpoints": gin.H{
			"upload":             "/api/upload",
			"list_jobs":          "/api/jobs",
			"get_job":            "/api/jobs/<id>",
			"get_job_result":     "/api/jobs/<id>/result",
			"get_uploaded_image": "/api/uploads/<filename>",
			"get_result_image":   "/api/results/<filename>",
		},
	})
}

// UploadUsageHandler tells how to use the upload endpoint.
func (s *Server) UploadUsageHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":         "This endpoint requires a POST request with content and style images",
		"required_fields": []string{"content", "style"},
	})
}

// JobResponse is the JSON representation of a job, with URLs instead of local paths.
type JobResponse struct {
	ID        jobs.ID     `json:"id"`
	Status    jobs.Status `json:"status"`
	Progress  int         `json:"progress"`
	Error     string      `json:"error,omitempty"`
	Content   string      `json:"content"`
	Style     string      `json:"style"`
	Result    string      `json:"result"`
	StatusURL string      `json:"status_url"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func newJobResponse(rec jobs.Record) JobResponse {
	return JobResponse{
		ID:        rec.ID,
		Status:    rec.Status,
		Progress:  rec.Progress,
		Error:     rec.Error,
		Content:   "/api/uploads/" + filepath.Base(rec.Content),
		Style:     "/api/uploads/" + filepath.Base(rec.Style),
		Result:    "/api/results/" + filepath.Base(rec.Result),
		StatusURL: "/api/jobs/" + string(rec.ID),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

// UploadHandler stores the "content" and "style" images of a multipart form and starts a job.
// It responds 202 with the job, 400 if a file is missing and 422 if an image can't be decoded.
func (s *Server) UploadHandler(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadBytes)
	contentFile, errContent := c.FormFile("content")
	styleFile, errStyle := c.FormFile("style")
	if errContent != nil || errStyle != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(errContent, &maxBytesErr) || errors.As(errStyle, &maxBytesErr) {
			abortWithError(c, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		abortWithError(c, http.StatusBadRequest, "Missing content or style image")
		return
	}
	if contentFile.Filename == "" || styleFile.Filename == "" {
		abortWithError(c, http.StatusBadRequest, "No selected file")
		return
	}

	contentPath := filepath.Join(s.uploadsDir, uploadName(contentFile.Filename))
	stylePath := filepath.Join(s.uploadsDir, uploadName(styleFile.Filename))
	resultPath := filepath.Join(s.resultsDir, uuid.NewString()+".jpg")
	removeUploads := func() {
		_ = os.Remove(contentPath)
		_ = os.Remove(stylePath)
	}
	if err := c.SaveUploadedFile(contentFile, contentPath); err != nil {
		klog.Errorf("saving upload: %+v", err)
		abortWithError(c, http.StatusInternalServerError, "failed to store upload")
		return
	}
	if err := c.SaveUploadedFile(styleFile, stylePath); err != nil {
		removeUploads()
		klog.Errorf("saving upload: %+v", err)
		abortWithError(c, http.StatusInternalServerError, "failed to store upload")
		return
	}

	id, err := s.runner.Start(contentPath, stylePath, resultPath)
	if err != nil {
		removeUploads()
		var decodeErr *styletransfer.DecodeError
		if errors.As(err, &decodeErr) {
			abortWithError(c, http.StatusUnprocessableEntity, decodeErr.Error())
			return
		}
		klog.Errorf("starting job: %+v", err)
		abortWithError(c, http.StatusInternalServerError, err.Error())
		return
	}
	rec, err := s.runner.Status(id)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusAccepted, newJobResponse(rec))
}

// uploadName returns a new unique file name, keeping the extension of the uploaded file.
func uploadName(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if strings.ContainsAny(ext, `/\`) {
		ext = ""
	}
	return uuid.NewString() + ext
}

// ListResponse is returned by ListHandler.
type ListResponse struct {
	jobs.Stats
	Jobs []JobResponse `json:"jobs"`
}

// ListHandler returns all jobs, and the current load of the runner.
func (s *Server) ListHandler(c *gin.Context) {
	records, err := s.runner.List()
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err.Error())
		return
	}
	responses := make([]JobResponse, 0, len(records))
	for _, rec := range records {
		responses = append(responses, newJobResponse(rec))
	}
	c.JSON(http.StatusOK, ListResponse{Stats: s.runner.Stats(), Jobs: responses})
}

// StatusHandler returns the job, or 404.
func (s *Server) StatusHandler(c *gin.Context) {
	rec, err := s.runner.Status(jobs.ID(c.Param("id")))
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			abortWithError(c, http.StatusNotFound, "job not found")
			return
		}
		abortWithError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, newJobResponse(rec))
}

// ResultHandler returns the latest result image of the job: it may be an intermediate checkpoint
// while the job is running.
func (s *Server) ResultHandler(c *gin.Context) {
	path, err := s.runner.Result(jobs.ID(c.Param("id")))
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		abortWithError(c, http.StatusNotFound, "job not found")
	case errors.Is(err, jobs.ErrResultNotReady):
		abortWithError(c, http.StatusNotFound, "result not ready")
	case err != nil:
		abortWithError(c, http.StatusInternalServerError, err.Error())
	default:
		c.Header("Cache-Control", "no-cache")
		c.File(path)
	}
}

// fileHandler serves files from dir by their base name.
func (s *Server) fileHandler(dir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("filename")
		if name != filepath.Base(name) || name == "." || name == ".." || strings.HasPrefix(name, ".") {
			abortWithError(c, http.StatusNotFound, "file not found")
			return
		}
		path := filepath.Join(dir, name)
		exists, err := fsutil.FileExists(path)
		if err != nil || !exists {
			abortWithError(c, http.StatusNotFound, "file not found")
			return
		}
		c.Header("Cache-Control", "no-cache")
		c.File(path)
	}
}
