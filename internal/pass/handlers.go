package pass

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/zombor/visitor-pass/internal/capture"
	"github.com/zombor/visitor-pass/internal/compose"
)

// multipartOverhead leaves room for the name field and part headers on top
// of the photo itself.
const multipartOverhead = 1 << 20

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition, X-Pass-ID")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSONError writes {"error": message} with CORS headers set
func writeJSONError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// writeError maps capture and compose failures to a status and a message
// fit to show the user.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, capture.ErrUploadTooLarge):
		msg := fmt.Sprintf("Image size should be less than %dMB", s.capture.MaxUploadBytes>>20)
		writeJSONError(w, msg, http.StatusRequestEntityTooLarge)
	case errors.Is(err, capture.ErrNameRequired):
		writeJSONError(w, "Please enter your name", http.StatusBadRequest)
	case errors.Is(err, capture.ErrPhotoRequired):
		writeJSONError(w, "Please add a photo before submitting", http.StatusBadRequest)
	case errors.Is(err, capture.ErrUnsupportedMedia):
		writeJSONError(w, "Please upload an image file", http.StatusBadRequest)
	case errors.Is(err, compose.ErrPhotoLoad):
		writeJSONError(w, "Failed to load user photo", http.StatusUnprocessableEntity)
	case errors.Is(err, compose.ErrTemplateLoad):
		writeJSONError(w, "Failed to load template", http.StatusInternalServerError)
	default:
		writeJSONError(w, "Failed to download image", http.StatusInternalServerError)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleCreatePass renders a pass from a multipart upload (name + photo) or
// a JSON body carrying the photo as a data URI, and returns it as a download.
func (s *Server) handleCreatePass(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes())

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var (
		rec capture.RegistrationRecord
		err error
	)
	if mediaType == "application/json" {
		rec, err = s.recordFromJSON(r)
	} else {
		rec, err = s.recordFromForm(r)
	}
	if err != nil {
		slog.Error("Error reading registration", "error", err)
		s.writeError(w, err)
		return
	}

	download, p, err := s.service.Generate(rec)
	if err != nil {
		slog.Error("Error generating pass", "error", err)
		s.writeError(w, err)
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", download.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(download.Data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": download.Filename,
	}))
	w.Header().Set("X-Pass-ID", p.ID)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(download.Data); err != nil {
		slog.Error("Error writing download", "filename", download.Filename, "error", err)
	}
}

func (s *Server) maxBodyBytes() int64 {
	// base64 grows the photo by 4/3 in the JSON variant.
	return s.capture.MaxUploadBytes*4/3 + multipartOverhead
}

func (s *Server) recordFromJSON(r *http.Request) (capture.RegistrationRecord, error) {
	var req struct {
		Name  string `json:"name"`
		Photo string `json:"photo"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return capture.RegistrationRecord{}, capture.ErrUploadTooLarge
		}
		return capture.RegistrationRecord{}, fmt.Errorf("%w: invalid request body: %v", capture.ErrUnsupportedMedia, err)
	}
	if req.Photo == "" {
		return capture.RegistrationRecord{}, capture.ErrPhotoRequired
	}
	photo, err := capture.ParseDataURI(req.Photo, s.capture.MaxUploadBytes)
	if err != nil {
		return capture.RegistrationRecord{}, err
	}
	return capture.NewRegistrationRecord(req.Name, photo)
}

// recordFromForm drives an upload-only capture controller with the form's
// name and photo fields.
func (s *Server) recordFromForm(r *http.Request) (capture.RegistrationRecord, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return capture.RegistrationRecord{}, capture.ErrUploadTooLarge
		}
		return capture.RegistrationRecord{}, fmt.Errorf("%w: parsing form: %v", capture.ErrPhotoRequired, err)
	}

	ctrl := capture.NewController(nil, nil, s.capture)
	defer ctrl.Close()
	ctrl.SetName(r.FormValue("name"))

	_, header, err := r.FormFile("photo")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return ctrl.Submit()
		}
		return capture.RegistrationRecord{}, fmt.Errorf("%w: %v", capture.ErrPhotoRequired, err)
	}
	if _, err := ctrl.Upload(r.Context(), uploadedFile{header}); err != nil {
		return capture.RegistrationRecord{}, err
	}
	return ctrl.Submit()
}

// uploadedFile adapts a multipart file header to capture.File.
type uploadedFile struct {
	header *multipart.FileHeader
}

func (f uploadedFile) Size() int64 { return f.header.Size }

func (f uploadedFile) ContentType() string {
	// Browsers and CreateFormFile send octet-stream when they don't know.
	if ct := f.header.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	return mime.TypeByExtension(filepath.Ext(f.header.Filename))
}

func (f uploadedFile) Open() (io.ReadCloser, error) {
	return f.header.Open()
}

// handleListPasses returns the export ledger
func (s *Server) handleListPasses(w http.ResponseWriter, r *http.Request) {
	passes, err := s.service.ListPasses()
	if err != nil {
		slog.Error("Error listing passes", "error", err)
		writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(passes); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleGetPass returns a single ledger entry
func (s *Server) handleGetPass(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := s.service.GetPass(id)
	if err != nil {
		if errors.Is(err, ErrPassNotFound) {
			writeJSONError(w, "Pass not found", http.StatusNotFound)
			return
		}
		slog.Error("Error getting pass", "id", id, "error", err)
		writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}
