package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/twbeatles/intranet-messenger/internal/cryptoutil"
	"github.com/twbeatles/intranet-messenger/internal/httputil"
	"github.com/twbeatles/intranet-messenger/internal/room"
	"github.com/twbeatles/intranet-messenger/internal/roomfile"
	"github.com/twbeatles/intranet-messenger/internal/session"
	"github.com/twbeatles/intranet-messenger/internal/statestore"
	"github.com/twbeatles/intranet-messenger/internal/upload"
)

// UploadHandler serves the multipart intake pipeline, its job-polling companion, and the gated static file route.
type UploadHandler struct {
	rooms       room.Repository
	roomfiles   roomfile.Repository
	jobs        upload.JobRepository
	store       *statestore.Store
	uploadsRoot string
	avEnabled   bool
	maxBytes    int64
	log         zerolog.Logger
}

// NewUploadHandler creates a new upload handler. uploadsRoot is the base directory uploads are written under;
// quarantine and final uploads both live inside it, per the filesystem layout's fixed subdirectories.
func NewUploadHandler(rooms room.Repository, roomfiles roomfile.Repository, jobs upload.JobRepository, store *statestore.Store, uploadsRoot string, avEnabled bool, maxBytes int64, logger zerolog.Logger) *UploadHandler {
	return &UploadHandler{rooms: rooms, roomfiles: roomfiles, jobs: jobs, store: store, uploadsRoot: uploadsRoot, avEnabled: avEnabled, maxBytes: maxBytes, log: logger}
}

func (h *UploadHandler) quarantineDir() string { return filepath.Join(h.uploadsRoot, "quarantine") }

// Upload handles POST /api/upload. room_id is read from the multipart form, so the body is parsed first; membership
// in that room is then checked before the uploaded file is opened or written under the uploads root.
func (h *UploadHandler) Upload(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)

	roomID, err := uuid.Parse(c.FormValue("room_id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeInvalidJSON, "Invalid or missing room_id")
	}
	if isMember, err := h.rooms.IsMember(c.Context(), roomID, userID); err != nil {
		return mapDomainError(c, err)
	} else if !isMember {
		return httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, "You do not have access to this resource")
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return mapDomainError(c, upload.ErrNoFile)
	}
	if fh.Size > h.maxBytes {
		return mapDomainError(c, upload.ErrFileTooLarge)
	}

	src, err := fh.Open()
	if err != nil {
		h.log.Error().Err(err).Msg("failed to open uploaded file")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
	defer func() { _ = src.Close() }()

	head := make([]byte, 512)
	n, _ := io.ReadFull(src, head)
	head = head[:n]
	if seeker, ok := src.(io.Seeker); ok {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			h.log.Error().Err(err).Msg("failed to seek uploaded file")
			return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
		}
	}

	if !cryptoutil.MatchesExtension(head, fh.Filename) {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeValidation, "File content does not match its extension")
	}

	fileType := upload.ClassifyExtension(fh.Filename)
	storedName, err := upload.StoredName(time.Now(), fh.Filename)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to generate stored filename")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}

	if h.avEnabled {
		return h.uploadToQuarantine(c, fh, storedName, fileType, userID, roomID)
	}
	return h.uploadToFinal(c, fh, storedName, fileType, userID, roomID)
}

func (h *UploadHandler) uploadToFinal(c fiber.Ctx, fh *multipart.FileHeader, storedName string, fileType upload.Kind, userID, roomID uuid.UUID) error {
	finalPath := filepath.Join(h.uploadsRoot, storedName)
	if err := saveFormFile(fh, finalPath); err != nil {
		h.log.Error().Err(err).Msg("failed to write uploaded file")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}

	token, err := upload.Mint(c.Context(), h.store, upload.Token{
		UserID:   userID,
		RoomID:   roomID,
		FilePath: finalPath,
		FileName: fh.Filename,
		FileType: fileType,
		FileSize: fh.Size,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("failed to mint upload token")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, fiber.Map{
		"scan_status":  "clean",
		"upload_token": token,
		"file_path":    finalPath,
		"file_name":    fh.Filename,
	})
}

func (h *UploadHandler) uploadToQuarantine(c fiber.Ctx, fh *multipart.FileHeader, storedName string, fileType upload.Kind, userID, roomID uuid.UUID) error {
	quarantinePath := filepath.Join(h.quarantineDir(), storedName)
	if err := saveFormFile(fh, quarantinePath); err != nil {
		h.log.Error().Err(err).Msg("failed to write quarantined file")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}

	job, err := h.jobs.CreateJob(c.Context(), upload.CreateJobParams{
		UserID:   userID,
		RoomID:   roomID,
		TempPath: quarantinePath,
		FileName: fh.Filename,
		FileType: fileType,
		FileSize: fh.Size,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("failed to enqueue scan job")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}

	return httputil.SuccessStatus(c, fiber.StatusAccepted, fiber.Map{
		"scan_status": "pending",
		"job_id":      job.ID,
	})
}

func saveFormFile(fh *multipart.FileHeader, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open uploaded file: %w", err)
	}
	defer func() { _ = src.Close() }()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create destination file: %w", err)
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, src); err != nil {
		return fmt.Errorf("copy uploaded file: %w", err)
	}
	return nil
}

// JobStatus handles GET /api/upload/jobs/<job_id>. A job belongs to the user who created it; anyone else gets 404
// rather than 403, so polling does not leak which job ids exist.
func (h *UploadHandler) JobStatus(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)
	jobID, ok := parseUUIDParam(c, "job_id")
	if !ok {
		return nil
	}

	job, err := h.jobs.GetJob(c.Context(), jobID)
	if err != nil {
		return mapDomainError(c, err)
	}
	if job.UserID != userID {
		return mapDomainError(c, upload.ErrJobNotFound)
	}

	response := fiber.Map{"job_id": job.ID, "status": job.Status}
	switch job.Status {
	case upload.JobClean:
		response["token"] = job.Token
		response["file_path"] = job.FinalPath
	case upload.JobInfected, upload.JobError:
		response["result"] = job.Result
	}
	return httputil.Success(c, response)
}

// ServeFile handles GET /uploads/<path>. Profile images (served from uploads/profiles/) are readable by any
// authenticated user; every other path is a room attachment and requires the caller to be a member of the room the
// roomfile catalog says it belongs to. In all cases the resolved path must stay inside the uploads root.
func (h *UploadHandler) ServeFile(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)
	rel := c.Params("*")

	absRoot, err := filepath.Abs(h.uploadsRoot)
	if err != nil {
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
	absPath, err := filepath.Abs(filepath.Join(h.uploadsRoot, rel))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeInvalidJSON, "Invalid path")
	}
	relCheck, err := filepath.Rel(absRoot, absPath)
	if err != nil || relCheck == ".." || strings.HasPrefix(relCheck, ".."+string(filepath.Separator)) {
		return httputil.Fail(c, fiber.StatusNotFound, httputil.CodeNotFound, "File not found")
	}

	if strings.HasPrefix(filepath.ToSlash(relCheck), "profiles/") {
		return c.SendFile(absPath)
	}

	// The catalog stores paths in the filepath.Join(uploadsRoot, name) form they were written with, not resolved absolutes.
	rf, err := h.roomfiles.GetByPath(c.Context(), filepath.Join(h.uploadsRoot, rel))
	if err != nil {
		return mapDomainError(c, err)
	}
	if isMember, err := h.rooms.IsMember(c.Context(), rf.RoomID, userID); err != nil {
		return mapDomainError(c, err)
	} else if !isMember {
		return httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, "You do not have access to this resource")
	}
	return c.SendFile(absPath)
}
