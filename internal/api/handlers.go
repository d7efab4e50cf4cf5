package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"facemark/internal/attendance"
	"facemark/internal/auth"
	"facemark/internal/faceclient"
)

// respondError maps domain errors to HTTP statuses.
func (h *handler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, attendance.ErrInvalidEnrollee), errors.Is(err, attendance.ErrInvalidRange):
		status = http.StatusBadRequest
	case errors.Is(err, attendance.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, attendance.ErrEnrolleeExists):
		status = http.StatusConflict
	case errors.Is(err, faceclient.ErrUnreadableImage), errors.Is(err, attendance.ErrNoFacesDetected):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, faceclient.ErrServiceUnavailable):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (h *handler) recognize(c *gin.Context) {
	fh, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}
	data, err := readFile(fh)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read image failed"})
		return
	}
	results, err := h.Recognizer.Recognize(c.Request.Context(), data)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if device := auth.DeviceID(c); device != "" {
		h.logger.Debug("recognition", "device_id", device, "faces", len(results))
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *handler) listEnrollees(c *gin.Context) {
	list, err := h.Roster.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	if list == nil {
		list = []attendance.EnrolleeSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"enrollees": list})
}

func (h *handler) getEnrollee(c *gin.Context) {
	e, err := h.Roster.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *handler) enroll(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required"})
		return
	}
	req := attendance.EnrollRequest{
		ExternalID: c.PostForm("external_id"),
		Name:       c.PostForm("name"),
		Email:      c.PostForm("email"),
	}
	for _, fh := range form.File["images"] {
		data, err := readFile(fh)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("read %s failed", fh.Filename)})
			return
		}
		req.Images = append(req.Images, attendance.Upload{Filename: fh.Filename, Data: data})
	}

	res, err := h.Roster.Enroll(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	body := gin.H{
		"enrollee":    res.Enrollee,
		"faces_added": res.FacesAdded,
		"rejected":    res.Rejected,
	}
	if res.CacheErr != nil {
		body["cache_error"] = res.CacheErr.Error()
	}
	c.JSON(http.StatusCreated, body)
}

func (h *handler) deleteEnrollee(c *gin.Context) {
	res, err := h.Roster.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	body := gin.H{"deleted": res.Enrollee.ID}
	if res.CacheErr != nil {
		body["cache_error"] = res.CacheErr.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (h *handler) rebuildCache(c *gin.Context) {
	if err := h.Index.Rebuild(c.Request.Context()); err != nil {
		h.logger.Error("manual rebuild failed", "error", err)
		snap := h.Index.Current()
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":      err.Error(),
			"generation": snap.Generation,
			"size":       snap.Len(),
		})
		return
	}
	snap := h.Index.Current()
	c.JSON(http.StatusOK, gin.H{"generation": snap.Generation, "size": snap.Len()})
}

func (h *handler) today(c *gin.Context) {
	rows, err := h.Reports.Today(c.Request.Context(), h.Clock())
	if err != nil {
		h.respondError(c, err)
		return
	}
	if rows == nil {
		rows = []attendance.Row{}
	}
	c.JSON(http.StatusOK, gin.H{"attendance": rows})
}

func (h *handler) stats(c *gin.Context) {
	st, err := h.Reports.Stats(c.Request.Context(), h.Clock())
	if err != nil {
		h.respondError(c, err)
		return
	}
	snap := h.Index.Current()
	c.JSON(http.StatusOK, gin.H{
		"stats":     st,
		"tolerance": h.Recognizer.Tolerance(),
		"index":     gin.H{"generation": snap.Generation, "size": snap.Len()},
	})
}

func (h *handler) report(c *gin.Context) {
	from, to := c.Query("start_date"), c.Query("end_date")
	entries, err := h.Reports.Range(c.Request.Context(), from, to)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if entries == nil {
		entries = []attendance.RangeEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"start_date": from, "end_date": to, "report": entries})
}

func (h *handler) exportReport(c *gin.Context) {
	from, to := c.Query("start_date"), c.Query("end_date")
	var buf bytes.Buffer
	if err := h.Reports.ExportCSV(c.Request.Context(), &buf, from, to); err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=attendance_report_%s_to_%s.csv", from, to))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (h *handler) registerDevice(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.Devices != nil {
		if err := h.Devices.UpsertDevice(c.Request.Context(), req.DeviceID); err != nil {
			h.respondError(c, err)
			return
		}
	}
	cfg := h.Config
	tok, err := auth.Issue(req.DeviceID, auth.RoleKiosk, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, time.Now())
	if err != nil {
		h.logger.Error("token issue failed", "device_id", req.DeviceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": tok.Value, "expires_at": tok.ExpiresAt.Unix()})
}
