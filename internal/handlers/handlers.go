package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AnuphutTuekham/SOS-BOX/internal/model"
	"github.com/AnuphutTuekham/SOS-BOX/internal/service"
)

// HealthHandler reports liveness.
func HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "service": "sosbox-tracker"})
	}
}

// BoxesHandler returns every box.
func BoxesHandler(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		boxes, err := svc.Boxes(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if boxes == nil {
			boxes = []model.Box{}
		}
		c.JSON(http.StatusOK, boxes)
	}
}

// UpsertHandler merges a Box, an array of Box, or {boxes:[...]}.
func UpsertHandler(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, ok := readJSON(c)
		if !ok {
			return
		}
		res, err := svc.UpsertBoxes(c.Request.Context(), payload)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "upserted": res.Upserted, "total": res.Total})
	}
}

// DeleteAllHandler clears the collection.
func DeleteAllHandler(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.ClearBoxes(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// DeleteOneHandler removes a single box; a missing id is not an error.
func DeleteOneHandler(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		deleted, err := svc.DeleteBox(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "deleted": deleted})
	}
}

// TraccarHandler ingests telemetry: JSON, urlencoded form, multipart, or
// query parameters on GET.
func TraccarHandler(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, ok := readTelemetry(c)
		if !ok {
			return
		}
		ingest(c, svc, payload)
	}
}

// RootIngestHandler is the device-direct variant mounted at POST /.
func RootIngestHandler(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, ok := readTelemetry(c)
		if !ok {
			return
		}
		ingest(c, svc, payload)
	}
}

func ingest(c *gin.Context, svc *service.Service, payload any) {
	n, err := svc.IngestPositions(c.Request.Context(), payload)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "upserted": n})
}

// WifiCountGetHandler reads the auxiliary wifi counter of a box.
func WifiCountGetHandler(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		count, err := svc.WifiCount(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"wifi_count": count})
	}
}

// WifiCountSetHandler writes the wifi counter; the body may use
// wifi_count, wifiCount, or count.
func WifiCountSetHandler(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, ok := readJSON(c)
		if !ok {
			return
		}
		var val float64
		if m, ok := payload.(map[string]any); ok {
			for _, k := range []string{"wifi_count", "wifiCount", "count"} {
				if n, isNum := m[k].(float64); isNum {
					val = n
					break
				}
			}
		}
		count, err := svc.SetWifiCount(c.Request.Context(), c.Param("id"), int(val))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "wifi_count": count})
	}
}

// readJSON decodes the capped request body; on failure it writes the 400
// itself and reports !ok.
func readJSON(c *gin.Context) (any, bool) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bodyErr(err)})
		return nil, false
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty body"})
		return nil, false
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return nil, false
	}
	return payload, true
}

// readTelemetry decodes a telemetry payload by content type; GET requests
// carry it in the query string. Unknown content types fall back to JSON.
func readTelemetry(c *gin.Context) (any, bool) {
	if c.Request.Method == http.MethodGet {
		return valuesToMap(c.Request.URL.Query()), true
	}

	contentType := c.ContentType()
	switch {
	case strings.Contains(contentType, "application/x-www-form-urlencoded"):
		if err := c.Request.ParseForm(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": bodyErr(err)})
			return nil, false
		}
		return valuesToMap(c.Request.PostForm), true
	case strings.Contains(contentType, "multipart/form-data"):
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": bodyErr(err)})
			return nil, false
		}
		return valuesToMap(form.Value), true
	default:
		return readJSON(c)
	}
}

func valuesToMap(values map[string][]string) map[string]any {
	m := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) > 0 {
			m[k] = v[0]
		}
	}
	return m
}

func fail(c *gin.Context, err error) {
	if errors.Is(err, service.ErrNoValidBoxes) || errors.Is(err, service.ErrNoValidPositions) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func bodyErr(err error) string {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return "body too large"
	}
	return err.Error()
}
