package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forc-lang/forc-registry/internal/apierr"
	"github.com/forc-lang/forc-registry/internal/middleware"
	"github.com/forc-lang/forc-registry/internal/publish"
	"github.com/forc-lang/forc-registry/internal/safego"
)

// uploadProjectHandler streams upload_project progress as server-sent
// events. The orchestrator emits into a channel; this handler owns the
// single writer goroutine, so SSE frames never interleave. Exactly one
// terminal event closes every stream: {uploadId} or {kind, error}.
func (h *Handlers) uploadProjectHandler(c *gin.Context) {
	forcVersion := c.Query("forc_version")

	// A missing Content-Length means the body length cannot be validated
	// up front; treat it like an incomplete body.
	if c.Request.ContentLength < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"kind": string(apierr.KindTooLarge), "error": "Content-Length is required"})
		return
	}

	events := make(chan publish.Event, 16)
	emit := func(e publish.Event) {
		select {
		case events <- e:
		case <-c.Request.Context().Done():
			// Client is gone; the pipeline still runs to completion so
			// the upload row and pins stay consistent.
		}
	}

	body := c.Request.Body
	size := c.Request.ContentLength
	safego.Go(func() {
		defer close(events)

		upload, err := h.Orchestrator.UploadProject(c.Request.Context(), forcVersion, io.LimitReader(body, size+1), size, emit)
		if err != nil {
			var apiErr *apierr.Error
			if !errors.As(err, &apiErr) {
				apiErr = apierr.Database(err)
			}
			emit(publish.Event{Kind: string(apiErr.Kind), Error: apiErr.Message})
			return
		}
		emit(publish.Event{UploadID: upload.ID})
	})

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Stream(func(w io.Writer) bool {
		e, ok := <-events
		if !ok {
			return false
		}
		switch {
		case e.UploadID != "":
			c.SSEvent("ok", e)
		case e.Kind != "":
			c.SSEvent("err", e)
		default:
			c.SSEvent("progress", e)
		}
		return true
	})
}

// publishHandler turns a recorded upload into a published version.
func (h *Handlers) publishHandler(c *gin.Context) {
	var req publish.PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"kind": "InvalidRequest", "error": "uploadId is required"})
		return
	}

	ac := middleware.GetAuthContext(c)

	resp, err := h.Orchestrator.Publish(c.Request.Context(), ac.Token, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
