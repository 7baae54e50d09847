package telephony

import (
	"context"
	"errors"
	"net/http"

	"callsense/internal/ingest"
	"callsense/internal/storage"
	"callsense/pkg/logger"

	"github.com/gin-gonic/gin"
)

// RecordingCallbackPath is where <Record> posts finished recordings.
const RecordingCallbackPath = "/webhooks/twilio/recording"

// Ingester is the ingestion entry point the webhook delegates to.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error)
}

// TwilioWebhookHandler converts Twilio webhooks to internal types and delegates.
// No business logic here.
type TwilioWebhookHandler struct {
	Ingest Ingester

	Greeting string
	// RecordingCallbackURL is absolute; derived from the request host when empty.
	RecordingCallbackURL string

	// CompanyIDResolver resolves which company owns the dialed number.
	// Nil means the ingestion default applies.
	CompanyIDResolver func(c *gin.Context, toNumber string) (string, error)
}

// HandleVoice answers an inbound call with a greeting and a <Record>.
func (h TwilioWebhookHandler) HandleVoice(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseTwilioVoiceCall(c.Request)
	if err != nil {
		log.Warn("twilio voice webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	twiml, err := RenderRecordPrompt(h.Greeting, h.callbackURL(c))
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}

	log.Info("inbound call answered", "call_sid", form.CallSid, "to", form.To)
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

// HandleRecording ingests a finished recording. It answers 2xx only after the call
// record is durably stored; 503 asks Twilio to retry the callback.
func (h TwilioWebhookHandler) HandleRecording(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Ingest == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ingestion not configured"})
		return
	}

	form, err := ParseTwilioRecording(c.Request)
	if err != nil {
		log.Warn("twilio recording webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	if !form.Completed() {
		log.Info("ignoring non-completed recording", "call_sid", form.CallSid, "recording_status", form.RecordingStatus)
		c.JSON(http.StatusOK, gin.H{"ok": true, "ignored": true})
		return
	}

	companyID := ""
	if h.CompanyIDResolver != nil {
		companyID, err = h.CompanyIDResolver(c, form.To)
		if err != nil {
			log.Warn("company resolution failed", "to", form.To, "err", err)
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown destination"})
			return
		}
	}

	res, err := h.Ingest.Ingest(logger.With(c.Request.Context(), log), form.ToIngestRequest(companyID))
	if err != nil {
		status, msg := ingestErrorStatus(err)
		if status >= http.StatusInternalServerError {
			log.Error("recording ingestion failed", "call_sid", form.CallSid, "err", err)
		} else {
			log.Warn("recording rejected", "call_sid", form.CallSid, "err", err)
		}
		c.AbortWithStatusJSON(status, gin.H{"error": msg})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "id": res.Record.ID, "duplicate": res.Duplicate})
}

func ingestErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ingest.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, storage.ErrStorageConfig):
		return http.StatusInternalServerError, "storage misconfigured"
	case errors.Is(err, ingest.ErrTransientIO):
		return http.StatusServiceUnavailable, "temporarily unavailable"
	default:
		return http.StatusInternalServerError, "ingestion failed"
	}
}

func (h TwilioWebhookHandler) callbackURL(c *gin.Context) string {
	if h.RecordingCallbackURL != "" {
		return h.RecordingCallbackURL
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if p := c.GetHeader("X-Forwarded-Proto"); p == "https" || p == "http" {
		scheme = p
	}
	return scheme + "://" + c.Request.Host + RecordingCallbackPath
}
