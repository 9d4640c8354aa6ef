package handler

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aniladanir/wa-inbox/internal/ingest"
	"github.com/gin-gonic/gin"
)

const hubModeSubscribe = "subscribe"

// handshake is the subscription check WhatsApp may also send as a POST body
type handshake struct {
	Mode      string `json:"hub.mode"`
	Token     string `json:"hub.verify_token"`
	Challenge string `json:"hub.challenge"`
}

// VerifyWebhook godoc
// @Summary Webhook verification handshake
// @Description Echoes hub.challenge when hub.mode is subscribe and the verify token matches
// @Tags Webhook
// @Produce plain
// @Param hub.mode query string true "must be subscribe"
// @Param hub.verify_token query string true "configured verify token"
// @Param hub.challenge query string true "value to echo"
// @Success 200 {string} string
// @Failure 403 {string} string
// @Router /webhook [get]
func (h *Handler) verifyWebhook(c *gin.Context) {
	h.answerHandshake(c, handshake{
		Mode:      c.Query("hub.mode"),
		Token:     c.Query("hub.verify_token"),
		Challenge: c.Query("hub.challenge"),
	})
}

func (h *Handler) answerHandshake(c *gin.Context, hs handshake) {
	if hs.Mode == hubModeSubscribe && hs.Token != "" && hs.Token == h.verifyToken {
		h.requestLog(c).Info("webhook verified")
		c.String(http.StatusOK, hs.Challenge)
		return
	}
	h.requestLog(c).Warn("webhook verification failed", "mode", hs.Mode)
	c.String(http.StatusForbidden, "Forbidden")
}

// ReceiveWebhook godoc
// @Summary Receive webhook payloads
// @Description Accepts a single payload (whatsapp_webhook envelope or direct message) or an array of payloads
// @Tags Webhook
// @Accept json
// @Produce json
// @Param X-Hub-Signature-256 header string false "sha256=<hex hmac of the body>, required when an app secret is configured"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]any
// @Failure 401 {object} map[string]any
// @Failure 500 {object} map[string]any
// @Router /webhook [post]
func (h *Handler) receiveWebhook(c *gin.Context) {
	log := h.requestLog(c)

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "failed to read body"})
		return
	}

	if h.appSecret != "" && !validSignature(body, c.GetHeader(signatureHeader), h.appSecret) {
		log.Warn("rejecting webhook with invalid signature")
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "invalid signature"})
		return
	}

	body = bytes.TrimSpace(body)

	// array of events
	if len(body) > 0 && body[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(body, &batch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "malformed payload array"})
			return
		}

		processed, err := h.messenger.IngestBatch(c.Request.Context(), batch)
		if err != nil {
			log.Error("failed to process webhook batch", "error", err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
			return
		}
		log.Info("webhook batch processed", "items", len(batch), "processed", processed)
		c.JSON(http.StatusOK, gin.H{"success": true, "processed": processed})
		return
	}

	var hs handshake
	if err := json.Unmarshal(body, &hs); err == nil && hs.Mode == hubModeSubscribe && hs.Challenge != "" {
		h.answerHandshake(c, hs)
		return
	}

	// single payload
	outcome, err := h.messenger.Ingest(c.Request.Context(), body)
	if err != nil {
		log.Error("failed to process webhook payload", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}

	if outcome.Kind == ingest.OutcomeRejected || outcome.Kind == ingest.OutcomeNotFound {
		c.JSON(http.StatusOK, gin.H{"ok": true, "message": "No message created", "reason": outcome.Reason})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "message": outcome.Message.MessageID, "text": outcome.Message.Text})
}

// validSignature checks a "sha256=<hex>" header against the HMAC of body
func validSignature(body []byte, signature, appSecret string) bool {
	hexSig, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return false
	}
	sig, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}
