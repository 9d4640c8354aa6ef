package ingest

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aniladanir/wa-inbox/internal/domain"
	"github.com/araddon/dateparse"
)

// Kind tells which record a payload turned out to carry.
type Kind int

const (
	KindInvalid Kind = iota
	KindMessage
	KindStatus
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindStatus:
		return "status"
	default:
		return "invalid"
	}
}

// Normalized is the canonical form of any accepted payload shape. Zero values mean the
// payload did not carry the field.
type Normalized struct {
	Kind      Kind
	MessageID string
	WaID      string
	Name      string
	Number    string
	Direction domain.Direction
	Text      string
	Timestamp time.Time
	Status    domain.Status
	Raw       []byte
	Reason    string
}

type variant int

const (
	variantUnknown variant = iota
	variantWebhook
	variantDirect
)

type Normalizer struct {
	logger *slog.Logger
}

func NewNormalizer(logger *slog.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize classifies raw and extracts the canonical fields. It never fails: problems
// inside a payload are logged and leave the affected fields empty.
func (n *Normalizer) Normalize(raw []byte) Normalized {
	v, env := classify(raw)
	switch v {
	case variantWebhook:
		return n.fromWebhook(env.MetaData, raw)
	case variantDirect:
		return n.NormalizeDirect(n.decodeDirect(raw), raw)
	default:
		return Normalized{Kind: KindInvalid, Raw: raw, Reason: "payload is not a json object"}
	}
}

func classify(raw []byte) (variant, envelope) {
	var env envelope
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return variantUnknown, env
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		// payload_type of an unexpected type still makes it an object
		var probe map[string]json.RawMessage
		if json.Unmarshal(trimmed, &probe) != nil {
			return variantUnknown, env
		}
		return variantDirect, envelope{}
	}
	if env.PayloadType == payloadTypeWebhook {
		return variantWebhook, env
	}
	return variantDirect, env
}

// decodeDirect reads each field on its own so a field of an unexpected type only loses
// that field
func (n *Normalizer) decodeDirect(raw []byte) DirectPayload {
	var p DirectPayload
	var fields map[string]json.RawMessage
	if !n.decodeSection("payload", raw, &fields) {
		return p
	}

	for name, dst := range map[string]any{
		"text":      &p.Text,
		"wa_id":     &p.WaID,
		"name":      &p.Name,
		"number":    &p.Number,
		"timestamp": &p.Timestamp,
		"status":    &p.Status,
		"id":        &p.ID,
		"direction": &p.Direction,
	} {
		n.decodeSection(name, fields[name], dst)
	}
	return p
}

// NormalizeDirect maps the flat payload onto the canonical fields, applying defaults for
// direction and status.
func (n *Normalizer) NormalizeDirect(p DirectPayload, raw []byte) Normalized {
	out := Normalized{
		Kind:      KindMessage,
		MessageID: p.ID.String(),
		WaID:      p.WaID.String(),
		Name:      p.Name,
		Number:    p.Number.String(),
		Text:      p.Text,
		Direction: domain.DirectionInbound,
		Status:    domain.StatusSent,
		Raw:       raw,
	}

	if p.Direction != "" {
		if d, ok := domain.ParseDirection(p.Direction); ok {
			out.Direction = d
		} else {
			n.logger.Warn("ignoring unknown direction", "direction", p.Direction)
		}
	}
	if p.Status != "" {
		if st, ok := domain.ParseStatus(p.Status); ok {
			out.Status = st
		} else {
			n.logger.Warn("ignoring unknown status", "status", p.Status)
		}
	}
	if p.Timestamp != "" {
		ts, err := dateparse.ParseIn(p.Timestamp.String(), time.UTC)
		if err != nil {
			n.logger.Warn("ignoring unparsable timestamp", "timestamp", p.Timestamp.String(), "error", err.Error())
		} else {
			out.Timestamp = ts.UTC()
		}
	}
	return out
}

func (n *Normalizer) fromWebhook(metaData json.RawMessage, raw []byte) Normalized {
	out := Normalized{Kind: KindInvalid, Raw: raw, Reason: "no message or status record"}

	value, ok := n.firstChangeValue(metaData)
	if !ok {
		return out
	}

	// 1. a status record turns the payload into a status-only update
	var st waStatus
	if n.decodeFirst("statuses", value.Statuses, &st) {
		out.Kind = KindStatus
		out.Reason = ""
		out.MessageID = st.ID.String()
		if st.MetaMsgID != "" {
			out.MessageID = st.MetaMsgID.String()
		}
		if st.Status != "" {
			parsed, known := domain.ParseStatus(st.Status)
			if !known {
				n.logger.Warn("unknown delivery status in webhook", "status", st.Status)
			}
			out.Status = parsed
		}
		out.WaID = st.RecipientID.String()
		out.Timestamp = n.epoch(st.Timestamp)
		return out
	}

	// 2. a message record
	var msg waMessage
	if n.decodeFirst("messages", value.Messages, &msg) {
		out.Kind = KindMessage
		out.Reason = ""
		if msg.Text != nil {
			out.Text = msg.Text.Body
		}
		out.MessageID = msg.ID.String()
		out.WaID = msg.From.String()
		out.Timestamp = n.epoch(msg.Timestamp)
		out.Direction = domain.DirectionInbound
		out.Status = domain.StatusSent
	}

	// 3. contact and channel metadata augment whatever was found
	var contact waContact
	if n.decodeFirst("contacts", value.Contacts, &contact) {
		if contact.Profile.Name != "" {
			out.Name = contact.Profile.Name
		}
		if contact.WaID != "" {
			out.WaID = contact.WaID.String()
		}
	}
	var meta waMetadata
	if n.decodeSection("metadata", value.Metadata, &meta) {
		out.Number = meta.DisplayPhoneNumber.String()
	}

	return out
}

func (n *Normalizer) firstChangeValue(metaData json.RawMessage) (changeValue, bool) {
	var meta webhookMeta
	if !n.decodeSection("metaData", metaData, &meta) {
		return changeValue{}, false
	}
	if len(meta.Entry) == 0 || len(meta.Entry[0].Changes) == 0 {
		return changeValue{}, false
	}
	var value changeValue
	if !n.decodeSection("value", meta.Entry[0].Changes[0].Value, &value) {
		return changeValue{}, false
	}
	return value, true
}

// decodeSection reports whether the section was present and decoded
func (n *Normalizer) decodeSection(name string, raw json.RawMessage, dst any) bool {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		n.logger.Error("failed to parse payload section", "section", name, "error", err.Error())
		return false
	}
	return true
}

// decodeFirst decodes element 0 of an array section. Later elements are never read, so a
// malformed sibling can not spoil the first record.
func (n *Normalizer) decodeFirst(name string, raw json.RawMessage, dst any) bool {
	var items []json.RawMessage
	if !n.decodeSection(name, raw, &items) || len(items) == 0 {
		return false
	}
	return n.decodeSection(name+"[0]", items[0], dst)
}

func (n *Normalizer) epoch(s FlexString) time.Time {
	if s == "" {
		return time.Time{}
	}
	secs, err := parseEpochSeconds(s)
	if err != nil {
		n.logger.Error("failed to parse webhook timestamp", "timestamp", s.String(), "error", err.Error())
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}
