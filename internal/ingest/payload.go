package ingest

import (
	"bytes"
	"encoding/json"
	"strconv"
)

const payloadTypeWebhook = "whatsapp_webhook"

// FlexString decodes a JSON string or number into its textual form. WhatsApp ids and
// timestamps show up as either depending on who produced the payload.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// DirectPayload is the flat submission shape used by the UI and simple test clients.
type DirectPayload struct {
	Text      string     `json:"text"`
	WaID      FlexString `json:"wa_id"`
	Name      string     `json:"name,omitempty"`
	Number    FlexString `json:"number,omitempty"`
	Timestamp FlexString `json:"timestamp,omitempty"`
	Status    string     `json:"status,omitempty"`
	ID        FlexString `json:"id,omitempty"`
	Direction string     `json:"direction,omitempty"`
}

// envelope only carries what is needed to classify a payload
type envelope struct {
	PayloadType string          `json:"payload_type"`
	MetaData    json.RawMessage `json:"metaData"`
}

type webhookMeta struct {
	Entry []struct {
		Changes []struct {
			Value json.RawMessage `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// changeValue keeps every section raw so one malformed section does not spoil the others
type changeValue struct {
	Messages json.RawMessage `json:"messages"`
	Statuses json.RawMessage `json:"statuses"`
	Contacts json.RawMessage `json:"contacts"`
	Metadata json.RawMessage `json:"metadata"`
}

type waStatus struct {
	ID          FlexString `json:"id"`
	MetaMsgID   FlexString `json:"meta_msg_id"`
	Status      string     `json:"status"`
	RecipientID FlexString `json:"recipient_id"`
	Timestamp   FlexString `json:"timestamp"`
}

type waMessage struct {
	ID        FlexString `json:"id"`
	From      FlexString `json:"from"`
	Timestamp FlexString `json:"timestamp"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
}

type waContact struct {
	WaID    FlexString `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type waMetadata struct {
	DisplayPhoneNumber FlexString `json:"display_phone_number"`
}

func parseEpochSeconds(s FlexString) (int64, error) {
	return strconv.ParseInt(string(s), 10, 64)
}
