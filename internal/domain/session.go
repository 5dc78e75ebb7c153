package domain

import "encoding/json"

// Session is the attribution payload returned by the API. Only a handful of
// keys are lifted out; the rest stays opaque in Raw.
type Session struct {
	SessionID           string
	IdentityID          string
	DeviceFingerprintID string
	Link                string
	Data                map[string]any
	Raw                 map[string]any
}

// NewSessionFromPayload lifts the well-known keys out of a decoded response.
// The "data" key may be an object or a JSON-encoded string.
func NewSessionFromPayload(payload map[string]any) *Session {
	s := &Session{Raw: payload}
	if payload == nil {
		return s
	}

	s.SessionID = stringValue(payload["session_id"])
	s.IdentityID = stringValue(payload["identity_id"])
	s.DeviceFingerprintID = stringValue(payload["device_fingerprint_id"])
	s.Link = stringValue(payload["link"])

	switch data := payload["data"].(type) {
	case map[string]any:
		s.Data = data
	case string:
		var decoded map[string]any
		if err := json.Unmarshal([]byte(data), &decoded); err == nil {
			s.Data = decoded
		}
	}

	return s
}

// HasIdentity reports whether the session is worth persisting.
func (s *Session) HasIdentity() bool {
	return s != nil && (s.SessionID != "" || s.IdentityID != "")
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		return ""
	}
}
