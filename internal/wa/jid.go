package wa

import (
	"errors"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// LegacyUserServer is the user server used by WhatsApp Web clients.
const LegacyUserServer = "c.us"

// ErrInvalidRecipient is returned for recipients that are neither a JID
// nor a phone number.
var ErrInvalidRecipient = errors.New("invalid recipient")

// NormalizeJID strips the device suffix from a JID string and maps the
// legacy c.us server onto s.whatsapp.net. Unparseable input is returned
// unchanged.
func NormalizeJID(raw string) string {
	jid, err := types.ParseJID(raw)
	if err != nil {
		return raw
	}
	return normalize(jid).String()
}

func normalize(jid types.JID) types.JID {
	jid = jid.ToNonAD()
	if jid.Server == LegacyUserServer {
		jid.Server = types.DefaultUserServer
	}
	return jid
}

// ParseRecipient accepts a full JID, a legacy c.us id or a bare phone
// number (digits with optional +, spaces and dashes).
func ParseRecipient(raw string) (types.JID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return types.EmptyJID, fmt.Errorf("%w: empty", ErrInvalidRecipient)
	}

	if strings.Contains(raw, "@") {
		jid, err := types.ParseJID(raw)
		if err != nil {
			return types.EmptyJID, fmt.Errorf("%w: %s", ErrInvalidRecipient, raw)
		}
		jid = normalize(jid)
		if jid.User == "" {
			return types.EmptyJID, fmt.Errorf("%w: %s", ErrInvalidRecipient, raw)
		}
		return jid, nil
	}

	phone := strings.NewReplacer("+", "", "-", "", " ", "").Replace(raw)
	if phone == "" {
		return types.EmptyJID, fmt.Errorf("%w: %s", ErrInvalidRecipient, raw)
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return types.EmptyJID, fmt.Errorf("%w: %s", ErrInvalidRecipient, raw)
		}
	}
	return types.NewJID(phone, types.DefaultUserServer), nil
}
