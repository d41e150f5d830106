package stanza

import "strings"

// BareJID возвращает JID без ресурса: "user@domain/res" -> "user@domain".
// Если ресурса нет, возвращает jid без изменений.
func BareJID(jid string) string {
	if idx := strings.IndexByte(jid, '/'); idx >= 0 {
		return jid[:idx]
	}
	return jid
}

// Resource возвращает ресурсную часть JID или пустую строку.
func Resource(jid string) string {
	if idx := strings.IndexByte(jid, '/'); idx >= 0 {
		return jid[idx+1:]
	}
	return ""
}

// IsBareJID сообщает, является ли jid bare JID (без ресурса).
func IsBareJID(jid string) bool {
	return !strings.ContainsRune(jid, '/')
}

// SameBareJID сравнивает два JID по их bare-части.
func SameBareJID(a, b string) bool {
	return BareJID(a) == BareJID(b)
}
