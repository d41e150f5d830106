package jingle

import "strings"

// ParseIceServers разбирает текстовое описание списка STUN/TURN серверов
// в формате "url:<url>,user:<user>,pass:<pass>;...". Пары user и pass
// необязательны, пустые записи пропускаются.
func ParseIceServers(spec string) ([]IceServer, error) {
	var servers []IceServer
	for _, entry := range strings.Split(spec, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		var srv IceServer
		for _, kv := range strings.Split(entry, ",") {
			kv = strings.TrimSpace(kv)
			if kv == "" {
				continue
			}
			key, value, ok := strings.Cut(kv, ":")
			if !ok {
				return nil, newError(CodeInvalidArgument, "ParseIceServers",
					"entry "+kv+" has no value")
			}
			switch key {
			case "url":
				srv.URL = value
			case "user":
				srv.User = value
			case "pass":
				srv.Pass = value
			default:
				return nil, newError(CodeInvalidArgument, "ParseIceServers",
					"unknown key "+key)
			}
		}
		if srv.URL == "" {
			return nil, newError(CodeInvalidArgument, "ParseIceServers",
				"entry without url")
		}
		servers = append(servers, srv)
	}
	return servers, nil
}
