package admission

import (
	"net"
	"net/http"
	"strings"

	"admission-gateway/middleware/admission/domain"
)

// KeyFunc extrai o IP (já canonicalizado) da requisição.
type KeyFunc func(r *http.Request) string

// DefaultKeyFunc resolve o IP do cliente na ordem:
// primeiro hop do X-Forwarded-For, X-Real-IP, host do RemoteAddr.
// Com trustProxy=false os headers são ignorados.
//
// Um endereço ilegível vira domain.UnknownIP, que tem os próprios contadores.
func DefaultKeyFunc(trustProxy bool, v6Prefix int) KeyFunc {
	return func(r *http.Request) string {
		if trustProxy {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return domain.ClientKey(ip, v6Prefix)
				}
			}
			if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
				return domain.ClientKey(ip, v6Prefix)
			}
		}

		// fallback: RemoteAddr
		addr := strings.TrimSpace(r.RemoteAddr)
		if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
			return domain.ClientKey(host, v6Prefix)
		}
		if addr != "" {
			return domain.ClientKey(addr, v6Prefix)
		}
		return domain.UnknownIP
	}
}
