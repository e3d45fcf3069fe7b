package domain

import (
	"fmt"
	"net/netip"
	"strings"
)

// UnknownIP é o pseudo-IP usado quando o endereço do cliente não pode ser
// determinado. Ele passa pelas mesmas checagens e forma um único bucket, para
// que omitir headers não sirva para contornar os limites.
const UnknownIP = "unknown"

// CanonicalIP normaliza um endereço (ou prefixo CIDR) para a forma usada como
// chave: IPv4 em dotted-quad, IPv4-mapeado desembrulhado e, se v6Prefix estiver
// entre 1 e 127, IPv6 reduzido à rede /v6Prefix.
//
// O espelho só responde a chaves exatas, então um prefixo mais largo que a
// granularidade da chave (IPv4 abaixo de /32, IPv6 abaixo de /v6Prefix) é
// rejeitado com ErrInvalidIP.
func CanonicalIP(raw string, v6Prefix int) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrInvalidIP
	}

	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidIP, raw)
		}
		addr := p.Addr().Unmap()
		bits := p.Bits()
		if addr.Is4() && bits > 32 {
			bits -= 96
		}
		if addr.Is4() {
			if bits != 32 {
				return "", fmt.Errorf("%w: %q is wider than a single address", ErrInvalidIP, raw)
			}
			return addr.String(), nil
		}
		keyBits := 128
		if v6Prefix > 0 && v6Prefix < 128 {
			keyBits = v6Prefix
		}
		if bits < keyBits {
			return "", fmt.Errorf("%w: %q is wider than /%d", ErrInvalidIP, raw, keyBits)
		}
		if keyBits == 128 {
			return addr.WithZone("").String(), nil
		}
		return netip.PrefixFrom(addr, keyBits).Masked().String(), nil
	}

	// [::1] ou [::1]:port vindos de headers mal formatados
	s = strings.TrimPrefix(s, "[")
	if i := strings.Index(s, "]"); i >= 0 {
		s = s[:i]
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		// IPv4 com porta ("1.2.3.4:5678")
		ap, perr := netip.ParseAddrPort(s)
		if perr != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidIP, raw)
		}
		addr = ap.Addr()
	}
	addr = addr.Unmap().WithZone("")
	if addr.Is6() && v6Prefix > 0 && v6Prefix < 128 {
		return netip.PrefixFrom(addr, v6Prefix).Masked().String(), nil
	}
	return addr.String(), nil
}

// ClientKey é CanonicalIP com fallback para UnknownIP.
func ClientKey(raw string, v6Prefix int) string {
	ip, err := CanonicalIP(raw, v6Prefix)
	if err != nil {
		return UnknownIP
	}
	return ip
}
