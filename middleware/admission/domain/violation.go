package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type ViolationType string

const (
	ViolationInterval  ViolationType = "interval"
	ViolationRateLimit ViolationType = "rate_limit"
)

// Violation é um registro (tipo, instante) na lista de violações do IP.
type Violation struct {
	Type ViolationType
	At   time.Time
}

// Encode usa o formato "<tipo>:<unix>", o mesmo das listas já existentes no Redis.
func (v Violation) Encode() string {
	return string(v.Type) + ":" + strconv.FormatInt(v.At.Unix(), 10)
}

func ParseViolation(s string) (Violation, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return Violation{}, fmt.Errorf("malformed violation record %q", s)
	}
	ts, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil {
		return Violation{}, fmt.Errorf("malformed violation record %q: %w", s, err)
	}
	return Violation{Type: ViolationType(s[:i]), At: time.Unix(ts, 0)}, nil
}

// CountRecent conta as violações com now - At < window, ignorando o tipo.
// Registros mal formados são ignorados.
func CountRecent(records []string, now time.Time, window time.Duration) int {
	n := 0
	for _, r := range records {
		v, err := ParseViolation(r)
		if err != nil {
			continue
		}
		if now.Sub(v.At) < window {
			n++
		}
	}
	return n
}
