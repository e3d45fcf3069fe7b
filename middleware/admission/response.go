package admission

import (
	"encoding/json"
	"net/http"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// envelope é o formato {code, message, data} usado por toda a API.
type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

type rateLimitData struct {
	Reason       string `json:"reason"`
	Action       string `json:"action"`
	CurrentCount int64  `json:"current_count"`
	MaxRequests  int64  `json:"max_requests"`
	Window       int64  `json:"window"`
	RetryAfter   int64  `json:"retry_after"`
}

type intervalData struct {
	Reason         string  `json:"reason"`
	Action         string  `json:"action"`
	MinInterval    float64 `json:"min_interval"`
	ActualInterval float64 `json:"actual_interval"`
	RetryAfter     float64 `json:"retry_after"`
}

type autoBanData struct {
	Reason      string `json:"reason"`
	BanDuration string `json:"ban_duration"`
}

// accessDeniedBody é o corpo do 403 da blacklist. Propositalmente não revela
// motivo, IP nem expiração.
var accessDeniedBody = []byte(`{"code":403,"message":"Access denied","data":null}`)

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", formatInt(int64(len(body))))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	body, err := json.Marshal(env)
	if err != nil {
		body = []byte(`{"code":` + formatInt(int64(status)) + `,"message":"` + http.StatusText(status) + `","data":null}`)
	}
	writeJSON(w, status, body)
}

// writeRejection traduz o veredito para status, headers e corpo.
func writeRejection(w http.ResponseWriter, v domain.Verdict) {
	switch v.Stage {
	case domain.StageAutoBan:
		writeEnvelope(w, http.StatusForbidden, envelope{
			Code:    http.StatusForbidden,
			Message: "Your IP has been banned for " + banLabel(v.BanDuration) + " due to repeated violations",
			Data:    autoBanData{Reason: "auto_ban", BanDuration: v.BanDuration.String()},
		})

	case domain.StageInterval:
		w.Header().Set("Retry-After", formatInt(retryAfterSeconds(v.Interval.RetryAfter)))
		writeEnvelope(w, http.StatusTooManyRequests, envelope{
			Code:    http.StatusTooManyRequests,
			Message: capitalize(v.Category.Label()) + " requests are too frequent, please slow down",
			Data: intervalData{
				Reason:         "interval",
				Action:         v.Category.String(),
				MinInterval:    tenths(v.Interval.MinInterval),
				ActualInterval: tenths(v.Interval.Elapsed),
				RetryAfter:     tenths(v.Interval.RetryAfter),
			},
		})

	case domain.StageRateLimit:
		retry := retryAfterSeconds(v.Rate.RetryAfter)
		w.Header().Set("Retry-After", formatInt(retry))
		writeEnvelope(w, http.StatusTooManyRequests, envelope{
			Code:    http.StatusTooManyRequests,
			Message: "Too many " + v.Category.Label() + " requests, please try again later",
			Data: rateLimitData{
				Reason:       "rate_limit",
				Action:       v.Category.String(),
				CurrentCount: v.Rate.Count,
				MaxRequests:  v.Rate.Max,
				Window:       int64(v.Rate.Window / time.Second),
				RetryAfter:   retry,
			},
		})

	default:
		writeJSON(w, http.StatusForbidden, accessDeniedBody)
	}
}

func banLabel(d time.Duration) string {
	if d > 0 && d%time.Hour == 0 {
		h := int64(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return formatInt(h) + " hours"
	}
	return d.String()
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
