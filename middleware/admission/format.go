package admission

import (
	"math"
	"strconv"
	"time"
)

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }

// retryAfterSeconds arredonda para cima: Retry-After só aceita segundos inteiros
// e arredondar para baixo faria o cliente voltar cedo demais.
func retryAfterSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 1
	}
	s := int64(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// tenths devolve a duração em segundos com uma casa decimal.
func tenths(d time.Duration) float64 {
	return math.Round(d.Seconds()*10) / 10
}
