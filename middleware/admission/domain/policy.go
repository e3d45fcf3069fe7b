package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RatePolicy é a política de janela fixa de uma categoria.
// Max <= 0 desliga o rate limit da categoria.
type RatePolicy struct {
	Max    int64
	Window time.Duration
}

func (p RatePolicy) String() string {
	return strconv.FormatInt(p.Max, 10) + "/" + p.Window.String()
}

// ParseRatePolicy lê o formato "<max>/<janela>", ex: "30/60s" ou "2/1h".
func ParseRatePolicy(s string) (RatePolicy, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "/", 2)
	if len(parts) != 2 {
		return RatePolicy{}, fmt.Errorf("%w: rate %q: expected <max>/<window>", ErrInvalidPolicy, s)
	}
	max, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return RatePolicy{}, fmt.Errorf("%w: rate %q: max: %v", ErrInvalidPolicy, s, err)
	}
	window, err := time.ParseDuration(strings.TrimSpace(parts[1]))
	if err != nil {
		return RatePolicy{}, fmt.Errorf("%w: rate %q: window: %v", ErrInvalidPolicy, s, err)
	}
	p := RatePolicy{Max: max, Window: window}
	if err := p.validate(); err != nil {
		return RatePolicy{}, err
	}
	return p, nil
}

func (p RatePolicy) validate() error {
	if p.Max < 0 {
		return fmt.Errorf("%w: rate max must be >= 0", ErrInvalidPolicy)
	}
	if p.Max > 0 && p.Window < time.Second {
		return fmt.Errorf("%w: rate window must be >= 1s", ErrInvalidPolicy)
	}
	return nil
}

// AutoBanPolicy é a tripla (threshold, janela, duração do ban) do escalonamento.
// Threshold <= 0 desliga o auto-ban.
type AutoBanPolicy struct {
	Threshold   int
	Window      time.Duration
	BanDuration time.Duration
	// MaxRecords limita o tamanho da lista de violações por IP.
	MaxRecords int
}

// Policy agrupa as tabelas por categoria e a política de auto-ban.
type Policy struct {
	Rates     map[Category]RatePolicy
	Intervals map[Category]time.Duration
	AutoBan   AutoBanPolicy
}

// DefaultPolicy reproduz os valores de produção.
// login não tem intervalo próprio e herda o de default.
func DefaultPolicy() Policy {
	return Policy{
		Rates: map[Category]RatePolicy{
			CategoryRegister: {Max: 2, Window: time.Hour},
			CategoryLogin:    {Max: 30, Window: time.Minute},
			CategoryAdWatch:  {Max: 30, Window: time.Hour},
			CategoryAdRandom: {Max: 50, Window: time.Hour},
			CategoryDefault:  {Max: 20, Window: time.Minute},
		},
		Intervals: map[Category]time.Duration{
			CategoryRegister: 300 * time.Second,
			CategoryAdWatch:  3 * time.Second,
			CategoryAdRandom: 2 * time.Second,
			CategoryDefault:  300 * time.Millisecond,
		},
		AutoBan: AutoBanPolicy{
			Threshold:   5,
			Window:      600 * time.Second,
			BanDuration: 24 * time.Hour,
			MaxRecords:  100,
		},
	}
}

func (p Policy) RateFor(c Category) RatePolicy {
	if rp, ok := p.Rates[c]; ok {
		return rp
	}
	return p.Rates[CategoryDefault]
}

func (p Policy) IntervalFor(c Category) time.Duration {
	if d, ok := p.Intervals[c]; ok {
		return d
	}
	return p.Intervals[CategoryDefault]
}

// Clone devolve uma cópia independente (os mapas não são compartilhados).
func (p Policy) Clone() Policy {
	out := Policy{
		Rates:     make(map[Category]RatePolicy, len(p.Rates)),
		Intervals: make(map[Category]time.Duration, len(p.Intervals)),
		AutoBan:   p.AutoBan,
	}
	for k, v := range p.Rates {
		out.Rates[k] = v
	}
	for k, v := range p.Intervals {
		out.Intervals[k] = v
	}
	return out
}

func (p Policy) Validate() error {
	for c, rp := range p.Rates {
		if err := rp.validate(); err != nil {
			return fmt.Errorf("%s: %w", c, err)
		}
	}
	for c, d := range p.Intervals {
		if d < 0 {
			return fmt.Errorf("%w: %s: interval must be >= 0", ErrInvalidPolicy, c)
		}
	}
	ab := p.AutoBan
	if ab.Threshold > 0 {
		if ab.Window <= 0 {
			return fmt.Errorf("%w: auto-ban window must be > 0", ErrInvalidPolicy)
		}
		if ab.BanDuration <= 0 {
			return fmt.Errorf("%w: auto-ban duration must be > 0", ErrInvalidPolicy)
		}
	}
	if ab.MaxRecords < 0 {
		return fmt.Errorf("%w: auto-ban max records must be >= 0", ErrInvalidPolicy)
	}
	return nil
}

// PolicySource fornece a política vigente. Implementações podem recarregar
// a política em tempo de execução (ex: arquivo observado).
type PolicySource interface {
	Policy() Policy
}

// StaticPolicy é uma PolicySource imutável.
type StaticPolicy Policy

func (s StaticPolicy) Policy() Policy { return Policy(s) }
