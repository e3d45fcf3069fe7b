package domain

import (
	"fmt"
	"strings"
)

// Category é a classificação fechada de uma requisição usada para escolher
// a política de rate limit e de intervalo.
type Category uint8

const (
	CategoryDefault Category = iota
	CategoryRegister
	CategoryLogin
	CategoryAdWatch
	CategoryAdRandom

	categoryCount
)

var categoryNames = [categoryCount]string{
	CategoryDefault:  "default",
	CategoryRegister: "register",
	CategoryLogin:    "login",
	CategoryAdWatch:  "ad_watch",
	CategoryAdRandom: "ad_random",
}

var categoryLabels = [categoryCount]string{
	CategoryDefault:  "request",
	CategoryRegister: "registration",
	CategoryLogin:    "login",
	CategoryAdWatch:  "ad watch",
	CategoryAdRandom: "ad fetch",
}

func (c Category) String() string {
	if c >= categoryCount {
		return categoryNames[CategoryDefault]
	}
	return categoryNames[c]
}

// Label é o nome legível usado nas mensagens devolvidas ao cliente.
func (c Category) Label() string {
	if c >= categoryCount {
		return categoryLabels[CategoryDefault]
	}
	return categoryLabels[c]
}

// Categories retorna todas as categorias em ordem estável.
func Categories() []Category {
	out := make([]Category, 0, categoryCount)
	for c := Category(0); c < categoryCount; c++ {
		out = append(out, c)
	}
	return out
}

func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c, name := range categoryNames {
		if name == s {
			return Category(c), nil
		}
	}
	return CategoryDefault, fmt.Errorf("unknown category %q", s)
}

// ResolveCategory classifica a requisição a partir de (method, path).
// É uma função pura: chamada uma única vez por requisição.
//
// HEAD/OPTIONS caem sempre em default, para que preflight de CORS não consuma
// o orçamento de categorias escassas como register.
func ResolveCategory(method, path string) Category {
	switch method {
	case "HEAD", "OPTIONS":
		return CategoryDefault
	}

	switch {
	case strings.Contains(path, "/register"):
		return CategoryRegister
	case strings.Contains(path, "/login"):
		return CategoryLogin
	case strings.Contains(path, "/ad/watch"):
		return CategoryAdWatch
	case strings.Contains(path, "/ad/random"), strings.Contains(path, "/ad/"):
		return CategoryAdRandom
	default:
		return CategoryDefault
	}
}
