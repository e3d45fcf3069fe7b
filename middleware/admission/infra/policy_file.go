package infra

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v2"
)

// policyDoc é o formato YAML do arquivo de política. Campos ausentes mantêm o
// valor da política base (env/defaults).
//
//	rates:
//	  login: 30/60s
//	intervals:
//	  ad_watch: 3s
//	autoban:
//	  threshold: 5
//	  window: 600s
//	  duration: 24h
type policyDoc struct {
	Rates     map[string]string `yaml:"rates"`
	Intervals map[string]string `yaml:"intervals"`
	AutoBan   struct {
		Threshold  *int   `yaml:"threshold"`
		Window     string `yaml:"window"`
		Duration   string `yaml:"duration"`
		MaxRecords *int   `yaml:"max_records"`
	} `yaml:"autoban"`
}

// ParsePolicyYAML aplica o documento sobre base e valida o resultado.
func ParsePolicyYAML(data []byte, base domain.Policy) (domain.Policy, error) {
	var doc policyDoc
	if err := yaml.UnmarshalStrict(data, &doc); err != nil {
		return domain.Policy{}, fmt.Errorf("%w: %v", domain.ErrInvalidPolicy, err)
	}

	p := base.Clone()
	for name, raw := range doc.Rates {
		c, err := domain.ParseCategory(name)
		if err != nil {
			return domain.Policy{}, fmt.Errorf("%w: rates: %v", domain.ErrInvalidPolicy, err)
		}
		rp, err := domain.ParseRatePolicy(raw)
		if err != nil {
			return domain.Policy{}, fmt.Errorf("rates.%s: %w", name, err)
		}
		p.Rates[c] = rp
	}
	for name, raw := range doc.Intervals {
		c, err := domain.ParseCategory(name)
		if err != nil {
			return domain.Policy{}, fmt.Errorf("%w: intervals: %v", domain.ErrInvalidPolicy, err)
		}
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return domain.Policy{}, fmt.Errorf("%w: intervals.%s: %v", domain.ErrInvalidPolicy, name, err)
		}
		p.Intervals[c] = d
	}

	ab := doc.AutoBan
	if ab.Threshold != nil {
		p.AutoBan.Threshold = *ab.Threshold
	}
	if ab.MaxRecords != nil {
		p.AutoBan.MaxRecords = *ab.MaxRecords
	}
	if ab.Window != "" {
		d, err := time.ParseDuration(ab.Window)
		if err != nil {
			return domain.Policy{}, fmt.Errorf("%w: autoban.window: %v", domain.ErrInvalidPolicy, err)
		}
		p.AutoBan.Window = d
	}
	if ab.Duration != "" {
		d, err := time.ParseDuration(ab.Duration)
		if err != nil {
			return domain.Policy{}, fmt.Errorf("%w: autoban.duration: %v", domain.ErrInvalidPolicy, err)
		}
		p.AutoBan.BanDuration = d
	}

	if err := p.Validate(); err != nil {
		return domain.Policy{}, err
	}
	return p, nil
}

// PolicyFile é uma domain.PolicySource lida de um arquivo YAML e recarregada
// quando o arquivo muda. Um arquivo inválido mantém a última política boa.
type PolicyFile struct {
	path     string
	base     domain.Policy
	current  atomic.Pointer[domain.Policy]
	debounce time.Duration
	logger   *log.Logger
	onReload func(error)
}

type PolicyFileOption func(*PolicyFile)

func WithPolicyDebounce(d time.Duration) PolicyFileOption {
	return func(f *PolicyFile) { f.debounce = d }
}

func WithPolicyLogger(l *log.Logger) PolicyFileOption {
	return func(f *PolicyFile) { f.logger = l }
}

func WithPolicyReloadHook(fn func(error)) PolicyFileOption {
	return func(f *PolicyFile) { f.onReload = fn }
}

// NewPolicyFile carrega o arquivo uma vez; erro de leitura ou validação aqui é fatal.
func NewPolicyFile(path string, base domain.Policy, opts ...PolicyFileOption) (*PolicyFile, error) {
	f := &PolicyFile{
		path:     path,
		base:     base.Clone(),
		debounce: 500 * time.Millisecond,
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	p, err := f.load()
	if err != nil {
		return nil, err
	}
	f.current.Store(&p)
	return f, nil
}

func (f *PolicyFile) Policy() domain.Policy {
	return *f.current.Load()
}

func (f *PolicyFile) load() (domain.Policy, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return domain.Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicyYAML(data, f.base)
}

// Reload relê o arquivo. Em erro a política vigente é mantida.
func (f *PolicyFile) Reload() error {
	p, err := f.load()
	if f.onReload != nil {
		f.onReload(err)
	}
	if err != nil {
		f.logger.Error("policy reload failed, keeping previous policy", "file", f.path, "error", err)
		return err
	}
	f.current.Store(&p)
	f.logger.Info("policy reloaded", "file", f.path)
	return nil
}

// Watch observa o diretório do arquivo (editores e ConfigMaps trocam o arquivo
// por rename) e recarrega após `debounce` sem novos eventos.
func (f *PolicyFile) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("watch policy dir: %w", err)
	}
	f.logger.Info("watching policy file", "file", f.path)

	target := filepath.Clean(f.path)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(f.debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("policy watcher error", "error", err)
		case <-timer.C:
			_ = f.Reload()
		}
	}
}
