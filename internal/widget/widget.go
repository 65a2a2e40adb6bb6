// Package widget renders the systems dashboard fragment.
package widget

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/homelab-tools/beszel-proxy/internal/domain/systems"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var tmpl = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// Fixed fragments served when there is nothing to render.
const (
	EmptyHTML      = `<div style="color: #94a3b8; padding: 1rem;">Nenhum sistema encontrado</div>`
	AuthErrorHTML  = `<div style="color: #ef4444; padding: 1rem; background: rgba(239, 68, 68, 0.1); border-radius: 0.5rem; border: 1px solid #ef4444;">❌ Erro ao autenticar no Beszel</div>`
	FetchErrorHTML = `<div style="color: #ef4444; padding: 1rem; background: rgba(239, 68, 68, 0.1); border-radius: 0.5rem; border: 1px solid #ef4444;">❌ Erro ao obter dados dos sistemas</div>`
)

const secondsPerDay = 86400

// Options selects what each card shows.
type Options struct {
	RedirectURL    string
	OpenInNewTab   bool
	HideKernel     bool
	HideUptime     bool
	HideCPUInfo    bool
	HideIP         bool
	ReloadInterval int // seconds
}

// Renderer turns snapshots into widget HTML.
type Renderer struct {
	opts Options
}

// NewRenderer builds a renderer with the given display options.
func NewRenderer(opts Options) *Renderer {
	opts.RedirectURL = strings.TrimRight(opts.RedirectURL, "/")
	if opts.ReloadInterval <= 0 {
		opts.ReloadInterval = 3
	}
	return &Renderer{opts: opts}
}

// Options returns the display options in effect.
func (r *Renderer) Options() Options {
	return r.opts
}

type view struct {
	RedirectURL  string
	OpenInNewTab bool
	ReloadMillis int
	Cards        []card
}

type card struct {
	Name    string
	Up      bool
	Host    string
	Details []detail
	Gauges  []gauge
}

type detail struct {
	Label string
	Value string
}

type gauge struct {
	Icon    string
	Label   string
	Percent string
	From    template.CSS
	To      template.CSS
}

// Render produces the widget for snap. An empty snapshot yields EmptyHTML.
func (r *Renderer) Render(snap systems.Snapshot) (string, error) {
	if snap.Count() == 0 {
		return EmptyHTML, nil
	}

	v := view{
		RedirectURL:  r.opts.RedirectURL,
		OpenInNewTab: r.opts.OpenInNewTab,
		ReloadMillis: r.opts.ReloadInterval * 1000,
		Cards:        make([]card, 0, snap.Count()),
	}
	for _, sys := range snap.Items {
		v.Cards = append(v.Cards, r.card(sys))
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "widget", v); err != nil {
		return "", fmt.Errorf("render widget: %w", err)
	}
	return buf.String(), nil
}

func (r *Renderer) card(sys systems.System) card {
	c := card{
		Name: sys.Name,
		Up:   sys.Up(),
	}
	if !r.opts.HideIP {
		c.Host = sys.Host
	}
	if !r.opts.HideKernel {
		c.Details = append(c.Details, detail{Label: "Kernel", Value: sys.Info.Kernel})
	}
	if !r.opts.HideUptime {
		c.Details = append(c.Details, detail{Label: "Uptime", Value: FormatUptime(sys.Info.Uptime)})
	}
	if !r.opts.HideCPUInfo {
		c.Details = append(c.Details, detail{Label: "CPU", Value: CPUModel(sys.Info.CPUModel)})
	}
	c.Gauges = []gauge{
		{Icon: "📊", Label: "CPU", Percent: percent(sys.Info.CPU), From: "#3b82f6", To: "#60a5fa"},
		{Icon: "🧠", Label: "Memory", Percent: percent(sys.Info.MemPercent), From: "#8b5cf6", To: "#a78bfa"},
		{Icon: "💾", Label: "Disk", Percent: percent(sys.Info.DiskPercent), From: "#10b981", To: "#34d399"},
	}
	return c
}

// FormatUptime renders seconds as fractional days from one day upwards and
// fractional hours below that.
func FormatUptime(seconds float64) string {
	if seconds >= secondsPerDay {
		return fmt.Sprintf("%.1fd", seconds*0.000011574)
	}
	return fmt.Sprintf("%.1fh", seconds*0.000277778)
}

// CPUModel strips the "CPU " marker vendors embed in model strings.
func CPUModel(model string) string {
	return strings.ReplaceAll(model, "CPU ", "")
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f", v)
}
