// Package profile accumulates per-trace execution counts from the threaded
// engine and renders them as a chart.
package profile

import (
	"cmp"
	"fmt"
	"io"

	"github.com/colorfulnotion/rvm/rvm/trace"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"golang.org/x/exp/slices"
)

// Block is the profile of one trace entry address.
type Block struct {
	Address      uint64 `cbor:"1,keyasint" json:"address"`
	Length       uint8  `cbor:"2,keyasint" json:"length"`
	Instructions int    `cbor:"3,keyasint" json:"instructions"`
	Cycles       uint64 `cbor:"4,keyasint" json:"cycles"` // per entry
	Entries      uint64 `cbor:"5,keyasint" json:"entries"`
	Builds       uint64 `cbor:"6,keyasint" json:"builds"`
}

func (b Block) TotalCycles() uint64 { return b.Cycles * b.Entries }

// Profile implements trace.BlockObserver.
type Profile struct {
	blocks map[uint64]*Block
}

func New() *Profile {
	return &Profile{blocks: make(map[uint64]*Block)}
}

func (p *Profile) OnTrace(t *trace.Trace, hit bool) {
	b, ok := p.blocks[t.Address]
	if !ok {
		b = &Block{Address: t.Address}
		p.blocks[t.Address] = b
	}
	// The latest build's shape wins.
	b.Length = t.Length
	b.Instructions = len(t.Real())
	b.Cycles = t.Cycles
	b.Entries++
	if !hit {
		b.Builds++
	}
}

func (p *Profile) Len() int { return len(p.blocks) }

// Block returns the profile for the trace entered at addr.
func (p *Profile) Block(addr uint64) (Block, bool) {
	b, ok := p.blocks[addr]
	if !ok {
		return Block{}, false
	}
	return *b, true
}

// Blocks returns every block ordered by address.
func (p *Profile) Blocks() []Block {
	out := make([]Block, 0, len(p.blocks))
	for _, b := range p.blocks {
		out = append(out, *b)
	}
	slices.SortFunc(out, func(a, b Block) int { return cmp.Compare(a.Address, b.Address) })
	return out
}

// Top returns up to n blocks with the most total cycles. n <= 0 returns all.
func (p *Profile) Top(n int) []Block {
	out := p.Blocks()
	slices.SortStableFunc(out, func(a, b Block) int { return cmp.Compare(b.TotalCycles(), a.TotalCycles()) })
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

func (p *Profile) TotalCycles() uint64 {
	var total uint64
	for _, b := range p.blocks {
		total += b.TotalCycles()
	}
	return total
}

// Merge adds counts from blocks, such as a profile loaded from storage.
func (p *Profile) Merge(blocks []Block) {
	for _, in := range blocks {
		b, ok := p.blocks[in.Address]
		if !ok {
			cp := in
			p.blocks[in.Address] = &cp
			continue
		}
		b.Entries += in.Entries
		b.Builds += in.Builds
	}
}

// BarChart plots total cycles and entries of the top n blocks.
func (p *Profile) BarChart(title string, n int) *charts.Bar {
	top := p.Top(n)
	labels := make([]string, 0, len(top))
	cycles := make([]opts.BarData, 0, len(top))
	entries := make([]opts.BarData, 0, len(top))
	for _, b := range top {
		labels = append(labels, fmt.Sprintf("0x%x", b.Address))
		cycles = append(cycles, opts.BarData{Value: b.TotalCycles()})
		entries = append(entries, opts.BarData{Value: b.Entries})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: fmt.Sprintf("%d blocks, %d cycles", p.Len(), p.TotalCycles()),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels).
		AddSeries("cycles", cycles).
		AddSeries("entries", entries)
	return bar
}

// Render writes an HTML page with the bar chart to w.
func (p *Profile) Render(w io.Writer, title string, n int) error {
	page := components.NewPage()
	page.AddCharts(p.BarChart(title, n))
	return page.Render(w)
}
