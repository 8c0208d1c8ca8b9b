package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/skalibog/quantbot/internal/agent"
	"github.com/skalibog/quantbot/internal/analysis/orderbook"
	"github.com/skalibog/quantbot/pkg/models"
)

// Основные цвета
var (
	primaryColor = lipgloss.Color("#0077cc")
	errorColor   = lipgloss.Color("#cc3300")
	successColor = lipgloss.Color("#33cc33")
	warningColor = lipgloss.Color("#cccc00")
	mutedColor   = lipgloss.Color("#999999")
)

// Console построчный вывод состояния агента в терминал
type Console struct {
	mu  sync.Mutex
	out io.Writer

	title  lipgloss.Style
	long   lipgloss.Style
	short  lipgloss.Style
	hold   lipgloss.Style
	failed lipgloss.Style
	muted  lipgloss.Style
}

// NewConsole создает вывод в out. Цвета включаются, только если out терминал.
func NewConsole(out io.Writer) *Console {
	r := lipgloss.NewRenderer(out)
	return &Console{
		out:    out,
		title:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffffff")).Background(primaryColor).Padding(0, 1),
		long:   r.NewStyle().Foreground(successColor).Bold(true),
		short:  r.NewStyle().Foreground(errorColor).Bold(true),
		hold:   r.NewStyle().Foreground(warningColor),
		failed: r.NewStyle().Foreground(errorColor),
		muted:  r.NewStyle().Foreground(mutedColor),
	}
}

// Title заголовок запуска
func (c *Console) Title(text string) {
	c.println(c.title.Render(text))
}

// Tick строка на каждый тик цикла
func (c *Console) Tick(r agent.TickReport) {
	ts := c.muted.Render(r.Time.Format("15:04:05"))
	if r.Err != nil {
		c.println(fmt.Sprintf("%s %s %s %s", ts, r.Symbol, c.failed.Render(r.Result), c.muted.Render(r.Err.Error())))
		return
	}

	d := r.Decision
	c.println(fmt.Sprintf("%s %s %s score=%.2f conf=%.2f rsi=%.1f vol=%.4f whale=%t price=%.2f sma=%.2f",
		ts, r.Symbol, c.action(d.Decision), d.Score, d.Confidence,
		d.Input.RSI, d.Input.Volatility, d.Input.WhaleDetected, d.Input.Price, r.SMA))
}

// Depth краткая сводка стакана
func (c *Console) Depth(symbol string, s orderbook.Summary) {
	c.println(c.muted.Render(fmt.Sprintf("%s стакан bid=%.2f ask=%.2f spread=%.4f%% imbalance=%.1f depth=%.1f",
		symbol, s.BestBid, s.BestAsk, s.Spread*100, s.Imbalance, s.Depth)))
}

// Account таблица ненулевых балансов
func (c *Console) Account(acc *models.Account) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", c.title.Render("БАЛАНСЫ"))
	fmt.Fprintf(&b, "%-10s %18s %18s\n", "ASSET", "FREE", "LOCKED")
	shown := 0
	for _, bal := range acc.Balances {
		if isZero(bal.Free) && isZero(bal.Locked) {
			continue
		}
		fmt.Fprintf(&b, "%-10s %18s %18s\n", bal.Asset, bal.Free, bal.Locked)
		shown++
	}
	if shown == 0 {
		b.WriteString(c.muted.Render("нет ненулевых балансов") + "\n")
	}
	fmt.Fprintf(&b, "торговля разрешена: %t", acc.CanTrade)
	c.println(b.String())
}

// Order результат ручного ордера
func (c *Console) Order(req models.OrderRequest, res models.OrderResult) {
	c.println(fmt.Sprintf("%s %s %s id=%s status=%s price=%s",
		c.sideStyle(req.Side).Render(string(req.Side)), req.Quantity.String(), req.Symbol,
		res.OrderID, res.RawStatus, res.ExecutedPrice.String()))
}

func (c *Console) action(a models.Action) string {
	switch a {
	case models.Long:
		return c.long.Render(string(a))
	case models.Short:
		return c.short.Render(string(a))
	default:
		return c.hold.Render(string(a))
	}
}

func (c *Console) sideStyle(s models.Side) lipgloss.Style {
	if s == models.Buy {
		return c.long
	}
	return c.short
}

func (c *Console) println(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, line)
}

func isZero(v string) bool {
	return strings.Trim(strings.TrimSpace(v), "0.") == ""
}
