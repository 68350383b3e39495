// Package tui drives one widget instance from a terminal.
package tui

import (
	"context"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatwidget/pkg/widget/bootstrap"
	"github.com/go-go-golems/chatwidget/pkg/widget/chat"
	"github.com/go-go-golems/chatwidget/pkg/widget/config"
)

// Notifier turns instance renders into bubbletea messages. Its OnRender
// never blocks: renders arriving while one is pending coalesce.
type Notifier struct {
	ch chan struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

// OnRender fits bootstrap.Options.OnRender.
func (n *Notifier) OnRender(*bootstrap.Instance, config.WidgetConfig) {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

func (n *Notifier) wait() tea.Cmd {
	return func() tea.Msg {
		<-n.ch
		return renderedMsg{}
	}
}

type renderedMsg struct{}

type copiedMsg struct {
	err error
}

type Options struct {
	// Style is a glamour standard style, "dark" when empty.
	Style string
	// Copy writes to the clipboard, clipboard.WriteAll when nil.
	Copy func(string) error
}

type Model struct {
	inst     *bootstrap.Instance
	notifier *Notifier
	input    textinput.Model
	style    string
	clip     func(string) error
	md       *glamour.TermRenderer
	width    int
	status   string
}

func New(inst *bootstrap.Instance, notifier *Notifier, opts Options) Model {
	if opts.Style == "" {
		opts.Style = "dark"
	}
	if opts.Copy == nil {
		opts.Copy = clipboard.WriteAll
	}
	ti := textinput.New()
	ti.Placeholder = "Type your message..."
	ti.CharLimit = 1000
	ti.Prompt = "> "

	m := Model{
		inst:     inst,
		notifier: notifier,
		input:    ti,
		style:    opts.Style,
		clip:     opts.Copy,
	}
	m.md = m.newMarkdown()
	return m
}

func (m Model) newMarkdown() *glamour.TermRenderer {
	wrap := 76
	if m.width > 8 {
		wrap = m.width - 4
	}
	r, err := glamour.NewTermRenderer(glamour.WithStandardStyle(m.style), glamour.WithWordWrap(wrap))
	if err != nil {
		log.Warn().Err(err).Str("style", m.style).Msg("markdown renderer unavailable")
		return nil
	}
	return r
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.notifier.wait())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	session := m.inst.Session()

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(10, msg.Width-6)
		m.md = m.newMarkdown()
		return m, nil

	case renderedMsg:
		return m, m.notifier.wait()

	case copiedMsg:
		if msg.err != nil {
			m.status = "copy failed: " + msg.err.Error()
		} else {
			m.status = "reply copied"
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyTab:
			session.Toggle()
			if session.View().Open {
				return m, m.input.Focus()
			}
			m.input.Blur()
			return m, nil
		case tea.KeyEnter:
			session.SetInput(m.input.Value())
			// alt+enter stands in for shift+enter, which terminals rarely report
			if session.KeyPress("Enter", msg.Alt) {
				m.input.Reset()
				m.status = ""
			}
			return m, nil
		case tea.KeyCtrlY:
			reply, ok := lastReply(session.Messages())
			if !ok {
				m.status = "nothing to copy"
				return m, nil
			}
			copyFn := m.clip
			return m, func() tea.Msg { return copiedMsg{err: copyFn(reply)} }
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if v := m.input.Value(); v != session.View().Input {
		session.SetInput(v)
	}
	return m, cmd
}

func lastReply(msgs []chat.Message) (string, bool) {
	for idx := len(msgs) - 1; idx >= 0; idx-- {
		if !msgs[idx].IsUser {
			return msgs[idx].Text, true
		}
	}
	return "", false
}

// termColor keeps hex colors and falls back for named CSS colors, which
// terminals cannot show.
func termColor(c, fallback string) lipgloss.Color {
	if strings.HasPrefix(c, "#") {
		return lipgloss.Color(c)
	}
	return lipgloss.Color(fallback)
}

var (
	helpStyle  = lipgloss.NewStyle().Faint(true)
	faintStyle = lipgloss.NewStyle().Faint(true).Italic(true)
)

func (m Model) View() string {
	cfg := m.inst.Config()
	help := helpStyle.Render("tab: open/close • enter: send • ctrl+y: copy reply • ctrl+c: quit")
	if !cfg.Renderable() {
		return faintStyle.Render("chat is currently unavailable") + "\n" + help
	}

	v := m.inst.Session().View()
	theme := chat.SafeTheme(v.Props.Theme)
	primary := termColor(theme.PrimaryColor, config.DefaultPrimaryColor)
	text := termColor(theme.TextColor, config.DefaultTextColor)

	var body string
	if !v.Open {
		body = lipgloss.NewStyle().
			Background(primary).
			Foreground(lipgloss.Color("#ffffff")).
			Padding(0, 2).
			Render("Chat (tab)")
	} else {
		body = m.window(v, primary, text)
	}

	align := lipgloss.Right
	if cfg.Position == config.PositionBottomLeft {
		align = lipgloss.Left
	}
	if m.width > 0 {
		body = lipgloss.PlaceHorizontal(m.width, align, body)
	}

	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n")
	if m.status != "" {
		b.WriteString(faintStyle.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(help)
	return b.String()
}

func (m Model) window(v chat.View, primary, text lipgloss.Color) string {
	header := lipgloss.NewStyle().
		Background(primary).
		Foreground(lipgloss.Color("#ffffff")).
		Bold(true).
		Padding(0, 1).
		Render("Chat Support")

	userStyle := lipgloss.NewStyle().Foreground(primary).Bold(true)
	botStyle := lipgloss.NewStyle().Foreground(text)

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n\n")
	for _, msg := range v.Messages {
		stamp := helpStyle.Render(msg.Timestamp.Format("15:04"))
		if msg.IsUser {
			b.WriteString(userStyle.Render("You") + " " + stamp + "\n")
			b.WriteString(botStyle.Render(msg.Text))
			b.WriteString("\n\n")
			continue
		}
		b.WriteString(botStyle.Render("Assistant") + " " + stamp + "\n")
		b.WriteString(m.markdown(msg.Text))
		b.WriteString("\n")
	}
	if v.Awaiting {
		b.WriteString(faintStyle.Render("typing..."))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(primary).
		Padding(0, 1).
		Render(strings.TrimRight(b.String(), "\n"))
}

func (m Model) markdown(s string) string {
	if m.md == nil {
		return s + "\n"
	}
	out, err := m.md.Render(s)
	if err != nil {
		return s + "\n"
	}
	return strings.Trim(out, "\n") + "\n"
}

// Run shows inst until ctx ends or the user quits.
func Run(ctx context.Context, inst *bootstrap.Instance, notifier *Notifier, opts Options, programOptions ...tea.ProgramOption) error {
	programOptions = append([]tea.ProgramOption{tea.WithContext(ctx)}, programOptions...)
	p := tea.NewProgram(New(inst, notifier, opts), programOptions...)
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
