package tui

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatwidget/pkg/widget/bootstrap"
	"github.com/go-go-golems/chatwidget/pkg/widget/chat"
	"github.com/go-go-golems/chatwidget/pkg/widget/config"
	"github.com/go-go-golems/chatwidget/pkg/widget/page"
)

type stubBackend struct {
	config string
	reply  string
}

func (b stubBackend) Send(_ context.Context, req chat.Request) (string, error) {
	if b.reply == "" {
		return "", errors.New("down")
	}
	return b.reply + " " + req.Message, nil
}

func (b stubBackend) FetchConfig(context.Context, string) ([]byte, error) {
	return []byte(b.config), nil
}

func newModel(t *testing.T, backend stubBackend) (Model, *bootstrap.Instance, *[]string) {
	t.Helper()
	nop := zerolog.Nop()
	notifier := NewNotifier()
	reg := bootstrap.NewRegistry(bootstrap.Options{
		Backend:  backend,
		OnRender: notifier.OnRender,
		Logger:   &nop,
	})
	inst, err := reg.Construct(context.Background(), page.Blank(), bootstrap.InstanceConfig{ClientID: "abc123"})
	require.NoError(t, err)
	t.Cleanup(reg.DestroyAll)

	var copied []string
	m := New(inst, notifier, Options{
		Style: "notty",
		Copy: func(s string) error {
			copied = append(copied, s)
			return nil
		},
	})
	return m, inst, &copied
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	require.True(t, ok)
	return nm, cmd
}

func typeText(t *testing.T, m Model, s string) Model {
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return m
}

func TestClosedShowsToggle(t *testing.T) {
	m, _, _ := newModel(t, stubBackend{config: `{"welcome_message":"Hi from Acme"}`})
	view := m.View()
	require.Contains(t, view, "Chat (tab)")
	require.NotContains(t, view, "Hi from Acme")
}

func TestTabOpensWithWelcome(t *testing.T) {
	m, inst, _ := newModel(t, stubBackend{config: `{"welcome_message":"Hi from Acme"}`})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	require.True(t, inst.Session().View().Open)
	require.Contains(t, m.View(), "Hi from Acme")
	require.Contains(t, m.View(), "Chat Support")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	require.False(t, inst.Session().View().Open)
}

func TestEnterSubmits(t *testing.T) {
	m, inst, _ := newModel(t, stubBackend{config: `{}`, reply: "echo"})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m = typeText(t, m, "hello")
	require.Equal(t, "hello", inst.Session().View().Input)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.Empty(t, m.input.Value())
	inst.Session().Wait()

	msgs := inst.Session().Messages()
	require.Len(t, msgs, 3)
	require.Equal(t, "hello", msgs[1].Text)
	require.True(t, msgs[1].IsUser)
	require.Equal(t, "echo hello", msgs[2].Text)
	require.Contains(t, m.View(), "echo hello")
}

func TestAltEnterDoesNotSubmit(t *testing.T) {
	m, inst, _ := newModel(t, stubBackend{config: `{}`, reply: "echo"})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m = typeText(t, m, "draft")
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter, Alt: true})
	require.Equal(t, "draft", m.input.Value())
	require.Len(t, inst.Session().Messages(), 1)
}

func TestFailedReplyShowsApology(t *testing.T) {
	m, inst, _ := newModel(t, stubBackend{config: `{}`})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m = typeText(t, m, "hi")
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	inst.Session().Wait()
	require.Contains(t, m.View(), chat.ApologyMessage)
}

func TestCopyLastReply(t *testing.T) {
	m, inst, copied := newModel(t, stubBackend{config: `{}`, reply: "echo"})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlY})
	require.Equal(t, "nothing to copy", m.status)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m = typeText(t, m, "x")
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	inst.Session().Wait()

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlY})
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())
	require.Equal(t, []string{"echo x"}, *copied)
	require.Equal(t, "reply copied", m.status)
}

func TestDisabledConfigHidesWidget(t *testing.T) {
	m, inst, _ := newModel(t, stubBackend{config: `{"enabled": false}`})
	require.Contains(t, m.View(), "unavailable")

	_, _, err := inst.Cell().Push([]byte(`{"enabled": true}`))
	require.NoError(t, err)
	require.Contains(t, m.View(), "Chat (tab)")
}

func TestCtrlCQuits(t *testing.T) {
	m, _, _ := newModel(t, stubBackend{config: `{}`})
	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
}

func TestNotifierCoalesces(t *testing.T) {
	n := NewNotifier()
	n.OnRender(nil, config.WidgetConfig{})
	n.OnRender(nil, config.WidgetConfig{})
	require.Len(t, n.ch, 1)
	require.IsType(t, renderedMsg{}, n.wait()())
	require.Len(t, n.ch, 0)
}
