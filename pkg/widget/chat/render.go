package chat

import (
	"bytes"
	"html/template"
	"regexp"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chatwidget/pkg/widget/config"
	"github.com/go-go-golems/chatwidget/pkg/widget/markdown"
)

const botBubbleColor = "#f1f1f1"

const colorArg = `-?[0-9]{1,3}(\.[0-9]+)?(%|deg)?`

var colorToken = regexp.MustCompile(`^(#[0-9a-fA-F]{3,8}|[a-zA-Z]{3,20}|` +
	`(rgba?|hsla?)\( *` + colorArg + `(( *[,/] *| +)` + colorArg + `){2,3} *\))$`)

// safeColor returns c when it is a hex color, a named color or an
// rgb()/hsl() color with plain numeric arguments, fallback otherwise.
// Theme values come from the backend and end up in style attributes.
func safeColor(c, fallback string) string {
	if colorToken.MatchString(c) {
		return c
	}
	return fallback
}

// SafeTheme replaces every unusable color with its default.
func SafeTheme(t config.Theme) config.Theme {
	d := config.DefaultTheme()
	return config.Theme{
		PrimaryColor:    safeColor(t.PrimaryColor, d.PrimaryColor),
		BackgroundColor: safeColor(t.BackgroundColor, d.BackgroundColor),
		TextColor:       safeColor(t.TextColor, d.TextColor),
	}
}

type renderedMessage struct {
	ID     string
	IsUser bool
	// Text is escaped by the template, HTML is sanitized markdown.
	Text  string
	HTML  template.HTML
	Style template.CSS
	Time  string
}

type renderData struct {
	Open        bool
	Awaiting    bool
	Input       string
	CanSend     bool
	Messages    []renderedMessage
	ToggleStyle template.CSS
	WindowStyle template.CSS
	HeaderStyle template.CSS
	InputStyle  template.CSS
	SendStyle   template.CSS
	TypingStyle template.CSS
}

var widgetTemplate = template.Must(template.New("widget").Parse(`<div class="chatbot-widget">
{{- if not .Open }}
<button class="chat-toggle-button" data-action="toggle" style="{{ .ToggleStyle }}" aria-label="Open chat">
<svg width="24" height="24" viewBox="0 0 24 24" fill="none" xmlns="http://www.w3.org/2000/svg"><path d="M20 2H4C2.9 2 2.01 2.9 2.01 4L2 22L6 18H20C21.1 18 22 17.1 22 16V4C22 2.9 21.1 2 20 2ZM6 9H18V11H6V9ZM14 14H6V12H14V14ZM18 8H6V6H18V8Z" fill="white"></path></svg>
</button>
{{- else }}
<div class="chat-window" style="{{ .WindowStyle }}">
<div class="chat-header chatbot-gradient" style="{{ .HeaderStyle }}">
<h3 class="chat-title">Chat Support</h3>
<button class="chat-close-button" data-action="toggle" aria-label="Close chat">
<svg width="20" height="20" viewBox="0 0 20 20" fill="none" xmlns="http://www.w3.org/2000/svg"><path d="M15 5L5 15M5 5L15 15" stroke="white" stroke-width="2" stroke-linecap="round" stroke-linejoin="round"></path></svg>
</button>
</div>
<div class="chat-messages">
{{- range .Messages }}
<div class="message {{ if .IsUser }}user-message{{ else }}bot-message{{ end }}" data-message-id="{{ .ID }}">
<div class="message-bubble" style="{{ .Style }}">{{ if .IsUser }}{{ .Text }}{{ else }}{{ .HTML }}{{ end }}</div>
<div class="message-time">{{ .Time }}</div>
</div>
{{- end }}
{{- if .Awaiting }}
<div class="message bot-message">
<div class="message-bubble typing-indicator" style="{{ .TypingStyle }}"><div class="typing-dots"><span></span><span></span><span></span></div></div>
</div>
{{- end }}
</div>
<div class="chat-input-container">
<div class="chat-input-wrapper">
<textarea class="chat-input" placeholder="Type your message..." rows="1" style="{{ .InputStyle }}"{{ if .Awaiting }} disabled{{ end }}>{{ .Input }}</textarea>
<button class="send-button" data-action="send" style="{{ .SendStyle }}"{{ if not .CanSend }} disabled{{ end }} aria-label="Send">
<svg width="20" height="20" viewBox="0 0 20 20" fill="none" xmlns="http://www.w3.org/2000/svg"><path d="M2 10L18 2L14 10L18 18L2 10Z" fill="white"></path></svg>
</button>
</div>
</div>
</div>
{{- end }}
</div>`))

// HTMLRenderer turns a session View into the widget's HTML fragment.
type HTMLRenderer struct {
	md *markdown.Renderer
}

func NewHTMLRenderer() *HTMLRenderer {
	return &HTMLRenderer{md: markdown.NewRenderer()}
}

// Render produces the fragment mounted into the widget container.
// Assistant text goes through the markdown renderer, user text is only
// escaped.
func (r *HTMLRenderer) Render(v View) (string, error) {
	theme := SafeTheme(v.Props.Theme)

	data := renderData{
		Open:        v.Open,
		Awaiting:    v.Awaiting,
		Input:       v.Input,
		CanSend:     v.CanSend(),
		ToggleStyle: css("background-color: " + theme.PrimaryColor),
		WindowStyle: css("background-color: " + theme.BackgroundColor),
		HeaderStyle: css("background: " + theme.PrimaryColor),
		InputStyle:  css("color: " + theme.TextColor),
		SendStyle:   css("background-color: " + theme.PrimaryColor),
		TypingStyle: css("background-color: " + botBubbleColor),
	}
	for _, m := range v.Messages {
		rm := renderedMessage{
			ID:     m.ID,
			IsUser: m.IsUser,
			Time:   m.Timestamp.Format("15:04"),
		}
		if m.IsUser {
			rm.Text = m.Text
			rm.Style = css("background-color: " + theme.PrimaryColor + "; color: white")
		} else {
			body, err := r.md.Render(m.Text)
			if err != nil {
				return "", errors.Wrapf(err, "render message %s", m.ID)
			}
			rm.HTML = template.HTML(body)
			rm.Style = css("background-color: " + botBubbleColor + "; color: " + theme.TextColor)
		}
		data.Messages = append(data.Messages, rm)
	}

	var buf bytes.Buffer
	if err := widgetTemplate.Execute(&buf, data); err != nil {
		return "", errors.Wrap(err, "execute widget template")
	}
	return buf.String(), nil
}

// css marks a declaration built only from validated colors as safe.
func css(s string) template.CSS {
	return template.CSS(s)
}
