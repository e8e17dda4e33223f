package agent

import (
	"strings"

	"github.com/stellarlinkco/termpal/internal/model"
)

// gate decides which streamed text reaches the user. Leading whitespace is
// held until the reply shows real text; once a function call appears nothing
// more is emitted until the turn's final text is known.
type gate struct {
	emit    func(string)
	held    strings.Builder
	shown   strings.Builder
	flushed bool
	blocked bool
}

func (g *gate) handle(ev model.Event) error {
	if ev.Call != nil {
		g.block()
		return nil
	}
	if g.blocked || ev.Delta == "" {
		return nil
	}
	if g.flushed {
		g.write(ev.Delta)
		return nil
	}
	g.held.WriteString(ev.Delta)
	if strings.TrimSpace(g.held.String()) == "" {
		return nil
	}
	g.flushed = true
	g.write(g.held.String())
	g.held.Reset()
	return nil
}

func (g *gate) write(text string) {
	g.shown.WriteString(text)
	g.emit(text)
}

func (g *gate) block() {
	g.blocked = true
	g.held.Reset()
}

// finish emits the turn's final text, separated from anything already shown,
// and returns the whole of what the user saw.
func (g *gate) finish(text string) string {
	if !g.flushed {
		g.emit(text)
		return text
	}
	g.emit(summarySeparator)
	g.emit(text)
	return g.shown.String() + summarySeparator + text
}
