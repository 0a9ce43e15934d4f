package logger

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const (
	colorReset = "\x1b[0m"
	colorBold  = "\x1b[1m"
)

// palette is the set of colors one console theme uses.
type palette struct {
	fg       string
	time     string
	id       string
	number   string
	comp     []string
	warn     string
	warnBg   string
	err      string
	errBg    string
	lifecycle string
}

var themes = map[string]palette{
	// Everforest Dark: natural forest greens
	"everforest": {
		fg:       "\x1b[38;5;223m",
		time:     "\x1b[38;5;107m",
		id:       "\x1b[38;5;109m",
		number:   "\x1b[38;5;108m",
		comp:     []string{"\x1b[38;5;108m", "\x1b[38;5;65m", "\x1b[38;5;208m"},
		warn:     "\x1b[38;5;179m",
		warnBg:   "\x1b[48;5;58m",
		err:      "\x1b[38;5;167m",
		errBg:    "\x1b[48;5;52m",
		lifecycle: "\x1b[38;5;65m",
	},
	// Gruvbox Dark: warm and muted
	"gruvbox": {
		fg:       "\x1b[38;5;223m",
		time:     "\x1b[38;5;108m",
		id:       "\x1b[38;5;109m",
		number:   "\x1b[38;5;175m",
		comp:     []string{"\x1b[38;5;208m", "\x1b[38;5;214m"},
		warn:     "\x1b[38;5;214m",
		warnBg:   "\x1b[48;5;58m",
		err:      "\x1b[38;5;167m",
		errBg:    "\x1b[48;5;88m",
		lifecycle: "\x1b[38;5;208m",
	},
}

var currentTheme = "everforest"

// SetTheme configures the color scheme for console output.
// Unknown themes are ignored.
func SetTheme(theme string) {
	if _, ok := themes[theme]; ok {
		currentTheme = theme
	}
}

func colors() palette {
	return themes[currentTheme]
}

func colorComponent(name string) string {
	// Hash for consistent color per component
	hash := 0
	for _, c := range name {
		hash += int(c)
	}
	comp := colors().comp
	return comp[hash%len(comp)]
}

func colorMessage(msg string) string {
	lower := strings.ToLower(msg)
	for _, word := range []string{"starting", "started", "closing", "stopped", "listening"} {
		if strings.Contains(lower, word) {
			return colors().lifecycle
		}
	}
	return colors().fg
}

// identifier-like keys render in the id color, counts in the number color
var (
	idKeys = map[string]bool{
		FieldOID: true, FieldPeer: true, FieldSession: true,
		FieldRequestID: true, FieldDigest: true, FieldKey: true,
	}
	numberKeys = map[string]bool{
		FieldCount: true, FieldSize: true, FieldDurationMS: true,
	}
)

// minimalEncoder implements a calm, compact console encoder.
// Format: "13:04:35  s.peer  Peer connected  peer=127.0.0.1:52289"
//
// Fields attached through logger.With land in the embedded map encoder and
// are printed ahead of the entry's own fields.
type minimalEncoder struct {
	*zapcore.MapObjectEncoder
}

func newMinimalEncoder() *minimalEncoder {
	return &minimalEncoder{MapObjectEncoder: zapcore.NewMapObjectEncoder()}
}

func (enc *minimalEncoder) Clone() zapcore.Encoder {
	clone := newMinimalEncoder()
	for k, v := range enc.Fields {
		clone.Fields[k] = v
	}
	return clone
}

func (enc *minimalEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	final := buffer.NewPool().Get()
	c := colors()

	final.AppendString(c.time)
	final.AppendString(ent.Time.Format("15:04:05"))
	final.AppendString(colorReset)

	// Level: only show for non-info with bold + background
	if lvl := levelColorString(ent.Level); lvl != "" {
		final.AppendString("  ")
		final.AppendString(lvl)
	}

	if ent.LoggerName != "" {
		final.AppendString("  ")
		final.AppendString(colorComponent(ent.LoggerName))
		final.AppendString(abbreviateName(ent.LoggerName))
		final.AppendString(colorReset)
	}

	final.AppendString("  ")
	final.AppendString(colorMessage(ent.Message))
	final.AppendString(ent.Message)
	final.AppendString(colorReset)

	rendered := renderMap(enc.Fields)
	if own := renderFields(fields); own != "" {
		if rendered != "" {
			rendered += " "
		}
		rendered += own
	}
	if rendered != "" {
		final.AppendString("  ")
		final.AppendString(rendered)
	}

	final.AppendString("\n")
	return final, nil
}

// levelColorString returns bold + colored + background for WARN and above
func levelColorString(level zapcore.Level) string {
	c := colors()
	switch level {
	case zapcore.InfoLevel:
		return ""
	case zapcore.DebugLevel:
		return c.fg + "DEBUG" + colorReset
	case zapcore.WarnLevel:
		return colorBold + c.warnBg + c.warn + "WARN" + colorReset
	default:
		return colorBold + c.errBg + c.err + level.CapitalString() + colorReset
	}
}

// abbreviateName shortens component names: sync.peer -> s.peer
func abbreviateName(name string) string {
	parts := strings.Split(name, ".")
	if len(parts) > 1 && parts[0] != "" {
		return string(parts[0][0]) + "." + strings.Join(parts[1:], ".")
	}
	return name
}

// renderFields prints every field as key=value in order. Nothing is dropped.
func renderFields(fields []zapcore.Field) string {
	var out []string
	for _, field := range fields {
		m := zapcore.NewMapObjectEncoder()
		field.AddTo(m)
		if s := renderMap(m.Fields); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, " ")
}

func renderMap(fields map[string]interface{}) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		// verbose error stacks belong in JSON output only
		if strings.HasSuffix(k, "Verbose") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, colorField(k, fmt.Sprintf("%v", fields[k])))
	}
	return strings.Join(out, " ")
}

func colorField(key, value string) string {
	c := colors()
	switch {
	case idKeys[key]:
		return key + "=" + c.id + value + colorReset
	case numberKeys[key]:
		return key + "=" + c.number + value + colorReset
	case key == FieldError:
		return key + "=" + c.err + value + colorReset
	default:
		return key + "=" + value
	}
}
