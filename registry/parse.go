package registry

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/monstercameron/htmlex-go/binding"
	"github.com/monstercameron/htmlex-go/domupdate"
	"github.com/monstercameron/htmlex-go/poll"
	"github.com/monstercameron/htmlex-go/target"
)

// methodAttrs lists the five method-bearing attributes in the order
// they're checked; first match wins, matching the data model's single
// method field per binding.
var methodAttrs = []struct {
	name   string
	method binding.Method
}{
	{"get", binding.MethodGet},
	{"post", binding.MethodPost},
	{"put", binding.MethodPut},
	{"delete", binding.MethodDelete},
	{"patch", binding.MethodPatch},
}

// recognizedAttrs is the exhaustive attribute surface from §6: an
// element carrying any one of these is eligible for registration.
var recognizedAttrs = map[string]bool{
	"get": true, "post": true, "put": true, "delete": true, "patch": true,
	"trigger": true, "target": true, "source": true, "extras": true,
	"loading": true, "onerror": true, "auto": true, "cache": true,
	"retry": true, "timeout": true, "debounce": true, "throttle": true,
	"poll": true, "repeat": true, "sequential": true, "publish": true,
	"subscribe": true, "timer": true, "socket": true,
	"push": true, "pull": true, "path": true, "history": true,
	"onbefore": true, "onbeforeswap": true, "onafterswap": true, "onafter": true,
	"debug": true,
}

// HasRecognizedAttr reports whether el carries any attribute from the
// recognized surface, making it eligible for registration.
func HasRecognizedAttr(el *html.Node) bool {
	for _, a := range el.Attr {
		if recognizedAttrs[strings.ToLower(a.Key)] {
			return true
		}
	}
	return false
}

// ParseBinding reads el's recognized attributes into a fresh Binding.
// Callers must still call b.Runtime.TryRegister before acting on it.
func ParseBinding(el *html.Node) *binding.Binding {
	b := binding.New(el)

	for _, m := range methodAttrs {
		if v, ok := domupdate.Attr(el, m.name); ok {
			b.Method = m.method
			b.Endpoint = v
			break
		}
	}

	b.Trigger = strings.TrimPrefix(strings.ToLower(attrString(el, "trigger")), "on")

	b.Target = target.Parse(attrString(el, "target"))
	b.Source = strings.Fields(attrString(el, "source"))
	b.Extras = parseKV(attrString(el, "extras"))
	b.Loading = target.Parse(attrString(el, "loading"))
	b.OnError = target.Parse(attrString(el, "onerror"))

	b.Debounce = attrMillis(el, "debounce")
	b.Throttle = attrMillis(el, "throttle")
	b.Timeout = attrMillis(el, "timeout")
	b.Retry = attrInt(el, "retry")
	b.CacheTTL = attrMillis(el, "cache")

	parseAuto(el, b)

	parsePoll(el, b)
	b.PollRepeat = attrInt(el, "repeat")

	if v, ok := domupdate.Attr(el, "sequential"); ok {
		b.Sequential = true
		if ms, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			b.SequentialDelay = time.Duration(ms) * time.Millisecond
		}
	}

	b.Publish = attrString(el, "publish")
	b.Subscribe = strings.Fields(attrString(el, "subscribe"))

	if v, ok := domupdate.Attr(el, "timer"); ok {
		b.HasTimer = true
		if ms, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			b.TimerDelay = time.Duration(ms) * time.Millisecond
		}
	}

	b.SocketURL = attrString(el, "socket")

	b.OnBefore = attrString(el, "onbefore")
	b.OnBeforeSwap = attrString(el, "onbeforeswap")
	b.OnAfterSwap = attrString(el, "onafterswap")
	b.OnAfter = attrString(el, "onafter")

	parseURLState(el, b)

	b.Debug = hasAttr(el, "debug")

	return b
}

func parseAuto(el *html.Node, b *binding.Binding) {
	v, ok := domupdate.Attr(el, "auto")
	if !ok {
		b.AutoMode = binding.AutoNone
		return
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "lazy":
		b.AutoMode = binding.AutoLazy
	case "prefetch":
		b.AutoMode = binding.AutoPrefetch
	default:
		if ms, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			b.AutoMode = binding.AutoDelay
			b.AutoDelay = time.Duration(ms) * time.Millisecond
		}
	}
}

// parsePoll reads the poll attribute as either a plain millisecond
// interval or, if it doesn't parse as an integer, a five-field cron
// expression (e.g. "poll=\"*/5 * * * *\"") for a binding whose
// server-side counterpart expects wall-clock-aligned ticks. A bare
// interval below poll.MinInterval is refused outright rather than
// clamped up to the floor.
func parsePoll(el *html.Node, b *binding.Binding) {
	raw, ok := domupdate.Attr(el, "poll")
	if !ok {
		return
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		interval := time.Duration(ms) * time.Millisecond
		if interval <= 0 {
			return
		}
		if interval < poll.MinInterval {
			return
		}
		b.PollInterval = interval
		return
	}
	b.PollExpr = raw
}

func parseURLState(el *html.Node, b *binding.Binding) {
	push := attrString(el, "push")
	pull := attrString(el, "pull")
	path := attrString(el, "path")
	hist := attrString(el, "history")

	b.URLPush = parseKV(push)
	b.URLPull = strings.Fields(pull)
	b.URLPath = path
	if strings.EqualFold(strings.TrimSpace(hist), "push") {
		b.URLHistory = binding.HistoryPush
	} else {
		b.URLHistory = binding.HistoryReplace
	}
	b.HasURLState = push != "" || pull != "" || path != ""
}

// parseKV parses whitespace-separated "key=value" tokens into a map,
// used for both extras and push.
func parseKV(s string) map[string]string {
	out := make(map[string]string)
	for _, tok := range strings.Fields(s) {
		kv := strings.SplitN(tok, "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		}
	}
	return out
}

func attrString(el *html.Node, name string) string {
	v, _ := domupdate.Attr(el, name)
	return v
}

func hasAttr(el *html.Node, name string) bool {
	_, ok := domupdate.Attr(el, name)
	return ok
}

func attrInt(el *html.Node, name string) int {
	v, ok := domupdate.Attr(el, name)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return n
}

func attrMillis(el *html.Node, name string) time.Duration {
	return time.Duration(attrInt(el, name)) * time.Millisecond
}
