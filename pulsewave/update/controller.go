package update

// Handler reacts to changed store paths or events it has declared
// interest in via Matcher (spec §4.2).
type Handler interface {
	HandleUpdate()
	Stop()
	Matcher() Matcher
}

// Controller dispatches a batch of changed paths to the handlers whose
// matcher matches, caching the match set per path until the registered
// matchers change (spec §4.2).
type Controller struct {
	handlers        []Handler
	handlerCache    map[string][]Handler
	currentMatchers []Matcher
}

// NewController returns an empty controller.
func NewController() *Controller {
	return &Controller{handlerCache: make(map[string][]Handler)}
}

// Add registers handler and invalidates the match cache.
func (c *Controller) Add(handler Handler) {
	c.handlers = append(c.handlers, handler)
	c.handlerCache = make(map[string][]Handler)
}

// Handle dispatches every event in events to matching handlers, each
// handler invoked at most once per call even if multiple events match it.
func (c *Controller) Handle(events []string) {
	matchersChanged := false
	for _, h := range c.handlers {
		if !containsMatcher(c.currentMatchers, h.Matcher()) {
			c.currentMatchers = append(c.currentMatchers, h.Matcher())
			matchersChanged = true
		}
	}
	if matchersChanged {
		c.handlerCache = make(map[string][]Handler)
	}

	var toRun []Handler
	seen := make(map[Handler]bool)
	addToRun := func(h Handler) {
		if !seen[h] {
			seen[h] = true
			toRun = append(toRun, h)
		}
	}
	for _, event := range events {
		if cached, ok := c.handlerCache[event]; ok {
			for _, h := range cached {
				addToRun(h)
			}
			continue
		}
		var matched []Handler
		for _, h := range c.handlers {
			if h.Matcher().Matches(event) {
				matched = append(matched, h)
				addToRun(h)
			}
		}
		c.handlerCache[event] = matched
	}
	for _, h := range toRun {
		h.HandleUpdate()
	}
}

// Stop stops every registered handler.
func (c *Controller) Stop() {
	for _, h := range c.handlers {
		h.Stop()
	}
}

func containsMatcher(matchers []Matcher, m Matcher) bool {
	for _, existing := range matchers {
		if existing == m {
			return true
		}
	}
	return false
}
