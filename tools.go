package novasonic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// Tool is an action the assistant can invoke mid-conversation. Invoke
// receives the tool input as the JSON document the model produced and runs
// under a per-invocation context that is canceled on timeout, barge-in
// teardown, or session close. Implementations performing I/O must honor it.
type Tool interface {
	Name() string
	Description() string
	InputSchema() json.RawMessage
	Invoke(ctx context.Context, input string) (any, error)
}

// ToolRegistry holds the tools advertised to the model. Lookup is
// case-insensitive because the model does not reliably preserve the casing
// of tool names.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates a registry holding the given tools.
func NewToolRegistry(tools ...Tool) *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds a tool, replacing any tool with the same name.
func (r *ToolRegistry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[strings.ToLower(t.Name())] = t
}

// Lookup finds a tool by name, ignoring case.
func (r *ToolRegistry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[strings.ToLower(name)]
	return t, ok
}

// Len reports the number of registered tools.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Specs returns the wire-format tool catalog for the prompt handshake,
// sorted by name for a stable order.
func (r *ToolRegistry) Specs() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: ToolInputSchema{JSON: string(t.InputSchema())},
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// ClockTool reports the current date and time, optionally in a requested
// IANA timezone. It performs no I/O; the clock is injectable for tests.
type ClockTool struct {
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Name implements Tool.
func (ClockTool) Name() string { return "getDateAndTime" }

// Description implements Tool.
func (ClockTool) Description() string {
	return "Get the current date and time, optionally for a specific IANA timezone."
}

// InputSchema implements Tool.
func (ClockTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"timezone": {
				"type": "string",
				"description": "IANA timezone name such as Europe/Berlin. Defaults to UTC."
			}
		},
		"required": []
	}`)
}

// Invoke implements Tool.
func (t ClockTool) Invoke(_ context.Context, input string) (any, error) {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	loc := time.UTC
	if tz := gjson.Get(input, "timezone").String(); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", tz)
		}
		loc = l
	}
	cur := now().In(loc)
	return map[string]any{
		"timezone":  loc.String(),
		"date":      cur.Format("2006-01-02"),
		"time":      cur.Format("15:04:05"),
		"dayOfWeek": cur.Weekday().String(),
	}, nil
}

// WeatherTool fetches current weather for a coordinate pair from an
// open-meteo style endpoint. Requests are bounded by the invocation context
// and the HTTP client's own timeout, and optionally guarded by a circuit
// breaker shared across invocations.
type WeatherTool struct {
	// HTTPClient used for requests. Defaults to a client with a 5s timeout.
	HTTPClient *http.Client

	// BaseURL of the forecast endpoint. Defaults to the public open-meteo
	// API.
	BaseURL string

	// Breaker, when set, rejects invocations while the upstream is failing.
	Breaker *CircuitBreaker
}

const defaultWeatherURL = "https://api.open-meteo.com/v1/forecast"

var defaultWeatherClient = &http.Client{Timeout: 5 * time.Second}

// Name implements Tool.
func (WeatherTool) Name() string { return "getWeather" }

// Description implements Tool.
func (WeatherTool) Description() string {
	return "Get current weather conditions for a location given its latitude and longitude."
}

// InputSchema implements Tool.
func (WeatherTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"latitude": {"type": "number", "description": "Latitude in decimal degrees"},
			"longitude": {"type": "number", "description": "Longitude in decimal degrees"}
		},
		"required": ["latitude", "longitude"]
	}`)
}

// Invoke implements Tool.
func (t WeatherTool) Invoke(ctx context.Context, input string) (any, error) {
	lat := gjson.Get(input, "latitude")
	lon := gjson.Get(input, "longitude")
	if !lat.Exists() || !lon.Exists() {
		return nil, fmt.Errorf("latitude and longitude are required")
	}

	fetch := func() (json.RawMessage, error) {
		base := t.BaseURL
		if base == "" {
			base = defaultWeatherURL
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid weather endpoint: %w", err)
		}
		q := u.Query()
		q.Set("latitude", lat.String())
		q.Set("longitude", lon.String())
		q.Set("current_weather", "true")
		u.RawQuery = q.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		client := t.HTTPClient
		if client == nil {
			client = defaultWeatherClient
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("weather service returned status %d", resp.StatusCode)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if !gjson.ValidBytes(body) {
			return nil, fmt.Errorf("weather service returned invalid JSON")
		}
		return json.RawMessage(body), nil
	}

	if t.Breaker != nil {
		var doc json.RawMessage
		err := t.Breaker.Execute(func() error {
			var ferr error
			doc, ferr = fetch()
			return ferr
		})
		if err != nil {
			return nil, err
		}
		return doc, nil
	}
	return fetch()
}
