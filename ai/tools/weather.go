package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const openMeteoURL = "https://api.open-meteo.com/v1/forecast"

// WeatherTool fetches current conditions from the Open-Meteo public API.
type WeatherTool struct {
	client  *http.Client
	baseURL string
}

func NewWeatherTool() *WeatherTool {
	return &WeatherTool{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: openMeteoURL,
	}
}

func (t *WeatherTool) Name() string { return "get_weather" }

func (t *WeatherTool) Description() string {
	return "Get the current weather at a location. Input is latitude and longitude in decimal degrees."
}

func (t *WeatherTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"latitude": {"type": "number", "description": "Latitude in decimal degrees"},
			"longitude": {"type": "number", "description": "Longitude in decimal degrees"}
		},
		"required": ["latitude", "longitude"],
		"additionalProperties": false
	}`)
}

func (t *WeatherTool) Execute(ctx context.Context, input json.RawMessage, _ *ChatContext) json.RawMessage {
	var args struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return errorOutput(fmt.Errorf("invalid input: %w", err))
	}
	if args.Latitude < -90 || args.Latitude > 90 || args.Longitude < -180 || args.Longitude > 180 {
		return errorOutput(fmt.Errorf("coordinates out of range"))
	}

	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", args.Latitude))
	q.Set("longitude", fmt.Sprintf("%.4f", args.Longitude))
	q.Set("current", "temperature_2m,weather_code,wind_speed_10m")
	q.Set("daily", "temperature_2m_max,temperature_2m_min,sunrise,sunset")
	q.Set("timezone", "auto")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return errorOutput(err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return errorOutput(fmt.Errorf("weather request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errorOutput(fmt.Errorf("weather service returned %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errorOutput(fmt.Errorf("weather response read failed: %w", err))
	}
	if !json.Valid(body) {
		return errorOutput(fmt.Errorf("weather service returned malformed payload"))
	}
	return json.RawMessage(body)
}
