package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	archivePath     = "/archive"
	hourlyLayout    = "2006-01-02T15:04"
	dateLayout      = "2006-01-02"
	defaultVariable = "temperature_2m"
)

// OpenMeteoOptions parameterise the Open-Meteo archive fetcher.
type OpenMeteoOptions struct {
	BaseURL   string
	Latitude  float64
	Longitude float64
	// Variable is an hourly variable such as temperature_2m or precipitation.
	Variable string
	// Aggregation folds the hourly samples: max, min, mean or sum.
	Aggregation string
	Timeout     time.Duration
	UserAgent   string
}

// OpenMeteo fetches historical hourly observations from the Open-Meteo archive API.
type OpenMeteo struct {
	opts    OpenMeteoOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewOpenMeteo constructs an archive fetcher.
func NewOpenMeteo(opts OpenMeteoOptions, logger zerolog.Logger) *OpenMeteo {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://archive-api.open-meteo.com/v1"
	}
	if opts.Variable == "" {
		opts.Variable = defaultVariable
	}
	if opts.Aggregation == "" {
		opts.Aggregation = "max"
	}

	return &OpenMeteo{
		opts:    opts,
		logger:  logger.With().Str("component", "open_meteo_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchMeasurement aggregates the hourly samples whose timestamp falls in [from, to).
func (o *OpenMeteo) FetchMeasurement(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	if !to.After(from) {
		return decimal.Decimal{}, errors.New("window end must be after start")
	}
	from, to = from.UTC(), to.UTC()

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(o.opts.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(o.opts.Longitude, 'f', -1, 64))
	q.Set("start_date", from.Format(dateLayout))
	// The last instant inside the window decides the final day to request.
	q.Set("end_date", to.Add(-time.Second).Format(dateLayout))
	q.Set("hourly", o.opts.Variable)
	q.Set("timezone", "GMT")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+archivePath+"?"+q.Encode(), nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(o.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "weather-oracle/1.0")
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, parseHTTPError(resp.StatusCode, payload)
	}

	var res archiveResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return decimal.Decimal{}, err
	}
	samples, err := res.samples(o.opts.Variable, from, to)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(samples) == 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: %s %s..%s", ErrNoSamples, o.opts.Variable,
			from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	m, err := aggregate(o.opts.Aggregation, samples)
	if err != nil {
		return decimal.Decimal{}, err
	}
	o.logger.Debug().
		Str("variable", o.opts.Variable).
		Str("aggregation", o.opts.Aggregation).
		Int("samples", len(samples)).
		Str("measurement", m.String()).
		Msg("fetched measurement")
	return m, nil
}

type archiveResponse struct {
	Hourly map[string]json.RawMessage `json:"hourly"`
}

func (r archiveResponse) samples(variable string, from, to time.Time) ([]decimal.Decimal, error) {
	rawTimes, ok := r.Hourly["time"]
	if !ok {
		return nil, errors.New("open-meteo response missing hourly.time")
	}
	rawValues, ok := r.Hourly[variable]
	if !ok {
		return nil, fmt.Errorf("open-meteo response missing hourly.%s", variable)
	}

	var times []string
	if err := json.Unmarshal(rawTimes, &times); err != nil {
		return nil, fmt.Errorf("decode hourly.time: %w", err)
	}
	var values []decimal.NullDecimal
	if err := json.Unmarshal(rawValues, &values); err != nil {
		return nil, fmt.Errorf("decode hourly.%s: %w", variable, err)
	}
	if len(times) != len(values) {
		return nil, fmt.Errorf("hourly.time has %d entries, hourly.%s has %d", len(times), variable, len(values))
	}

	out := make([]decimal.Decimal, 0, len(values))
	for i, ts := range times {
		at, err := time.ParseInLocation(hourlyLayout, ts, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse hourly time %q: %w", ts, err)
		}
		if at.Before(from) || !at.Before(to) || !values[i].Valid {
			continue
		}
		out = append(out, values[i].Decimal)
	}
	return out, nil
}

func aggregate(kind string, samples []decimal.Decimal) (decimal.Decimal, error) {
	switch kind {
	case "max":
		return decimal.Max(samples[0], samples[1:]...), nil
	case "min":
		return decimal.Min(samples[0], samples[1:]...), nil
	case "sum":
		return decimal.Sum(samples[0], samples[1:]...), nil
	case "mean":
		return decimal.Avg(samples[0], samples[1:]...), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("unknown aggregation %q", kind)
	}
}

type errorResponse struct {
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Reason != "" {
		return fmt.Errorf("open-meteo api error (%d): %s", status, apiErr.Reason)
	}
	if len(payload) > 0 {
		return fmt.Errorf("open-meteo api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("open-meteo api error (%d)", status)
}

var _ MeasurementFetcher = (*OpenMeteo)(nil)
