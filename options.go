package dgstream

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// audioOptionKeys lists the recognized AudioStreamOptions query keys in
// alphabetical order; ParseAudioStreamOptions walks it when decoding.
// QueryString sorts the keys itself, so the wire order is alphabetical
// regardless of set order.
var audioOptionKeys = []string{
	"channels", "diarize", "encoding", "interim_results", "language",
	"model", "punctuate", "sample_rate", "tier", "version",
}

// AudioStreamOptions describes the audio stream parameters serialized into
// the Deepgram connect URL's query string. Any subset of fields may be
// absent; absent fields are simply omitted from the serialized query.
type AudioStreamOptions struct {
	encoding       *string
	sampleRate     *int
	channels       *int
	language       *string
	model          *string
	punctuate      *bool
	interimResults *bool
	diarize        *bool
	tier           *string
	version        *string
}

// NewAudioStreamOptions returns an empty, all-fields-absent
// AudioStreamOptions ready for chained Set* calls.
func NewAudioStreamOptions() *AudioStreamOptions {
	return &AudioStreamOptions{}
}

// SetEncoding sets the audio encoding (e.g. "linear16", "opus", "mulaw").
// Fails with InvalidArgument if v is empty.
func (o *AudioStreamOptions) SetEncoding(v string) (*AudioStreamOptions, error) {
	if v == "" {
		return o, NewError("options.set_encoding", ErrInvalidArgument, "encoding must not be empty", nil)
	}
	o.encoding = &v
	return o, nil
}

// SetSampleRate sets the audio sample rate in Hz. Fails with
// InvalidArgument if v is not positive.
func (o *AudioStreamOptions) SetSampleRate(v int) (*AudioStreamOptions, error) {
	if v <= 0 {
		return o, NewError("options.set_sample_rate", ErrInvalidArgument, "sample_rate must be positive", nil)
	}
	o.sampleRate = &v
	return o, nil
}

// SetChannels sets the audio channel count. Fails with InvalidArgument if v
// is not positive.
func (o *AudioStreamOptions) SetChannels(v int) (*AudioStreamOptions, error) {
	if v <= 0 {
		return o, NewError("options.set_channels", ErrInvalidArgument, "channels must be positive", nil)
	}
	o.channels = &v
	return o, nil
}

// SetLanguage sets the BCP-47 language tag. Fails with InvalidArgument if v
// is empty.
func (o *AudioStreamOptions) SetLanguage(v string) (*AudioStreamOptions, error) {
	if v == "" {
		return o, NewError("options.set_language", ErrInvalidArgument, "language must not be empty", nil)
	}
	o.language = &v
	return o, nil
}

// SetModel sets the Deepgram model name (e.g. "nova-2"). Fails with
// InvalidArgument if v is empty.
func (o *AudioStreamOptions) SetModel(v string) (*AudioStreamOptions, error) {
	if v == "" {
		return o, NewError("options.set_model", ErrInvalidArgument, "model must not be empty", nil)
	}
	o.model = &v
	return o, nil
}

// SetPunctuate toggles server-side punctuation.
func (o *AudioStreamOptions) SetPunctuate(v bool) (*AudioStreamOptions, error) {
	o.punctuate = &v
	return o, nil
}

// SetInterimResults toggles delivery of non-final (interim) transcript
// events.
func (o *AudioStreamOptions) SetInterimResults(v bool) (*AudioStreamOptions, error) {
	o.interimResults = &v
	return o, nil
}

// SetDiarize toggles speaker diarization.
func (o *AudioStreamOptions) SetDiarize(v bool) (*AudioStreamOptions, error) {
	o.diarize = &v
	return o, nil
}

// SetTier sets the Deepgram pricing/quality tier. Fails with
// InvalidArgument if v is empty.
func (o *AudioStreamOptions) SetTier(v string) (*AudioStreamOptions, error) {
	if v == "" {
		return o, NewError("options.set_tier", ErrInvalidArgument, "tier must not be empty", nil)
	}
	o.tier = &v
	return o, nil
}

// SetVersion sets the model version pin. Fails with InvalidArgument if v is
// empty.
func (o *AudioStreamOptions) SetVersion(v string) (*AudioStreamOptions, error) {
	if v == "" {
		return o, NewError("options.set_version", ErrInvalidArgument, "version must not be empty", nil)
	}
	o.version = &v
	return o, nil
}

// values returns the set fields as a url.Values map, omitting absent ones.
func (o *AudioStreamOptions) values() url.Values {
	v := url.Values{}
	if o.encoding != nil {
		v.Set("encoding", *o.encoding)
	}
	if o.sampleRate != nil {
		v.Set("sample_rate", strconv.Itoa(*o.sampleRate))
	}
	if o.channels != nil {
		v.Set("channels", strconv.Itoa(*o.channels))
	}
	if o.language != nil {
		v.Set("language", *o.language)
	}
	if o.model != nil {
		v.Set("model", *o.model)
	}
	if o.punctuate != nil {
		v.Set("punctuate", strconv.FormatBool(*o.punctuate))
	}
	if o.interimResults != nil {
		v.Set("interim_results", strconv.FormatBool(*o.interimResults))
	}
	if o.diarize != nil {
		v.Set("diarize", strconv.FormatBool(*o.diarize))
	}
	if o.tier != nil {
		v.Set("tier", *o.tier)
	}
	if o.version != nil {
		v.Set("version", *o.version)
	}
	return v
}

// QueryString serializes the set fields as "key=value" pairs joined by "&",
// with no leading "?" or "&". Keys are sorted for determinism, though
// serialization is itself order-agnostic.
func (o *AudioStreamOptions) QueryString() string {
	v := o.values()
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+v.Get(k))
	}
	return strings.Join(parts, "&")
}

// AppendToURL appends the serialized query to baseURL, prefixed with "?" if
// baseURL carries no query component yet, else "&". An empty
// AudioStreamOptions leaves baseURL unchanged.
func (o *AudioStreamOptions) AppendToURL(baseURL string) string {
	qs := o.QueryString()
	if qs == "" {
		return baseURL
	}
	if strings.Contains(baseURL, "?") {
		return baseURL + "&" + qs
	}
	return baseURL + "?" + qs
}

// Equal reports whether o and other carry the same set of fields with the
// same values.
func (o *AudioStreamOptions) Equal(other *AudioStreamOptions) bool {
	if other == nil {
		return false
	}
	return o.QueryString() == other.QueryString()
}

// ParseAudioStreamOptions decodes a query string (as produced by
// QueryString, with or without a leading "?") back into an
// AudioStreamOptions. It is the inverse of QueryString, satisfying the
// round-trip law parse(serialize(opt)) = opt for every recognized key.
func ParseAudioStreamOptions(query string) (*AudioStreamOptions, error) {
	query = strings.TrimPrefix(query, "?")
	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, NewError("options.parse", ErrInvalidArgument, "malformed query string", err)
	}

	o := NewAudioStreamOptions()
	for _, key := range audioOptionKeys {
		if !values.Has(key) {
			continue
		}
		raw := values.Get(key)
		var setErr error
		switch key {
		case "encoding":
			_, setErr = o.SetEncoding(raw)
		case "sample_rate":
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, NewError("options.parse", ErrInvalidArgument, "sample_rate is not an integer", err)
			}
			_, setErr = o.SetSampleRate(n)
		case "channels":
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, NewError("options.parse", ErrInvalidArgument, "channels is not an integer", err)
			}
			_, setErr = o.SetChannels(n)
		case "language":
			_, setErr = o.SetLanguage(raw)
		case "model":
			_, setErr = o.SetModel(raw)
		case "punctuate":
			_, setErr = o.SetPunctuate(raw == "true")
		case "interim_results":
			_, setErr = o.SetInterimResults(raw == "true")
		case "diarize":
			_, setErr = o.SetDiarize(raw == "true")
		case "tier":
			_, setErr = o.SetTier(raw)
		case "version":
			_, setErr = o.SetVersion(raw)
		}
		if setErr != nil {
			return nil, setErr
		}
	}
	return o, nil
}

// Default pool tuning values.
const (
	DefaultInitialSize       = 5
	DefaultMaxSize           = 10
	DefaultKeepAliveInterval = 30 * time.Second
	DefaultConnectionTimeout = 60 * time.Minute
	DefaultAcquireTimeout    = 5 * time.Second
	DefaultMaxRetries        = 3
	DefaultRetryDelay        = 1 * time.Second
)

// PoolConfig holds the tuning knobs for a Pool. Zero-value construction is
// never valid: use NewPoolConfig to obtain the documented defaults.
type PoolConfig struct {
	initialSize       int
	maxSize           int
	keepAliveInterval time.Duration
	connectionTimeout time.Duration
	acquireTimeout    time.Duration
	maxRetries        int
	retryDelay        time.Duration
}

// NewPoolConfig returns a PoolConfig populated with documented defaults:
// initialSize=5, maxSize=10, keepAliveInterval=30s, connectionTimeout=1h,
// acquireTimeout=5s, maxRetries=3, retryDelay=1s.
func NewPoolConfig() *PoolConfig {
	return &PoolConfig{
		initialSize:       DefaultInitialSize,
		maxSize:           DefaultMaxSize,
		keepAliveInterval: DefaultKeepAliveInterval,
		connectionTimeout: DefaultConnectionTimeout,
		acquireTimeout:    DefaultAcquireTimeout,
		maxRetries:        DefaultMaxRetries,
		retryDelay:        DefaultRetryDelay,
	}
}

// SetInitialSize sets the number of sessions eagerly created at pool
// construction. Fails with InvalidArgument unless 0 <= v <= maxSize.
func (c *PoolConfig) SetInitialSize(v int) (*PoolConfig, error) {
	if v < 0 || v > c.maxSize {
		return c, NewError("poolconfig.set_initial_size", ErrInvalidArgument,
			"initialSize must be within [0, maxSize]", nil)
	}
	c.initialSize = v
	return c, nil
}

// SetMaxSize sets the maximum number of concurrently live sessions. Fails
// with InvalidArgument if v < initialSize.
func (c *PoolConfig) SetMaxSize(v int) (*PoolConfig, error) {
	if v < c.initialSize {
		return c, NewError("poolconfig.set_max_size", ErrInvalidArgument,
			"maxSize must be >= initialSize", nil)
	}
	c.maxSize = v
	return c, nil
}

// SetKeepAliveInterval sets the application-level KeepAlive cadence. Fails
// with InvalidArgument if v is negative.
func (c *PoolConfig) SetKeepAliveInterval(v time.Duration) (*PoolConfig, error) {
	if v < 0 {
		return c, NewError("poolconfig.set_keep_alive_interval", ErrInvalidArgument, "keepAliveInterval must be >= 0", nil)
	}
	c.keepAliveInterval = v
	return c, nil
}

// SetConnectionTimeout sets the idle-retention duration (connectionTimeout,
// i.e. the idle timeout). Fails with InvalidArgument if v is negative.
func (c *PoolConfig) SetConnectionTimeout(v time.Duration) (*PoolConfig, error) {
	if v < 0 {
		return c, NewError("poolconfig.set_connection_timeout", ErrInvalidArgument, "connectionTimeout must be >= 0", nil)
	}
	c.connectionTimeout = v
	return c, nil
}

// SetAcquireTimeout sets the deadline a caller is willing to wait inside
// acquire. Fails with InvalidArgument if v is negative.
func (c *PoolConfig) SetAcquireTimeout(v time.Duration) (*PoolConfig, error) {
	if v < 0 {
		return c, NewError("poolconfig.set_acquire_timeout", ErrInvalidArgument, "acquireTimeout must be >= 0", nil)
	}
	c.acquireTimeout = v
	return c, nil
}

// SetMaxRetries sets the number of session-creation retries the pool's
// session factory may attempt. Fails with InvalidArgument if v is negative.
func (c *PoolConfig) SetMaxRetries(v int) (*PoolConfig, error) {
	if v < 0 {
		return c, NewError("poolconfig.set_max_retries", ErrInvalidArgument, "maxRetries must be >= 0", nil)
	}
	c.maxRetries = v
	return c, nil
}

// SetRetryDelay sets the delay between session-creation retries. Fails with
// InvalidArgument if v is negative.
func (c *PoolConfig) SetRetryDelay(v time.Duration) (*PoolConfig, error) {
	if v < 0 {
		return c, NewError("poolconfig.set_retry_delay", ErrInvalidArgument, "retryDelay must be >= 0", nil)
	}
	c.retryDelay = v
	return c, nil
}

func (c *PoolConfig) InitialSize() int                 { return c.initialSize }
func (c *PoolConfig) MaxSize() int                     { return c.maxSize }
func (c *PoolConfig) KeepAliveInterval() time.Duration { return c.keepAliveInterval }
func (c *PoolConfig) ConnectionTimeout() time.Duration { return c.connectionTimeout }
func (c *PoolConfig) AcquireTimeout() time.Duration    { return c.acquireTimeout }
func (c *PoolConfig) MaxRetries() int                  { return c.maxRetries }
func (c *PoolConfig) RetryDelay() time.Duration        { return c.retryDelay }
