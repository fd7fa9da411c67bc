package step

// Config is passed as the last argument of a step to tune that one call.
type Config struct {
	opts     map[string]any
	timeout  float64
	retry    int
	hasRetry bool
}

func NewConfig() *Config {
	return &Config{opts: map[string]any{}}
}

// Opts sets free-form step options.
func (c *Config) Opts(opts map[string]any) *Config {
	c.opts = opts
	return c
}

// Timeout limits the step to the given number of seconds.
func (c *Config) Timeout(seconds float64) *Config {
	c.timeout = seconds
	return c
}

// Retry retries the step up to n times on failure.
func (c *Config) Retry(n int) *Config {
	c.retry = n
	c.hasRetry = true
	return c
}

func (c *Config) Options() map[string]any { return c.opts }
func (c *Config) TimeoutSeconds() float64  { return c.timeout }

func (c *Config) Retries() (int, bool) {
	return c.retry, c.hasRetry
}

// splitConfig removes a trailing *Config from args.
func splitConfig(args []any) ([]any, *Config) {
	if n := len(args); n > 0 {
		if cfg, ok := args[n-1].(*Config); ok && cfg != nil {
			return args[:n-1], cfg
		}
	}
	return args, nil
}
