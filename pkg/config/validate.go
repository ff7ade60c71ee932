package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Sriram-PR/codex-crawler/pkg/utils"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// checkStruct runs the struct tag rules and folds all failures into one error.
func checkStruct(s any, scope string) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %s: %w", utils.ErrConfigValidation, scope, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s %s", e.Namespace(), formatValidationError(e)))
	}
	return fmt.Errorf("%w: %s: %s", utils.ErrConfigValidation, scope, strings.Join(msgs, "; "))
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must have at least %s item(s)", e.Param())
	case "gte":
		return fmt.Sprintf("must be >= %s", e.Param())
	case "url":
		return fmt.Sprintf("must be a valid URL (got %q)", e.Value())
	case "oneof":
		return fmt.Sprintf("must be one of [%s] (got %q)", e.Param(), e.Value())
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}

// Validate checks AppConfig fields and applies defaults.
// Returns collected warnings and any fatal error. Modifies receiver in place.
func (c *AppConfig) Validate() (warnings []string, err error) {
	if err := checkStruct(c, "app config"); err != nil {
		return nil, err
	}

	if c.Workers == 0 {
		warnings = append(warnings, "workers not set, defaulting to 10")
		c.Workers = 10
	}
	if c.DiscoveryCap == 0 {
		warnings = append(warnings, "discovery_cap not set, defaulting to 25")
		c.DiscoveryCap = 25
	}
	if c.Delay == 0 {
		c.Delay = 200 * time.Millisecond
	}
	if c.MaxRequests == 0 {
		c.MaxRequests = c.Workers
	}
	if c.MaxRequests < c.Workers {
		warnings = append(warnings, fmt.Sprintf(
			"max_requests (%d) < workers (%d), some workers will wait for a request slot",
			c.MaxRequests, c.Workers))
	}
	if c.SemaphoreAcquireTimeout <= 0 {
		c.SemaphoreAcquireTimeout = 30 * time.Second
	}

	// Retry delays only matter when retries are enabled
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
		if c.InitialRetryDelay > c.MaxRetryDelay {
			warnings = append(warnings, fmt.Sprintf(
				"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
				c.InitialRetryDelay, c.MaxRetryDelay))
			c.InitialRetryDelay = c.MaxRetryDelay
		}
	}

	if c.MaxPageSizeBytes == 0 {
		c.MaxPageSizeBytes = 10 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "codex-crawler/1.0"
	}
	if c.OutputBaseDir == "" {
		warnings = append(warnings, "output_base_dir is empty, defaulting to './crawl_output'")
		c.OutputBaseDir = "./crawl_output"
	}
	if c.StateDir == "" && c.Resume {
		warnings = append(warnings, "resume has no effect without state_dir, crawl state is kept in memory")
		c.Resume = false
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = 30 * time.Second
	}

	c.validateHTTPClientSettings()
	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = c.MaxRequests
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
	if h.MaxRedirects <= 0 {
		h.MaxRedirects = 10
	}
}

// Validate checks SiteConfig fields and applies defaults.
// Returns collected warnings and any fatal error. Modifies receiver in place.
func (c *SiteConfig) Validate() (warnings []string, err error) {
	if err := checkStruct(c, "site config"); err != nil {
		return nil, err
	}

	for _, ext := range c.Filter.AllowedFileExtensions {
		if ext != "" && !strings.HasPrefix(ext, ".") {
			return nil, fmt.Errorf("%w: allowed_file_extensions entry %q must start with '.'", utils.ErrConfigValidation, ext)
		}
	}
	if c.Filter.AllowedHosts != nil && len(c.Filter.AllowedHosts) == 0 {
		warnings = append(warnings, "filter.allowed_hosts is an empty list, no discovered address can pass")
	}

	r := &c.Records
	if _, err := utils.CompileRegexPatterns(r.IncludePatterns); err != nil {
		return nil, err
	}
	if _, err := utils.CompileRegexPatterns(r.ExcludePatterns); err != nil {
		return nil, err
	}
	if !r.Enabled {
		return warnings, nil
	}

	if len(r.Locales) == 0 {
		return nil, fmt.Errorf("%w: records.enabled requires at least one locale", utils.ErrConfigValidation)
	}
	if len(r.URLs) == 0 && len(r.IncludePatterns) == 0 {
		warnings = append(warnings, "records has no urls and no include_patterns, every discovered address will be extracted")
	}
	if r.LocaleParam == "" {
		r.LocaleParam = "lang"
	}
	if r.TitleSelector == "" {
		r.TitleSelector = ".herotext"
	}
	if r.DescriptionSelector == "" {
		r.DescriptionSelector = ".codex-page-description"
	}
	if r.DescriptionFormat == "" {
		r.DescriptionFormat = DescriptionFormatText
	}
	if r.LocaleConcurrency == 0 {
		r.LocaleConcurrency = 1
	}
	if len(r.Formats) == 0 {
		r.Formats = []string{FormatCSV}
	}
	return warnings, nil
}
