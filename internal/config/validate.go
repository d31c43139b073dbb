package config

import (
	"fmt"
	"net/url"
	"strings"
)

// feedSchemes are the URL schemes the downloader can serve.
var feedSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"file":  true,
	"s3":    true,
}

// ValidationError represents one configuration problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.CheckInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "check_interval",
			Message: fmt.Sprintf("must be positive, got %s", c.CheckInterval),
		}.Error())
	}

	if c.FeedURL != "" {
		if err := validateURL("feed_url", c.FeedURL); err != nil {
			errs = append(errs, err.Error())
		} else if strings.HasPrefix(c.FeedURL, "s3://") && c.S3.Endpoint == "" {
			errs = append(errs, ValidationError{
				Field:   "s3.endpoint",
				Message: "required when feed_url uses s3://",
			}.Error())
		}
	}

	if c.S3.SecretKey != "" && c.S3.AccessKey == "" {
		errs = append(errs, ValidationError{
			Field:   "s3.access_key",
			Message: "required when s3.secret_key is set",
		}.Error())
	}

	if len(c.Install.VerifyArgs) > 0 && c.Install.Target == "" {
		errs = append(errs, ValidationError{
			Field:   "install.target",
			Message: "required when install.verify_args is set",
		}.Error())
	}

	if c.Log != nil {
		for _, err := range c.Log.Validate() {
			errs = append(errs, ValidationError{Field: "log", Message: err.Error()}.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return ValidationError{Field: field, Message: fmt.Sprintf("invalid URL: %v", err)}
	}
	if !feedSchemes[u.Scheme] {
		return ValidationError{Field: field, Message: fmt.Sprintf("unsupported scheme %q (expected http, https, file or s3)", u.Scheme)}
	}
	return nil
}
