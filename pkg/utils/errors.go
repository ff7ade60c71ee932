package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrRetryFailed        = errors.New("request failed after all retries") // Wraps the last underlying error
	ErrClientHTTPError    = errors.New("client HTTP error (4xx)")
	ErrServerHTTPError    = errors.New("server HTTP error (5xx)")
	ErrOtherHTTPError     = errors.New("other HTTP error (non-2xx)")
	ErrParsing            = errors.New("parsing error") // URL, HTML, YAML
	ErrExtraction         = errors.New("field extraction failed")
	ErrFilesystem         = errors.New("filesystem error")
	ErrDatabase           = errors.New("database error")
	ErrSemaphoreTimeout   = errors.New("timeout acquiring semaphore")
	ErrRequestCreation    = errors.New("failed to create HTTP request")
	ErrResponseBodyRead   = errors.New("failed to read response body")
	ErrMarkdownConversion = errors.New("failed to convert HTML to markdown")
	ErrConfigValidation   = errors.New("configuration validation error")
	ErrWorkerPool         = errors.New("failed to start worker pool")
	ErrShutdownTimeout    = errors.New("workers did not exit within grace period")
	ErrVisitPanic         = errors.New("visit action panicked")
)

// WrapErrorf annotates sentinel with a formatted message while keeping it
// reachable through errors.Is.
func WrapErrorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}

// CategorizeError maps an error to a short category string used in logs and page entries.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	switch {
	case errors.Is(err, ErrRetryFailed):
		// errors.Is/As walk both wrapped errors of a "%w: %w" chain.
		if errors.Is(err, ErrServerHTTPError) {
			return "RetryFailed_HTTPServer"
		}
		if errors.Is(err, ErrClientHTTPError) {
			return "RetryFailed_HTTPClient"
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "RetryFailed_NetworkTimeout"
		}
		errMsg := strings.ToLower(strings.TrimPrefix(err.Error(), ErrRetryFailed.Error()))
		switch {
		case strings.Contains(errMsg, "timeout"), strings.Contains(errMsg, "deadline exceeded"):
			return "RetryFailed_NetworkTimeout"
		case strings.Contains(errMsg, "connection refused"):
			return "RetryFailed_ConnectionRefused"
		case strings.Contains(errMsg, "no such host"):
			return "RetryFailed_DNSLookup"
		case strings.TrimSpace(strings.TrimPrefix(errMsg, ":")) == "":
			return "RetryFailed_Unknown"
		}
		return "RetryFailed_NetworkOther"
	case errors.Is(err, ErrClientHTTPError):
		errMsg := err.Error()
		for _, code := range []string{"404", "403", "401", "429"} {
			if strings.Contains(errMsg, " "+code+" ") {
				return "HTTP_" + code
			}
		}
		return "HTTP_4xx"
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		switch {
		case strings.Contains(errMsg, "URL"):
			return "Content_ParsingURL"
		case strings.Contains(errMsg, "HTML"):
			return "Content_ParsingHTML"
		case strings.Contains(errMsg, "YAML"):
			return "Content_ParsingYAML"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrExtraction):
		return "Content_Extraction"
	case errors.Is(err, ErrMarkdownConversion):
		return "Content_Markdown"
	case errors.Is(err, ErrFilesystem):
		switch {
		case errors.Is(err, os.ErrPermission):
			return "Filesystem_Permission"
		case errors.Is(err, os.ErrNotExist):
			return "Filesystem_NotExist"
		case errors.Is(err, os.ErrExist):
			return "Filesystem_Exist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrSemaphoreTimeout):
		return "Resource_SemaphoreTimeout"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	case errors.Is(err, ErrWorkerPool):
		return "Internal_WorkerPool"
	case errors.Is(err, ErrShutdownTimeout):
		return "Internal_ShutdownTimeout"
	case errors.Is(err, ErrVisitPanic):
		return "Internal_Panic"
	}

	// --- Fallback checks for common underlying error types/strings ---

	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		if strings.Contains(err.Error(), "semaphore") {
			return "Resource_SemaphoreTimeout"
		}
		return "System_ContextDeadlineExceeded"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}

	lowerErrMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowerErrMsg, "timeout"):
		return "Network_TimeoutGeneric"
	case strings.Contains(lowerErrMsg, "connection refused"):
		return "Network_ConnectionRefused"
	case strings.Contains(lowerErrMsg, "no such host"):
		return "Network_DNSLookup"
	case strings.Contains(lowerErrMsg, "tls"), strings.Contains(lowerErrMsg, "certificate"):
		return "Network_TLS"
	case strings.Contains(lowerErrMsg, "reset by peer"):
		return "Network_ConnectionReset"
	case strings.Contains(lowerErrMsg, "broken pipe"):
		return "Network_BrokenPipe"
	}

	return "Unknown"
}
