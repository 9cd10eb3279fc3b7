// Copyright 2025 The dreamforge Authors
// This file is part of the dreamforge library.
//
// The dreamforge library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The dreamforge library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the dreamforge library. If not, see <http://www.gnu.org/licenses/>.

// Package errs maps raw failures from providers, storage and validation
// into a closed taxonomy with retry hints. The engine calls Classify before
// any failed transition; the classifier never retries anything itself.
package errs

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/jackg825/dream-forge-web-sub001/ledger"
	"github.com/jackg825/dream-forge-web-sub001/provider"
	"github.com/jackg825/dream-forge-web-sub001/vision"
)

// Category is the closed error category set.
type Category string

const (
	CategoryNetwork    Category = "network"
	CategoryRateLimit  Category = "rate_limit"
	CategorySafety     Category = "safety"
	CategoryValidation Category = "validation"
	CategoryResource   Category = "resource"
	CategoryService    Category = "service"
	CategoryInternal   Category = "internal"
)

// Severity grades a classified error.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// RetryDelay is a retry hint that travels as whole milliseconds on the wire,
// matching the field name it is stored under.
type RetryDelay time.Duration

func (d RetryDelay) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).Milliseconds())
}

func (d *RetryDelay) UnmarshalJSON(data []byte) error {
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return err
	}
	*d = RetryDelay(time.Duration(ms) * time.Millisecond)
	return nil
}

// Classified is the enriched error record stored on failed pipelines and
// returned to callers.
type Classified struct {
	Category            Category   `json:"category"`
	Severity            Severity   `json:"severity"`
	Code                string     `json:"code"`
	UserMessage         string     `json:"userMessage"`
	TechnicalMessage    string     `json:"technicalMessage"`
	Retryable           bool       `json:"retryable"`
	SuggestedRetryDelay RetryDelay `json:"suggestedRetryDelayMs,omitempty"`
}

// Error implements the error interface so a Classified can travel as one.
func (c *Classified) Error() string { return c.Code + ": " + c.TechnicalMessage }

// Classify maps err into the closed taxonomy. Classification is pure; it
// neither logs nor mutates.
func Classify(err error) *Classified {
	if err == nil {
		return nil
	}
	// Already classified errors pass through unchanged.
	var classified *Classified
	if errors.As(err, &classified) {
		return classified
	}

	// Resource exhaustion: credits and caps.
	if errors.Is(err, ledger.ErrInsufficientCredits) {
		return &Classified{
			Category:         CategoryResource,
			Severity:         SeverityWarning,
			Code:             "insufficient_credits",
			UserMessage:      "You don't have enough credits for this step.",
			TechnicalMessage: err.Error(),
			Retryable:        false,
		}
	}

	// Vision taxonomy.
	var blocked *vision.ContentBlocked
	if errors.As(err, &blocked) {
		return &Classified{
			Category:         CategorySafety,
			Severity:         SeverityError,
			Code:             "content_blocked",
			UserMessage:      "The image was rejected by the content policy. Try a different photo.",
			TechnicalMessage: err.Error(),
			Retryable:        false,
		}
	}
	var safety *vision.SafetyBlocked
	if errors.As(err, &safety) {
		return &Classified{
			Category:         CategorySafety,
			Severity:         SeverityError,
			Code:             "safety_blocked",
			UserMessage:      "Generation was blocked on safety grounds. Try a different photo or description.",
			TechnicalMessage: err.Error(),
			Retryable:        false,
		}
	}
	var noImage *vision.NoImageReturned
	if errors.As(err, &noImage) {
		return &Classified{
			Category:         CategoryService,
			Severity:         SeverityError,
			Code:             "no_image_returned",
			UserMessage:      "The image service returned no result. Please try again.",
			TechnicalMessage: err.Error(),
			Retryable:        true,
		}
	}
	var visionErr *vision.ProviderError
	if errors.As(err, &visionErr) {
		if visionErr.RateLimited() {
			return rateLimited(err)
		}
		return serviceError(err)
	}

	// Mesh provider taxonomy.
	var providerErr *provider.Error
	if errors.As(err, &providerErr) {
		if providerErr.RateLimited() {
			return rateLimited(err)
		}
		return serviceError(err)
	}

	// Transport-level failures.
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &Classified{
			Category:            CategoryNetwork,
			Severity:            SeverityWarning,
			Code:                "network_error",
			UserMessage:         "A network problem interrupted the step. Please retry.",
			TechnicalMessage:    err.Error(),
			Retryable:           true,
			SuggestedRetryDelay: RetryDelay(5 * time.Second),
		}
	}

	// Everything else is a bug or storage failure.
	return &Classified{
		Category:         CategoryInternal,
		Severity:         SeverityCritical,
		Code:             "internal_error",
		UserMessage:      "Something went wrong on our side. The step was not charged.",
		TechnicalMessage: err.Error(),
		Retryable:        false,
	}
}

func rateLimited(err error) *Classified {
	return &Classified{
		Category:            CategoryRateLimit,
		Severity:            SeverityWarning,
		Code:                "rate_limited",
		UserMessage:         "The generation service is busy. Please retry in a minute.",
		TechnicalMessage:    err.Error(),
		Retryable:           true,
		SuggestedRetryDelay: RetryDelay(time.Minute),
	}
}

func serviceError(err error) *Classified {
	return &Classified{
		Category:            CategoryService,
		Severity:            SeverityError,
		Code:                "provider_error",
		UserMessage:         "The generation service reported a failure. Please retry.",
		TechnicalMessage:    err.Error(),
		Retryable:           true,
		SuggestedRetryDelay: RetryDelay(10 * time.Second),
	}
}

// Validation constructs a validation-category error rejected at the API
// boundary; it never reaches pipeline state.
func Validation(code, userMessage string) *Classified {
	return &Classified{
		Category:         CategoryValidation,
		Severity:         SeverityWarning,
		Code:             code,
		UserMessage:      userMessage,
		TechnicalMessage: userMessage,
		Retryable:        false,
	}
}

// Resource constructs a resource-category error (caps, quotas).
func Resource(code, userMessage string) *Classified {
	return &Classified{
		Category:         CategoryResource,
		Severity:         SeverityWarning,
		Code:             code,
		UserMessage:      userMessage,
		TechnicalMessage: userMessage,
		Retryable:        false,
	}
}

// ShouldAutoRetry advises an outer retry loop whether another attempt is
// worthwhile. The engine itself never retries.
func ShouldAutoRetry(err error, attempts, max int) bool {
	if attempts >= max {
		return false
	}
	c := Classify(err)
	return c != nil && c.Retryable
}
