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

package vision

import "fmt"

// ProviderError is an API-level failure of the vision backend.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("vision provider error %d: %s", e.Code, e.Message)
}

// RateLimited reports whether the backend rejected the call for quota
// reasons.
func (e *ProviderError) RateLimited() bool { return e.Code == 429 }

// ContentBlocked is raised when the prompt was rejected outright
// (blockReason present in the response).
type ContentBlocked struct {
	Reason string
}

func (e *ContentBlocked) Error() string {
	return fmt.Sprintf("content blocked by vision provider: %s", e.Reason)
}

// NoImageReturned is raised when a generation response carries no image
// part. Text carries whatever explanation the model produced, for
// diagnostics.
type NoImageReturned struct {
	Text string
}

func (e *NoImageReturned) Error() string {
	if e.Text == "" {
		return "vision provider returned no image"
	}
	return fmt.Sprintf("vision provider returned no image: %s", e.Text)
}

// SafetyBlocked is raised when a response carries no image and at least one
// safety rating above LOW probability.
type SafetyBlocked struct {
	Category    string
	Probability string
}

func (e *SafetyBlocked) Error() string {
	return fmt.Sprintf("vision generation blocked on safety grounds (%s: %s)", e.Category, e.Probability)
}
