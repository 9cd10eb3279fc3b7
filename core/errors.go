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

package core

import "errors"

var (
	// ErrNotFound is returned when the pipeline does not exist.
	ErrNotFound = errors.New("pipeline not found")

	// ErrPermissionDenied is returned when the caller does not own the
	// pipeline. The API layer maps it without disclosing existence.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidState is returned when the requested transition is not
	// legal from the pipeline's current status.
	ErrInvalidState = errors.New("operation not allowed in current pipeline state")

	// ErrBusy is returned when a reset is attempted while a generating
	// step is in flight.
	ErrBusy = errors.New("pipeline is busy generating")
)
