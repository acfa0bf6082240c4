// Copyright 2025 Storeflow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"errors"
	"net/http"
)

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}

// IsPermanent reports whether err is a backend failure that must not be
// retried: authentication failures and missing resources stay broken no
// matter how often the call is repeated.
func IsPermanent(err error) bool {
	var be *BackendError
	if errors.As(err, &be) {
		switch be.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return true
		}
	}
	return IsNotFound(err)
}

// IsRateLimited reports whether err carries an HTTP 429 from the backend.
func IsRateLimited(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.StatusCode == http.StatusTooManyRequests
}
